package provider

import (
	"bytes"
	"encoding/json"
	"errors"
)

// ChatRequest is an OpenAI-style chat completion request.
// Raw keeps the caller's body so OpenAI-compatible upstreams receive every field untouched.
type ChatRequest struct {
	Raw []byte `json:"-"`

	Model               string          `json:"model"`
	Messages            []Message       `json:"messages"`
	Stream              bool            `json:"stream,omitempty"`
	StreamOptions       *StreamOptions  `json:"stream_options,omitempty"`
	Temperature         *float64        `json:"temperature,omitempty"`
	TopP                *float64        `json:"top_p,omitempty"`
	MaxTokens           *int64          `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int64          `json:"max_completion_tokens,omitempty"`
	ResponseFormat      *ResponseFormat `json:"response_format,omitempty"`
	Tools               []Tool          `json:"tools,omitempty"`
	ToolChoice          json.RawMessage `json:"tool_choice,omitempty"`
	Stop                json.RawMessage `json:"stop,omitempty"`
	N                   *int64          `json:"n,omitempty"`
	PresencePenalty     *float64        `json:"presence_penalty,omitempty"`
	FrequencyPenalty    *float64        `json:"frequency_penalty,omitempty"`
	Seed                *int64          `json:"seed,omitempty"`
	User                string          `json:"user,omitempty"`
}

// IncludeUsage reports whether the caller asked for usage in streamed output.
func (r *ChatRequest) IncludeUsage() bool {
	return r != nil && r.StreamOptions != nil && r.StreamOptions.IncludeUsage
}

type StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// Message is one chat turn. Content is either a string or an array of parts.
type Message struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content,omitempty"`
	Name       string          `json:"name,omitempty"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

// ContentPart is one element of an array message content.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// Parts normalizes the message content into parts. A string content becomes one text part.
func (m Message) Parts() []ContentPart {
	raw := bytes.TrimSpace(m.Content)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var text string
	if errText := json.Unmarshal(raw, &text); errText == nil {
		return []ContentPart{{Type: "text", Text: text}}
	}
	var parts []ContentPart
	if errParts := json.Unmarshal(raw, &parts); errParts == nil {
		return parts
	}
	return nil
}

// Text joins the text parts of the message.
func (m Message) Text() string {
	var buf bytes.Buffer
	for _, p := range m.Parts() {
		if p.Type == "text" || p.Type == "input_text" {
			buf.WriteString(p.Text)
		}
	}
	return buf.String()
}

type ToolCall struct {
	Index    *int         `json:"index,omitempty"`
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type Tool struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type ResponseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *JSONSchema `json:"json_schema,omitempty"`
}

type JSONSchema struct {
	Name   string          `json:"name,omitempty"`
	Schema json.RawMessage `json:"schema,omitempty"`
	Strict *bool           `json:"strict,omitempty"`
}

// ChatResponse is the canonical unary chat completion.
type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

type Choice struct {
	Index        int             `json:"index"`
	Message      ResponseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

type ResponseMessage struct {
	Role      string     `json:"role"`
	Content   *string    `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ChatChunk is one canonical streamed frame.
type ChatChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *Usage        `json:"usage,omitempty"`
}

type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

type Delta struct {
	Role      string     `json:"role,omitempty"`
	Content   *string    `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// EmbeddingRequest is an OpenAI-style embeddings request.
type EmbeddingRequest struct {
	Raw []byte `json:"-"`

	Model          string         `json:"model"`
	Input          EmbeddingInput `json:"input"`
	Dimensions     *int64         `json:"dimensions,omitempty"`
	EncodingFormat string         `json:"encoding_format,omitempty"`
	User           string         `json:"user,omitempty"`
}

// EmbeddingInput holds either texts or token id arrays.
type EmbeddingInput struct {
	Texts  []string
	Tokens [][]int64
}

var errEmbeddingInput = errors.New("input must be a string, an array of strings, or an array of token ids")

// UnmarshalJSON accepts a string, []string, []int or [][]int.
func (in *EmbeddingInput) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var single string
	if errSingle := json.Unmarshal(data, &single); errSingle == nil {
		in.Texts = []string{single}
		return nil
	}
	var items []json.RawMessage
	if errItems := json.Unmarshal(data, &items); errItems != nil {
		return errEmbeddingInput
	}
	if len(items) == 0 {
		return nil
	}
	var texts []string
	if errTexts := json.Unmarshal(data, &texts); errTexts == nil {
		in.Texts = texts
		return nil
	}
	var tokens []int64
	if errTokens := json.Unmarshal(data, &tokens); errTokens == nil {
		in.Tokens = [][]int64{tokens}
		return nil
	}
	var batches [][]int64
	if errBatches := json.Unmarshal(data, &batches); errBatches == nil {
		in.Tokens = batches
		return nil
	}
	return errEmbeddingInput
}

// Len returns the number of inputs.
func (in EmbeddingInput) Len() int {
	if len(in.Tokens) > 0 {
		return len(in.Tokens)
	}
	return len(in.Texts)
}

// IsTokens reports whether the input is made of token ids.
func (in EmbeddingInput) IsTokens() bool {
	return len(in.Tokens) > 0
}

type EmbeddingResponse struct {
	Object string      `json:"object"`
	Data   []Embedding `json:"data"`
	Model  string      `json:"model"`
	Usage  Usage       `json:"usage"`
}

type Embedding struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float64 `json:"embedding"`
}
