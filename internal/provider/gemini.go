package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/llmur/llmur/internal/models"
)

type geminiAdapter struct {
	upstream
	nowFn func() time.Time
}

func newGemini(client *http.Client) *geminiAdapter {
	return &geminiAdapter{
		upstream: upstream{tag: models.ProviderGemini, client: client},
		nowFn:    time.Now,
	}
}

func (a *geminiAdapter) Complete(ctx context.Context, conn models.Connection, req *ChatRequest, deploymentName string) ([]byte, error) {
	body, errBody := json.Marshal(translateChatRequest(req))
	if errBody != nil {
		return nil, BadRequest(errBody.Error())
	}
	out, err := a.readAll(ctx, a.call("chat", conn, deploymentName, a.modelURL(conn, "generateContent", false), body))
	if err != nil {
		return nil, err
	}
	var resp geminiResponse
	if errDecode := json.Unmarshal(out, &resp); errDecode != nil {
		return nil, &TransportError{Provider: a.tag, Err: fmt.Errorf("decode response: %w", errDecode)}
	}
	return json.Marshal(translateChatResponse(resp, conn.Model, a.nowFn()))
}

func (a *geminiAdapter) Stream(ctx context.Context, conn models.Connection, req *ChatRequest, deploymentName string) (ChunkStream, error) {
	body, errBody := json.Marshal(translateChatRequest(req))
	if errBody != nil {
		return nil, BadRequest(errBody.Error())
	}
	resp, err := a.post(ctx, a.call("chat_stream", conn, deploymentName, a.modelURL(conn, "streamGenerateContent", true), body))
	if err != nil {
		return nil, err
	}
	return &geminiStream{
		body:     resp.Body,
		events:   newSSEReader(resp.Body),
		model:    conn.Model,
		created:  a.nowFn().Unix(),
		roleSent: make(map[int]bool),
	}, nil
}

func (a *geminiAdapter) Embed(ctx context.Context, conn models.Connection, req *EmbeddingRequest, deploymentName string) ([]byte, error) {
	if req.Input.IsTokens() {
		return nil, BadRequest(tokenInputUnsupported)
	}
	modelRef := "models/" + conn.Model
	var vectors [][]float64
	if len(req.Input.Texts) == 1 {
		body, errBody := json.Marshal(geminiEmbedRequest{
			Model:                modelRef,
			Content:              geminiContent{Parts: []geminiPart{{Text: req.Input.Texts[0]}}},
			OutputDimensionality: req.Dimensions,
		})
		if errBody != nil {
			return nil, BadRequest(errBody.Error())
		}
		out, err := a.readAll(ctx, a.call("embeddings", conn, deploymentName, a.modelURL(conn, "embedContent", false), body))
		if err != nil {
			return nil, err
		}
		var resp geminiEmbedResponse
		if errDecode := json.Unmarshal(out, &resp); errDecode != nil {
			return nil, &TransportError{Provider: a.tag, Err: fmt.Errorf("decode embedding: %w", errDecode)}
		}
		vectors = [][]float64{resp.Embedding.Values}
	} else {
		batch := geminiBatchEmbedRequest{Requests: make([]geminiEmbedRequest, 0, len(req.Input.Texts))}
		for _, text := range req.Input.Texts {
			batch.Requests = append(batch.Requests, geminiEmbedRequest{
				Model:                modelRef,
				Content:              geminiContent{Parts: []geminiPart{{Text: text}}},
				OutputDimensionality: req.Dimensions,
			})
		}
		body, errBody := json.Marshal(batch)
		if errBody != nil {
			return nil, BadRequest(errBody.Error())
		}
		out, err := a.readAll(ctx, a.call("embeddings", conn, deploymentName, a.modelURL(conn, "batchEmbedContents", false), body))
		if err != nil {
			return nil, err
		}
		var resp geminiBatchEmbedResponse
		if errDecode := json.Unmarshal(out, &resp); errDecode != nil {
			return nil, &TransportError{Provider: a.tag, Err: fmt.Errorf("decode embeddings: %w", errDecode)}
		}
		for _, e := range resp.Embeddings {
			vectors = append(vectors, e.Values)
		}
	}

	result := EmbeddingResponse{Object: "list", Model: conn.Model, Data: make([]Embedding, 0, len(vectors))}
	for i, v := range vectors {
		result.Data = append(result.Data, Embedding{Object: "embedding", Index: i, Embedding: v})
	}
	return json.Marshal(result)
}

func (a *geminiAdapter) Responses(context.Context, models.Connection, []byte, bool, string) (*http.Response, error) {
	return nil, BadRequest("The Responses API is not supported for Gemini connections.")
}

func (a *geminiAdapter) NormalizeError(status int, body []byte) error {
	return normalizeUpstream(a.tag, status, body)
}

func (a *geminiAdapter) call(op string, conn models.Connection, deploymentName, target string, body []byte) call {
	return call{op: op, conn: conn, deployment: deploymentName, url: target, header: make(http.Header), body: body}
}

// modelURL builds {endpoint}/{version}/models/{model}:{method}?key=...
func (a *geminiAdapter) modelURL(conn models.Connection, method string, sse bool) string {
	var b strings.Builder
	b.WriteString(trimEndpoint(conn.APIEndpoint))
	b.WriteString("/")
	b.WriteString(strings.Trim(conn.APIVersion, "/"))
	b.WriteString("/models/")
	b.WriteString(url.PathEscape(conn.Model))
	b.WriteString(":")
	b.WriteString(method)
	b.WriteString("?")
	if sse {
		b.WriteString("alt=sse&")
	}
	b.WriteString("key=")
	b.WriteString(url.QueryEscape(conn.APIKey))
	return b.String()
}

// geminiStream turns streamGenerateContent events into canonical chunks.
// The last usageMetadata seen is emitted as a final usage-only chunk.
type geminiStream struct {
	body    io.ReadCloser
	events  *sseReader
	model   string
	created int64

	roleSent  map[int]bool
	lastUsage *Usage
	finished  bool
}

func (s *geminiStream) Next() ([]byte, error) {
	for {
		if s.finished {
			return nil, io.EOF
		}
		payload, err := s.events.Next()
		if errors.Is(err, io.EOF) {
			s.finished = true
			if s.lastUsage != nil {
				return json.Marshal(ChatChunk{
					ID:      "gemini",
					Object:  "chat.completion.chunk",
					Created: s.created,
					Model:   s.model,
					Choices: []ChunkChoice{},
					Usage:   s.lastUsage,
				})
			}
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}
		payload = bytes.TrimSpace(payload)
		if len(payload) == 0 || bytes.Equal(payload, doneMarker) {
			continue
		}
		var resp geminiResponse
		if errDecode := json.Unmarshal(payload, &resp); errDecode != nil {
			return nil, fmt.Errorf("provider gemini: decode stream event: %w", errDecode)
		}
		if usage := resp.UsageMetadata.canonical(); usage != nil {
			s.lastUsage = usage
		}
		chunk := s.translate(resp)
		if len(chunk.Choices) == 0 {
			continue
		}
		return json.Marshal(chunk)
	}
}

func (s *geminiStream) translate(resp geminiResponse) ChatChunk {
	model := s.model
	if model == "" {
		model = resp.ModelVersion
	}
	chunk := ChatChunk{
		ID:      "gemini",
		Object:  "chat.completion.chunk",
		Created: s.created,
		Model:   model,
		Choices: make([]ChunkChoice, 0, len(resp.Candidates)),
	}
	for pos, cand := range resp.Candidates {
		idx := pos
		if cand.Index != nil {
			idx = *cand.Index
		}
		text, calls := splitParts(cand.Content, idx)
		choice := ChunkChoice{Index: idx}
		if !s.roleSent[idx] {
			choice.Delta.Role = "assistant"
			s.roleSent[idx] = true
		}
		if text != nil {
			choice.Delta.Content = text
		}
		for i := range calls {
			n := i
			calls[i].Index = &n
		}
		choice.Delta.ToolCalls = calls
		if cand.FinishReason != "" {
			reason := mapFinishReason(cand.FinishReason)
			choice.FinishReason = &reason
		}
		if choice.Delta.Role == "" && choice.Delta.Content == nil && len(choice.Delta.ToolCalls) == 0 && choice.FinishReason == nil {
			continue
		}
		chunk.Choices = append(chunk.Choices, choice)
	}
	return chunk
}

func (s *geminiStream) Close() error {
	return s.body.Close()
}

func translateChatRequest(req *ChatRequest) geminiRequest {
	out := geminiRequest{Contents: make([]geminiContent, 0, len(req.Messages))}
	var system []geminiPart
	toolNames := make(map[string]string)

	for _, m := range req.Messages {
		switch m.Role {
		case "system", "developer":
			if text := m.Text(); text != "" {
				system = append(system, geminiPart{Text: text})
			}
		case "assistant":
			parts := make([]geminiPart, 0, 1+len(m.ToolCalls))
			if text := m.Text(); text != "" {
				parts = append(parts, geminiPart{Text: text})
			}
			for _, tc := range m.ToolCalls {
				toolNames[tc.ID] = tc.Function.Name
				parts = append(parts, geminiPart{FunctionCall: &geminiFunctionCall{
					Name: tc.Function.Name,
					Args: jsonObjectOrWrapped(tc.Function.Arguments, "arguments"),
				}})
			}
			if len(parts) > 0 {
				out.Contents = append(out.Contents, geminiContent{Role: "model", Parts: parts})
			}
		case "tool", "function":
			name := m.Name
			if n, ok := toolNames[m.ToolCallID]; ok {
				name = n
			}
			if name == "" {
				name = m.ToolCallID
			}
			out.Contents = append(out.Contents, geminiContent{Role: "user", Parts: []geminiPart{{
				FunctionResponse: &geminiFunctionResponse{
					Name:     name,
					Response: jsonObjectOrWrapped(m.Text(), "content"),
				},
			}}})
		default:
			parts := userParts(m)
			if len(parts) > 0 {
				out.Contents = append(out.Contents, geminiContent{Role: "user", Parts: parts})
			}
		}
	}
	if len(system) > 0 {
		out.SystemInstruction = &geminiContent{Role: "system", Parts: system}
	}

	if len(req.Tools) > 0 {
		decls := make([]geminiFunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, geminiFunctionDeclaration{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			})
		}
		out.Tools = []geminiTool{{FunctionDeclarations: decls}}
	}
	if cfg := translateToolChoice(req.ToolChoice); cfg != nil {
		out.ToolConfig = &geminiToolConfig{FunctionCallingConfig: cfg}
	}
	out.GenerationConfig = translateGenerationConfig(req)
	return out
}

func userParts(m Message) []geminiPart {
	var parts []geminiPart
	for _, p := range m.Parts() {
		switch p.Type {
		case "text", "input_text":
			if p.Text != "" {
				parts = append(parts, geminiPart{Text: p.Text})
			}
		case "image_url":
			if p.ImageURL == nil {
				continue
			}
			if part, ok := imagePart(p.ImageURL.URL); ok {
				parts = append(parts, part)
			}
		}
	}
	return parts
}

// imagePart accepts base64 data URLs and links with a known image extension.
func imagePart(link string) (geminiPart, bool) {
	if rest, ok := strings.CutPrefix(link, "data:"); ok {
		meta, payload, found := strings.Cut(rest, ",")
		if !found {
			return geminiPart{}, false
		}
		fields := strings.Split(meta, ";")
		isBase64 := false
		for _, f := range fields[1:] {
			if f == "base64" {
				isBase64 = true
			}
		}
		if !isBase64 {
			return geminiPart{}, false
		}
		mime := fields[0]
		if mime == "" {
			mime = "application/octet-stream"
		}
		return geminiPart{InlineData: &geminiBlob{MimeType: mime, Data: payload}}, true
	}
	path, _, _ := strings.Cut(link, "?")
	ext := strings.ToLower(path[strings.LastIndex(path, ".")+1:])
	mime, ok := map[string]string{
		"png":  "image/png",
		"jpg":  "image/jpeg",
		"jpeg": "image/jpeg",
		"gif":  "image/gif",
		"webp": "image/webp",
		"bmp":  "image/bmp",
		"svg":  "image/svg+xml",
	}[ext]
	if !ok {
		return geminiPart{}, false
	}
	return geminiPart{FileData: &geminiFileData{MimeType: mime, FileURI: link}}, true
}

func translateToolChoice(raw json.RawMessage) *geminiFunctionCallingConfig {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var mode string
	if errMode := json.Unmarshal(raw, &mode); errMode == nil {
		switch mode {
		case "none":
			return &geminiFunctionCallingConfig{Mode: "NONE"}
		case "auto":
			return &geminiFunctionCallingConfig{Mode: "AUTO"}
		case "required":
			return &geminiFunctionCallingConfig{Mode: "ANY"}
		default:
			return nil
		}
	}
	var named struct {
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if errNamed := json.Unmarshal(raw, &named); errNamed == nil && named.Function.Name != "" {
		return &geminiFunctionCallingConfig{Mode: "ANY", AllowedFunctionNames: []string{named.Function.Name}}
	}
	return nil
}

func translateGenerationConfig(req *ChatRequest) *geminiGenerationConfig {
	cfg := geminiGenerationConfig{
		CandidateCount:   req.N,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		Seed:             req.Seed,
		PresencePenalty:  req.PresencePenalty,
		FrequencyPenalty: req.FrequencyPenalty,
		MaxOutputTokens:  req.MaxCompletionTokens,
	}
	if cfg.MaxOutputTokens == nil {
		cfg.MaxOutputTokens = req.MaxTokens
	}
	if stop := bytes.TrimSpace(req.Stop); len(stop) > 0 {
		var single string
		var many []string
		if json.Unmarshal(stop, &single) == nil && single != "" {
			cfg.StopSequences = []string{single}
		} else if json.Unmarshal(stop, &many) == nil {
			cfg.StopSequences = many
		}
	}
	if rf := req.ResponseFormat; rf != nil {
		switch rf.Type {
		case "json_object":
			cfg.ResponseMimeType = "application/json"
		case "json_schema":
			cfg.ResponseMimeType = "application/json"
			if rf.JSONSchema != nil && len(rf.JSONSchema.Schema) > 0 {
				cfg.ResponseSchema = rf.JSONSchema.Schema
			}
		}
	}
	if cfg.CandidateCount == nil && cfg.Temperature == nil && cfg.TopP == nil &&
		cfg.Seed == nil && cfg.PresencePenalty == nil && cfg.FrequencyPenalty == nil &&
		cfg.MaxOutputTokens == nil && len(cfg.StopSequences) == 0 && cfg.ResponseMimeType == "" {
		return nil
	}
	return &cfg
}

func translateChatResponse(resp geminiResponse, model string, now time.Time) ChatResponse {
	if model == "" {
		model = resp.ModelVersion
	}
	if model == "" {
		model = "gemini"
	}
	id := resp.ResponseID
	if id == "" {
		id = "gemini"
	}
	out := ChatResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: now.Unix(),
		Model:   model,
		Choices: make([]Choice, 0, len(resp.Candidates)),
		Usage:   resp.UsageMetadata.canonical(),
	}
	if out.Usage == nil {
		out.Usage = &Usage{}
	}
	for pos, cand := range resp.Candidates {
		idx := pos
		if cand.Index != nil {
			idx = *cand.Index
		}
		text, calls := splitParts(cand.Content, idx)
		out.Choices = append(out.Choices, Choice{
			Index:        idx,
			Message:      ResponseMessage{Role: "assistant", Content: text, ToolCalls: calls},
			FinishReason: mapFinishReason(cand.FinishReason),
		})
	}
	return out
}

// splitParts joins text parts and converts function calls into tool calls.
func splitParts(content *geminiContent, candidateIndex int) (*string, []ToolCall) {
	if content == nil {
		return nil, nil
	}
	var text strings.Builder
	hasText := false
	var calls []ToolCall
	for i, p := range content.Parts {
		if p.Thought {
			continue
		}
		if p.Text != "" {
			text.WriteString(p.Text)
			hasText = true
		}
		if p.FunctionCall != nil {
			args := "{}"
			if len(bytes.TrimSpace(p.FunctionCall.Args)) > 0 {
				args = string(p.FunctionCall.Args)
			}
			calls = append(calls, ToolCall{
				ID:       fmt.Sprintf("gemini-call-%d-%d", candidateIndex, i),
				Type:     "function",
				Function: FunctionCall{Name: p.FunctionCall.Name, Arguments: args},
			})
		}
	}
	if !hasText {
		return nil, calls
	}
	s := text.String()
	return &s, calls
}

func mapFinishReason(reason string) string {
	switch strings.ToUpper(reason) {
	case "":
		return "stop"
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION":
		return "content_filter"
	default:
		return strings.ToLower(reason)
	}
}

// jsonObjectOrWrapped returns s when it is a JSON object, otherwise {key: s}.
func jsonObjectOrWrapped(s, key string) json.RawMessage {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	var value any = s
	if json.Valid([]byte(trimmed)) && trimmed != "" {
		value = json.RawMessage(trimmed)
	}
	wrapped, err := json.Marshal(map[string]any{key: value})
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return wrapped
}
