package provider

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/llmur/llmur/internal/models"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// openAICompatible serves providers that speak the OpenAI wire format.
// Bodies are forwarded as received with only the model rewritten.
type openAICompatible struct {
	upstream

	chatURL      func(models.Connection) string
	embedURL     func(models.Connection) string
	responsesURL func(models.Connection) string
	authorize    func(http.Header, models.Connection)
	dropFrame    func([]byte) bool
	tokenInput   bool
}

func newOpenAI(client *http.Client) *openAICompatible {
	return &openAICompatible{
		upstream: upstream{tag: models.ProviderOpenAI, client: client},
		chatURL: func(c models.Connection) string {
			return withSuffix(c.APIEndpoint, "/v1") + "/chat/completions"
		},
		embedURL: func(c models.Connection) string {
			return withSuffix(c.APIEndpoint, "/v1") + "/embeddings"
		},
		responsesURL: func(c models.Connection) string {
			return withSuffix(c.APIEndpoint, "/v1") + "/responses"
		},
		authorize: func(h http.Header, c models.Connection) {
			h.Set("Authorization", "Bearer "+c.APIKey)
		},
		tokenInput: true,
	}
}

func (a *openAICompatible) Complete(ctx context.Context, conn models.Connection, req *ChatRequest, deploymentName string) ([]byte, error) {
	body, errBody := a.chatBody(conn, req, false)
	if errBody != nil {
		return nil, errBody
	}
	out, err := a.readAll(ctx, a.call("chat", conn, deploymentName, a.chatURL(conn), body))
	if err != nil {
		return nil, err
	}
	return rewriteModel(out, deploymentName), nil
}

func (a *openAICompatible) Stream(ctx context.Context, conn models.Connection, req *ChatRequest, deploymentName string) (ChunkStream, error) {
	body, errBody := a.chatBody(conn, req, true)
	if errBody != nil {
		return nil, errBody
	}
	resp, err := a.post(ctx, a.call("chat_stream", conn, deploymentName, a.chatURL(conn), body))
	if err != nil {
		return nil, err
	}
	return &openAIStream{
		body:       resp.Body,
		events:     newSSEReader(resp.Body),
		deployment: deploymentName,
		drop:       a.dropFrame,
	}, nil
}

func (a *openAICompatible) Embed(ctx context.Context, conn models.Connection, req *EmbeddingRequest, deploymentName string) ([]byte, error) {
	if req.Input.IsTokens() && !a.tokenInput {
		return nil, BadRequest(tokenInputUnsupported)
	}
	body, errSet := sjson.SetBytes(req.Raw, "model", conn.UpstreamModel())
	if errSet != nil {
		return nil, BadRequest(errSet.Error())
	}
	out, err := a.readAll(ctx, a.call("embeddings", conn, deploymentName, a.embedURL(conn), body))
	if err != nil {
		return nil, err
	}
	return rewriteModel(out, deploymentName), nil
}

func (a *openAICompatible) Responses(ctx context.Context, conn models.Connection, raw []byte, stream bool, deploymentName string) (*http.Response, error) {
	body, errSet := sjson.SetBytes(raw, "model", conn.UpstreamModel())
	if errSet != nil {
		return nil, BadRequest(errSet.Error())
	}
	op := "responses"
	if stream {
		op = "responses_stream"
	}
	return a.post(ctx, a.call(op, conn, deploymentName, a.responsesURL(conn), body))
}

func (a *openAICompatible) NormalizeError(status int, body []byte) error {
	return normalizeUpstream(a.tag, status, body)
}

func (a *openAICompatible) call(op string, conn models.Connection, deploymentName, url string, body []byte) call {
	header := make(http.Header)
	a.authorize(header, conn)
	return call{op: op, conn: conn, deployment: deploymentName, url: url, header: header, body: body}
}

// chatBody rewrites the caller's body for the upstream. Streams always request usage
// so it can be accounted; the relay strips it again when the caller did not ask for it.
func (a *openAICompatible) chatBody(conn models.Connection, req *ChatRequest, stream bool) ([]byte, error) {
	body, err := sjson.SetBytes(req.Raw, "model", conn.UpstreamModel())
	if err != nil {
		return nil, BadRequest(err.Error())
	}
	if !stream {
		if gjson.GetBytes(body, "stream").Exists() {
			body, err = sjson.SetBytes(body, "stream", false)
		}
		if err != nil {
			return nil, BadRequest(err.Error())
		}
		return body, nil
	}
	if body, err = sjson.SetBytes(body, "stream", true); err != nil {
		return nil, BadRequest(err.Error())
	}
	if body, err = sjson.SetBytes(body, "stream_options.include_usage", true); err != nil {
		return nil, BadRequest(err.Error())
	}
	return body, nil
}

// openAIStream relays OpenAI-format SSE frames with the model rewritten.
type openAIStream struct {
	body       io.ReadCloser
	events     *sseReader
	deployment string
	drop       func([]byte) bool
}

func (s *openAIStream) Next() ([]byte, error) {
	for {
		payload, err := s.events.Next()
		if err != nil {
			return nil, err
		}
		payload = bytes.TrimSpace(payload)
		if len(payload) == 0 {
			continue
		}
		if bytes.Equal(payload, doneMarker) {
			return nil, io.EOF
		}
		if s.drop != nil && s.drop(payload) {
			continue
		}
		return rewriteModel(payload, s.deployment), nil
	}
}

func (s *openAIStream) Close() error {
	return s.body.Close()
}

// rewriteModel replaces the upstream model name with the deployment name, leaving other bytes untouched.
func rewriteModel(body []byte, deploymentName string) []byte {
	if deploymentName == "" || !gjson.GetBytes(body, "model").Exists() {
		return body
	}
	out, err := sjson.SetBytes(body, "model", deploymentName)
	if err != nil {
		return body
	}
	return out
}
