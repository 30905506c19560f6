// Package provider translates canonical OpenAI-style requests into upstream provider calls.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/llmur/llmur/internal/models"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const tokenInputUnsupported = "Token array embeddings input is only supported for OpenAI connections."

// Adapter is one upstream provider variant.
type Adapter interface {
	// Complete returns a canonical chat completion body.
	Complete(ctx context.Context, conn models.Connection, req *ChatRequest, deploymentName string) ([]byte, error)
	// Stream returns canonical chunks until io.EOF.
	Stream(ctx context.Context, conn models.Connection, req *ChatRequest, deploymentName string) (ChunkStream, error)
	// Embed returns an OpenAI-shaped embeddings body.
	Embed(ctx context.Context, conn models.Connection, req *EmbeddingRequest, deploymentName string) ([]byte, error)
	// Responses relays a Responses API call; the caller owns the returned body.
	Responses(ctx context.Context, conn models.Connection, raw []byte, stream bool, deploymentName string) (*http.Response, error)
	// NormalizeError maps an upstream failure onto the gateway status vocabulary.
	NormalizeError(status int, body []byte) error
}

// ChunkStream yields canonical chat.completion.chunk JSON objects.
type ChunkStream interface {
	Next() ([]byte, error)
	Close() error
}

// Registry selects the adapter for a provider tag.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds adapters for every supported provider over one HTTP client.
func NewRegistry(client *http.Client) *Registry {
	if client == nil {
		client = http.DefaultClient
	}
	return &Registry{
		adapters: map[string]Adapter{
			models.ProviderOpenAI: newOpenAI(client),
			models.ProviderAzure:  newAzure(client),
			models.ProviderGemini: newGemini(client),
		},
	}
}

// For returns the adapter serving tag.
func (r *Registry) For(tag string) (Adapter, error) {
	if r == nil {
		return nil, ErrUnknownProvider
	}
	adapter, ok := r.adapters[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, tag)
	}
	return adapter, nil
}

// Supported reports whether tag names a known provider.
func Supported(tag string) bool {
	switch tag {
	case models.ProviderOpenAI, models.ProviderAzure, models.ProviderGemini:
		return true
	default:
		return false
	}
}

// ValidateConnection checks the provider-specific required fields.
func ValidateConnection(conn models.Connection) error {
	if !Supported(conn.Provider) {
		return fmt.Errorf("unsupported provider %q", conn.Provider)
	}
	required := map[string]string{
		"api_endpoint": conn.APIEndpoint,
		"api_key":      conn.APIKey,
	}
	switch conn.Provider {
	case models.ProviderAzure:
		required["deployment_name"] = conn.DeploymentName
		required["api_version"] = conn.APIVersion
	case models.ProviderOpenAI:
		required["model"] = conn.Model
	case models.ProviderGemini:
		required["model"] = conn.Model
		required["api_version"] = conn.APIVersion
	}
	var missing []string
	for _, field := range []string{"model", "deployment_name", "api_endpoint", "api_key", "api_version"} {
		if v, ok := required[field]; ok && strings.TrimSpace(v) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields for %s: %s", conn.Provider, strings.Join(missing, ", "))
	}
	return nil
}

// FilterUsage applies the caller's include_usage choice to a chunk.
// Usage-only frames are dropped and usage is stripped from content frames unless requested.
func FilterUsage(chunk []byte, includeUsage bool) ([]byte, bool) {
	if includeUsage {
		return chunk, true
	}
	if !gjson.GetBytes(chunk, "usage").Exists() {
		return chunk, true
	}
	if usage := gjson.GetBytes(chunk, "usage"); usage.Type != gjson.Null && len(gjson.GetBytes(chunk, "choices").Array()) == 0 {
		return nil, false
	}
	stripped, err := sjson.DeleteBytes(chunk, "usage")
	if err != nil {
		return nil, false
	}
	return stripped, true
}

// ExtractUsage reads OpenAI-style usage from a response body or chunk.
func ExtractUsage(body []byte) (Usage, bool) {
	usage := gjson.GetBytes(body, "usage")
	if !usage.IsObject() {
		return Usage{}, false
	}
	u := Usage{
		PromptTokens:     usage.Get("prompt_tokens").Int(),
		CompletionTokens: usage.Get("completion_tokens").Int(),
		TotalTokens:      usage.Get("total_tokens").Int(),
	}
	if !usage.Get("prompt_tokens").Exists() && usage.Get("input_tokens").Exists() {
		u.PromptTokens = usage.Get("input_tokens").Int()
		u.CompletionTokens = usage.Get("output_tokens").Int()
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u, true
}
