package provider

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/llmur/llmur/internal/models"
	"github.com/tidwall/gjson"
)

func newAzure(client *http.Client) *openAICompatible {
	return &openAICompatible{
		upstream: upstream{tag: models.ProviderAzure, client: client},
		chatURL: func(c models.Connection) string {
			return withSuffix(c.APIEndpoint, "/openai/v1") + "/chat/completions"
		},
		embedURL: func(c models.Connection) string {
			base := strings.TrimSuffix(trimEndpoint(c.APIEndpoint), "/openai/v1")
			return base + "/openai/deployments/" + url.PathEscape(c.DeploymentName) +
				"/embeddings?api-version=" + url.QueryEscape(c.APIVersion)
		},
		responsesURL: func(c models.Connection) string {
			return withSuffix(c.APIEndpoint, "/openai/v1") + "/responses"
		},
		authorize: func(h http.Header, c models.Connection) {
			h.Set("api-key", c.APIKey)
		},
		dropFrame: isPromptFilterFrame,
	}
}

// isPromptFilterFrame matches Azure's content-filter preamble, which carries no choices.
func isPromptFilterFrame(payload []byte) bool {
	choices := gjson.GetBytes(payload, "choices")
	if choices.IsArray() && len(choices.Array()) > 0 {
		return false
	}
	return gjson.GetBytes(payload, "prompt_filter_results").Exists()
}
