package relay

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/llmur/llmur/internal/graph"
	"github.com/llmur/llmur/internal/provider"
	"github.com/llmur/llmur/internal/ratelimit"
)

type statusError interface {
	StatusCode() int
}

type headerError interface {
	Headers() http.Header
}

// errorBody is the OpenAI-compatible error envelope.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string  `json:"message"`
	Type    string  `json:"type"`
	Code    *string `json:"code"`
}

func statusOf(err error) int {
	var se statusError
	if errors.As(err, &se) {
		return se.StatusCode()
	}
	return graph.StatusCode(err)
}

func writeError(c *gin.Context, err error) {
	status := statusOf(err)
	var he headerError
	if errors.As(err, &he) {
		for key, values := range he.Headers() {
			for _, v := range values {
				c.Header(key, v)
			}
		}
	}
	c.AbortWithStatusJSON(status, errorBody{Error: detailFor(err, status)})
}

func detailFor(err error, status int) errorDetail {
	detail := errorDetail{Message: err.Error(), Type: errorType(status)}
	var (
		upstreamErr *provider.UpstreamError
		limitErr    *ratelimit.Error
	)
	switch {
	case errors.As(err, &upstreamErr):
		detail.Message = upstreamErr.Message()
		if code := upstreamErr.Code(); code != "" {
			detail.Code = &code
		}
	case errors.As(err, &limitErr):
		detail.Code = codeOf("rate_limit_exceeded")
		if limitErr.Kind == ratelimit.KindTokens {
			detail.Code = codeOf("token_limit_exceeded")
		}
	case errors.Is(err, graph.ErrUnauthorized), errors.Is(err, graph.ErrNotPermitted):
		detail.Message = "Invalid virtual key or deployment not accessible."
		detail.Code = codeOf("invalid_api_key")
	case errors.Is(err, graph.ErrKeyBlocked):
		detail.Message = "The virtual key is blocked."
		detail.Code = codeOf("key_blocked")
	case errors.Is(err, graph.ErrDeploymentNotFound):
		detail.Message = "The requested deployment does not exist."
		detail.Code = codeOf("model_not_found")
	case errors.Is(err, graph.ErrNoConnections):
		detail.Message = "The deployment has no usable connection."
		detail.Code = codeOf("no_connections")
	case status == http.StatusInternalServerError:
		detail.Message = "Internal server error."
	}
	return detail
}

func errorType(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request_error"
	case http.StatusUnauthorized:
		return "authentication_error"
	case http.StatusNotFound:
		return "not_found_error"
	case http.StatusTooManyRequests:
		return "rate_limit_error"
	case http.StatusServiceUnavailable:
		return "service_unavailable_error"
	case http.StatusBadGateway, http.StatusGatewayTimeout:
		return "upstream_error"
	default:
		return "api_error"
	}
}

// jsonError renders err as an error envelope for an SSE frame.
func jsonError(err error) ([]byte, error) {
	return json.Marshal(errorBody{Error: detailFor(err, statusOf(err))})
}

func codeOf(code string) *string { return &code }
