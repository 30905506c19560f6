package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrUnknownProvider is returned for provider tags without an adapter.
var ErrUnknownProvider = errors.New("provider: unknown provider")

// RequestError rejects a request before it reaches the upstream.
type RequestError struct {
	Status  int
	Message string
}

// BadRequest builds a 400 RequestError.
func BadRequest(message string) *RequestError {
	return &RequestError{Status: http.StatusBadRequest, Message: message}
}

func (e *RequestError) Error() string { return e.Message }

// StatusCode implements the status-bearing error contract.
func (e *RequestError) StatusCode() int {
	if e.Status == 0 {
		return http.StatusBadRequest
	}
	return e.Status
}

// UpstreamError is a non-success answer from a provider, already mapped to a gateway status.
type UpstreamError struct {
	Provider       string
	UpstreamStatus int
	Status         int
	Body           []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("provider %s: upstream status %d: %s", e.Provider, e.UpstreamStatus, e.Message())
}

// StatusCode returns the gateway status for the upstream failure.
func (e *UpstreamError) StatusCode() int { return e.Status }

// Message extracts a readable message from the upstream body.
func (e *UpstreamError) Message() string {
	if e.Status == http.StatusBadGateway && (e.UpstreamStatus == http.StatusUnauthorized || e.UpstreamStatus == http.StatusForbidden) {
		return "The upstream provider rejected the gateway credentials."
	}
	for _, path := range []string{"error.message", "message", "error"} {
		if v := gjson.GetBytes(e.Body, path); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	text := strings.TrimSpace(string(e.Body))
	if text == "" {
		return http.StatusText(e.UpstreamStatus)
	}
	if len(text) > 512 {
		text = text[:512]
	}
	return text
}

// Code extracts the upstream error code when one is present.
func (e *UpstreamError) Code() string {
	for _, path := range []string{"error.code", "error.status", "code"} {
		if v := gjson.GetBytes(e.Body, path); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

// TransportError is a failure to reach the upstream at all.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("provider %s: upstream unreachable: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusCode implements the status-bearing error contract. Timeouts map to 504.
func (e *TransportError) StatusCode() int {
	var netErr net.Error
	if errors.Is(e.Err, context.DeadlineExceeded) || (errors.As(e.Err, &netErr) && netErr.Timeout()) {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

var unknownModelMarkers = [][]byte{
	[]byte("DeploymentNotFound"),
	[]byte("model_not_found"),
	[]byte("NOT_FOUND"),
}

// normalizeUpstream maps a provider failure onto the gateway status vocabulary.
func normalizeUpstream(provider string, status int, body []byte) error {
	return &UpstreamError{
		Provider:       provider,
		UpstreamStatus: status,
		Status:         gatewayStatus(status, body),
		Body:           body,
	}
}

func gatewayStatus(status int, body []byte) int {
	if status == http.StatusNotFound || mentionsUnknownModel(body) {
		return http.StatusNotFound
	}
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return http.StatusBadGateway
	case status >= 400 && status <= 599:
		return status
	default:
		return http.StatusBadGateway
	}
}

func mentionsUnknownModel(body []byte) bool {
	for _, path := range []string{"error.code", "error.status", "code"} {
		v := gjson.GetBytes(body, path).String()
		for _, marker := range unknownModelMarkers {
			if v == string(marker) {
				return true
			}
		}
	}
	if !gjson.ValidBytes(body) {
		for _, marker := range unknownModelMarkers {
			if bytes.Contains(body, marker) {
				return true
			}
		}
	}
	return false
}
