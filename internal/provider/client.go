package provider

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/llmur/llmur/internal/metrics"
	"github.com/llmur/llmur/internal/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxErrorBodyBytes = 1 << 20

var tracer = otel.Tracer("github.com/llmur/llmur/internal/provider")

// upstream issues provider calls and records their outcome.
type upstream struct {
	tag    string
	client *http.Client
}

type call struct {
	op         string
	conn       models.Connection
	deployment string
	url        string
	header     http.Header
	body       []byte
}

// post sends the call. A non-2xx answer is consumed and returned as a normalized error.
func (u upstream) post(ctx context.Context, c call) (*http.Response, error) {
	ctx, span := tracer.Start(ctx, "provider."+u.tag+"."+c.op, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llmur.deployment", c.deployment),
			attribute.String("llmur.connection", c.conn.ID),
		))
	defer span.End()

	req, errReq := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(c.body))
	if errReq != nil {
		span.RecordError(errReq)
		span.SetStatus(codes.Error, "build request")
		return nil, &TransportError{Provider: u.tag, Err: errReq}
	}
	for key, values := range c.header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, errDo := u.client.Do(req)
	if errDo != nil {
		metrics.ObserveUpstream(u.tag, 0, time.Since(start))
		span.RecordError(errDo)
		span.SetStatus(codes.Error, "transport")
		return nil, &TransportError{Provider: u.tag, Err: errDo}
	}
	metrics.ObserveUpstream(u.tag, resp.StatusCode, time.Since(start))
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		_ = resp.Body.Close()
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
		return nil, normalizeUpstream(u.tag, resp.StatusCode, body)
	}
	return resp, nil
}

// readAll posts and reads the full success body.
func (u upstream) readAll(ctx context.Context, c call) ([]byte, error) {
	resp, err := u.post(ctx, c)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, errRead := io.ReadAll(resp.Body)
	if errRead != nil {
		return nil, &TransportError{Provider: u.tag, Err: errRead}
	}
	return body, nil
}

func trimEndpoint(endpoint string) string {
	return strings.TrimRight(strings.TrimSpace(endpoint), "/")
}

// withSuffix appends suffix unless the endpoint already ends with it.
func withSuffix(endpoint, suffix string) string {
	endpoint = trimEndpoint(endpoint)
	if strings.HasSuffix(endpoint, suffix) {
		return endpoint
	}
	return endpoint + suffix
}
