// Package relay serves the OpenAI-compatible inference routes.
package relay

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/llmur/llmur/internal/graph"
	"github.com/llmur/llmur/internal/metrics"
	"github.com/llmur/llmur/internal/models"
	"github.com/llmur/llmur/internal/provider"
	"github.com/llmur/llmur/internal/ratelimit"
	"github.com/llmur/llmur/internal/routing"
	"github.com/llmur/llmur/internal/usage"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxBodyBytes = 32 << 20

var tracer = otel.Tracer("github.com/llmur/llmur/internal/http/api/relay")

// Limiter enforces request and token quotas.
type Limiter interface {
	CheckAndIncrement(ctx context.Context, limits []ratelimit.ScopeLimit) (ratelimit.Result, error)
	CheckUsage(ctx context.Context, limits []ratelimit.ScopeLimit) (ratelimit.Result, error)
}

// Recorder receives finished requests.
type Recorder interface {
	Emit(rec usage.Record) bool
}

// Handler relays inference calls to the connection picked for a deployment.
type Handler struct {
	resolver *graph.Resolver
	limiter  Limiter
	router   *routing.Router
	registry *provider.Registry
	recorder Recorder
	nowFn    func() time.Time
}

// NewRelayHandler constructs the inference handler.
func NewRelayHandler(resolver *graph.Resolver, limiter Limiter, router *routing.Router, registry *provider.Registry, recorder Recorder) *Handler {
	return &Handler{
		resolver: resolver,
		limiter:  limiter,
		router:   router,
		registry: registry,
		recorder: recorder,
		nowFn:    time.Now,
	}
}

// RegisterRoutes mounts the inference routes under /v1.
func RegisterRoutes(r gin.IRouter, h *Handler) {
	if r == nil || h == nil {
		return
	}
	v1 := r.Group("/v1")
	v1.POST("/chat/completions", h.ChatCompletions)
	v1.POST("/embeddings", h.Embeddings)
	v1.POST("/responses", h.Responses)
}

// call is one admitted request with its picked connection.
type call struct {
	graph       *graph.Graph
	selection   *routing.Selection
	adapter     provider.Adapter
	tokenLimits []ratelimit.ScopeLimit
	span        trace.Span
	entry       models.RequestLog
}

// ChatCompletions handles POST /v1/chat/completions.
func (h *Handler) ChatCompletions(c *gin.Context) {
	raw, ok := readBody(c)
	if !ok {
		return
	}
	req, errDecode := provider.DecodeChatRequest(raw)
	if errDecode != nil {
		writeError(c, errDecode)
		return
	}
	cl, ok := h.admit(c, "relay.chat_completions", req.Model, req.Stream)
	if !ok {
		return
	}
	defer cl.close()

	ctx := trace.ContextWithSpan(c.Request.Context(), cl.span)
	conn := cl.selection.Connection
	if req.Stream {
		stream, errStream := cl.adapter.Stream(ctx, conn, req, cl.graph.Deployment.Name)
		if errStream != nil {
			h.fail(c, cl, errStream)
			return
		}
		h.relayChunks(c, cl, stream, req.IncludeUsage())
		return
	}

	body, errComplete := cl.adapter.Complete(ctx, conn, req, cl.graph.Deployment.Name)
	if errComplete != nil {
		h.fail(c, cl, errComplete)
		return
	}
	u, _ := provider.ExtractUsage(body)
	c.Data(http.StatusOK, "application/json", body)
	h.finish(cl, http.StatusOK, "", u)
}

// Embeddings handles POST /v1/embeddings.
func (h *Handler) Embeddings(c *gin.Context) {
	raw, ok := readBody(c)
	if !ok {
		return
	}
	req, errDecode := provider.DecodeEmbeddingRequest(raw)
	if errDecode != nil {
		writeError(c, errDecode)
		return
	}
	cl, ok := h.admit(c, "relay.embeddings", req.Model, false)
	if !ok {
		return
	}
	defer cl.close()

	ctx := trace.ContextWithSpan(c.Request.Context(), cl.span)
	body, errEmbed := cl.adapter.Embed(ctx, cl.selection.Connection, req, cl.graph.Deployment.Name)
	if errEmbed != nil {
		h.fail(c, cl, errEmbed)
		return
	}
	u, _ := provider.ExtractUsage(body)
	c.Data(http.StatusOK, "application/json", body)
	h.finish(cl, http.StatusOK, "", u)
}

// Responses handles POST /v1/responses.
func (h *Handler) Responses(c *gin.Context) {
	raw, ok := readBody(c)
	if !ok {
		return
	}
	req, errDecode := provider.DecodeResponsesRequest(raw)
	if errDecode != nil {
		writeError(c, errDecode)
		return
	}
	cl, ok := h.admit(c, "relay.responses", req.Model, req.Stream)
	if !ok {
		return
	}
	defer cl.close()

	ctx := trace.ContextWithSpan(c.Request.Context(), cl.span)
	resp, errRelay := cl.adapter.Responses(ctx, cl.selection.Connection, req.Raw, req.Stream, cl.graph.Deployment.Name)
	if errRelay != nil {
		h.fail(c, cl, errRelay)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if req.Stream {
		h.relayEvents(c, cl, resp.Body)
		return
	}
	body, errRead := io.ReadAll(resp.Body)
	if errRead != nil {
		h.fail(c, cl, &provider.TransportError{Provider: cl.selection.Connection.Provider, Err: errRead})
		return
	}
	u, _ := provider.ExtractUsage(body)
	c.Data(http.StatusOK, "application/json", body)
	h.finish(cl, http.StatusOK, "", u)
}

// admit authenticates the caller, enforces quotas and picks a connection.
// On failure the response has already been written.
func (h *Handler) admit(c *gin.Context, spanName, deploymentName string, stream bool) (*call, bool) {
	ctx, span := tracer.Start(c.Request.Context(), spanName, trace.WithAttributes(
		attribute.String("llmur.deployment", deploymentName),
		attribute.Bool("llmur.stream", stream),
	))
	requestedAt := h.nowFn()

	reject := func(err error) (*call, bool) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		writeError(c, err)
		return nil, false
	}

	token, errToken := graph.ParseBearer(c.GetHeader("Authorization"))
	if errToken != nil {
		return reject(errToken)
	}
	g, errResolve := h.resolver.Resolve(ctx, token, deploymentName)
	if errResolve != nil {
		if graph.StatusCode(errResolve) == http.StatusInternalServerError {
			log.WithError(errResolve).Error("relay: resolve request graph")
		}
		return reject(errResolve)
	}

	key, deployment, project := &g.Identity.Key, &g.Deployment, &g.Identity.Project
	tokenLimits := ratelimit.TokenLimits(key, deployment, project)
	if errLimit := h.checkLimit(ctx, false, tokenLimits); errLimit != nil {
		return reject(errLimit)
	}

	selection, errSelect := h.router.Select(ctx, g.Deployment, g.Connections)
	if errSelect != nil {
		if errors.Is(errSelect, routing.ErrNoConnections) {
			errSelect = graph.ErrNoConnections
		}
		return reject(errSelect)
	}
	adapter, errAdapter := h.registry.For(selection.Connection.Provider)
	if errAdapter != nil {
		selection.Release()
		log.WithError(errAdapter).WithField("connection", selection.Connection.ID).Error("relay: connection has no adapter")
		return reject(errAdapter)
	}
	// Request quotas are charged last; a rejected request consumes nothing.
	if errLimit := h.checkLimit(ctx, true, ratelimit.RequestLimits(key, deployment, project)); errLimit != nil {
		selection.Release()
		return reject(errLimit)
	}
	span.SetAttributes(
		attribute.String("llmur.connection", selection.Connection.ID),
		attribute.String("llmur.provider", selection.Connection.Provider),
	)

	return &call{
		graph:       g,
		selection:   selection,
		adapter:     adapter,
		tokenLimits: tokenLimits,
		span:        span,
		entry: models.RequestLog{
			VirtualKeyID:    g.Identity.Key.ID,
			DeploymentID:    g.Deployment.ID,
			ConnectionID:    selection.Connection.ID,
			ProjectID:       g.Identity.Project.ID,
			Provider:        selection.Connection.Provider,
			Method:          c.Request.Method,
			Path:            c.Request.URL.Path,
			DeploymentName:  g.Deployment.Name,
			VirtualKeyAlias: g.Identity.Key.Alias,
			Stream:          stream,
			RequestedAt:     requestedAt,
		},
	}, true
}

// checkLimit returns a *ratelimit.Error for an exhausted quota. With increment set the
// counters are charged atomically on admission. A failing backend admits the request.
func (h *Handler) checkLimit(ctx context.Context, increment bool, limits []ratelimit.ScopeLimit) error {
	if h.limiter == nil || len(limits) == 0 {
		return nil
	}
	check := h.limiter.CheckUsage
	if increment {
		check = h.limiter.CheckAndIncrement
	}
	res, err := check(ctx, limits)
	if err != nil {
		log.WithError(err).Warn("relay: rate limit check failed, admitting request")
		return nil
	}
	if res.Allowed {
		return nil
	}
	for _, exhausted := range res.Exhausted {
		metrics.RateLimitRejectionsTotal.WithLabelValues(string(exhausted.Scope)).Inc()
	}
	return ratelimit.NewError(res, h.nowFn())
}

// fail writes an upstream failure and records it.
func (h *Handler) fail(c *gin.Context, cl *call, err error) {
	status := statusOf(err)
	cl.span.RecordError(err)
	cl.span.SetStatus(codes.Error, err.Error())
	if status >= http.StatusInternalServerError {
		log.WithError(err).WithFields(log.Fields{
			"deployment": cl.graph.Deployment.Name,
			"connection": cl.selection.Connection.ID,
		}).Warn("relay: upstream call failed")
	}
	writeError(c, err)
	h.finish(cl, status, err.Error(), provider.Usage{})
}

// finish emits the request log and charges token usage.
func (h *Handler) finish(cl *call, status int, message string, u provider.Usage) {
	cl.span.SetAttributes(attribute.Int("http.response.status_code", status))
	if h.recorder == nil {
		return
	}
	entry := cl.entry
	entry.HTTPStatusCode = status
	entry.Error = message
	entry.InputTokens = u.PromptTokens
	entry.OutputTokens = u.CompletionTokens
	entry.TotalTokens = u.TotalTokens
	entry.RespondedAt = h.nowFn()
	h.recorder.Emit(usage.Record{Log: entry, TokenLimits: cl.tokenLimits})
}

func (cl *call) close() {
	cl.selection.Release()
	cl.span.End()
}

func readBody(c *gin.Context) ([]byte, bool) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		writeError(c, provider.BadRequest("Unable to read request body."))
		return nil, false
	}
	return raw, true
}
