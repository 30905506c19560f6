package relay

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/llmur/llmur/internal/db"
	"github.com/llmur/llmur/internal/graph"
	"github.com/llmur/llmur/internal/models"
	"github.com/llmur/llmur/internal/provider"
	"github.com/llmur/llmur/internal/ratelimit"
	"github.com/llmur/llmur/internal/routing"
	"github.com/llmur/llmur/internal/security"
	"github.com/llmur/llmur/internal/store"
	"github.com/llmur/llmur/internal/usage"
	"github.com/tidwall/gjson"
	"gorm.io/datatypes"
)

const chatCompletion = `{"id":"c1","object":"chat.completion","model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":"Hi"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`

const chatStream = "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\",\"content\":\"Hi\"},\"finish_reason\":null}]}\n\n" +
	"data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n" +
	"data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"model\":\"gpt-4o\",\"choices\":[],\"usage\":{\"prompt_tokens\":3,\"completion_tokens\":1,\"total_tokens\":4}}\n\n" +
	"data: [DONE]\n\n"

type fakeRecorder struct {
	mu      sync.Mutex
	records []usage.Record
}

func (r *fakeRecorder) Emit(rec usage.Record) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return true
}

func (r *fakeRecorder) all() []usage.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]usage.Record(nil), r.records...)
}

type upstreamReply struct {
	status      int
	contentType string
	body        string
}

type fixture struct {
	store      *store.Store
	engine     *gin.Engine
	limiter    *ratelimit.Manager
	recorder   *fakeRecorder
	key        models.VirtualKey
	deployment models.Deployment
	connection models.Connection

	mu    sync.Mutex
	reply upstreamReply
	serve http.HandlerFunc
}

func newFixture(t *testing.T, providerTag string, keyLimits models.RequestLimits) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{recorder: &fakeRecorder{}, reply: upstreamReply{status: http.StatusOK, contentType: "application/json", body: chatCompletion}}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.ReadAll(r.Body)
		f.mu.Lock()
		reply, serve := f.reply, f.serve
		f.mu.Unlock()
		if serve != nil {
			serve(w, r)
			return
		}
		w.Header().Set("Content-Type", reply.contentType)
		w.WriteHeader(reply.status)
		_, _ = io.WriteString(w, reply.body)
	}))
	t.Cleanup(upstream.Close)

	conn, err := db.Open(fmt.Sprintf("sqlite:file:%s?mode=memory&cache=shared", uuid.NewString()))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	sealer, err := security.NewSealer("relay-secret")
	if err != nil {
		t.Fatalf("sealer: %v", err)
	}
	f.store = store.New(conn, sealer, "relay-secret")
	ctx := context.Background()

	project := models.Project{Name: "acme"}
	if err := f.store.CreateProject(ctx, &project); err != nil {
		t.Fatalf("create project: %v", err)
	}
	f.key = models.VirtualKey{ProjectID: project.ID, RequestLimits: datatypes.NewJSONType(keyLimits)}
	if err := f.store.CreateVirtualKey(ctx, &f.key); err != nil {
		t.Fatalf("create key: %v", err)
	}
	f.deployment = models.Deployment{Name: "gpt", Access: models.AccessPrivate, Strategy: models.StrategyRoundRobin}
	if err := f.store.CreateDeployment(ctx, &f.deployment); err != nil {
		t.Fatalf("create deployment: %v", err)
	}
	f.connection = models.Connection{Provider: providerTag, Model: "gpt-4o", DeploymentName: "gpt-4o-dep", APIVersion: "2024-10-21", APIEndpoint: upstream.URL, APIKey: "upstream-key"}
	if err := f.store.CreateConnection(ctx, &f.connection); err != nil {
		t.Fatalf("create connection: %v", err)
	}
	if err := f.store.CreateVirtualKeyDeployment(ctx, &models.VirtualKeyDeployment{VirtualKeyID: f.key.ID, DeploymentID: f.deployment.ID}); err != nil {
		t.Fatalf("grant: %v", err)
	}

	f.limiter = ratelimit.NewManager(nil, nil, nil)
	h := NewRelayHandler(graph.NewResolver(f.store), f.limiter, routing.NewRouter(nil), provider.NewRegistry(upstream.Client()), f.recorder)
	f.engine = gin.New()
	RegisterRoutes(f.engine, h)
	return f
}

func (f *fixture) bind(t *testing.T) {
	t.Helper()
	if err := f.store.CreateConnectionDeployment(context.Background(), &models.ConnectionDeployment{ConnectionID: f.connection.ID, DeploymentID: f.deployment.ID, Weight: 1}); err != nil {
		t.Fatalf("bind: %v", err)
	}
}

func (f *fixture) respond(status int, contentType, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reply = upstreamReply{status: status, contentType: contentType, body: body}
}

func (f *fixture) serveWith(handler http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.serve = handler
}

func (f *fixture) do(path, auth, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func (f *fixture) bearer() string { return "Bearer " + f.key.Key }

const chatBody = `{"model":"gpt","messages":[{"role":"user","content":"hello"}]}`

func TestChatCompletionRequiresVirtualKey(t *testing.T) {
	f := newFixture(t, models.ProviderOpenAI, models.RequestLimits{})
	f.bind(t)

	for _, auth := range []string{"", "Bearer sk-unknown", "Basic " + f.key.Key} {
		w := f.do("/v1/chat/completions", auth, chatBody)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("auth %q: expected 401, got %d", auth, w.Code)
		}
		if got := gjson.Get(w.Body.String(), "error.type").String(); got != "authentication_error" {
			t.Fatalf("expected authentication_error, got %q", got)
		}
	}
}

func TestChatCompletionResolutionStatuses(t *testing.T) {
	f := newFixture(t, models.ProviderOpenAI, models.RequestLimits{})

	if w := f.do("/v1/chat/completions", f.bearer(), `{"model":"missing","messages":[{"role":"user","content":"x"}]}`); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown deployment, got %d", w.Code)
	}
	if w := f.do("/v1/chat/completions", f.bearer(), chatBody); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without connections, got %d", w.Code)
	}
	if w := f.do("/v1/chat/completions", f.bearer(), ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %d", w.Code)
	}
	if w := f.do("/v1/chat/completions", f.bearer(), `{"model":"gpt","messages":[]}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty messages, got %d", w.Code)
	}
	if len(f.recorder.all()) != 0 {
		t.Fatalf("expected no request logs for rejected calls, got %d", len(f.recorder.all()))
	}
}

func TestChatCompletionRelaysAndRecords(t *testing.T) {
	f := newFixture(t, models.ProviderOpenAI, models.RequestLimits{})
	f.bind(t)

	w := f.do("/v1/chat/completions", f.bearer(), chatBody)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := gjson.Get(w.Body.String(), "model").String(); got != "gpt" {
		t.Fatalf("expected model gpt, got %q", got)
	}
	records := f.recorder.all()
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	entry := records[0].Log
	if entry.HTTPStatusCode != http.StatusOK || entry.TotalTokens != 4 || entry.ConnectionID != f.connection.ID {
		t.Fatalf("unexpected record: %+v", entry)
	}
	if entry.DeploymentName != "gpt" || entry.VirtualKeyID != f.key.ID || entry.Path != "/v1/chat/completions" {
		t.Fatalf("unexpected record identity: %+v", entry)
	}
}

func TestRequestsPerDayLimit(t *testing.T) {
	one := int64(1)
	f := newFixture(t, models.ProviderOpenAI, models.RequestLimits{RequestsPerDay: &one})
	f.bind(t)

	if w := f.do("/v1/chat/completions", f.bearer(), chatBody); w.Code != http.StatusOK {
		t.Fatalf("expected first call 200, got %d", w.Code)
	}
	w := f.do("/v1/chat/completions", f.bearer(), chatBody)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if got := gjson.Get(w.Body.String(), "error.code").String(); got != "rate_limit_exceeded" {
		t.Fatalf("expected rate_limit_exceeded, got %q", got)
	}
}

func TestTokenLimitRejectionKeepsRequestQuota(t *testing.T) {
	one, zero := int64(1), int64(0)
	f := newFixture(t, models.ProviderOpenAI, models.RequestLimits{RequestsPerDay: &one})
	f.bind(t)
	ctx := context.Background()

	f.key.TokenLimits = datatypes.NewJSONType(models.TokenLimits{TokensPerDay: &zero})
	if err := f.store.DB().Model(&models.VirtualKey{}).Where("id = ?", f.key.ID).Update("token_limits", f.key.TokenLimits).Error; err != nil {
		t.Fatalf("set token limits: %v", err)
	}

	w := f.do("/v1/chat/completions", f.bearer(), chatBody)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d: %s", w.Code, w.Body.String())
	}
	if got := gjson.Get(w.Body.String(), "error.code").String(); got != "token_limit_exceeded" {
		t.Fatalf("expected token_limit_exceeded, got %q", got)
	}

	res, err := f.limiter.CheckUsage(ctx, ratelimit.RequestLimits(&f.key, nil, nil))
	if err != nil {
		t.Fatalf("check usage: %v", err)
	}
	if !res.Allowed {
		t.Fatalf("expected the request quota to be untouched after a token-limit rejection")
	}
	if len(f.recorder.all()) != 0 {
		t.Fatalf("expected no request logs for a rejected call, got %d", len(f.recorder.all()))
	}
}

func TestStreamStopsWhenClientDisconnects(t *testing.T) {
	f := newFixture(t, models.ProviderOpenAI, models.RequestLimits{})
	f.bind(t)

	firstSent := make(chan struct{})
	upstreamClosed := make(chan struct{})
	f.serveWith(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"early\"},\"finish_reason\":null}]}\n\n")
		w.(http.Flusher).Flush()
		close(firstSent)
		select {
		case <-r.Context().Done():
			close(upstreamClosed)
		case <-time.After(5 * time.Second):
			_, _ = io.WriteString(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"late\"},\"finish_reason\":\"stop\"}]}\n\ndata: [DONE]\n\n")
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"gpt","stream":true,"messages":[{"role":"user","content":"hello"}]}`)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", f.bearer())
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		f.engine.ServeHTTP(w, req)
		close(done)
	}()

	select {
	case <-firstSent:
	case <-time.After(5 * time.Second):
		t.Fatalf("upstream never received the stream request")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected the relay to return promptly after the client disconnected")
	}
	select {
	case <-upstreamClosed:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected the upstream request to be closed")
	}

	body := w.Body.String()
	if strings.Contains(body, "late") || strings.Contains(body, "[DONE]") {
		t.Fatalf("expected no frames after the disconnect, got %q", body)
	}
	records := f.recorder.all()
	if len(records) != 1 || records[0].Log.Error != "client disconnected" {
		t.Fatalf("expected one record marked as disconnected, got %+v", records)
	}
}

func TestStreamingUsageIsGated(t *testing.T) {
	f := newFixture(t, models.ProviderOpenAI, models.RequestLimits{})
	f.bind(t)
	f.respond(http.StatusOK, "text/event-stream", chatStream)

	w := f.do("/v1/chat/completions", f.bearer(), `{"model":"gpt","stream":true,"messages":[{"role":"user","content":"hello"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Fatalf("expected stream to end with [DONE], got %q", body)
	}
	if strings.Contains(body, "usage") {
		t.Fatalf("expected no usage frames, got %q", body)
	}

	w = f.do("/v1/chat/completions", f.bearer(), `{"model":"gpt","stream":true,"stream_options":{"include_usage":true},"messages":[{"role":"user","content":"hello"}]}`)
	body = w.Body.String()
	if !strings.Contains(body, `"usage"`) {
		t.Fatalf("expected a usage frame, got %q", body)
	}
	if !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Fatalf("expected stream to end with [DONE], got %q", body)
	}

	records := f.recorder.all()
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	for _, rec := range records {
		if !rec.Log.Stream || rec.Log.TotalTokens != 4 {
			t.Fatalf("expected stream record with 4 tokens, got %+v", rec.Log)
		}
	}
}

func TestEmbeddingsTokenInput(t *testing.T) {
	f := newFixture(t, models.ProviderOpenAI, models.RequestLimits{})
	f.bind(t)
	f.respond(http.StatusOK, "application/json", `{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.1]}],"model":"text-embedding-3-small","usage":{"prompt_tokens":3,"total_tokens":3}}`)
	if w := f.do("/v1/embeddings", f.bearer(), `{"model":"gpt","input":[1,2,3]}`); w.Code != http.StatusOK {
		t.Fatalf("expected 200 against openai, got %d: %s", w.Code, w.Body.String())
	}

	azure := newFixture(t, models.ProviderAzure, models.RequestLimits{})
	azure.bind(t)
	w := azure.do("/v1/embeddings", azure.bearer(), `{"model":"gpt","input":[1,2,3]}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 against azure, got %d", w.Code)
	}
	if got := gjson.Get(w.Body.String(), "error.type").String(); got != "invalid_request_error" {
		t.Fatalf("expected invalid_request_error, got %q", got)
	}
}

func TestUpstreamUnknownModelIsNotFound(t *testing.T) {
	f := newFixture(t, models.ProviderOpenAI, models.RequestLimits{})
	f.bind(t)
	f.respond(http.StatusBadRequest, "application/json", `{"error":{"message":"The model does not exist","code":"model_not_found"}}`)

	w := f.do("/v1/chat/completions", f.bearer(), chatBody)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if got := gjson.Get(w.Body.String(), "error.message").String(); got != "The model does not exist" {
		t.Fatalf("expected upstream message, got %q", got)
	}
	records := f.recorder.all()
	if len(records) != 1 || records[0].Log.HTTPStatusCode != http.StatusNotFound {
		t.Fatalf("expected one 404 record, got %+v", records)
	}
}

func TestResponsesStreamIsVerbatim(t *testing.T) {
	f := newFixture(t, models.ProviderOpenAI, models.RequestLimits{})
	f.bind(t)
	events := "event: response.created\ndata: {\"type\":\"response.created\"}\n\n" +
		"event: response.completed\ndata: {\"type\":\"response.completed\",\"response\":{\"usage\":{\"input_tokens\":5,\"output_tokens\":2,\"total_tokens\":7}}}\n\n"
	f.respond(http.StatusOK, "text/event-stream", events)

	w := f.do("/v1/responses", f.bearer(), `{"model":"gpt","input":"hi","stream":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != events {
		t.Fatalf("expected verbatim events, got %q", w.Body.String())
	}
	records := f.recorder.all()
	if len(records) != 1 || records[0].Log.TotalTokens != 7 || records[0].Log.InputTokens != 5 {
		t.Fatalf("expected usage from response.completed, got %+v", records)
	}
}
