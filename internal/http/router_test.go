package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/splax/routedev/internal/bridge"
	"github.com/splax/routedev/internal/domain"
	"github.com/splax/routedev/internal/service/devtools"
)

func setupRouter(t *testing.T, limiter RateLimiter, app http.Handler) (*Router, *devtools.Service) {
	t.Helper()
	hub := bridge.NewHub()
	t.Cleanup(hub.Close)
	svc := devtools.New(devtools.Deps{Hub: hub})
	router := NewRouter(nil, svc, hub, limiter, app)
	t.Cleanup(router.Close)
	return router, svc
}

func TestHealthz(t *testing.T) {
	router, _ := setupRouter(t, nil, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil || payload["status"] != "ok" {
		t.Fatalf("unexpected payload %s", rec.Body.String())
	}
}

func TestRouteEndpoints(t *testing.T) {
	router, svc := setupRouter(t, nil, nil)
	svc.Record(domain.Event{ID: "1", RouteID: "routes/index", Kind: domain.KindLoader, ExecutionTimeMS: 3})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, Prefix+"/routes", nil))
	var all map[string]domain.RouteStats
	if err := json.Unmarshal(rec.Body.Bytes(), &all); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if all["routes/index"].LoaderTriggerCount != 1 {
		t.Fatalf("unexpected stats %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, Prefix+"/routes/routes/index", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, Prefix+"/routes/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, Prefix+"/events", nil))
	var events []domain.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil || len(events) != 1 {
		t.Fatalf("unexpected events %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, Prefix+"/routes/routes/index", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if _, ok := svc.Stats("routes/index"); ok {
		t.Fatalf("expected route cleared")
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, Prefix+"/routes", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestMessageEndpoint(t *testing.T) {
	router, svc := setupRouter(t, nil, nil)
	svc.Record(domain.Event{RouteID: "root", Kind: domain.KindAction, ExecutionTimeMS: 1})

	req := httptest.NewRequest(http.MethodPost, Prefix+"/message", strings.NewReader(`{"type":"all-route-info"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var payload struct {
		Replies []bridge.Envelope `json:"replies"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Replies) != 1 || payload.Replies[0].Type != bridge.TypeRouteInfo {
		t.Fatalf("unexpected replies %s", rec.Body.String())
	}
	var info bridge.RouteInfo
	if err := payload.Replies[0].Bind(&info); err != nil || len(info["root"].Actions) != 1 {
		t.Fatalf("unexpected route info %s", payload.Replies[0].Data)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, Prefix+"/message", strings.NewReader(`nonsense`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	router.ServeHTTP(rec, req)
	if !strings.Contains(rec.Body.String(), `"type":"error"`) {
		t.Fatalf("expected an error reply, got %s", rec.Body.String())
	}
}

func TestWebsocketBridge(t *testing.T) {
	router, svc := setupRouter(t, nil, nil)
	server := httptest.NewServer(router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + Prefix + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"all-route-info"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	env, err := bridge.Decode(frame)
	if err != nil || env.Type != bridge.TypeRouteInfo {
		t.Fatalf("unexpected reply %s", frame)
	}

	svc.Record(domain.Event{ID: "live", RouteID: "root", Kind: domain.KindLoader})
	_, frame, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var push bridge.RouteEvent
	env, _ = bridge.Decode(frame)
	if env.Type != bridge.TypeRouteEvent || env.Bind(&push) != nil || push.Event.ID != "live" {
		t.Fatalf("unexpected push %s", frame)
	}
}

func TestStreamSendsSnapshotAndHeartbeat(t *testing.T) {
	router, _ := setupRouter(t, nil, nil)
	router.heartbeat = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, Prefix+"/stream", nil).WithContext(ctx)
	recorder := newStreamRecorder()
	done := make(chan struct{})
	go func() {
		router.handleStream(recorder, req)
		close(done)
	}()

	waitFor(t, 2*time.Second, func() bool {
		return strings.Contains(recorder.body(), `data: {"type":"route-info"`)
	})
	waitFor(t, 2*time.Second, func() bool {
		return strings.Contains(recorder.body(), ": ping")
	})
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream handler did not exit after context cancel")
	}
	if ct := recorder.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if recorder.flushCount() == 0 {
		t.Fatalf("expected flusher to be invoked")
	}
}

func TestRateLimitedMessage(t *testing.T) {
	limiter := &rateLimiterStub{deny: true}
	router, _ := setupRouter(t, limiter, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, Prefix+"/message", strings.NewReader(`{"type":"all-route-info"}`)))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Limit") == "" {
		t.Fatalf("expected rate limit headers")
	}
	if limiter.calls != 1 || !strings.HasPrefix(limiter.lastKey, "ip:") {
		t.Fatalf("unexpected limiter usage %+v", limiter)
	}
}

func TestAppPassthrough(t *testing.T) {
	app := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte("app:" + req.URL.Path))
	})
	router, _ := setupRouter(t, nil, app)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/blog/hello", nil))
	if rec.Body.String() != "app:/blog/hello" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, Prefix+"/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected devtools paths to stay private, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := setupRouter(t, nil, nil)
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "routedev_http_requests_total") {
		t.Fatalf("unexpected metrics output %d", rec.Code)
	}
}

func TestMemoryRateLimiterWindow(t *testing.T) {
	rl := NewMemoryRateLimiter().(*memoryRateLimiter)
	defer rl.Close()
	now := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if !rl.Allow("ip:1", 2, time.Minute).allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if rl.Allow("ip:1", 2, time.Minute).allowed {
		t.Fatalf("third request should be denied")
	}
	now = now.Add(2 * time.Minute)
	if !rl.Allow("ip:1", 2, time.Minute).allowed {
		t.Fatalf("new window should allow again")
	}
	rl.cleanup(now.Add(time.Hour))
	if len(rl.entries) != 0 {
		t.Fatalf("expected expired entries swept")
	}
}

type rateLimiterStub struct {
	mu      sync.Mutex
	deny    bool
	calls   int
	lastKey string
}

func (s *rateLimiterStub) Allow(key string, limit int, window time.Duration) rateDecision {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastKey = key
	if s.deny {
		return rateDecision{allowed: false, count: limit, windowEnd: time.Now().Add(window)}
	}
	return rateDecision{allowed: true, count: 1, windowEnd: time.Now().Add(window)}
}

func (s *rateLimiterStub) Close() {}

type streamRecorder struct {
	mu     sync.Mutex
	header http.Header
	status int
	buf    bytes.Buffer
	flush  int
}

func newStreamRecorder() *streamRecorder {
	return &streamRecorder{header: make(http.Header)}
}

func (s *streamRecorder) Header() http.Header {
	return s.header
}

func (s *streamRecorder) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.buf.Write(b)
}

func (s *streamRecorder) WriteHeader(status int) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

func (s *streamRecorder) Flush() {
	s.mu.Lock()
	s.flush++
	s.mu.Unlock()
}

func (s *streamRecorder) body() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func (s *streamRecorder) flushCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestIngestRecordsForwardedEvents(t *testing.T) {
	router, svc := setupRouter(t, nil, nil)
	router.SetIngestToken("shared")

	batch := `[{"id":"1","routeId":"routes/todos","type":"loader","executionTime":4},{"id":"2","routeId":"","type":"loader"}]`
	req := httptest.NewRequest(http.MethodPost, Prefix+"/ingest", strings.NewReader(batch))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, Prefix+"/ingest", strings.NewReader(batch))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(IngestTokenHeader, "shared")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil || payload["accepted"] != 1 {
		t.Fatalf("unexpected payload %s", rec.Body.String())
	}
	if stats, ok := svc.Stats("routes/todos"); !ok || stats.LoaderTriggerCount != 1 {
		t.Fatalf("expected forwarded loader recorded, got %+v", stats)
	}
}

func TestMessageRejectsForeignOrigin(t *testing.T) {
	router, _ := setupRouter(t, nil, nil)
	body := `{"type":"run","data":{"terminalId":1,"command":"touch pwned"}}`

	req := httptest.NewRequest(http.MethodPost, Prefix+"/message", strings.NewReader(body))
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign origin, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, Prefix+"/message", strings.NewReader(body))
	req.Header.Set("Content-Type", "text/plain")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415 for a non-JSON body, got %d", rec.Code)
	}
}

func TestLocalOriginsAccepted(t *testing.T) {
	router, _ := setupRouter(t, nil, nil)
	router.SetAllowedOrigins([]string{"http://devbox.lan:3000/"})
	for _, origin := range []string{
		"http://localhost:3000",
		"http://127.0.0.1:5173",
		"http://[::1]:3000",
		"http://app.localhost",
		"http://devbox.lan:3000",
	} {
		req := httptest.NewRequest(http.MethodPost, Prefix+"/message", strings.NewReader(`{"type":"all-route-info"}`))
		req.Header.Set("Origin", origin)
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("origin %s: expected 200, got %d", origin, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, Prefix+"/routes", nil)
	req.Header.Set("Origin", "http://localhost.evil.example")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for lookalike origin, got %d", rec.Code)
	}
}

func TestWebsocketRejectsForeignOrigin(t *testing.T) {
	router, _ := setupRouter(t, nil, nil)
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + Prefix + "/ws"
	header := http.Header{"Origin": {"https://evil.example"}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		conn.Close()
		t.Fatal("expected the upgrade to be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", resp)
	}
}
