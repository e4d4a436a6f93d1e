package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/routedev/internal/bridge"
	"github.com/splax/routedev/internal/domain"
	"github.com/splax/routedev/internal/service/devtools"
)

// Devtools is the subset of the devtools service exposed over HTTP.
type Devtools interface {
	Handle(ctx context.Context, frame []byte, reply devtools.Reply)
	Record(ev domain.Event)
	RouteInfo() bridge.RouteInfo
	AllStats() map[string]domain.RouteStats
	Stats(routeID string) (domain.RouteStats, bool)
	Events() []domain.Event
	Clear(routeID string)
}

// StreamHub registers streaming subscribers.
type StreamHub interface {
	Register(channel string, client bridge.Subscriber)
	Unregister(channel string, client bridge.Subscriber)
}

const (
	// IngestTokenHeader carries the shared secret of forwarded events.
	IngestTokenHeader = "X-Devtools-Token"

	// Prefix is the path under which every devtools endpoint is mounted.
	Prefix = "/__devtools"

	rateWindowDefault  = time.Minute
	rateLimitMessage   = 600
	rateLimitWebsocket = 30
	rateLimitIngest    = 6000
	maxIngestEvents    = 500
	maxMessageBytes    = 1 << 20
	sseHeartbeat       = 15 * time.Second
)

// Router wires HTTP endpoints to the devtools service and the instrumented
// application.
type Router struct {
	mux       *http.ServeMux
	logger    *slog.Logger
	devtools  Devtools
	hub       StreamHub
	app       http.Handler
	upgrader  websocket.Upgrader
	limiter   RateLimiter
	heartbeat time.Duration
	gatherer  prometheus.Gatherer
	ingestKey string

	allowedOrigins map[string]struct{}

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
	bridgeMessages     *prometheus.CounterVec
}

// NewRouter assembles routes with dependencies. app serves every path
// outside the devtools prefix and may be nil.
func NewRouter(logger *slog.Logger, svc Devtools, hub StreamHub, limiter RateLimiter, app http.Handler) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		mux:       http.NewServeMux(),
		logger:    logger.With("component", "http"),
		devtools:  svc,
		hub:       hub,
		app:       app,
		limiter:   limiter,
		heartbeat: sseHeartbeat,
		gatherer:  prometheus.DefaultGatherer,
	}
	r.upgrader.CheckOrigin = r.originAllowed
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// SetIngestToken requires forwarded events to carry token.
func (r *Router) SetIngestToken(token string) {
	r.ingestKey = strings.TrimSpace(token)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}))
	r.mux.HandleFunc(Prefix+"/ws", r.audit(r.localOnly(r.withRateLimit(Prefix+"/ws", rateLimitWebsocket, rateWindowDefault, rateLimitKeyIP, r.handleWebsocket))))
	r.mux.HandleFunc(Prefix+"/stream", r.audit(r.localOnly(r.handleStream)))
	r.mux.HandleFunc(Prefix+"/message", r.audit(r.localOnly(r.withRateLimit(Prefix+"/message", rateLimitMessage, rateWindowDefault, rateLimitKeyIP, r.handleMessage))))
	r.mux.HandleFunc(Prefix+"/ingest", r.audit(r.localOnly(r.withRateLimit(Prefix+"/ingest", rateLimitIngest, rateWindowDefault, rateLimitKeyIP, r.handleIngest))))
	r.mux.HandleFunc(Prefix+"/routes", r.audit(r.localOnly(r.handleRoutes)))
	r.mux.HandleFunc(Prefix+"/routes/", r.audit(r.localOnly(r.handleRoute)))
	r.mux.HandleFunc(Prefix+"/events", r.audit(r.localOnly(r.handleEvents)))
	r.mux.HandleFunc("/", r.audit(r.handleApp))
}

func (r *Router) handleApp(w http.ResponseWriter, req *http.Request) {
	if r.app == nil || strings.HasPrefix(req.URL.Path, Prefix+"/") {
		r.notFound(w)
		return
	}
	r.app.ServeHTTP(w, req)
}

func (r *Router) handleWebsocket(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := bridge.NewClient(conn, r.logger)
	r.hub.Register(bridge.ChannelDevtools, client)
	r.logger.Debug("devtools client connected", "client_id", client.ID())
	// the request context ends when the handler returns
	ctx := context.WithoutCancel(req.Context())
	go func() {
		defer func() {
			r.hub.Unregister(bridge.ChannelDevtools, client)
			client.Close()
		}()
		conn.SetReadLimit(maxMessageBytes)
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					r.logger.Warn("websocket read failed", "client_id", client.ID(), "error", err)
				}
				return
			}
			r.recordBridgeMessage(frame)
			r.devtools.Handle(ctx, frame, client.Send)
		}
	}()
}

func (r *Router) handleStream(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	client := bridge.NewSSEClient(w, flusher, r.logger)
	r.hub.Register(bridge.ChannelDevtools, client)
	defer r.hub.Unregister(bridge.ChannelDevtools, client)

	if frame, err := bridge.Encode(bridge.TypeRouteInfo, r.devtools.RouteInfo()); err == nil {
		if err := client.Send(frame); err != nil {
			return
		}
	}

	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			client.Close()
			return
		case <-ticker.C:
			if client.Closed() {
				return
			}
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

// handleMessage accepts one bridge frame over plain HTTP and answers with
// the frames the command produced.
func (r *Router) handleMessage(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if !isJSONRequest(req) {
		writeError(w, http.StatusUnsupportedMediaType, "content type must be application/json")
		return
	}
	frame, err := io.ReadAll(io.LimitReader(req.Body, maxMessageBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	r.recordBridgeMessage(frame)
	replies := make([]json.RawMessage, 0, 1)
	r.devtools.Handle(req.Context(), frame, func(reply []byte) error {
		replies = append(replies, json.RawMessage(reply))
		return nil
	})
	writeJSON(w, http.StatusOK, map[string]any{"replies": replies})
}

// handleIngest records events forwarded by another instrumented process.
func (r *Router) handleIngest(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if !isJSONRequest(req) {
		writeError(w, http.StatusUnsupportedMediaType, "content type must be application/json")
		return
	}
	if r.ingestKey != "" && req.Header.Get(IngestTokenHeader) != r.ingestKey {
		writeError(w, http.StatusUnauthorized, "invalid ingest token")
		return
	}
	var events []domain.Event
	if err := json.NewDecoder(io.LimitReader(req.Body, maxMessageBytes)).Decode(&events); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event batch")
		return
	}
	if len(events) > maxIngestEvents {
		writeError(w, http.StatusBadRequest, "event batch too large")
		return
	}
	accepted := 0
	for _, ev := range events {
		if strings.TrimSpace(ev.RouteID) == "" || !ev.Kind.Valid() {
			continue
		}
		r.devtools.Record(ev)
		accepted++
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": accepted})
}

func (r *Router) handleRoutes(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, r.devtools.AllStats())
	case http.MethodDelete:
		r.devtools.Clear("")
		w.WriteHeader(http.StatusNoContent)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleRoute(w http.ResponseWriter, req *http.Request) {
	routeID := strings.Trim(strings.TrimPrefix(req.URL.Path, Prefix+"/routes/"), "/")
	if routeID == "" {
		r.notFound(w)
		return
	}
	switch req.Method {
	case http.MethodGet:
		stats, ok := r.devtools.Stats(routeID)
		if !ok {
			r.notFound(w)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	case http.MethodDelete:
		r.devtools.Clear(routeID)
		w.WriteHeader(http.StatusNoContent)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleEvents(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, r.devtools.Events())
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	payload := map[string]any{
		"status":    "ok",
		"routes":    len(r.devtools.AllStats()),
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	writeJSON(w, http.StatusOK, payload)
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		route := routeLabel(req.URL.Path)
		r.recordRequestMetrics(req.Method, route, status, duration)

		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		case strings.HasPrefix(req.URL.Path, Prefix):
			r.logger.Debug("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

// routeLabel bounds the metric cardinality of request paths.
func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, Prefix+"/routes/"):
		return Prefix + "/routes/:id"
	case strings.HasPrefix(path, Prefix), path == "/healthz":
		return path
	default:
		return "app"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
