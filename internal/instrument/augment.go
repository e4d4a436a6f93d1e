package instrument

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/splax/routedev/internal/domain"
)

// Sink receives every event built by the augmentor.
type Sink interface {
	Record(event domain.Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(domain.Event)

// Record calls f(event).
func (f SinkFunc) Record(event domain.Event) { f(event) }

// Augmentor wraps loaders and actions so each invocation is timed and
// described by an Event. Wrapped handlers return exactly what the original
// returns; instrumentation failures are never surfaced to the caller.
type Augmentor struct {
	sink   Sink
	policy SnapshotPolicy
	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	responseWait time.Duration
}

// NewAugmentor constructs an augmentor that hands events to sink.
func NewAugmentor(sink Sink, policy SnapshotPolicy, logger *slog.Logger) *Augmentor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Augmentor{
		sink:   sink,
		policy: policy.withDefaults(),
		logger: logger.With("component", "augmentor"),
		now:    time.Now,
		newID:  uuid.NewString,

		responseWait: responseSnapshotWait,
	}
}

// requestCapture is what is known about the inbound request before the
// handler runs.
type requestCapture struct {
	headers map[string]string
	data    any
}

// Wrap returns a handler with the same nature as h that records an event
// for every invocation. The timing strategy is chosen here, once.
func (a *Augmentor) Wrap(routeID string, kind domain.EventKind, h Handler) Handler {
	if h.IsZero() {
		return h
	}
	clock := timer{now: a.now}
	if h.IsAsync() {
		inner := h.async
		return Async(func(ctx context.Context, args Args) *Future {
			capture := a.captureRequest(kind, args)
			return clock.runAsync(func() *Future {
				return inner(ctx, args)
			}, func(s settlement) {
				a.emit(routeID, kind, capture, s)
			})
		})
	}
	inner := h.sync
	return Sync(func(ctx context.Context, args Args) (any, error) {
		capture := a.captureRequest(kind, args)
		return clock.runSync(func() (any, error) {
			return inner(ctx, args)
		}, func(s settlement) {
			a.emit(routeID, kind, capture, s)
		})
	})
}

// captureRequest snapshots the request before the handler consumes it.
func (a *Augmentor) captureRequest(kind domain.EventKind, args Args) (capture requestCapture) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Debug("request snapshot failed", "panic", r)
		}
	}()
	req := args.Request
	if req == nil {
		capture.data = a.paramsSnapshot(args, nil)
		return capture
	}
	capture.headers = headerMap(req.Header)
	var query map[string]any
	if req.URL != nil && req.URL.RawQuery != "" {
		query = flattenValues(req.URL.Query())
	}
	if kind == domain.KindAction && req.Method != http.MethodGet && req.Method != http.MethodHead {
		body := captureRequestBody(req, a.policy.MaxBytes+1)
		if data, err := a.policy.Body(req.Header.Get("Content-Type"), body); err == nil && data != nil {
			capture.data = data
			return capture
		}
	}
	capture.data = a.paramsSnapshot(args, query)
	return capture
}

func (a *Augmentor) paramsSnapshot(args Args, query map[string]any) any {
	if len(args.Params) == 0 && len(query) == 0 {
		return nil
	}
	out := make(map[string]any, 2)
	if len(args.Params) > 0 {
		params := make(map[string]any, len(args.Params))
		for k, v := range args.Params {
			params[k] = v
		}
		out["params"] = params
	}
	if len(query) > 0 {
		out["query"] = query
	}
	return a.policy.prune(out, 0)
}

// emit builds the event and hands it to the sink. Any failure while doing
// so is contained here.
func (a *Augmentor) emit(routeID string, kind domain.EventKind, capture requestCapture, s settlement) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Warn("event capture failed", "route_id", routeID, "kind", kind, "panic", r)
		}
	}()
	event := a.buildEvent(routeID, kind, capture, s)
	if a.sink != nil {
		a.sink.Record(event)
	}
}

func (a *Augmentor) buildEvent(routeID string, kind domain.EventKind, capture requestCapture, s settlement) domain.Event {
	event := domain.Event{
		ID:              a.newID(),
		Kind:            kind,
		RouteID:         routeID,
		ExecutionTimeMS: durationMS(s.elapsed),
		RequestHeaders:  capture.headers,
		RequestData:     capture.data,
		Deferred:        s.deferred,
		Timestamp:       a.now().UTC(),
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				a.logger.Debug("response snapshot failed", "route_id", routeID, "panic", r)
				event.ResponseData = nil
			}
		}()
		a.describeOutcome(&event, s)
	}()
	return event
}

func (a *Augmentor) describeOutcome(event *domain.Event, s settlement) {
	if s.panicked {
		event.Failed = true
		event.Error = fmt.Sprintf("panic: %v", s.panicValue)
		return
	}
	if s.err != nil {
		var thrown *ResponseError
		if errors.As(s.err, &thrown) && thrown.Response != nil {
			a.describeResponse(event, thrown.Response)
			return
		}
		event.Failed = true
		event.Error = s.err.Error()
		return
	}
	switch v := s.value.(type) {
	case nil:
	case *Response:
		a.describeResponse(event, v)
	case *http.Response:
		event.Status = v.StatusCode
		event.ResponseHeaders = headerMap(v.Header)
		body := tapResponseBody(v, a.policy.MaxBytes+1, a.responseWait)
		event.ResponseData = a.bodySnapshot(v.Header.Get("Content-Type"), body)
	default:
		data, err := a.policy.Value(v)
		if err != nil {
			a.logger.Debug("response snapshot discarded", "route_id", event.RouteID, "error", err)
			return
		}
		event.ResponseData = data
	}
}

func (a *Augmentor) describeResponse(event *domain.Event, resp *Response) {
	event.Status = resp.Status
	event.ResponseHeaders = headerMap(resp.Header)
	event.ResponseData = a.bodySnapshot(resp.Header.Get("Content-Type"), resp.Body)
}

func (a *Augmentor) bodySnapshot(contentType string, body []byte) any {
	data, err := a.policy.Body(contentType, body)
	if err != nil {
		return nil
	}
	return data
}

// durationMS converts d to milliseconds rounded to microsecond precision.
func durationMS(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d.Microseconds()) / 1000
}

// normalizeRouteID trims the route id used as aggregation key.
func normalizeRouteID(id string) string {
	return strings.TrimSpace(id)
}
