package instrument

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Args are the inputs of a loader or action invocation.
type Args struct {
	Request *http.Request
	Params  map[string]string
	Context map[string]any
}

// SyncFunc is a handler that produces its result before returning.
type SyncFunc func(ctx context.Context, args Args) (any, error)

// AsyncFunc is a handler whose result settles later through a Future.
type AsyncFunc func(ctx context.Context, args Args) *Future

// Handler is a loader or action. The synchronous or asynchronous nature is
// fixed when the handler is constructed through Sync or Async.
type Handler struct {
	sync  SyncFunc
	async AsyncFunc
}

// Sync declares a synchronous handler.
func Sync(fn SyncFunc) Handler {
	return Handler{sync: fn}
}

// Async declares an asynchronous handler.
func Async(fn AsyncFunc) Handler {
	return Handler{async: fn}
}

// IsZero reports whether no handler function is set.
func (h Handler) IsZero() bool {
	return h.sync == nil && h.async == nil
}

// IsAsync reports whether the handler was declared asynchronous.
func (h Handler) IsAsync() bool {
	return h.async != nil
}

// Start invokes the handler and returns its pending result. Synchronous
// handlers settle before Start returns.
func (h Handler) Start(ctx context.Context, args Args) *Future {
	switch {
	case h.async != nil:
		f := h.async(ctx, args)
		if f == nil {
			return Resolved(nil)
		}
		return f
	case h.sync != nil:
		v, err := h.sync(ctx, args)
		f := newFuture()
		f.settle(v, err)
		return f
	default:
		return Rejected(ErrNoHandler)
	}
}

// Call invokes the handler and waits for its result.
func (h Handler) Call(ctx context.Context, args Args) (any, error) {
	if h.sync != nil {
		return h.sync(ctx, args)
	}
	return h.Start(ctx, args).Wait(ctx)
}

// Response is a structured handler result carrying status, headers and a
// body, the equivalent of returning a fetch Response from a loader.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// JSON builds a JSON response with the given status.
func JSON(status int, v any) (*Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	h := make(http.Header)
	h.Set("Content-Type", "application/json; charset=utf-8")
	return &Response{Status: status, Header: h, Body: body}, nil
}

// Redirect builds a redirect response to location.
func Redirect(location string, status int) *Response {
	if status == 0 {
		status = http.StatusFound
	}
	h := make(http.Header)
	h.Set("Location", location)
	return &Response{Status: status, Header: h}
}

// Clone returns a copy that shares nothing with r.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	return &Response{
		Status: r.Status,
		Header: r.Header.Clone(),
		Body:   append([]byte(nil), r.Body...),
	}
}

// ResponseError lets a handler abort with a response, typically a redirect
// or an error page.
type ResponseError struct {
	Response *Response
}

// Throw wraps resp as an error.
func Throw(resp *Response) error {
	return &ResponseError{Response: resp}
}

func (e *ResponseError) Error() string {
	if e.Response == nil {
		return "response thrown"
	}
	return fmt.Sprintf("response thrown with status %d", e.Response.Status)
}
