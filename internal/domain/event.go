package domain

import "time"

// EventKind distinguishes loader invocations from action invocations.
type EventKind string

const (
	KindLoader EventKind = "loader"
	KindAction EventKind = "action"
)

// Valid reports whether the kind is one of the known handler kinds.
func (k EventKind) Valid() bool {
	return k == KindLoader || k == KindAction
}

// Event captures a single loader or action invocation. Events are never
// mutated after construction.
type Event struct {
	ID              string            `json:"id"`
	Kind            EventKind         `json:"type"`
	RouteID         string            `json:"routeId"`
	ExecutionTimeMS float64           `json:"executionTime"`
	RequestHeaders  map[string]string `json:"requestHeaders,omitempty"`
	ResponseHeaders map[string]string `json:"responseHeaders,omitempty"`
	RequestData     any               `json:"requestData,omitempty"`
	ResponseData    any               `json:"responseData,omitempty"`
	Status          int               `json:"status,omitempty"`
	Deferred        bool              `json:"deferred,omitempty"`
	Failed          bool              `json:"failed,omitempty"`
	Error           string            `json:"error,omitempty"`
	Timestamp       time.Time         `json:"timestamp"`
}

// TimestampMS returns the capture time as unix milliseconds.
func (e Event) TimestampMS() int64 {
	return e.Timestamp.UnixMilli()
}
