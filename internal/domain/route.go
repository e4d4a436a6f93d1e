package domain

// MaxRouteSamples bounds the per-kind sample history kept for a route.
const MaxRouteSamples = 20

// RouteStats aggregates recent loader and action executions for one route.
type RouteStats struct {
	Loaders              []Event `json:"loaders"`
	Actions              []Event `json:"actions"`
	LowestExecutionTime  float64 `json:"lowestExecutionTime"`
	HighestExecutionTime float64 `json:"highestExecutionTime"`
	AverageExecutionTime float64 `json:"averageExecutionTime"`
	LoaderTriggerCount   int64   `json:"loaderTriggerCount"`
	ActionTriggerCount   int64   `json:"actionTriggerCount"`
	LastLoader           *Event  `json:"lastLoader,omitempty"`
	LastAction           *Event  `json:"lastAction,omitempty"`
}

// Clone returns a deep copy of the sample slices so callers can hand the
// stats across goroutines.
func (s RouteStats) Clone() RouteStats {
	out := s
	out.Loaders = append([]Event(nil), s.Loaders...)
	out.Actions = append([]Event(nil), s.Actions...)
	if s.LastLoader != nil {
		ev := *s.LastLoader
		out.LastLoader = &ev
	}
	if s.LastAction != nil {
		ev := *s.LastAction
		out.LastAction = &ev
	}
	return out
}

// RouteBundle is the wire shape of a route's history in bulk responses.
type RouteBundle struct {
	Loaders []Event `json:"loaders"`
	Actions []Event `json:"actions"`
}
