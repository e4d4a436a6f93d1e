package stats

import (
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/splax/routedev/internal/domain"
)

// Fold combines an event into the previous stats for its route and returns
// the new stats. prev may be nil for the first event of a route. prev is
// never modified. Events of an unknown kind leave the stats unchanged.
func Fold(prev *domain.RouteStats, event domain.Event) domain.RouteStats {
	var next domain.RouteStats
	if prev != nil {
		next = prev.Clone()
	}
	if !event.Kind.Valid() {
		return next
	}

	var samples []domain.Event
	switch event.Kind {
	case domain.KindAction:
		next.Actions = appendCapped(next.Actions, event, domain.MaxRouteSamples)
		next.ActionTriggerCount++
		last := event
		next.LastAction = &last
		samples = next.Actions
	default:
		next.Loaders = appendCapped(next.Loaders, event, domain.MaxRouteSamples)
		next.LoaderTriggerCount++
		last := event
		next.LastLoader = &last
		samples = next.Loaders
	}

	next.LowestExecutionTime, next.HighestExecutionTime, next.AverageExecutionTime = summarize(samples)
	return next
}

// appendCapped appends ev and trims from the head so at most limit entries
// remain. Arrival order is authoritative, timestamps are ignored.
func appendCapped(items []domain.Event, ev domain.Event, limit int) []domain.Event {
	items = append(items, ev)
	if over := len(items) - limit; over > 0 {
		items = append([]domain.Event(nil), items[over:]...)
	}
	return items
}

func summarize(samples []domain.Event) (lowest, highest, average float64) {
	if len(samples) == 0 {
		return 0, 0, 0
	}
	lowest = math.Inf(1)
	highest = math.Inf(-1)
	total := 0.0
	for _, s := range samples {
		d := s.ExecutionTimeMS
		if d < lowest {
			lowest = d
		}
		if d > highest {
			highest = d
		}
		total += d
	}
	average = roundTo(total/float64(len(samples)), 2)
	return lowest, highest, average
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

// Aggregator keeps rolling stats for every route that produced an event.
type Aggregator struct {
	mu     sync.RWMutex
	routes map[string]*domain.RouteStats
}

// NewAggregator constructs an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{routes: make(map[string]*domain.RouteStats)}
}

// Add folds the event into the stats of its route.
func (a *Aggregator) Add(event domain.Event) domain.RouteStats {
	if a == nil {
		return domain.RouteStats{}
	}
	routeID := strings.TrimSpace(event.RouteID)
	a.mu.Lock()
	defer a.mu.Unlock()
	next := Fold(a.routes[routeID], event)
	if !event.Kind.Valid() {
		return next
	}
	a.routes[routeID] = &next
	return next.Clone()
}

// Get returns a copy of the stats for routeID.
func (a *Aggregator) Get(routeID string) (domain.RouteStats, bool) {
	if a == nil {
		return domain.RouteStats{}, false
	}
	routeID = strings.TrimSpace(routeID)
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.routes[routeID]
	if !ok {
		return domain.RouteStats{}, false
	}
	return s.Clone(), true
}

// Snapshot returns a copy of every route's stats.
func (a *Aggregator) Snapshot() map[string]domain.RouteStats {
	if a == nil {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]domain.RouteStats, len(a.routes))
	for id, s := range a.routes {
		out[id] = s.Clone()
	}
	return out
}

// Bundle returns the loader and action history of every route, the shape
// answered to an all-route-info pull.
func (a *Aggregator) Bundle() map[string]domain.RouteBundle {
	if a == nil {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]domain.RouteBundle, len(a.routes))
	for id, s := range a.routes {
		out[id] = domain.RouteBundle{
			Loaders: append([]domain.Event{}, s.Loaders...),
			Actions: append([]domain.Event{}, s.Actions...),
		}
	}
	return out
}

// RouteIDs returns the known route ids in lexical order.
func (a *Aggregator) RouteIDs() []string {
	if a == nil {
		return nil
	}
	a.mu.RLock()
	ids := make([]string, 0, len(a.routes))
	for id := range a.routes {
		ids = append(ids, id)
	}
	a.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Reset forgets the stats of a single route. It reports whether the route
// was known.
func (a *Aggregator) Reset(routeID string) bool {
	if a == nil {
		return false
	}
	routeID = strings.TrimSpace(routeID)
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.routes[routeID]; !ok {
		return false
	}
	delete(a.routes, routeID)
	return true
}

// ResetAll forgets every route.
func (a *Aggregator) ResetAll() {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.routes = make(map[string]*domain.RouteStats)
}
