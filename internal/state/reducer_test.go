package state

import (
	"testing"
	"time"

	"github.com/splax/routedev/internal/domain"
)

func loaderEvent(route string, ms float64, at time.Time) domain.Event {
	return domain.Event{ID: route + at.String(), RouteID: route, Kind: domain.KindLoader, ExecutionTimeMS: ms, Timestamp: at}
}

func TestSetWholeStateReplacesNestedState(t *testing.T) {
	base := time.Unix(1700000000, 0)
	s := Reduce(Initial(), UpsertRoute(loaderEvent("root", 5, base)))
	s = Reduce(s, UpsertRoute(loaderEvent("routes/a", 5, base)))

	incoming := Initial()
	incoming.Settings.ActiveTab = "network"
	incoming.Routes["routes/b"] = domain.RouteStats{LoaderTriggerCount: 3}

	next := Reduce(s, SetWholeState(incoming))
	if len(next.Routes) != 1 {
		t.Fatalf("expected routes to be replaced, got %v", next.Routes)
	}
	if _, ok := next.Routes["routes/b"]; !ok {
		t.Fatalf("expected incoming route")
	}
	if next.Settings.ActiveTab != "network" {
		t.Fatalf("expected settings replaced, got %+v", next.Settings)
	}

	incoming.Routes["routes/c"] = domain.RouteStats{}
	if len(next.Routes) != 1 {
		t.Fatalf("state must not alias the action payload")
	}
}

func TestUpsertRouteDoesNotMutatePrevious(t *testing.T) {
	base := time.Unix(1700000000, 0)
	first := Reduce(Initial(), UpsertRoute(loaderEvent("root", 10, base)))
	second := Reduce(first, UpsertRoute(loaderEvent("root", 20, base.Add(time.Second))))

	if got := len(first.Routes["root"].Loaders); got != 1 {
		t.Fatalf("previous state changed: %d loaders", got)
	}
	stats := second.Routes["root"]
	if len(stats.Loaders) != 2 || stats.AverageExecutionTime != 15 || stats.LoaderTriggerCount != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestSetRoutesReplacesWholesale(t *testing.T) {
	base := time.Unix(1700000000, 0)
	s := Initial()
	s.Routes["stale"] = domain.RouteStats{}
	s.Routes["root"] = domain.RouteStats{LoaderTriggerCount: 50}

	next := Reduce(s, SetRoutes(map[string]domain.RouteBundle{
		"root": {
			Loaders: []domain.Event{loaderEvent("root", 10, base), loaderEvent("root", 20, base.Add(time.Second))},
			Actions: []domain.Event{},
		},
	}))
	if _, ok := next.Routes["stale"]; ok {
		t.Fatalf("expected stale route dropped")
	}
	root := next.Routes["root"]
	if len(root.Loaders) != 2 || root.HighestExecutionTime != 20 || root.LowestExecutionTime != 10 {
		t.Fatalf("unexpected root stats %+v", root)
	}
	if root.LoaderTriggerCount != 50 {
		t.Fatalf("expected known trigger count kept, got %d", root.LoaderTriggerCount)
	}
	if root.Actions == nil || root.LastLoader == nil || root.LastLoader.ExecutionTimeMS != 20 {
		t.Fatalf("unexpected root stats %+v", root)
	}
}

func TestClearRoutes(t *testing.T) {
	base := time.Unix(1700000000, 0)
	s := Reduce(Initial(), UpsertRoute(loaderEvent("a", 1, base)))
	s = Reduce(s, UpsertRoute(loaderEvent("b", 1, base)))

	one := Reduce(s, ClearRoutes("a"))
	if _, ok := one.Routes["a"]; ok || len(one.Routes) != 1 {
		t.Fatalf("unexpected routes %v", one.Routes)
	}
	if len(s.Routes) != 2 {
		t.Fatalf("previous state changed")
	}
	if all := Reduce(s, ClearRoutes("")); len(all.Routes) != 0 {
		t.Fatalf("expected all routes cleared")
	}
}

func TestTimelineIsCapped(t *testing.T) {
	base := time.Unix(1700000000, 0)
	s := Initial()
	for i := 0; i < 4; i++ {
		batch := make([]domain.Event, 10)
		for j := range batch {
			batch[j] = loaderEvent("root", float64(i*10+j), base)
		}
		s = Reduce(s, AddTimeline(batch))
	}
	if len(s.Timeline) != MaxTimelineEntries {
		t.Fatalf("expected %d entries, got %d", MaxTimelineEntries, len(s.Timeline))
	}
	if first := s.Timeline[0].ExecutionTimeMS; first != 10 {
		t.Fatalf("expected oldest entries evicted, first is %v", first)
	}
}

func TestSettingsPatch(t *testing.T) {
	tab := "routes"
	height := 5000
	s := Reduce(Initial(), SetSettings(SettingsPatch{ActiveTab: &tab, Height: &height}))
	if s.Settings.ActiveTab != "routes" {
		t.Fatalf("unexpected tab %q", s.Settings.ActiveTab)
	}
	if s.Settings.Height != s.Settings.MaxHeight {
		t.Fatalf("expected height clamped to %d, got %d", s.Settings.MaxHeight, s.Settings.Height)
	}
	if s.Settings.Position != "bottom-right" {
		t.Fatalf("unpatched fields must be kept")
	}
}

func TestTerminalLifecycle(t *testing.T) {
	s := Reduce(Initial(), SetProcessID(TerminalProcess{TerminalID: 1, ProcessID: 42}))
	s = Reduce(s, SetTerminalOutput(TerminalOutput{TerminalID: 1, Output: "hello"}))
	if len(s.Terminals) != 2 {
		t.Fatalf("expected a second terminal, got %+v", s.Terminals)
	}
	term := s.Terminals[1]
	if !term.Running || term.ProcessID != 42 || len(term.Output) != 1 {
		t.Fatalf("unexpected terminal %+v", term)
	}

	stale := Reduce(s, TerminalExited(TerminalExit{TerminalID: 1, ProcessID: 7}))
	if !stale.Terminals[1].Running {
		t.Fatalf("exit of another process must be ignored")
	}
	done := Reduce(s, TerminalExited(TerminalExit{TerminalID: 1, ProcessID: 42, ExitCode: 3}))
	if done.Terminals[1].Running || done.Terminals[1].ExitCode != 3 {
		t.Fatalf("unexpected terminal %+v", done.Terminals[1])
	}
	if !s.Terminals[1].Running {
		t.Fatalf("previous state changed")
	}
}

func TestDetachedFlagsAndBadPayload(t *testing.T) {
	s := Reduce(Initial(), SetDetachedWindow(true))
	s = Reduce(s, SetDetachedWindowOwner(true))
	if !s.Detached || !s.DetachedOwner {
		t.Fatalf("unexpected flags %+v", s)
	}
	same := Reduce(s, Action{Type: ActionSetDetachedWindow, Payload: "yes"})
	if !same.Detached {
		t.Fatalf("bad payload must leave state unchanged")
	}
}
