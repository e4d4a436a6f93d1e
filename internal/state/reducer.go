package state

import (
	"sort"

	"github.com/splax/routedev/internal/domain"
	"github.com/splax/routedev/internal/service/stats"
)

// Reduce returns the state that results from applying a to s. s is never
// modified; parts of it that a does not touch are shared with the result.
// Actions with an unexpected payload leave the state unchanged.
func Reduce(s State, a Action) State {
	switch a.Type {
	case ActionSetWholeState:
		next, ok := a.Payload.(State)
		if !ok {
			return s
		}
		next = next.Clone()
		if next.Routes == nil {
			next.Routes = map[string]domain.RouteStats{}
		}
		return next

	case ActionSetSettings:
		patch, ok := a.Payload.(SettingsPatch)
		if !ok {
			return s
		}
		s.Settings = applyPatch(s.Settings, patch)
		return s

	case ActionSetRoutes:
		bundles, ok := a.Payload.(map[string]domain.RouteBundle)
		if !ok {
			return s
		}
		routes := make(map[string]domain.RouteStats, len(bundles))
		for id, bundle := range bundles {
			var prev *domain.RouteStats
			if existing, found := s.Routes[id]; found {
				prev = &existing
			}
			routes[id] = FromBundle(bundle, prev)
		}
		s.Routes = routes
		return s

	case ActionUpsertRoute:
		ev, ok := a.Payload.(domain.Event)
		if !ok {
			return s
		}
		routes := copyRoutes(s.Routes)
		var prev *domain.RouteStats
		if existing, found := routes[ev.RouteID]; found {
			prev = &existing
		}
		routes[ev.RouteID] = stats.Fold(prev, ev)
		s.Routes = routes
		return s

	case ActionClearRoutes:
		routeID, ok := a.Payload.(string)
		if !ok {
			return s
		}
		if routeID == "" {
			s.Routes = map[string]domain.RouteStats{}
			return s
		}
		routes := copyRoutes(s.Routes)
		delete(routes, routeID)
		s.Routes = routes
		return s

	case ActionAddTimeline:
		events, ok := a.Payload.([]domain.Event)
		if !ok {
			return s
		}
		timeline := make([]TimelineEntry, 0, len(s.Timeline)+len(events))
		timeline = append(timeline, s.Timeline...)
		for _, ev := range events {
			timeline = append(timeline, timelineEntry(ev))
		}
		if over := len(timeline) - MaxTimelineEntries; over > 0 {
			timeline = timeline[over:]
		}
		s.Timeline = timeline
		return s

	case ActionSetDetachedWindow:
		on, ok := a.Payload.(bool)
		if !ok {
			return s
		}
		s.Detached = on
		return s

	case ActionSetDetachedWindowOwner:
		on, ok := a.Payload.(bool)
		if !ok {
			return s
		}
		s.DetachedOwner = on
		return s

	case ActionSetTerminalOutput:
		out, ok := a.Payload.(TerminalOutput)
		if !ok {
			return s
		}
		s.Terminals = updateTerminal(s.Terminals, out.TerminalID, func(t *Terminal) {
			output := make([]string, 0, len(t.Output)+1)
			output = append(output, t.Output...)
			output = append(output, out.Output)
			if over := len(output) - MaxTerminalOutput; over > 0 {
				output = output[over:]
			}
			t.Output = output
		})
		return s

	case ActionSetProcessID:
		p, ok := a.Payload.(TerminalProcess)
		if !ok {
			return s
		}
		s.Terminals = updateTerminal(s.Terminals, p.TerminalID, func(t *Terminal) {
			t.ProcessID = p.ProcessID
			t.Running = true
			t.ExitCode = 0
			t.Error = ""
		})
		return s

	case ActionTerminalExit:
		e, ok := a.Payload.(TerminalExit)
		if !ok {
			return s
		}
		s.Terminals = updateTerminal(s.Terminals, e.TerminalID, func(t *Terminal) {
			if e.ProcessID != 0 && t.ProcessID != 0 && t.ProcessID != e.ProcessID {
				return
			}
			t.ProcessID = 0
			t.Running = false
			t.ExitCode = e.ExitCode
			t.Error = e.Error
		})
		return s
	}
	return s
}

// FromBundle rebuilds route stats from a bulk snapshot. Samples are folded
// in capture order; trigger counts never drop below those already known in
// prev.
func FromBundle(bundle domain.RouteBundle, prev *domain.RouteStats) domain.RouteStats {
	merged := make([]domain.Event, 0, len(bundle.Loaders)+len(bundle.Actions))
	merged = append(merged, bundle.Loaders...)
	merged = append(merged, bundle.Actions...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})

	var out domain.RouteStats
	for _, ev := range merged {
		out = stats.Fold(&out, ev)
	}
	if out.Loaders == nil {
		out.Loaders = []domain.Event{}
	}
	if out.Actions == nil {
		out.Actions = []domain.Event{}
	}
	if prev != nil {
		out.LoaderTriggerCount = max(out.LoaderTriggerCount, prev.LoaderTriggerCount)
		out.ActionTriggerCount = max(out.ActionTriggerCount, prev.ActionTriggerCount)
	}
	return out
}

func applyPatch(s Settings, p SettingsPatch) Settings {
	if p.Position != nil {
		s.Position = *p.Position
	}
	if p.PanelLocation != nil {
		s.PanelLocation = *p.PanelLocation
	}
	if p.ActiveTab != nil {
		s.ActiveTab = *p.ActiveTab
	}
	if p.Height != nil {
		s.Height = *p.Height
	}
	if p.MinHeight != nil {
		s.MinHeight = *p.MinHeight
	}
	if p.MaxHeight != nil {
		s.MaxHeight = *p.MaxHeight
	}
	if p.ExpansionLevel != nil {
		s.ExpansionLevel = *p.ExpansionLevel
	}
	if p.HideUntilHover != nil {
		s.HideUntilHover = *p.HideUntilHover
	}
	if p.ShowBreakpointIndicator != nil {
		s.ShowBreakpointIndicator = *p.ShowBreakpointIndicator
	}
	if p.RouteBoundaries != nil {
		s.RouteBoundaries = *p.RouteBoundaries
	}
	if s.MinHeight > 0 && s.Height < s.MinHeight {
		s.Height = s.MinHeight
	}
	if s.MaxHeight > 0 && s.Height > s.MaxHeight {
		s.Height = s.MaxHeight
	}
	return s
}

func copyRoutes(in map[string]domain.RouteStats) map[string]domain.RouteStats {
	out := make(map[string]domain.RouteStats, len(in)+1)
	for id, rs := range in {
		out[id] = rs
	}
	return out
}

// updateTerminal returns a copy of terminals with fn applied to terminal id,
// appending the terminal when it does not exist yet.
func updateTerminal(terminals []Terminal, id int, fn func(*Terminal)) []Terminal {
	out := make([]Terminal, len(terminals), len(terminals)+1)
	copy(out, terminals)
	for i := range out {
		if out[i].ID == id {
			fn(&out[i])
			return out
		}
	}
	t := Terminal{ID: id, Output: []string{}}
	fn(&t)
	return append(out, t)
}
