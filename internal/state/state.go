package state

import (
	"github.com/splax/routedev/internal/domain"
)

// Storage keys shared by the panel and its detached window.
const (
	KeyPrefix              = "routedev_"
	KeySettings            = KeyPrefix + "settings"
	KeyState               = KeyPrefix + "state"
	KeyDetachedWindow      = KeyPrefix + "detached-window"
	KeyDetachedWindowOwner = KeyPrefix + "detached-window-owner"
	KeyCheckDetached       = KeyPrefix + "check-detached"
)

const (
	// MaxTimelineEntries bounds the navigation timeline.
	MaxTimelineEntries = 30
	// MaxTerminalOutput bounds the output lines kept per terminal.
	MaxTerminalOutput = 1000
)

// Settings are the user preferences of the panel.
type Settings struct {
	Position                string `json:"position"`
	PanelLocation           string `json:"panelLocation"`
	ActiveTab               string `json:"activeTab"`
	Height                  int    `json:"height"`
	MinHeight               int    `json:"minHeight"`
	MaxHeight               int    `json:"maxHeight"`
	ExpansionLevel          int    `json:"expansionLevel"`
	HideUntilHover          bool   `json:"hideUntilHover"`
	ShowBreakpointIndicator bool   `json:"showBreakpointIndicator"`
	RouteBoundaries         bool   `json:"routeBoundaries"`
}

// DefaultSettings returns the settings of a fresh panel.
func DefaultSettings() Settings {
	return Settings{
		Position:                "bottom-right",
		PanelLocation:           "bottom",
		ActiveTab:               "page",
		Height:                  400,
		MinHeight:               200,
		MaxHeight:               600,
		ShowBreakpointIndicator: true,
	}
}

// Terminal is the state of one embedded terminal.
type Terminal struct {
	ID        int      `json:"id"`
	ProcessID int      `json:"processId,omitempty"`
	Running   bool     `json:"running"`
	Output    []string `json:"output"`
	ExitCode  int      `json:"exitCode"`
	Error     string   `json:"error,omitempty"`
}

// TimelineEntry is one handler execution shown in the timeline.
type TimelineEntry struct {
	ID              string           `json:"id"`
	RouteID         string           `json:"routeId"`
	Kind            domain.EventKind `json:"type"`
	Status          int              `json:"status,omitempty"`
	Failed          bool             `json:"failed,omitempty"`
	ExecutionTimeMS float64          `json:"executionTime"`
	TimestampMS     int64            `json:"timestamp"`
}

// State is the full panel state. Values returned by the store are
// snapshots; mutate them only through actions.
type State struct {
	Settings      Settings                     `json:"settings"`
	Routes        map[string]domain.RouteStats `json:"routes"`
	Detached      bool                         `json:"detachedWindow"`
	DetachedOwner bool                         `json:"detachedWindowOwner"`
	Terminals     []Terminal                   `json:"terminals"`
	Timeline      []TimelineEntry              `json:"timeline"`
}

// Initial returns the state of a fresh panel.
func Initial() State {
	return State{
		Settings:  DefaultSettings(),
		Routes:    map[string]domain.RouteStats{},
		Terminals: []Terminal{{ID: 0, Output: []string{}}},
		Timeline:  []TimelineEntry{},
	}
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := s
	out.Routes = make(map[string]domain.RouteStats, len(s.Routes))
	for id, stats := range s.Routes {
		out.Routes[id] = stats.Clone()
	}
	out.Terminals = make([]Terminal, len(s.Terminals))
	for i, t := range s.Terminals {
		t.Output = append([]string{}, t.Output...)
		out.Terminals[i] = t
	}
	out.Timeline = append([]TimelineEntry{}, s.Timeline...)
	return out
}

func timelineEntry(ev domain.Event) TimelineEntry {
	return TimelineEntry{
		ID:              ev.ID,
		RouteID:         ev.RouteID,
		Kind:            ev.Kind,
		Status:          ev.Status,
		Failed:          ev.Failed,
		ExecutionTimeMS: ev.ExecutionTimeMS,
		TimestampMS:     ev.TimestampMS(),
	}
}
