package state

import "github.com/splax/routedev/internal/domain"

// ActionType names a state transition.
type ActionType string

const (
	ActionSetWholeState          ActionType = "SET_WHOLE_STATE"
	ActionSetSettings            ActionType = "SET_SETTINGS"
	ActionSetRoutes              ActionType = "SET_ROUTES"
	ActionUpsertRoute            ActionType = "UPSERT_ROUTE"
	ActionClearRoutes            ActionType = "CLEAR_ROUTES"
	ActionAddTimeline            ActionType = "ADD_TIMELINE"
	ActionSetDetachedWindow      ActionType = "SET_DETACHED_WINDOW"
	ActionSetDetachedWindowOwner ActionType = "SET_DETACHED_WINDOW_OWNER"
	ActionSetTerminalOutput      ActionType = "SET_TERMINAL_OUTPUT"
	ActionSetProcessID           ActionType = "SET_PROCESS_ID"
	ActionTerminalExit           ActionType = "TERMINAL_EXIT"
)

// Action is a typed state transition. Build actions with the constructors
// below so the payload always matches the type.
type Action struct {
	Type    ActionType
	Payload any
}

// SettingsPatch updates the non-nil fields of Settings.
type SettingsPatch struct {
	Position                *string
	PanelLocation           *string
	ActiveTab               *string
	Height                  *int
	MinHeight               *int
	MaxHeight               *int
	ExpansionLevel          *int
	HideUntilHover          *bool
	ShowBreakpointIndicator *bool
	RouteBoundaries         *bool
}

// TerminalOutput appends output to a terminal.
type TerminalOutput struct {
	TerminalID int
	Output     string
}

// TerminalProcess marks a terminal as running a process.
type TerminalProcess struct {
	TerminalID int
	ProcessID  int
}

// TerminalExit marks a terminal process as finished.
type TerminalExit struct {
	TerminalID int
	ProcessID  int
	ExitCode   int
	Error      string
}

// SetWholeState replaces the entire state.
func SetWholeState(s State) Action { return Action{Type: ActionSetWholeState, Payload: s} }

// SetSettings patches the settings.
func SetSettings(p SettingsPatch) Action { return Action{Type: ActionSetSettings, Payload: p} }

// SetRoutes replaces the per-route view with a bulk snapshot.
func SetRoutes(routes map[string]domain.RouteBundle) Action {
	return Action{Type: ActionSetRoutes, Payload: routes}
}

// UpsertRoute folds one pushed event into its route.
func UpsertRoute(ev domain.Event) Action { return Action{Type: ActionUpsertRoute, Payload: ev} }

// ClearRoutes drops the stats of routeID, or of every route when empty.
func ClearRoutes(routeID string) Action { return Action{Type: ActionClearRoutes, Payload: routeID} }

// AddTimeline appends a batch of events to the timeline.
func AddTimeline(events []domain.Event) Action {
	return Action{Type: ActionAddTimeline, Payload: events}
}

// SetDetachedWindow flags the panel as running in a detached window.
func SetDetachedWindow(on bool) Action { return Action{Type: ActionSetDetachedWindow, Payload: on} }

// SetDetachedWindowOwner flags the window that opened the detached panel.
func SetDetachedWindowOwner(on bool) Action {
	return Action{Type: ActionSetDetachedWindowOwner, Payload: on}
}

// SetTerminalOutput appends output to a terminal.
func SetTerminalOutput(o TerminalOutput) Action {
	return Action{Type: ActionSetTerminalOutput, Payload: o}
}

// SetProcessID records the process a terminal is running.
func SetProcessID(p TerminalProcess) Action { return Action{Type: ActionSetProcessID, Payload: p} }

// TerminalExited records the end of a terminal process.
func TerminalExited(e TerminalExit) Action { return Action{Type: ActionTerminalExit, Payload: e} }
