package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/splax/routedev/internal/domain"
)

// MessageType discriminates bridge messages.
type MessageType string

const (
	// client -> server
	TypeAllRouteInfo MessageType = "all-route-info"
	TypeOpenSource   MessageType = "open-source"
	TypeReadFile     MessageType = "read-file"
	TypeWriteFile    MessageType = "write-file"
	TypeDeleteFile   MessageType = "delete-file"
	TypeRun          MessageType = "run"
	TypeKill         MessageType = "kill"
	TypeAddRoute     MessageType = "add-route"
	TypeClear        MessageType = "clear"

	// server -> client
	TypeRouteInfo        MessageType = "route-info"
	TypeEvents           MessageType = "events"
	TypeRouteEvent       MessageType = "route-event"
	TypeFileContent      MessageType = "file-content"
	TypeTerminalOutput   MessageType = "terminal-output"
	TypeTerminalExit     MessageType = "terminal-exit"
	TypeRouteFileChanged MessageType = "route-file-changed"
	TypeError            MessageType = "error"
)

// Inbound reports whether t is a command clients may send.
func (t MessageType) Inbound() bool {
	switch t {
	case TypeAllRouteInfo, TypeOpenSource, TypeReadFile, TypeWriteFile, TypeDeleteFile,
		TypeRun, TypeKill, TypeAddRoute, TypeClear:
		return true
	}
	return false
}

// ChannelDevtools is the hub channel every devtools subscriber joins.
const ChannelDevtools = "devtools"

// ErrInvalidMessage indicates a frame that is not a bridge message.
var ErrInvalidMessage = errors.New("bridge: invalid message")

// Envelope is the JSON frame exchanged over the bridge.
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Decode parses a frame into an envelope.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	env.Type = MessageType(strings.TrimSpace(string(env.Type)))
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrInvalidMessage)
	}
	return env, nil
}

// Bind decodes the envelope data into v. Missing data leaves v untouched.
func (e Envelope) Bind(v any) error {
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrInvalidMessage, e.Type, err)
	}
	return nil
}

// Encode builds a frame of the given type.
func Encode(t MessageType, data any) ([]byte, error) {
	env := Envelope{Type: t}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", t, err)
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

// RouteInfo is the bulk snapshot answered to an all-route-info pull.
type RouteInfo map[string]domain.RouteBundle

// RouteEvent is the live push of a single captured event.
type RouteEvent struct {
	RouteID string       `json:"routeId"`
	Event   domain.Event `json:"event"`
}

// OpenSource asks the server to open a file in the developer's editor.
type OpenSource struct {
	Source  string `json:"source,omitempty"`
	RouteID string `json:"routeID,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// FileCommand reads, writes or deletes a source file.
type FileCommand struct {
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
}

// RunCommand spawns a process in a terminal.
type RunCommand struct {
	TerminalID int    `json:"terminalId"`
	Command    string `json:"command"`
}

// KillCommand terminates a process spawned in a terminal.
type KillCommand struct {
	TerminalID int `json:"terminalId"`
	ProcessID  int `json:"processId"`
}

// TerminalOutput streams a chunk of process output.
type TerminalOutput struct {
	TerminalID int    `json:"terminalId"`
	ProcessID  int    `json:"processId"`
	Output     string `json:"output"`
}

// TerminalExit reports the end of a terminal process.
type TerminalExit struct {
	TerminalID int    `json:"terminalId"`
	ProcessID  int    `json:"processId"`
	ExitCode   int    `json:"exitCode"`
	Error      string `json:"error,omitempty"`
}

// RouteOptions selects the exports of a scaffolded route.
type RouteOptions struct {
	Loader        bool `json:"loader"`
	Action        bool `json:"action"`
	ErrorBoundary bool `json:"errorBoundary"`
	Meta          bool `json:"meta"`
	Links         bool `json:"links"`
	Headers       bool `json:"headers"`
}

// AddRoute scaffolds a new route file.
type AddRoute struct {
	Path    string       `json:"path"`
	Options RouteOptions `json:"options"`
}

// Clear resets aggregated stats, for one route or all of them.
type Clear struct {
	RouteID string `json:"routeId,omitempty"`
}

// RouteFileChanged notifies clients that a route source file changed.
type RouteFileChanged struct {
	Path    string `json:"path"`
	RouteID string `json:"routeId,omitempty"`
	Op      string `json:"op"`
}

// ErrorMessage reports a command failure to the requesting client.
type ErrorMessage struct {
	Request MessageType `json:"request"`
	Message string      `json:"message"`
}
