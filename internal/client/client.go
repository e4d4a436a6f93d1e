package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/splax/routedev/internal/bridge"
	"github.com/splax/routedev/internal/domain"
	"github.com/splax/routedev/internal/state"
)

// DefaultDebounce is the delay between navigation settling and the pull.
const DefaultDebounce = 200 * time.Millisecond

const writeWait = 5 * time.Second

// ErrNotConnected is returned when a command is sent before Connect.
var ErrNotConnected = errors.New("client: not connected")

// NavigationState mirrors the router navigation phases.
type NavigationState string

const (
	NavigationIdle       NavigationState = "idle"
	NavigationLoading    NavigationState = "loading"
	NavigationSubmitting NavigationState = "submitting"
)

// Options configure a Client.
type Options struct {
	Debounce time.Duration
	Header   http.Header
	Dialer   *websocket.Dialer
	Logger   *slog.Logger
}

// Client connects to the devtools bridge and keeps a Store up to date.
type Client struct {
	url      string
	store    *state.Store
	debounce time.Duration
	header   http.Header
	dialer   *websocket.Dialer
	logger   *slog.Logger

	writeMu sync.Mutex
	mu      sync.Mutex
	conn    *websocket.Conn
	pull    *time.Timer
}

// New returns a client for the bridge at url feeding store.
func New(url string, store *state.Store, opts Options) *Client {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		url:      url,
		store:    store,
		debounce: opts.Debounce,
		header:   opts.Header,
		dialer:   opts.Dialer,
		logger:   opts.Logger.With("component", "bridge-client"),
	}
}

// Connect dials the bridge.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.logger.Info("bridge connected", "url", c.url)
	return nil
}

// Run reads messages until ctx is done or the connection fails.
func (c *Client) Run(ctx context.Context) error {
	conn := c.connection()
	if conn == nil {
		return ErrNotConnected
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read bridge: %w", err)
		}
		c.apply(frame)
	}
}

func (c *Client) connection() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// apply folds one server message into the store.
func (c *Client) apply(frame []byte) {
	env, err := bridge.Decode(frame)
	if err != nil {
		c.logger.Warn("dropping bridge message", "error", err)
		return
	}
	switch env.Type {
	case bridge.TypeRouteInfo:
		var info bridge.RouteInfo
		if err := env.Bind(&info); err != nil {
			c.logger.Warn("dropping route info", "error", err)
			return
		}
		if info == nil {
			info = bridge.RouteInfo{}
		}
		c.store.Dispatch(state.SetRoutes(info))
	case bridge.TypeRouteEvent:
		var msg bridge.RouteEvent
		if err := env.Bind(&msg); err != nil {
			c.logger.Warn("dropping route event", "error", err)
			return
		}
		c.store.Dispatch(state.UpsertRoute(msg.Event))
	case bridge.TypeEvents:
		var batch []domain.Event
		if err := env.Bind(&batch); err != nil {
			c.logger.Warn("dropping event batch", "error", err)
			return
		}
		c.store.Dispatch(state.AddTimeline(batch))
	case bridge.TypeRouteFileChanged:
		if err := c.Pull(); err != nil {
			c.logger.Debug("pull after file change failed", "error", err)
		}
	case bridge.TypeTerminalOutput:
		var msg bridge.TerminalOutput
		if err := env.Bind(&msg); err != nil {
			return
		}
		c.trackProcess(msg.TerminalID, msg.ProcessID)
		c.store.Dispatch(state.SetTerminalOutput(state.TerminalOutput{TerminalID: msg.TerminalID, Output: msg.Output}))
	case bridge.TypeTerminalExit:
		var msg bridge.TerminalExit
		if err := env.Bind(&msg); err != nil {
			return
		}
		c.store.Dispatch(state.TerminalExited(state.TerminalExit{
			TerminalID: msg.TerminalID,
			ProcessID:  msg.ProcessID,
			ExitCode:   msg.ExitCode,
			Error:      msg.Error,
		}))
	case bridge.TypeError:
		var msg bridge.ErrorMessage
		_ = env.Bind(&msg)
		c.logger.Warn("bridge reported error", "request", msg.Request, "message", msg.Message)
	default:
		c.logger.Debug("ignoring bridge message", "type", env.Type)
	}
}

func (c *Client) trackProcess(terminalID, processID int) {
	if processID == 0 {
		return
	}
	for _, t := range c.store.State().Terminals {
		if t.ID == terminalID && t.ProcessID == processID {
			return
		}
	}
	c.store.Dispatch(state.SetProcessID(state.TerminalProcess{TerminalID: terminalID, ProcessID: processID}))
}

// NavigationState records a navigation phase. Returning to idle schedules
// a pull after the debounce delay; leaving idle cancels a pending pull.
// A pull that was already sent is never cancelled, a later idle simply
// issues another one.
func (c *Client) NavigationState(s NavigationState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pull != nil {
		c.pull.Stop()
		c.pull = nil
	}
	if s != NavigationIdle {
		return
	}
	c.pull = time.AfterFunc(c.debounce, func() {
		if err := c.Pull(); err != nil {
			c.logger.Debug("idle pull failed", "error", err)
		}
	})
}

// Pull requests the full route snapshot.
func (c *Client) Pull() error {
	return c.Send(bridge.TypeAllRouteInfo, nil)
}

// Clear asks the server to reset routeID, or every route when empty.
func (c *Client) Clear(routeID string) error {
	c.store.Dispatch(state.ClearRoutes(routeID))
	return c.Send(bridge.TypeClear, bridge.Clear{RouteID: routeID})
}

// OpenSource asks the server to open a route or file in the editor.
func (c *Client) OpenSource(cmd bridge.OpenSource) error {
	return c.Send(bridge.TypeOpenSource, cmd)
}

// RunCommand starts a process in a terminal.
func (c *Client) RunCommand(terminalID int, command string) error {
	return c.Send(bridge.TypeRun, bridge.RunCommand{TerminalID: terminalID, Command: command})
}

// Kill terminates a terminal process.
func (c *Client) Kill(terminalID, processID int) error {
	return c.Send(bridge.TypeKill, bridge.KillCommand{TerminalID: terminalID, ProcessID: processID})
}

// Send writes a message to the bridge.
func (c *Client) Send(t bridge.MessageType, data any) error {
	conn := c.connection()
	if conn == nil {
		return ErrNotConnected
	}
	frame, err := bridge.Encode(t, data)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// Close stops pending pulls and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pull != nil {
		c.pull.Stop()
		c.pull = nil
	}
	if c.conn == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.writeMu.Unlock()
	err := c.conn.Close()
	c.conn = nil
	return err
}
