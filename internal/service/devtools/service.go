package devtools

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/splax/routedev/internal/bridge"
	"github.com/splax/routedev/internal/devlog"
	"github.com/splax/routedev/internal/domain"
	"github.com/splax/routedev/internal/instrument"
	"github.com/splax/routedev/internal/service/editor"
	"github.com/splax/routedev/internal/service/events"
	"github.com/splax/routedev/internal/service/scaffold"
	"github.com/splax/routedev/internal/service/stats"
	"github.com/splax/routedev/internal/service/terminal"
	"github.com/splax/routedev/internal/watch"
)

const defaultFlushInterval = time.Second

// Editor performs editor and file commands.
type Editor interface {
	Open(ctx context.Context, source, routeID string, line, column int) (editor.Target, error)
	ReadFile(path string) (string, error)
	WriteFile(path, content string) error
	DeleteFile(path string) error
}

// Terminal spawns and kills terminal processes.
type Terminal interface {
	Run(ctx context.Context, terminalID int, command string, l terminal.Listener) (int, error)
	Kill(terminalID, processID int) error
}

// Scaffolder creates new route files.
type Scaffolder interface {
	AddRoute(path string, opts scaffold.Options) (string, error)
}

// Broadcaster fans payloads out to bridge subscribers.
type Broadcaster interface {
	Broadcast(channel string, payload []byte) bool
}

// Deps are the collaborators of the service. Only Queue and Aggregator are
// required.
type Deps struct {
	Queue         *events.Queue
	Aggregator    *stats.Aggregator
	DevLog        *devlog.Logger
	Metrics       *instrument.Metrics
	Hub           Broadcaster
	Editor        Editor
	Terminal      Terminal
	Scaffolder    Scaffolder
	Logger        *slog.Logger
	FlushInterval time.Duration
}

// Service collects captured events and answers bridge commands. It is
// created once at process start and injected into the augmentor and the
// HTTP router.
type Service struct {
	queue         *events.Queue
	agg           *stats.Aggregator
	devlog        *devlog.Logger
	metrics       *instrument.Metrics
	hub           Broadcaster
	editor        Editor
	terminal      Terminal
	scaffold      Scaffolder
	logger        *slog.Logger
	flushInterval time.Duration

	mu     sync.Mutex
	cursor int64
}

// New constructs the service.
func New(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Queue == nil {
		deps.Queue = events.NewQueue(events.DefaultCapacity)
	}
	if deps.Aggregator == nil {
		deps.Aggregator = stats.NewAggregator()
	}
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = defaultFlushInterval
	}
	return &Service{
		queue:         deps.Queue,
		agg:           deps.Aggregator,
		devlog:        deps.DevLog,
		metrics:       deps.Metrics,
		hub:           deps.Hub,
		editor:        deps.Editor,
		terminal:      deps.Terminal,
		scaffold:      deps.Scaffolder,
		logger:        logger.With("component", "devtools"),
		flushInterval: deps.FlushInterval,
	}
}

// Record stores, aggregates, logs and pushes a captured event. Each step is
// isolated so one failing collaborator cannot affect the others or the
// request being served.
func (s *Service) Record(ev domain.Event) {
	s.step("queue", func() { s.queue.Push(ev) })
	s.step("aggregate", func() { s.agg.Add(ev) })
	s.step("devlog", func() { s.devlog.Log(ev) })
	s.step("metrics", func() { s.metrics.Observe(ev) })
	s.step("publish", func() {
		s.broadcast(bridge.TypeRouteEvent, bridge.RouteEvent{RouteID: ev.RouteID, Event: ev})
	})
}

func (s *Service) step(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("event fan-out step failed", "step", name, "panic", r)
		}
	}()
	fn()
}

// RouteInfo returns the bulk per-route snapshot.
func (s *Service) RouteInfo() bridge.RouteInfo {
	return bridge.RouteInfo(s.agg.Bundle())
}

// Events returns the raw event queue.
func (s *Service) Events() []domain.Event {
	return s.queue.All()
}

// Stats returns the aggregated stats of one route.
func (s *Service) Stats(routeID string) (domain.RouteStats, bool) {
	return s.agg.Get(routeID)
}

// AllStats returns the aggregated stats of every route.
func (s *Service) AllStats() map[string]domain.RouteStats {
	return s.agg.Snapshot()
}

// Clear resets stats for routeID, or for every route and the raw queue
// when routeID is empty. Subscribers receive the new snapshot.
func (s *Service) Clear(routeID string) {
	if routeID == "" {
		s.agg.ResetAll()
		s.queue.Clear()
	} else {
		s.agg.Reset(routeID)
	}
	s.broadcast(bridge.TypeRouteInfo, s.RouteInfo())
}

// Run periodically pushes batches of newly captured events. It blocks until
// ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	s.logger.Info("devtools service started", "flush_interval", s.flushInterval)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("devtools service stopped")
			return
		case <-ticker.C:
			s.FlushEvents()
		}
	}
}

// FlushEvents broadcasts the events captured since the previous flush and
// reports how many were sent.
func (s *Service) FlushEvents() int {
	s.mu.Lock()
	batch, cursor := s.queue.Since(s.cursor)
	s.cursor = cursor
	s.mu.Unlock()
	if len(batch) == 0 {
		return 0
	}
	s.broadcast(bridge.TypeEvents, batch)
	return len(batch)
}

// NotifyFileChange tells subscribers a route source file changed.
func (s *Service) NotifyFileChange(c watch.Change) {
	s.broadcast(bridge.TypeRouteFileChanged, bridge.RouteFileChanged{Path: c.Path, RouteID: c.RouteID, Op: c.Op})
}

func (s *Service) broadcast(t bridge.MessageType, data any) {
	if s.hub == nil {
		return
	}
	frame, err := bridge.Encode(t, data)
	if err != nil {
		s.logger.Warn("encode broadcast failed", "type", t, "error", err)
		return
	}
	if !s.hub.Broadcast(bridge.ChannelDevtools, frame) {
		s.logger.Debug("broadcast dropped", "type", t)
	}
}

// Reply sends a frame back to the client that issued a command.
type Reply func(frame []byte) error

// Handle decodes a frame received from a client and executes it. Command
// failures are logged; only malformed or unknown messages are reported
// back to the sender.
func (s *Service) Handle(ctx context.Context, frame []byte, reply Reply) {
	env, err := bridge.Decode(frame)
	if err != nil {
		s.logger.Warn("dropping bridge message", "error", err)
		s.replyError(reply, "", err)
		return
	}
	if err := s.dispatch(ctx, env, reply); err != nil {
		if errors.Is(err, bridge.ErrInvalidMessage) || errors.Is(err, errUnknownType) {
			s.replyError(reply, env.Type, err)
		}
		s.logger.Warn("bridge command failed", "type", env.Type, "error", err)
	}
}

var errUnknownType = errors.New("devtools: unknown message type")

func (s *Service) dispatch(ctx context.Context, env bridge.Envelope, reply Reply) error {
	switch env.Type {
	case bridge.TypeAllRouteInfo:
		return s.send(reply, bridge.TypeRouteInfo, s.RouteInfo())

	case bridge.TypeClear:
		var cmd bridge.Clear
		if err := env.Bind(&cmd); err != nil {
			return err
		}
		s.Clear(cmd.RouteID)
		return nil

	case bridge.TypeOpenSource:
		var cmd bridge.OpenSource
		if err := env.Bind(&cmd); err != nil {
			return err
		}
		if s.editor == nil {
			return errors.New("editor unavailable")
		}
		_, err := s.editor.Open(ctx, cmd.Source, cmd.RouteID, cmd.Line, cmd.Column)
		return err

	case bridge.TypeReadFile:
		var cmd bridge.FileCommand
		if err := env.Bind(&cmd); err != nil {
			return err
		}
		if s.editor == nil {
			return errors.New("editor unavailable")
		}
		content, err := s.editor.ReadFile(cmd.Path)
		if err != nil {
			return err
		}
		return s.send(reply, bridge.TypeFileContent, bridge.FileCommand{Path: cmd.Path, Content: content})

	case bridge.TypeWriteFile:
		var cmd bridge.FileCommand
		if err := env.Bind(&cmd); err != nil {
			return err
		}
		if s.editor == nil {
			return errors.New("editor unavailable")
		}
		return s.editor.WriteFile(cmd.Path, cmd.Content)

	case bridge.TypeDeleteFile:
		var cmd bridge.FileCommand
		if err := env.Bind(&cmd); err != nil {
			return err
		}
		if s.editor == nil {
			return errors.New("editor unavailable")
		}
		return s.editor.DeleteFile(cmd.Path)

	case bridge.TypeRun:
		var cmd bridge.RunCommand
		if err := env.Bind(&cmd); err != nil {
			return err
		}
		if s.terminal == nil {
			return errors.New("terminal unavailable")
		}
		// the process outlives the websocket frame that started it
		_, err := s.terminal.Run(context.WithoutCancel(ctx), cmd.TerminalID, cmd.Command, terminalRelay{s})
		return err

	case bridge.TypeKill:
		var cmd bridge.KillCommand
		if err := env.Bind(&cmd); err != nil {
			return err
		}
		if s.terminal == nil {
			return errors.New("terminal unavailable")
		}
		return s.terminal.Kill(cmd.TerminalID, cmd.ProcessID)

	case bridge.TypeAddRoute:
		var cmd bridge.AddRoute
		if err := env.Bind(&cmd); err != nil {
			return err
		}
		if s.scaffold == nil {
			return errors.New("scaffolding unavailable")
		}
		path, err := s.scaffold.AddRoute(cmd.Path, scaffold.Options(cmd.Options))
		if err != nil {
			return err
		}
		s.logger.Info("route scaffolded", "file", path)
		return nil

	default:
		return errUnknownType
	}
}

func (s *Service) send(reply Reply, t bridge.MessageType, data any) error {
	if reply == nil {
		return nil
	}
	frame, err := bridge.Encode(t, data)
	if err != nil {
		return err
	}
	return reply(frame)
}

func (s *Service) replyError(reply Reply, request bridge.MessageType, err error) {
	_ = s.send(reply, bridge.TypeError, bridge.ErrorMessage{Request: request, Message: err.Error()})
}

// terminalRelay forwards terminal output to every subscriber.
type terminalRelay struct {
	s *Service
}

func (r terminalRelay) Output(o terminal.Output) {
	r.s.broadcast(bridge.TypeTerminalOutput, bridge.TerminalOutput{
		TerminalID: o.TerminalID,
		ProcessID:  o.ProcessID,
		Output:     o.Data,
	})
}

func (r terminalRelay) Exit(e terminal.Exit) {
	msg := bridge.TerminalExit{TerminalID: e.TerminalID, ProcessID: e.ProcessID, ExitCode: e.ExitCode}
	if e.Err != nil {
		msg.Error = e.Err.Error()
	}
	r.s.broadcast(bridge.TypeTerminalExit, msg)
}
