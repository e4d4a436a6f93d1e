package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrNoSnapshot is returned when a key has never been published.
var ErrNoSnapshot = errors.New("state: no snapshot stored")

// SyncMessage announces that the snapshot stored under Key changed.
type SyncMessage struct {
	Key    string `json:"key"`
	Origin string `json:"origin"`
	Seq    int64  `json:"seq"`
}

// SyncChannel is the shared key-value store plus change notification used
// to keep a detached window in step with the panel that opened it.
// Publish must store the snapshot before notifying subscribers.
type SyncChannel interface {
	Publish(ctx context.Context, key, origin string, snapshot []byte) (SyncMessage, error)
	Read(ctx context.Context, key string) ([]byte, error)
	// Subscribe delivers notifications until ctx is done, then closes the
	// returned channel.
	Subscribe(ctx context.Context) (<-chan SyncMessage, error)
	Close() error
}

// MemoryChannel is an in-process SyncChannel.
type MemoryChannel struct {
	mu     sync.Mutex
	values map[string][]byte
	seq    int64
	subs   map[chan SyncMessage]struct{}
	closed bool
}

// NewMemoryChannel returns an empty in-process channel.
func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{
		values: make(map[string][]byte),
		subs:   make(map[chan SyncMessage]struct{}),
	}
}

// Publish stores snapshot under key and notifies subscribers. Slow
// subscribers miss notifications rather than block the publisher.
func (m *MemoryChannel) Publish(_ context.Context, key, origin string, snapshot []byte) (SyncMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return SyncMessage{}, errors.New("state: sync channel closed")
	}
	m.values[key] = append([]byte(nil), snapshot...)
	m.seq++
	msg := SyncMessage{Key: key, Origin: origin, Seq: m.seq}
	for ch := range m.subs {
		select {
		case ch <- msg:
		default:
		}
	}
	return msg, nil
}

// Read returns the snapshot stored under key.
func (m *MemoryChannel) Read(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return nil, ErrNoSnapshot
	}
	return append([]byte(nil), v...), nil
}

// Subscribe registers a new subscriber.
func (m *MemoryChannel) Subscribe(ctx context.Context) (<-chan SyncMessage, error) {
	ch := make(chan SyncMessage, 16)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.New("state: sync channel closed")
	}
	m.subs[ch] = struct{}{}
	m.mu.Unlock()
	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subs[ch]; ok {
			delete(m.subs, ch)
			close(ch)
		}
	}()
	return ch, nil
}

// Close closes every subscription.
func (m *MemoryChannel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for ch := range m.subs {
		delete(m.subs, ch)
		close(ch)
	}
	return nil
}

// Syncer mirrors a Store through a SyncChannel. The shared part of the
// state is published as a full snapshot under KeyState; remote
// notifications are answered by re-reading that snapshot and replacing the
// local state with it. The detached and owner flags belong to each window:
// they are published under their own keys and survive reconciliation.
type Syncer struct {
	store       *Store
	channel     SyncChannel
	origin      string
	logger      *slog.Logger
	reconciling atomic.Bool
}

// handshake is the payload stored under KeyCheckDetached.
type handshake struct {
	Kind  string `json:"kind"`
	Nonce string `json:"nonce"`
}

const (
	handshakePing = "ping"
	handshakeAck  = "ack"
)

// NewSyncer links store to channel. origin identifies this window so its
// own notifications are ignored.
func NewSyncer(store *Store, channel SyncChannel, origin string, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		store:   store,
		channel: channel,
		origin:  origin,
		logger:  logger.With("component", "state-sync", "origin", origin),
	}
}

// Shared returns s without the window-local flags.
func Shared(s State) State {
	s.Detached = false
	s.DetachedOwner = false
	return s
}

// Publish writes the shared state and notifies the other windows.
func (s *Syncer) Publish(ctx context.Context) error {
	return s.publishJSON(ctx, KeyState, Shared(s.store.State()))
}

func (s *Syncer) publishJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if _, err := s.channel.Publish(ctx, key, s.origin, raw); err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

func (s *Syncer) readJSON(ctx context.Context, key string, v any) error {
	raw, err := s.channel.Read(ctx, key)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// apply dispatches a remote change without publishing it again.
func (s *Syncer) apply(a Action) {
	s.reconciling.Store(true)
	defer s.reconciling.Store(false)
	s.store.Dispatch(a)
}

// Reconcile replaces the local state with the stored snapshot, keeping this
// window's detached and owner flags.
func (s *Syncer) Reconcile(ctx context.Context) error {
	var next State
	if err := s.readJSON(ctx, KeyState, &next); err != nil {
		return err
	}
	cur := s.store.State()
	next.Detached = cur.Detached
	next.DetachedOwner = cur.DetachedOwner
	s.apply(SetWholeState(next))
	return nil
}

// RestoreSettings applies the settings stored under KeySettings.
func (s *Syncer) RestoreSettings(ctx context.Context) error {
	var settings Settings
	if err := s.readJSON(ctx, KeySettings, &settings); err != nil {
		return err
	}
	next := s.store.State()
	next.Settings = settings
	s.apply(SetWholeState(next))
	return nil
}

// Attach publishes every local state change until the returned function is
// called. Flag changes go to their own keys; anything else republishes the
// shared snapshot, and settings changes are also stored under KeySettings.
// Changes applied from other windows are not echoed back.
func (s *Syncer) Attach(ctx context.Context) func() {
	return s.store.Subscribe(func(prev, next State) {
		if s.reconciling.Load() {
			return
		}
		var err error
		switch {
		case prev.Detached != next.Detached:
			err = s.publishJSON(ctx, KeyDetachedWindow, next.Detached)
		case prev.DetachedOwner != next.DetachedOwner:
			err = s.publishJSON(ctx, KeyDetachedWindowOwner, next.DetachedOwner)
		default:
			if prev.Settings != next.Settings {
				err = s.publishJSON(ctx, KeySettings, next.Settings)
			}
			if err == nil {
				err = s.Publish(ctx)
			}
		}
		if err != nil {
			s.logger.Warn("state publish failed", "error", err)
		}
	})
}

// CheckDetached asks whether a detached window is still listening. A
// missing answer within timeout means it is gone: this window drops its
// owner flag and the stale detached flag is cleared.
func (s *Syncer) CheckDetached(ctx context.Context, timeout time.Duration) (bool, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	updates, err := s.channel.Subscribe(waitCtx)
	if err != nil {
		return false, err
	}
	nonce := fmt.Sprintf("%s-%d", s.origin, time.Now().UnixNano())
	if err := s.publishJSON(ctx, KeyCheckDetached, handshake{Kind: handshakePing, Nonce: nonce}); err != nil {
		return false, err
	}
	for msg := range updates {
		if msg.Key != KeyCheckDetached || msg.Origin == s.origin {
			continue
		}
		var h handshake
		if err := s.readJSON(waitCtx, KeyCheckDetached, &h); err != nil {
			continue
		}
		if h.Kind == handshakeAck && h.Nonce == nonce {
			return true, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.apply(SetDetachedWindowOwner(false))
	if err := s.publishJSON(ctx, KeyDetachedWindow, false); err != nil {
		return false, err
	}
	return false, nil
}

// Run applies notifications from other windows until ctx is done.
func (s *Syncer) Run(ctx context.Context) error {
	updates, err := s.channel.Subscribe(ctx)
	if err != nil {
		return err
	}
	for msg := range updates {
		if msg.Origin == s.origin {
			continue
		}
		if err := s.handle(ctx, msg); err != nil {
			s.logger.Warn("state sync failed", "key", msg.Key, "seq", msg.Seq, "error", err)
		}
	}
	return ctx.Err()
}

func (s *Syncer) handle(ctx context.Context, msg SyncMessage) error {
	switch msg.Key {
	case KeyState:
		return s.Reconcile(ctx)

	case KeyDetachedWindow:
		var on bool
		if err := s.readJSON(ctx, msg.Key, &on); err != nil {
			return err
		}
		cur := s.store.State()
		switch {
		case on && !cur.Detached && !cur.DetachedOwner:
			// another window detached from this one
			s.apply(SetDetachedWindowOwner(true))
		case !on && cur.DetachedOwner:
			s.apply(SetDetachedWindowOwner(false))
		}
		return nil

	case KeyDetachedWindowOwner:
		var on bool
		if err := s.readJSON(ctx, msg.Key, &on); err != nil {
			return err
		}
		if !on && s.store.State().Detached {
			// the owner is gone; this window stands alone
			s.apply(SetDetachedWindow(false))
		}
		return nil

	case KeyCheckDetached:
		var h handshake
		if err := s.readJSON(ctx, msg.Key, &h); err != nil {
			return err
		}
		if h.Kind == handshakePing && s.store.State().Detached {
			return s.publishJSON(ctx, KeyCheckDetached, handshake{Kind: handshakeAck, Nonce: h.Nonce})
		}
		return nil
	}
	return nil
}
