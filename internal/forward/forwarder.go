package forward

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/splax/routedev/internal/domain"
)

const (
	// DefaultInterval is how often buffered events are flushed.
	DefaultInterval = time.Second
	// MaxBatch bounds the events sent in one request.
	MaxBatch = 100

	bufferSize   = 512
	flushTimeout = 5 * time.Second
)

// Forwarder is an event sink that ships events to a remote devtools server
// in batches. Record never blocks; events are dropped when the buffer is
// full.
type Forwarder struct {
	emitter  *Emitter
	interval time.Duration
	logger   *slog.Logger
	events   chan domain.Event
	dropped  atomic.Int64
}

// NewForwarder returns a forwarder flushing through emitter every interval.
func NewForwarder(emitter *Emitter, interval time.Duration, logger *slog.Logger) *Forwarder {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{
		emitter:  emitter,
		interval: interval,
		logger:   logger.With("component", "forwarder", "target", emitter.baseURL),
		events:   make(chan domain.Event, bufferSize),
	}
}

// Record enqueues ev for the next flush.
func (f *Forwarder) Record(ev domain.Event) {
	select {
	case f.events <- ev:
	default:
		f.dropped.Add(1)
	}
}

// Dropped reports the events lost to a full buffer since the last flush.
func (f *Forwarder) Dropped() int64 {
	return f.dropped.Load()
}

// Run flushes batches until ctx is done, then sends what is left.
func (f *Forwarder) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	batch := make([]domain.Event, 0, MaxBatch)
	for {
		select {
		case <-ctx.Done():
			batch = f.drain(batch)
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
			f.flush(flushCtx, batch)
			cancel()
			return
		case ev := <-f.events:
			batch = append(batch, ev)
			if len(batch) >= MaxBatch {
				batch = f.flush(ctx, batch)
			}
		case <-ticker.C:
			batch = f.flush(ctx, batch)
		}
	}
}

func (f *Forwarder) drain(batch []domain.Event) []domain.Event {
	for {
		select {
		case ev := <-f.events:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
}

// flush sends batch in MaxBatch chunks and returns the emptied slice. A
// failed chunk is logged and discarded.
func (f *Forwarder) flush(ctx context.Context, batch []domain.Event) []domain.Event {
	for start := 0; start < len(batch); start += MaxBatch {
		end := min(start+MaxBatch, len(batch))
		if err := f.emitter.Emit(ctx, batch[start:end]); err != nil {
			f.logger.Warn("forward events failed", "events", end-start, "error", err)
		}
	}
	if n := f.dropped.Swap(0); n > 0 {
		f.logger.Warn("forward buffer overflow", "dropped", n)
	}
	return batch[:0]
}
