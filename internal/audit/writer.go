package audit

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mattjoyce/wayguard/internal/authz"
	"github.com/mattjoyce/wayguard/internal/log"
)

const defaultWriterBuffer = 256

// Writer moves database writes off the display loop. Submit never blocks;
// events are dropped with a warning when the buffer is full.
type Writer struct {
	store  *Store
	events chan authz.Event
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

// NewWriter returns a Writer with room for buffer pending events.
func NewWriter(store *Store, buffer int) *Writer {
	if buffer <= 0 {
		buffer = defaultWriterBuffer
	}
	return &Writer{
		store:  store,
		events: make(chan authz.Event, buffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: log.WithComponent("audit"),
	}
}

// Submit queues ev for Run.
func (w *Writer) Submit(ev authz.Event) {
	select {
	case w.events <- ev:
	default:
		w.logger.Warn("audit buffer full, dropping event", "event", string(ev.Type), "grant_id", ev.Grant.ID)
	}
}

// Run writes queued events until ctx is cancelled or Stop is called, then
// flushes what is already queued. Writes are not interrupted by ctx.
func (w *Writer) Run(ctx context.Context) {
	defer close(w.done)
	writeCtx := context.WithoutCancel(ctx)
	for {
		select {
		case ev := <-w.events:
			w.write(writeCtx, ev)
		case <-ctx.Done():
			w.flush(writeCtx)
			return
		case <-w.stop:
			w.flush(writeCtx)
			return
		}
	}
}

func (w *Writer) flush(ctx context.Context) {
	for {
		select {
		case ev := <-w.events:
			w.write(ctx, ev)
		default:
			return
		}
	}
}

// Stop asks Run to flush and return, and waits until it has. Run must have
// been started.
func (w *Writer) Stop() {
	w.once.Do(func() { close(w.stop) })
	<-w.done
}

// Done is closed when Run has returned.
func (w *Writer) Done() <-chan struct{} { return w.done }

func (w *Writer) write(ctx context.Context, ev authz.Event) {
	if err := w.store.Record(ctx, ev); err != nil {
		w.logger.Error("failed to record grant event", "error", err, "grant_id", ev.Grant.ID)
	}
}
