package journal

import (
	"context"
	"log/slog"
	"sync"

	"apsta/internal/logging"

	"github.com/google/uuid"
	"github.com/juju/clock"
)

const queueSize = 256

// Writer records entries on its own goroutine so callers on the dispatch
// path never wait on disk. Entries are stamped with the writer's session id.
type Writer struct {
	store   *Store
	session string
	clock   clock.Clock
	log     *slog.Logger

	queue chan Entry

	mu      sync.Mutex
	dropped int
	cancel  context.CancelFunc
	done    chan struct{}
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithWriterClock sets the clock used to stamp entries.
func WithWriterClock(c clock.Clock) WriterOption {
	return func(w *Writer) {
		w.clock = c
	}
}

// NewWriter creates a writer for store with a fresh session id.
func NewWriter(store *Store, opts ...WriterOption) *Writer {
	w := &Writer{
		store:   store,
		session: uuid.NewString(),
		clock:   clock.WallClock,
		log:     logging.Component("journal"),
		queue:   make(chan Entry, queueSize),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Session returns the id stamped on every entry from this writer.
func (w *Writer) Session() string {
	return w.session
}

// Enqueue stamps e and queues it. It never blocks; when the queue is full the
// entry is dropped and counted.
func (w *Writer) Enqueue(kind, subject, detail string) {
	e := Entry{
		Session: w.session,
		At:      w.clock.Now(),
		Kind:    kind,
		Subject: subject,
		Detail:  detail,
	}
	select {
	case w.queue <- e:
	default:
		w.mu.Lock()
		w.dropped++
		w.mu.Unlock()
		w.log.Warn("journal queue full, entry dropped", "kind", kind, "subject", subject)
	}
}

// Dropped returns the number of entries dropped on a full queue.
func (w *Writer) Dropped() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

// Start launches the write goroutine.
func (w *Writer) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})

	go func() {
		defer close(w.done)
		w.run(ctx)
	}()
}

// Stop flushes queued entries and waits for the goroutine to exit.
func (w *Writer) Stop() {
	if w.cancel != nil {
		w.cancel()
		<-w.done
		w.cancel = nil
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case e := <-w.queue:
			w.write(context.WithoutCancel(ctx), e)
		case <-ctx.Done():
			w.flush(context.WithoutCancel(ctx))
			return
		}
	}
}

func (w *Writer) flush(ctx context.Context) {
	for {
		select {
		case e := <-w.queue:
			w.write(ctx, e)
		default:
			return
		}
	}
}

func (w *Writer) write(ctx context.Context, e Entry) {
	if _, err := w.store.Record(ctx, e); err != nil {
		w.log.Warn("write journal entry", "kind", e.Kind, "err", err)
	}
}
