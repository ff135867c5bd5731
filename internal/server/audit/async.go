package audit

import (
	"context"
	"errors"
	"sync"

	"github.com/dmitrijs2005/passvault/internal/logging"
)

const maxBatch = 64

var (
	// ErrDropped is returned when the queue is full and a record was discarded.
	ErrDropped = errors.New("audit queue full, record dropped")
	ErrClosed  = errors.New("audit recorder closed")
)

// Async queues records and writes them to next from a single goroutine.
// Record never blocks.
type Async struct {
	next  Recorder
	queue chan Record
	log   logging.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewAsync(next Recorder, buffer int, log logging.Logger) *Async {
	if buffer <= 0 {
		buffer = 1024
	}
	a := &Async{
		next:  next,
		queue: make(chan Record, buffer),
		log:   log.With("module", "audit"),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) Record(ctx context.Context, r Record) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- r:
		return nil
	default:
		a.log.Warn(ctx, "audit record dropped", "command", r.Command, "user", r.User)
		return ErrDropped
	}
}

func (a *Async) run() {
	defer close(a.done)
	ctx := context.Background()
	batch := make([]Record, 0, maxBatch)

	for r := range a.queue {
		batch = append(batch[:0], r)
	drain:
		for len(batch) < maxBatch {
			select {
			case more, ok := <-a.queue:
				if !ok {
					break drain
				}
				batch = append(batch, more)
			default:
				break drain
			}
		}
		a.flush(ctx, batch)
	}
}

func (a *Async) flush(ctx context.Context, batch []Record) {
	if b, ok := a.next.(batchRecorder); ok && len(batch) > 1 {
		if err := b.RecordBatch(ctx, batch); err != nil {
			a.log.Error(ctx, "audit batch failed", "records", len(batch), "error", err)
		}
		return
	}
	for _, r := range batch {
		if err := a.next.Record(ctx, r); err != nil {
			a.log.Error(ctx, "audit record failed", "command", r.Command, "error", err)
		}
	}
}

// Close stops accepting records and waits until queued ones are written or
// ctx ends.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
