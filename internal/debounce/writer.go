// Package debounce coalesces bursts of edits into one delayed write per key.
//
// A Writer keeps at most one pending payload per key. Scheduling restarts the
// key's quiet period and replaces the payload; when the quiet period elapses
// or the key is flushed, the latest payload is written. Writes for the same
// key run one after another in the order they were started.
package debounce

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"agendas/api/internal/clock"
)

// DefaultQuiet is used when Options.Quiet is not positive.
const DefaultQuiet = time.Second

// ErrClosed is returned by Schedule after Close.
var ErrClosed = errors.New("debounce: writer closed")

// Func persists one payload. It runs with a context detached from whoever
// triggered it, bounded by Options.Timeout.
type Func[K comparable, P any] func(ctx context.Context, key K, payload P) error

// Observer receives the outcome of every write.
type Observer interface {
	ObserveWrite(stream string, err error, elapsed time.Duration)
}

// Options configure a Writer. A zero Timeout leaves writes unbounded.
type Options struct {
	Quiet    time.Duration
	Timeout  time.Duration
	Clock    clock.Clock
	Logger   *zap.Logger
	Observer Observer
}

// Writer debounces writes of payloads P per key K. It is safe for concurrent
// use.
type Writer[K comparable, P any] struct {
	name     string
	write    Func[K, P]
	quiet    time.Duration
	timeout  time.Duration
	clock    clock.Clock
	logger   *zap.Logger
	observer Observer

	mu      sync.Mutex
	seq     uint64
	pending map[K]*entry[P]
	running map[K]*call
	closed  bool
}

type entry[P any] struct {
	seq     uint64
	payload P
	timer   *clock.Timer
}

type call struct {
	done chan struct{}
	err  error
}

// New returns a Writer calling write. name labels its logs and metrics.
func New[K comparable, P any](name string, write Func[K, P], opts Options) *Writer[K, P] {
	if opts.Quiet <= 0 {
		opts.Quiet = DefaultQuiet
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Writer[K, P]{
		name:     name,
		write:    write,
		quiet:    opts.Quiet,
		timeout:  opts.Timeout,
		clock:    opts.Clock,
		logger:   opts.Logger.With(zap.String("stream", name)),
		observer: opts.Observer,
		pending:  map[K]*entry[P]{},
		running:  map[K]*call{},
	}
}

func (w *Writer[K, P]) Name() string { return w.name }

// Schedule replaces the pending payload for key and restarts its quiet
// period.
func (w *Writer[K, P]) Schedule(key K, payload P) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if existing, ok := w.pending[key]; ok {
		existing.timer.Stop()
	}
	w.seq++
	seq := w.seq
	e := &entry[P]{seq: seq, payload: payload}
	w.pending[key] = e
	e.timer = w.clock.AfterFunc(w.quiet, func() { w.fire(key, seq) })
	return nil
}

// Cancel discards the pending payload for key without writing it. It reports
// whether anything was pending. A write already in flight is not affected.
func (w *Writer[K, P]) Cancel(key K) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.pending[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(w.pending, key)
	return true
}

// Pending reports whether a payload for key is waiting for its quiet period.
func (w *Writer[K, P]) Pending(key K) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.pending[key]
	return ok
}

// Busy reports whether key has a pending payload or a write in flight.
func (w *Writer[K, P]) Busy(key K) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, pending := w.pending[key]
	_, running := w.running[key]
	return pending || running
}

// Flush writes the pending payload for key now, or waits for the write in
// flight, and returns the write's error. It returns nil when there is
// nothing to do. Cancelling ctx stops the wait, not the write.
func (w *Writer[K, P]) Flush(ctx context.Context, key K) error {
	w.mu.Lock()
	var c *call
	if e, ok := w.pending[key]; ok {
		e.timer.Stop()
		var prev *call
		c, prev = w.startLocked(key, e)
		w.mu.Unlock()
		go w.execute(key, e.payload, prev, c)
	} else {
		c = w.running[key]
		w.mu.Unlock()
	}
	if c == nil {
		return nil
	}
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FlushAll flushes every key that is pending or in flight and returns the
// first error.
func (w *Writer[K, P]) FlushAll(ctx context.Context) error {
	w.mu.Lock()
	keys := make([]K, 0, len(w.pending)+len(w.running))
	for key := range w.pending {
		keys = append(keys, key)
	}
	for key := range w.running {
		if _, ok := w.pending[key]; !ok {
			keys = append(keys, key)
		}
	}
	w.mu.Unlock()

	var g errgroup.Group
	for _, key := range keys {
		g.Go(func() error {
			if err := w.Flush(ctx, key); err != nil {
				return fmt.Errorf("flush %s %v: %w", w.name, key, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Close rejects further schedules and flushes everything outstanding.
func (w *Writer[K, P]) Close(ctx context.Context) error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return w.FlushAll(ctx)
}

// fire runs on the timer. It is a no-op when the entry it was armed for has
// since been flushed, cancelled or replaced.
func (w *Writer[K, P]) fire(key K, seq uint64) {
	w.mu.Lock()
	e, ok := w.pending[key]
	if !ok || e.seq != seq {
		w.mu.Unlock()
		return
	}
	c, prev := w.startLocked(key, e)
	w.mu.Unlock()
	w.execute(key, e.payload, prev, c)
}

func (w *Writer[K, P]) startLocked(key K, e *entry[P]) (c, prev *call) {
	delete(w.pending, key)
	prev = w.running[key]
	c = &call{done: make(chan struct{})}
	w.running[key] = c
	return c, prev
}

func (w *Writer[K, P]) execute(key K, payload P, prev, c *call) {
	if prev != nil {
		<-prev.done
	}

	ctx := context.Background()
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	start := w.clock.Now()
	err := w.write(ctx, key, payload)
	elapsed := w.clock.Now().Sub(start)
	if w.observer != nil {
		w.observer.ObserveWrite(w.name, err, elapsed)
	}
	if err != nil {
		w.logger.Warn("debounced write failed", zap.String("key", fmt.Sprint(key)), zap.Error(err))
	} else {
		w.logger.Debug("debounced write", zap.String("key", fmt.Sprint(key)), zap.Duration("elapsed", elapsed))
	}

	w.mu.Lock()
	if w.running[key] == c {
		delete(w.running, key)
	}
	w.mu.Unlock()
	c.err = err
	close(c.done)
}
