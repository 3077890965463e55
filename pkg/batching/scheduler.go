package batching

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrSchedulerStopped is returned by Enqueue after Stop has been called.
var ErrSchedulerStopped = errors.New("scheduler is stopped")

// FlushFunc receives ownership of a drained batch. It is invoked outside the
// scheduler's lock, so implementations may block on enrichment and publishing
// while new items for the same key continue to accumulate in a fresh window.
type FlushFunc func(ctx context.Context, key string, items []*PendingItem)

// SchedulerConfig holds configuration for the debounce Scheduler.
type SchedulerConfig struct {
	// Window is the debounce duration. Every arrival restarts the clock, so
	// a burst of items spaced closer than Window collapses into one batch.
	Window time.Duration
}

// batchWindow is the per-key buffer. At most one live timer exists per key;
// gen increments on every restart, so a superseded expiry can recognise
// itself as stale under the lock.
type batchWindow struct {
	items []*PendingItem
	timer *time.Timer
	gen   uint64
}

// Scheduler owns the key → window map and implements reset-on-arrival
// debouncing. All buffer and timer bookkeeping happens under one mutex; the
// flush function runs outside it.
type Scheduler struct {
	cfg     SchedulerConfig
	logger  zerolog.Logger
	flushFn FlushFunc

	mu      sync.Mutex
	windows map[string]*batchWindow
	stopped bool

	flushCtx context.Context
	flushWg  sync.WaitGroup
}

// NewScheduler creates a debounce scheduler that hands expired batches to
// flusher. The provided context bounds flush processing started by timers.
func NewScheduler(cfg SchedulerConfig, flusher FlushFunc, logger zerolog.Logger) (*Scheduler, error) {
	if flusher == nil {
		return nil, errors.New("flush function cannot be nil")
	}
	if cfg.Window <= 0 {
		cfg.Window = 2 * time.Minute
	}
	return &Scheduler{
		cfg:      cfg,
		logger:   logger.With().Str("component", "Scheduler").Logger(),
		flushFn:  flusher,
		windows:  make(map[string]*batchWindow),
		flushCtx: context.Background(),
	}, nil
}

// Start records the context under which timer-driven flushes execute.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushCtx = ctx
}

// Enqueue appends item to its key's window, creating the window if absent,
// and restarts the key's debounce timer. Safe for concurrent use.
func (s *Scheduler) Enqueue(item *PendingItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSchedulerStopped
	}

	w := s.windows[item.Key]
	if w == nil {
		w = &batchWindow{}
		s.windows[item.Key] = w
	}
	w.items = append(w.items, item)

	if w.timer != nil {
		w.timer.Stop()
	}
	w.gen++
	gen := w.gen
	w.timer = time.AfterFunc(s.cfg.Window, func() { s.onExpiry(item.Key, gen) })

	s.logger.Debug().
		Str("key", item.Key).
		Str("item_id", item.ID).
		Int("buffered", len(w.items)).
		Msg("Item enqueued, debounce timer restarted.")
	return nil
}

// PendingCount reports the number of items currently buffered for key.
func (s *Scheduler) PendingCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.windows[key]
	if w == nil {
		return 0
	}
	return len(w.items)
}

// onExpiry runs on the timer goroutine when a window's debounce period
// elapses without a new arrival. It snapshots and clears the buffer under the
// lock, removes the window entry, and only then hands the snapshot to the
// flush function. An Enqueue racing with the flush therefore starts a fresh
// window rather than mutating the snapshot being processed.
func (s *Scheduler) onExpiry(key string, gen uint64) {
	s.mu.Lock()
	w := s.windows[key]
	if w == nil || w.gen != gen {
		// A later Enqueue superseded this timer, or Stop already drained it.
		s.mu.Unlock()
		return
	}
	items := w.items
	delete(s.windows, key)
	if len(items) == 0 {
		s.mu.Unlock()
		s.logger.Debug().Str("key", key).Msg("Timer fired for empty window, nothing to flush.")
		return
	}
	s.flushWg.Add(1)
	ctx := s.flushCtx
	s.mu.Unlock()

	defer s.flushWg.Done()
	s.logger.Info().Str("key", key).Int("batch_size", len(items)).Msg("Debounce window expired, flushing batch.")
	s.flushFn(ctx, key, items)
}

// Stop prevents further enqueues, flushes any remaining windows under ctx,
// and waits for all in-flight flushes to complete or for ctx to expire. The
// drain deliberately runs under ctx rather than the Start context: at
// shutdown the runtime context is typically already canceled, and the drain
// must still complete within the shutdown deadline.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true

	remaining := make(map[string][]*PendingItem)
	for key, w := range s.windows {
		if w.timer != nil {
			w.timer.Stop()
		}
		if len(w.items) > 0 {
			remaining[key] = w.items
		}
		delete(s.windows, key)
	}
	s.flushWg.Add(len(remaining))
	s.mu.Unlock()

	if len(remaining) > 0 {
		s.logger.Info().Int("key_count", len(remaining)).Msg("Flushing remaining windows on shutdown.")
	}
	for key, items := range remaining {
		go func(key string, items []*PendingItem) {
			defer s.flushWg.Done()
			s.flushFn(ctx, key, items)
		}(key, items)
	}

	done := make(chan struct{})
	go func() {
		s.flushWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("Scheduler stopped, all flushes completed.")
		return nil
	case <-ctx.Done():
		s.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for in-flight flushes.")
		return ctx.Err()
	}
}
