package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/tether/internal/logging"
	"github.com/aretw0/tether/pkg/domain"
)

// ErrClosed is returned when work is scheduled on a closed scheduler.
var ErrClosed = errors.New("scheduler closed")

// Target is a session as seen by the scheduler.
type Target interface {
	ID() string
	// Enqueue adds a patch to the outbox, coalescing per property.
	Enqueue(p domain.Patch)
	// Pending returns the number of queued outbound patches.
	Pending() int
	// Flush sends the outbox as one batch.
	Flush(ctx context.Context) error
}

// Stats summarizes one tick.
type Stats struct {
	Callbacks int
	Failed    int
	Deferred  int
	Flushed   int
	FlushErrs int
	Duration  time.Duration
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithHooks registers lifecycle hooks for ticks and callback failures.
func WithHooks(h domain.LifecycleHooks) Option {
	return func(s *Scheduler) { s.hooks = s.hooks.Merge(h) }
}

// WithMaxDeferredRounds bounds how many times the deferred phase re-runs when
// deferred functions defer more work.
func WithMaxDeferredRounds(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxRounds = n
		}
	}
}

// CallbackOption annotates a scheduled callback for logs and errors.
type CallbackOption func(*task)

// Named sets the callback name.
func Named(name string) CallbackOption {
	return func(t *task) { t.name = name }
}

// ForSession attributes the callback to a session.
func ForSession(id string) CallbackOption {
	return func(t *task) { t.sessionID = id }
}

// ForModel attributes the callback to a model.
func ForModel(id string) CallbackOption {
	return func(t *task) { t.modelID = id }
}

// Scheduler is a cooperative, single-threaded event loop. Callbacks run one at
// a time inside Tick; every session with pending patches is flushed once at
// the end of the tick.
//
// ScheduleCallback, Schedule and Do may be called from any goroutine. Every
// other method belongs to the loop goroutine.
type Scheduler struct {
	queue *taskQueue

	deferred  []func()
	dirty     []Target
	dirtySet  map[Target]struct{}
	maxRounds int

	hooks  domain.LifecycleHooks
	logger *slog.Logger
}

// New creates a scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		queue:     newTaskQueue(),
		dirtySet:  make(map[Target]struct{}),
		maxRounds: 16,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScheduleCallback enqueues fn for the next tick. Callbacks run in FIFO order.
func (s *Scheduler) ScheduleCallback(fn func(context.Context) error, opts ...CallbackOption) error {
	t := task{fn: fn, name: "callback"}
	for _, opt := range opts {
		opt(&t)
	}
	if !s.queue.push(t) {
		return ErrClosed
	}
	return nil
}

// Schedule enqueues fn once delay has elapsed. A zero delay is the same as
// ScheduleCallback. The returned function cancels a pending timer.
func (s *Scheduler) Schedule(fn func(context.Context) error, delay time.Duration, opts ...CallbackOption) (cancel func() bool) {
	if delay <= 0 {
		_ = s.ScheduleCallback(fn, opts...)
		return func() bool { return false }
	}
	timer := time.AfterFunc(delay, func() {
		if err := s.ScheduleCallback(fn, opts...); err != nil {
			s.logger.Debug("timer fired after close", "err", err)
		}
	})
	return timer.Stop
}

// Defer runs fn during the deferred phase of the current tick, after the
// queued callbacks and before the flush.
func (s *Scheduler) Defer(fn func()) {
	s.deferred = append(s.deferred, fn)
	s.queue.notify()
}

// EnqueuePatch appends p to the target's outbox. The target is flushed at the
// end of the current tick.
func (s *Scheduler) EnqueuePatch(target Target, p domain.Patch) {
	target.Enqueue(p)
	s.Touch(target)
}

// Touch marks target for flushing at the end of the current tick.
func (s *Scheduler) Touch(target Target) {
	if _, ok := s.dirtySet[target]; !ok {
		s.dirtySet[target] = struct{}{}
		s.dirty = append(s.dirty, target)
	}
	s.queue.notify()
}

// Len returns the number of callbacks waiting for the next tick.
func (s *Scheduler) Len() int { return s.queue.len() }

// Tick runs the queued callbacks in FIFO order, then the deferred phase, then
// flushes every target with pending patches. A failing callback is logged and
// does not prevent the others, or any flush, from running.
func (s *Scheduler) Tick(ctx context.Context) Stats {
	start := time.Now()
	var st Stats

	for _, t := range s.queue.drain() {
		st.Callbacks++
		if err := s.run(ctx, t); err != nil {
			st.Failed++
			s.report(ctx, err)
		}
	}

	for round := 0; len(s.deferred) > 0; round++ {
		if round == s.maxRounds {
			s.logger.Warn("deferred phase did not settle", "pending", len(s.deferred))
			break
		}
		fns := s.deferred
		s.deferred = nil
		for _, fn := range fns {
			st.Deferred++
			if err := s.run(ctx, task{name: "deferred", fn: func(context.Context) error { fn(); return nil }}); err != nil {
				st.Failed++
				s.report(ctx, err)
			}
		}
	}

	targets := s.dirty
	s.dirty = nil
	clear(s.dirtySet)
	for _, t := range targets {
		if t.Pending() == 0 {
			continue
		}
		if err := t.Flush(ctx); err != nil {
			st.FlushErrs++
			s.logger.Warn("flush failed", "session_id", t.ID(), "err", err)
			continue
		}
		st.Flushed++
	}

	st.Duration = time.Since(start)
	if s.hooks.OnTick != nil {
		s.hooks.OnTick(ctx, &domain.TickEvent{
			EventBase: domain.EventBase{Timestamp: time.Now(), Type: domain.EventTick},
			Callbacks: st.Callbacks,
			Failed:    st.Failed,
			Flushed:   st.Flushed,
			Duration:  st.Duration,
		})
	}
	return st
}

// run executes one task, turning errors and panics into a *domain.CallbackError.
func (s *Scheduler) run(ctx context.Context, t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &domain.CallbackError{SessionID: t.sessionID, ModelID: t.modelID, Name: t.name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if e := t.fn(ctx); e != nil {
		return &domain.CallbackError{SessionID: t.sessionID, ModelID: t.modelID, Name: t.name, Err: e}
	}
	return nil
}

func (s *Scheduler) report(ctx context.Context, err error) {
	var ce *domain.CallbackError
	if !errors.As(err, &ce) {
		return
	}
	s.logger.Error("callback failed", "name", ce.Name, "session_id", ce.SessionID, "model_id", ce.ModelID, "err", ce.Err)
	if s.hooks.OnCallbackError != nil {
		s.hooks.OnCallbackError(ctx, &domain.CallbackEvent{
			EventBase: domain.EventBase{Timestamp: time.Now(), Type: domain.EventCallbackError, SessionID: ce.SessionID},
			Name:      ce.Name,
			Err:       ce.Err,
		})
	}
}

// Run ticks whenever work is available until ctx is canceled or the scheduler
// is closed.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-s.queue.wait():
			s.Tick(ctx)
			if !ok {
				return nil
			}
		}
	}
}

// Do schedules fn and waits for it to run. It must not be called from the loop
// goroutine.
func (s *Scheduler) Do(ctx context.Context, fn func(context.Context) error, opts ...CallbackOption) error {
	done := make(chan error, 1)
	err := s.ScheduleCallback(func(c context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
				panic(r)
			}
		}()
		err = fn(c)
		done <- err
		return err
	}, opts...)
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting callbacks and wakes Run, which performs a last tick.
func (s *Scheduler) Close() {
	s.queue.close()
}
