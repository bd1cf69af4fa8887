package tether

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/aretw0/tether/internal/logging"
	"github.com/aretw0/tether/pkg/depgraph"
	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/model"
	"github.com/aretw0/tether/pkg/param"
	"github.com/aretw0/tether/pkg/persistence"
	"github.com/aretw0/tether/pkg/ports"
	"github.com/aretw0/tether/pkg/scheduler"
	"github.com/aretw0/tether/pkg/session"
)

// ErrNoStore is returned by Persist and Restore when no snapshot store is configured.
var ErrNoStore = errors.New("no snapshot store configured")

// RootFunc returns the objects a new session mirrors. It may return shared
// objects, so every session sees the same state, or build fresh ones per
// session.
type RootFunc func(sessionID string) ([]param.Parameterized, error)

// App is the high-level entry point: it owns the scheduler, the session
// registry and the optional persistence layer, and is the Engine the transport
// adapters drive.
//
// Connect, Deliver, Disconnect, Describe, Persist and Restore may be called
// from any goroutine while Run is active; they hand their work to the loop.
// They must not be called from inside a scheduled callback.
type App struct {
	name     string
	root     RootFunc
	sched    *scheduler.Scheduler
	registry *session.Registry
	persist  *persistence.Manager
	running  atomic.Bool

	store      ports.SnapshotStore
	storeOpts  []persistence.Option
	schedOpts  []scheduler.Option
	mapperOpts []model.Option
	hooks      domain.LifecycleHooks
	logger     *slog.Logger
}

// Option defines a functional option for configuring the App.
type Option func(*App)

// WithName labels the app in logs and info endpoints.
func WithName(name string) Option {
	return func(a *App) { a.name = name }
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithLifecycleHooks registers observability hooks. Hooks from several calls
// are all invoked.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(a *App) { a.hooks = a.hooks.Merge(hooks) }
}

// WithSnapshotStore enables Persist and Restore.
func WithSnapshotStore(store ports.SnapshotStore, opts ...persistence.Option) Option {
	return func(a *App) {
		a.store = store
		a.storeOpts = append(a.storeOpts, opts...)
	}
}

// WithMaxDeferredRounds bounds the deferred phase of each tick.
func WithMaxDeferredRounds(n int) Option {
	return func(a *App) { a.schedOpts = append(a.schedOpts, scheduler.WithMaxDeferredRounds(n)) }
}

// WithIDGenerator replaces the generator of model ids.
func WithIDGenerator(fn func() string) Option {
	return func(a *App) { a.mapperOpts = append(a.mapperOpts, model.WithIDGenerator(fn)) }
}

// New creates an App whose sessions mirror the objects returned by root.
func New(root RootFunc, opts ...Option) (*App, error) {
	if root == nil {
		return nil, errors.New("tether: nil root function")
	}
	a := &App{
		name:     "tether",
		root:     root,
		registry: session.NewRegistry(),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("app", a.name)

	schedOpts := append([]scheduler.Option{
		scheduler.WithLogger(a.logger),
		scheduler.WithHooks(a.hooks),
	}, a.schedOpts...)
	a.sched = scheduler.New(schedOpts...)

	if a.store != nil {
		storeOpts := append([]persistence.Option{persistence.WithLogger(a.logger)}, a.storeOpts...)
		a.persist = persistence.NewManager(a.store, storeOpts...)
	}
	return a, nil
}

// Shared returns a RootFunc handing the same objects to every session.
func Shared(objs ...param.Parameterized) RootFunc {
	return func(string) ([]param.Parameterized, error) { return objs, nil }
}

// Name returns the app label.
func (a *App) Name() string { return a.name }

// Scheduler returns the event loop.
func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }

// Deferrer returns the deferrer dependency graphs should use so that their
// watched values recompute once per tick.
func (a *App) Deferrer() depgraph.Deferrer { return a.sched }

// Registry returns the live session index.
func (a *App) Registry() *session.Registry { return a.registry }

// Sessions returns the IDs of live sessions.
func (a *App) Sessions() []string { return a.registry.List() }

// Run drives the event loop until ctx is canceled or Close is called.
func (a *App) Run(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return errors.New("tether: app already running")
	}
	defer a.running.Store(false)
	a.logger.Info("event loop started")
	err := a.sched.Run(ctx)
	a.logger.Info("event loop stopped", "err", err)
	return err
}

// Running reports whether Run is driving the loop.
func (a *App) Running() bool { return a.running.Load() }

// call runs fn on the loop. Before Run starts it runs fn directly and ticks
// so that queued patches are flushed.
func (a *App) call(ctx context.Context, fn func(context.Context) error) error {
	if a.running.Load() {
		return a.sched.Do(ctx, fn)
	}
	err := fn(ctx)
	a.sched.Tick(ctx)
	return err
}

// Connect opens a session on transport. An empty id is replaced by a random
// one. The initial model tree is sent before Connect returns.
func (a *App) Connect(ctx context.Context, id string, transport ports.Transport) (*session.Session, error) {
	var s *session.Session
	err := a.call(ctx, func(ctx context.Context) error {
		var err error
		s, err = session.New(id, transport, a.sched,
			session.WithLogger(a.logger),
			session.WithRegistry(a.registry),
			session.WithHooks(a.hooks),
			session.WithMapper(model.NewMapper(append([]model.Option{model.WithLogger(a.logger)}, a.mapperOpts...)...)),
		)
		if err != nil {
			return err
		}
		objs, err := a.root(s.ID())
		if err != nil {
			_ = s.Close(ctx)
			return fmt.Errorf("build session %s: %w", s.ID(), err)
		}
		for _, o := range objs {
			if _, err := s.Attach(o); err != nil {
				_ = s.Close(ctx)
				return err
			}
		}
		return s.Open(ctx)
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Deliver routes one inbound message (patch or event) to a session.
func (a *App) Deliver(ctx context.Context, sessionID string, msg domain.Message) error {
	return a.call(ctx, func(ctx context.Context) error {
		s, err := a.registry.Get(sessionID)
		if err != nil {
			return err
		}
		switch msg.Type {
		case domain.MessagePatch:
			return s.ReceivePatch(ctx, msg.AsPatch())
		case domain.MessageEvent:
			return s.ReceiveEvent(ctx, msg.AsEvent())
		default:
			return fmt.Errorf("unsupported inbound message type %q: %w", msg.Type, domain.ErrValidation)
		}
	})
}

// Disconnect closes a session. Unknown ids are not an error.
func (a *App) Disconnect(ctx context.Context, sessionID string) error {
	return a.call(ctx, func(ctx context.Context) error {
		s, err := a.registry.Get(sessionID)
		if err != nil {
			return nil
		}
		return s.Close(ctx)
	})
}

// SessionInfo describes one live session.
type SessionInfo struct {
	ID     string              `json:"id"`
	State  domain.SessionState `json:"state"`
	Roots  []string            `json:"roots"`
	Models []domain.ModelSpec  `json:"models"`
}

// Describe returns the current state and model tree of a session.
func (a *App) Describe(ctx context.Context, sessionID string) (SessionInfo, error) {
	var info SessionInfo
	err := a.call(ctx, func(context.Context) error {
		s, err := a.registry.Get(sessionID)
		if err != nil {
			return err
		}
		info = SessionInfo{ID: s.ID(), State: s.State(), Models: s.Snapshot()}
		for _, r := range s.Roots() {
			info.Roots = append(info.Roots, r.ID)
		}
		return nil
	})
	return info, err
}

func (a *App) resolve(sessionID, modelID, property string) (*model.Node, string, error) {
	s, err := a.registry.Get(sessionID)
	if err != nil {
		return nil, "", err
	}
	n, ok := s.Node(modelID)
	if !ok {
		return nil, "", &domain.UnknownPropertyError{ModelID: modelID, Property: property}
	}
	name, ok := n.Parameter(property)
	if !ok {
		return nil, "", &domain.UnknownPropertyError{ModelID: modelID, Property: property}
	}
	return n, name, nil
}

// GetParam reads the parameter or computed value behind a model property of
// a session.
func (a *App) GetParam(ctx context.Context, sessionID, modelID, property string) (any, error) {
	var v any
	err := a.call(ctx, func(context.Context) error {
		n, name, err := a.resolve(sessionID, modelID, property)
		if err != nil {
			return err
		}
		if _, isParam := n.Object().Lookup(name); isParam {
			v, err = n.Object().Get(name)
		} else {
			v, err = n.Graph().Get(name)
		}
		return err
	})
	return v, err
}

// SetParam assigns the parameter behind a model property as a server-side
// change: every session mirroring the object, this one included, is patched.
func (a *App) SetParam(ctx context.Context, sessionID, modelID, property string, value any) error {
	return a.call(ctx, func(context.Context) error {
		n, name, err := a.resolve(sessionID, modelID, property)
		if err != nil {
			return err
		}
		obj := n.Object()
		p, isParam := obj.Lookup(name)
		if !isParam {
			return &domain.ValidationError{Object: obj.Name(), Key: name, Reason: "computed property is read-only", Value: value}
		}
		if c, ok := p.Type.(param.Coercer); ok && value != nil {
			cv, err := c.Coerce(value)
			if err != nil {
				return &domain.ValidationError{Object: obj.Name(), Key: name, Reason: err.Error(), Value: value}
			}
			value = cv
		}
		return obj.Set(name, value)
	})
}

// Persist saves the current values of obj under key.
func (a *App) Persist(ctx context.Context, key string, obj param.Parameterized) error {
	if a.persist == nil {
		return ErrNoStore
	}
	var snap *domain.Snapshot
	if err := a.call(ctx, func(context.Context) error {
		snap = persistence.Capture(key, obj)
		return nil
	}); err != nil {
		return err
	}
	if err := a.persist.Save(ctx, key, snap); err != nil {
		return fmt.Errorf("persist %s: %w", key, err)
	}
	a.logger.Debug("snapshot saved", "key", key, "values", len(snap.Values))
	return nil
}

// Restore applies the values stored under key to obj. When nothing is stored
// yet the current values are saved instead and restored reports false.
func (a *App) Restore(ctx context.Context, key string, obj param.Parameterized) (restored bool, err error) {
	if a.persist == nil {
		return false, ErrNoStore
	}
	var current *domain.Snapshot
	if err := a.call(ctx, func(context.Context) error {
		current = persistence.Capture(key, obj)
		return nil
	}); err != nil {
		return false, err
	}
	snap, created, err := a.persist.LoadOrInit(ctx, key, current)
	if err != nil {
		return false, fmt.Errorf("restore %s: %w", key, err)
	}
	if created {
		return false, nil
	}
	err = a.call(ctx, func(context.Context) error {
		applied, err := persistence.Restore(obj, snap)
		a.logger.Debug("snapshot restored", "key", key, "applied", len(applied))
		return err
	})
	return err == nil, err
}

// Close closes every session and stops the loop.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	err := a.call(ctx, func(ctx context.Context) error {
		a.registry.Range(func(s *session.Session) bool {
			if err := s.Close(ctx); err != nil {
				errs = append(errs, err)
			}
			return true
		})
		return nil
	})
	a.sched.Close()
	return errors.Join(append(errs, err)...)
}
