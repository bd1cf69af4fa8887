package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aretw0/tether"
	"github.com/aretw0/tether/internal/config"
	"github.com/aretw0/tether/pkg/adapters/file"
	"github.com/aretw0/tether/pkg/adapters/memory"
	"github.com/aretw0/tether/pkg/adapters/redis"
	"github.com/aretw0/tether/pkg/observability"
	"github.com/aretw0/tether/pkg/param"
	"github.com/aretw0/tether/pkg/persistence"
	"github.com/aretw0/tether/pkg/persistence/middleware"
	"github.com/aretw0/tether/pkg/ports"
	"github.com/aretw0/tether/pkg/widgets"
)

// demo is an app serving the configured catalog widgets to every session.
type demo struct {
	app     *tether.App
	widgets map[string]param.Parameterized
	order   []string
	metrics *observability.Metrics
	closers []func() error
	logger  *slog.Logger
}

func newDemo(ctx context.Context, cfg config.Config, logger *slog.Logger) (*demo, error) {
	d := &demo{widgets: make(map[string]param.Parameterized), logger: logger}

	opts := []tether.Option{
		tether.WithName(cfg.Name),
		tether.WithLogger(logger),
		tether.WithMaxDeferredRounds(cfg.MaxDeferredRounds),
		tether.WithLifecycleHooks(observability.LogHooks(logger)),
	}
	if cfg.Metrics {
		d.metrics = observability.NewMetrics(observability.WithRuntimeMetrics())
		opts = append(opts, tether.WithLifecycleHooks(d.metrics.Hooks()))
	}
	store, storeOpts, err := d.openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	opts = append(opts, tether.WithSnapshotStore(store, storeOpts...))

	var roots []param.Parameterized
	app, err := tether.New(func(string) ([]param.Parameterized, error) { return roots, nil }, opts...)
	if err != nil {
		return nil, err
	}
	d.app = app

	for _, name := range cfg.Widgets {
		if _, dup := d.widgets[name]; dup {
			continue
		}
		w, err := widgets.Build(name, app.Deferrer())
		if err != nil {
			return nil, err
		}
		d.widgets[name] = w
		d.order = append(d.order, name)
		roots = append(roots, w)
	}
	return d, nil
}

// openStore builds the snapshot store selected by cfg, wrapped in the
// redaction and encryption middleware it asks for.
func (d *demo) openStore(ctx context.Context, cfg config.StoreConfig) (ports.SnapshotStore, []persistence.Option, error) {
	var (
		store ports.SnapshotStore
		opts  []persistence.Option
	)
	switch cfg.Driver {
	case config.DriverFile:
		store = file.New(cfg.Dir)
	case config.DriverRedis:
		rs, err := redis.NewFromURL(cfg.URL, redis.WithTTL(cfg.TTL))
		if err != nil {
			return nil, nil, fmt.Errorf("redis store: %w", err)
		}
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			return nil, nil, fmt.Errorf("redis store: %w", err)
		}
		d.closers = append(d.closers, rs.Close)
		if cfg.Lock {
			opts = append(opts, persistence.WithLocker(redis.NewLocker(rs.Client(), "tether:")))
		}
		store = rs
	default:
		store = memory.NewStore()
	}

	var mws []middleware.Middleware
	if len(cfg.Redact) > 0 {
		mws = append(mws, middleware.NewRedactMiddleware(cfg.Redact))
	}
	if cfg.EncryptionKey != "" {
		key, err := cfg.Key()
		if err != nil {
			return nil, nil, err
		}
		mws = append(mws, middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key}))
	}
	d.logger.Debug("snapshot store ready", "driver", cfg.Driver, "middleware", len(mws))
	return middleware.Chain(store, mws...), opts, nil
}

// restore loads the saved values of every widget.
func (d *demo) restore(ctx context.Context) {
	for _, name := range d.order {
		restored, err := d.app.Restore(ctx, snapshotKey(name), d.widgets[name])
		if err != nil {
			d.logger.Warn("restore failed", "widget", name, "err", err)
			continue
		}
		d.logger.Debug("widget state", "widget", name, "restored", restored)
	}
}

// persist saves the current values of every widget.
func (d *demo) persist(ctx context.Context) {
	for _, name := range d.order {
		if err := d.app.Persist(ctx, snapshotKey(name), d.widgets[name]); err != nil {
			d.logger.Warn("persist failed", "widget", name, "err", err)
		}
	}
}

func (d *demo) close(ctx context.Context) error {
	err := d.app.Close(ctx)
	for _, c := range d.closers {
		if cerr := c(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func snapshotKey(widget string) string { return "widget:" + widget }
