package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aretw0/tether/internal/config"
	"github.com/aretw0/tether/internal/presentation/tui"
	thttp "github.com/aretw0/tether/pkg/adapters/http"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the configured widgets over HTTP",
	Long: `Starts the event loop and the HTTP server. Clients open sessions over
WebSocket (/ws) or Server-Sent Events (/events); the REST API under
/sessions inspects and edits live state.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Addr = addr
		}
		if term.IsTerminal(int(os.Stderr.Fd())) && !cfg.Log.JSON {
			tui.PrintBanner(os.Stderr)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		d, err := newDemo(ctx, cfg, logger)
		if err != nil {
			return err
		}
		handler, err := d.httpHandler(cfg)
		if err != nil {
			return err
		}
		d.restore(ctx)

		loopCtx, cancelLoop := context.WithCancel(context.Background())
		defer cancelLoop()
		loopErr := make(chan error, 1)
		go func() { loopErr <- d.app.Run(loopCtx) }()

		srv := &http.Server{Addr: cfg.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("listening", "addr", cfg.Addr, "widgets", d.order)
			serverErrors <- srv.ListenAndServe()
		}()

		var runErr error
		select {
		case err := <-serverErrors:
			runErr = fmt.Errorf("server: %w", err)
		case err := <-loopErr:
			loopErr <- err
			runErr = fmt.Errorf("event loop: %w", err)
		case <-ctx.Done():
			logger.Info("shutting down", "timeout", cfg.ShutdownTimeout)
		}
		return errors.Join(runErr, d.shutdown(srv, cfg.ShutdownTimeout, cancelLoop, loopErr))
	},
}

// httpHandler mounts the REST, SSE and WebSocket surfaces on one router.
func (d *demo) httpHandler(cfg config.Config) (http.Handler, error) {
	opts := []thttp.Option{
		thttp.WithLogger(d.logger),
		thttp.WithStreamBuffer(cfg.StreamBuffer),
	}
	if d.metrics != nil {
		opts = append(opts, thttp.WithMetrics(d.metrics.Handler()))
	}
	return thttp.NewHandler(d.app, opts...)
}

// shutdown stops accepting requests, saves widget state while the loop still
// runs, then stops the loop and closes what is left.
func (d *demo) shutdown(srv *http.Server, timeout time.Duration, cancelLoop context.CancelFunc, loopErr <-chan error) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs = append(errs, fmt.Errorf("graceful shutdown did not complete in %v: %w", timeout, err))
		_ = srv.Close()
	}
	d.persist(ctx)

	cancelLoop()
	select {
	case <-loopErr:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	if err := d.close(ctx); err != nil {
		errs = append(errs, err)
	}
	d.logger.Info("stopped")
	return errors.Join(errs...)
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("addr", "a", "", "Address to listen on; overrides the configuration")
}
