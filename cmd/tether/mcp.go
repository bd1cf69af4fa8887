package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aretw0/tether/pkg/adapters/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the Model Context Protocol (MCP) server",
	Long: `Starts the event loop and the HTTP server like serve, and exposes the live
sessions to MCP clients as tools.

Supported Transports:
- stdio (default): Uses Standard Input/Output. Ideal for local process integration.
- sse: Uses Server-Sent Events over HTTP. Ideal for remote agents or debuggers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		transport, _ := cmd.Flags().GetString("transport")
		mcpAddr, _ := cmd.Flags().GetString("mcp-addr")

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
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server failed", "err", err)
			}
		}()

		srvMCP := mcp.NewServer(d.app, logger)
		var runErr error
		switch transport {
		case "stdio":
			// Ensure logs don't corrupt JSON-RPC on Stdout
			log.SetOutput(os.Stderr)
			logger.Info("starting MCP server (stdio)", "http_addr", cfg.Addr)
			runErr = srvMCP.ServeStdio()
		case "sse":
			logger.Info("starting MCP server (SSE)", "addr", mcpAddr, "http_addr", cfg.Addr)
			runErr = srvMCP.ServeSSE(ctx, mcpAddr, "http://localhost"+mcpAddr)
			if errors.Is(runErr, http.ErrServerClosed) {
				runErr = nil
			}
		default:
			runErr = fmt.Errorf("unknown transport %q; supported: stdio, sse", transport)
		}
		return errors.Join(runErr, d.shutdown(srv, cfg.ShutdownTimeout, cancelLoop, loopErr))
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().String("transport", "stdio", "Transport protocol to use: 'stdio' or 'sse'")
	mcpCmd.Flags().String("mcp-addr", ":8081", "Address for the MCP SSE server")
}
