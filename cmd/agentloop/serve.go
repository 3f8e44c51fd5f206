package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpserver "github.com/fyrsmithlabs/agentloop/internal/http"
)

var (
	// serve flags
	serveHost       string
	servePort       int
	serveRoots      []string
	serveMCPCommand string
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (overrides server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides server.port)")
	serveCmd.Flags().StringSliceVar(&serveRoots, "root", nil, "Directories the builtin filesystem tools may read (overrides server.roots)")
	serveCmd.Flags().StringVar(&serveMCPCommand, "mcp", "", "Command that starts an MCP server whose tools are added to the builtins")
}

// serveCmd exposes runs and stored state over HTTP
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the run API over HTTP",
	Long: `Serve starts an HTTP API. Runs execute within the request; a client that
disconnects aborts its run, which stays resumable from its checkpoint.

Endpoints:
  POST /api/v1/runs             {"goal": "...", "type": "..."}
  POST /api/v1/runs/resume      {"checkpoint_id": "...", "clarification": "..."}
  GET  /api/v1/tools
  GET  /api/v1/checkpoints[/:id]
  GET  /api/v1/episodes?query=...&type=...&limit=...
  GET  /health, /metrics`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		sc := a.cfg.Server
		if serveHost != "" {
			sc.Host = serveHost
		}
		if servePort != 0 {
			sc.Port = servePort
		}
		roots := serveRoots
		if len(roots) == 0 {
			roots = sc.Roots
		}

		model, err := a.openModel()
		if err != nil {
			return err
		}
		exec, err := a.openTools(ctx, roots, serveMCPCommand)
		if err != nil {
			return err
		}
		o, err := a.orchestrator(model, nil)
		if err != nil {
			return err
		}

		srv, err := httpserver.NewServer(o, a.memory, exec, a.logger, &httpserver.Config{Host: sc.Host, Port: sc.Port})
		if err != nil {
			return err
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start()
		}()

		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sc.ShutdownTimeout.Duration())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn(shutdownCtx, "http server did not shut down cleanly", zap.Error(err))
			return err
		}
		return nil
	},
}
