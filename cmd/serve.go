package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/loaderland/concept-runner/internal/api"
)

var (
	serveHTTP bool
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the pipeline as MCP tools on stdio, or as a read-only HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if !serveHTTP {
			return server.ServeStdio(api.NewMCPServer(env.Pipeline))
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: api.NewRouter(env.Pipeline),
		}

		// Graceful shutdown. The signal context is already canceled here, so
		// draining needs its own deadline.
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveHTTP, "http", false, "serve the read-only HTTP API instead of MCP stdio")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "HTTP server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
