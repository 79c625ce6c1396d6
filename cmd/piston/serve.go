package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelbrown/piston-go/internal/observability"
	"github.com/michaelbrown/piston-go/internal/sandbox"
	"github.com/michaelbrown/piston-go/internal/server"
)

var portFlag int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP gateway",
	Long: `Start an HTTP gateway in front of the Piston service with REST and
WebSocket endpoints. Executions go through the configured policy and are
recorded in the history.

Endpoints:
  POST   /api/execute     run a job, ergonomic JSON in and out
  GET    /api/runtimes    runtime catalog (?language= filters)
  GET    /api/runs        history (?outcome=&limit=&offset=)
  GET    /api/runs/{id}   one run
  DELETE /api/runs/{id}   delete a run
  GET    /api/ws          execute channel
  GET    /metrics         Prometheus metrics

Examples:
  piston serve
  piston serve --port 9090`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	obs, err := observability.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := obs.Shutdown(ctx); err != nil {
			logger.Warn("flushing traces failed", zap.Error(err))
		}
	}()

	store, err := openStore()
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	// Determine port
	port := cfg.Server.Port
	if portFlag > 0 {
		port = portFlag
	}

	srv := server.New(server.Options{
		API:    newClient(obs),
		Policy: sandbox.PolicyFromConfig(cfg),
		Store:  store,
		Obs:    obs,
		Logger: logger,
	})

	// Graceful shutdown on SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-sigCh
		if err := srv.Shutdown(context.Background()); err != nil {
			logger.Warn("shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("forwarding to piston API", zap.String("base_url", cfg.BaseURL))
	if err := srv.Start(port); err != nil {
		return fmt.Errorf("serving: %w", err)
	}
	<-shutdownDone
	return nil
}
