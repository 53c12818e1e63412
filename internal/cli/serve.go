package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/khanglvm/review-memory/internal/engine"
	"github.com/khanglvm/review-memory/internal/mcp"
)

// NewServeCmd creates the 'serve' command for running the MCP server.
//
// This is the command AI clients launch. It exposes the memory tools via
// stdio transport:
// - memory_context, memory_learn
// - memory_session_start, memory_session_end, memory_session_stats
func NewServeCmd(opts *Options) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server (stdio transport)",
		Long: `Start the review-memory MCP server using stdio transport.

This server exposes 5 tools to AI clients:
  • memory_context       - Ranked, token-budgeted history for the files under review
  • memory_learn         - Store a finished review and learn from it
  • memory_session_start - Open a learning session for one review run
  • memory_session_end   - Close the session and reinforce its concept pairs
  • memory_session_stats - Report recent learning sessions

A session left open when the server stops is ended on shutdown.`,
		Example: `  # Run directly
  review-memory serve

  # Add to Claude Code
  claude mcp add review-memory -- review-memory serve

  # Expose Prometheus metrics
  review-memory serve --metrics-addr localhost:9464`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts, metricsAddr)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address at /metrics")
	return cmd
}

// runServe starts the MCP server with stdio transport and signal handling.
// Implements graceful shutdown on SIGINT/SIGTERM/SIGQUIT.
func runServe(cmd *cobra.Command, opts *Options, metricsAddr string) error {
	e, logger, err := opts.openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	defer logger.Sync() //nolint:errcheck

	server := mcp.NewServer(e, logger.Named("mcp"))

	maintain(server.Context(), e, logger)

	if metricsAddr != "" {
		metricsSrv, _, err := startMetricsServer(metricsAddr, logger)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsSrv.Shutdown(ctx); err != nil {
				logger.Warn("metrics server shutdown failed", zap.Error(err))
			}
		}()
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sigChan)

	// Run server in separate goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Serve(cmd.InOrStdin(), cmd.OutOrStdout())
	}()

	// Wait for either signal or server error
	select {
	case sig := <-sigChan:
		logger.Info("shutting down", zap.String("signal", sig.String()))

		// Close server (ends the open session)
		if err := server.Close(); err != nil {
			logger.Error("error during shutdown", zap.Error(err))
			return err
		}

		logger.Info("shutdown complete")
		return nil

	case err := <-errChan:
		// Serve returned (stdin closed or error)
		// Still need to end the session
		if closeErr := server.Close(); closeErr != nil {
			logger.Error("error during cleanup", zap.Error(closeErr))
		}
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}

// maintain runs the retention sweep once at startup.
func maintain(ctx context.Context, e *engine.Engine, logger *zap.Logger) {
	if err := e.Maintain(ctx); err != nil {
		logger.Warn("retention sweep failed", zap.Error(err))
	}
}

// startMetricsServer serves /metrics until shut down and returns the bound
// address. The listener is bound before returning so address errors surface
// immediately.
func startMetricsServer(addr string, logger *zap.Logger) (*http.Server, string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, "", fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	bound := ln.Addr().String()
	logger.Info("serving metrics", zap.String("endpoint", "http://"+bound+"/metrics"))
	return srv, bound, nil
}
