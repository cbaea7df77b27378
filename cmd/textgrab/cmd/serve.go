package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MeKo-Tech/textgrab/internal/config"
	"github.com/MeKo-Tech/textgrab/internal/server"
	"github.com/spf13/cobra"
)

func (a *app) serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP extraction service",
		Long: `Start an HTTP server exposing the extraction pipeline.

Endpoints:
  POST /extract     multipart upload with an "image" field (or "image_base64")
  GET  /ws/extract  WebSocket extraction with progress messages
  GET  /health      health check
  GET  /metrics     Prometheus metrics

Examples:
  textgrab serve
  textgrab serve --host 0.0.0.0 --port 3000
  textgrab serve --rate-limit-enabled --requests-per-minute 30`,
		Args: cobra.NoArgs,
		RunE: a.runServe,
	}
	d := config.DefaultConfig().Server
	f := cmd.Flags()
	f.StringP("host", "H", d.Host, "server host")
	f.IntP("port", "p", d.Port, "server port")
	f.String("cors-origin", d.CORSOrigin, "CORS allowed origin")
	f.Int("max-upload-size", d.MaxUploadMB, "maximum upload size in MB")
	f.Int("timeout", d.TimeoutSec, "request timeout in seconds")
	f.Int("shutdown-timeout", d.ShutdownTimeout, "shutdown timeout in seconds")
	f.Bool("rate-limit-enabled", d.RateLimit.Enabled, "enable per client rate limiting")
	f.Int("requests-per-minute", d.RateLimit.RequestsPerMinute, "maximum requests per minute per client")
	f.Int("requests-per-hour", d.RateLimit.RequestsPerHour, "maximum requests per hour per client")
	f.Int("max-requests-per-day", d.RateLimit.MaxRequestsPerDay, "maximum requests per day per client (0 = unlimited)")
	f.Int("max-data-per-day", d.RateLimit.MaxDataPerDayMB, "maximum upload volume per day per client in MB (0 = unlimited)")
	return cmd
}

// serverConfig merges the configuration file with changed flags.
func (a *app) serverConfig(cmd *cobra.Command) (config.ServerConfig, error) {
	sc := a.cfg.Server
	f := cmd.Flags()
	if f.Changed("host") {
		sc.Host, _ = f.GetString("host")
	}
	if f.Changed("port") {
		sc.Port, _ = f.GetInt("port")
	}
	if f.Changed("cors-origin") {
		sc.CORSOrigin, _ = f.GetString("cors-origin")
	}
	if f.Changed("max-upload-size") {
		sc.MaxUploadMB, _ = f.GetInt("max-upload-size")
	}
	if f.Changed("timeout") {
		sc.TimeoutSec, _ = f.GetInt("timeout")
	}
	if f.Changed("shutdown-timeout") {
		sc.ShutdownTimeout, _ = f.GetInt("shutdown-timeout")
	}
	if f.Changed("rate-limit-enabled") {
		sc.RateLimit.Enabled, _ = f.GetBool("rate-limit-enabled")
	}
	if f.Changed("requests-per-minute") {
		sc.RateLimit.RequestsPerMinute, _ = f.GetInt("requests-per-minute")
	}
	if f.Changed("requests-per-hour") {
		sc.RateLimit.RequestsPerHour, _ = f.GetInt("requests-per-hour")
	}
	if f.Changed("max-requests-per-day") {
		sc.RateLimit.MaxRequestsPerDay, _ = f.GetInt("max-requests-per-day")
	}
	if f.Changed("max-data-per-day") {
		sc.RateLimit.MaxDataPerDayMB, _ = f.GetInt("max-data-per-day")
	}

	switch {
	case sc.Port < 1 || sc.Port > 65535:
		return sc, fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", sc.Port)
	case sc.MaxUploadMB <= 0:
		return sc, fmt.Errorf("invalid max upload size: %d MB", sc.MaxUploadMB)
	case sc.TimeoutSec <= 0:
		return sc, fmt.Errorf("invalid timeout: %d seconds", sc.TimeoutSec)
	}
	return sc, nil
}

// buildServer initializes the pipeline and wires it into an http.Server.
func (a *app) buildServer(sc config.ServerConfig) (*http.Server, *server.Server, error) {
	p, err := a.newPipeline(a.cfg.ExtractConfig())
	if err != nil {
		return nil, nil, err
	}
	srv, err := server.NewServer(server.Config{
		Host:        sc.Host,
		Port:        sc.Port,
		CORSOrigin:  sc.CORSOrigin,
		MaxUploadMB: int64(sc.MaxUploadMB),
		TimeoutSec:  sc.TimeoutSec,
		RateLimit: server.RateLimitConfig{
			Enabled:           sc.RateLimit.Enabled,
			RequestsPerMinute: sc.RateLimit.RequestsPerMinute,
			RequestsPerHour:   sc.RateLimit.RequestsPerHour,
			MaxRequestsPerDay: sc.RateLimit.MaxRequestsPerDay,
			MaxDataPerDayMB:   int64(sc.RateLimit.MaxDataPerDayMB),
		},
	}, p)
	if err != nil {
		_ = p.Close()
		return nil, nil, fmt.Errorf("failed to initialize server: %w", err)
	}

	timeout := time.Duration(sc.TimeoutSec) * time.Second
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", sc.Host, sc.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       timeout,
		// leave headroom to write the timeout response itself
		WriteTimeout: timeout + 5*time.Second,
	}
	return httpServer, srv, nil
}

func (a *app) runServe(cmd *cobra.Command, _ []string) error {
	sc, err := a.serverConfig(cmd)
	if err != nil {
		return err
	}
	httpServer, srv, err := a.buildServer(sc)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return serve(ctx, httpServer, srv, time.Duration(sc.ShutdownTimeout)*time.Second)
}

// serve runs httpServer until ctx is done or the listener fails, then shuts
// down gracefully and releases the pipeline.
func serve(ctx context.Context, httpServer *http.Server, srv *server.Server, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting extraction server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("Received shutdown signal")
	case err, ok := <-errCh:
		if ok {
			slog.Error("Server error", "error", err)
			serveErr = fmt.Errorf("listen: %w", err)
		}
	}

	slog.Info("Starting graceful shutdown", "timeout", shutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Close(); err != nil {
		slog.Error("Server cleanup error", "error", err)
	}
	slog.Info("Graceful shutdown completed")
	return serveErr
}
