package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ledgerkit/searchd/internal/config"
	"github.com/ledgerkit/searchd/internal/engine"
	"github.com/ledgerkit/searchd/internal/engine/elastic"
	logpkg "github.com/ledgerkit/searchd/internal/logger"
	"github.com/ledgerkit/searchd/internal/metrics"
	tenantrepo "github.com/ledgerkit/searchd/internal/repository/tenant"
	"github.com/ledgerkit/searchd/internal/search"
	chiTransport "github.com/ledgerkit/searchd/internal/transport/chi"
	"github.com/ledgerkit/searchd/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting searchd API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("engine_addrs", cfg.Engine.Addresses),
	)

	// The driver dials lazily: a cluster outage at boot must not keep the
	// process down, searches just degrade to empty until it recovers.
	driver := search.NewDriver(func() (engine.Engine, error) {
		// Return nil interface, not a typed nil pointer, on failure.
		c, err := elastic.NewClient(elastic.Config{
			Addresses: cfg.Engine.Addresses,
			Username:  cfg.Engine.Username,
			Password:  cfg.Engine.Password,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	}, nil, nil, logger)
	defer driver.Close()

	ctx := context.Background()
	if err := driver.Ping(ctx); err != nil {
		logger.Warn("Search cluster not reachable at startup", zap.Error(err))
	} else {
		logger.Info("Connected to search cluster")
	}

	// Orphan cleaner — needs the system of record
	var stopCleaner func()
	if cfg.Cleaner.IntervalSec > 0 {
		source, err := tenantrepo.Open(ctx, cfg.Source.PostgresDSN)
		if err != nil {
			logger.Fatal("Failed to connect to tenant database", zap.Error(err))
		}
		defer func() { _ = source.Close() }()

		cleaner := search.NewCleaner(driver, source, logger)
		stopCleaner = startCleanerLoop(cleaner, time.Duration(cfg.Cleaner.IntervalSec)*time.Second, logger)
	}

	server := chiTransport.NewServer(driver, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	if stopCleaner != nil {
		stopCleaner()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// startCleanerLoop runs the orphan cleaner on a fixed interval until the
// returned stop function is called.
func startCleanerLoop(cleaner *search.Cleaner, interval time.Duration, logger *zap.Logger) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				if _, err := cleaner.Run(ctx); err != nil {
					logger.Error("Cleaner pass failed", zap.Error(err))
				}
				cancel()
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
	}
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			// Set X-Request-ID in response header
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
