// relaychat relay server: forwards chat, upload and document-index requests
// to the model vendor with the server's API key.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/relaychat/internal/config"
	"github.com/ashureev/relaychat/internal/middleware"
	"github.com/ashureev/relaychat/internal/proxy"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.LoadServer()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := cfg.Log.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	if cfg.APIKey() == "" {
		slog.Warn("API key not set; relay requests will fail until it is", "env", cfg.APIKeyEnv)
	}
	slog.Info("Starting relay", "port", cfg.Port, "upstream", cfg.UpstreamBaseURL)

	relayHandler := proxy.NewHandler(cfg.APIKey, cfg.UpstreamBaseURL, cfg.MaxRequestBodyBytes, nil)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(middleware.CORSOptions{
		AllowedOrigins: cfg.AllowedOrigins,
		MaxAge:         600,
	}))

	if cfg.RateLimitPerMinute > 0 {
		limiter := middleware.NewRateLimiter(float64(cfg.RateLimitPerMinute)/60, cfg.RateLimitBurst)
		r.Use(limiter.Handler)
	}

	relayHandler.RegisterRoutes(r)

	// Note: streamed responses require no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
