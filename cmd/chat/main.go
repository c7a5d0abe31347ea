// relaychat terminal client: chats with a hosted model through the relay and
// keeps conversations in a local database.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ashureev/relaychat/internal/chat"
	"github.com/ashureev/relaychat/internal/config"
	"github.com/ashureev/relaychat/internal/render"
	"github.com/ashureev/relaychat/internal/store"
	"github.com/ashureev/relaychat/internal/viewsync"
	"github.com/ashureev/relaychat/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/peterh/liner"
	"golang.org/x/term"
)

func main() {
	if err := run(); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	envLoaded := loadDotEnv()

	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}
	slog.SetDefault(cfg.Log.NewLogger(os.Stderr))
	if !envLoaded {
		slog.Info("No .env file found, using environment variables")
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
	}
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := repo.Close(); err != nil {
			slog.Error("Failed to close database", "error", err)
		}
	}()

	var sink render.Sink = render.NewPrinter(os.Stdout, terminalWidth, terminalRenderer())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	if cfg.ViewAddr != "" {
		hub := viewsync.NewHub(render.NewHTML())
		sink = render.Multi{sink, hub}
		srv := newViewServer(cfg.ViewAddr, hub)
		go func() {
			slog.Info("Live view listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Live view failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("Live view forced to shutdown", "error", err)
			}
		}()
	}

	creds := chat.NewSettingsCredentials(repo)
	a := &app{creds: creds, models: cfg.Models, out: os.Stdout}
	a.orch = chat.NewOrchestrator(repo, chat.NewClient(cfg.ProxyURL, nil), sink, creds, chat.Options{
		Model:       cfg.Model,
		ImageModels: cfg.ImageModels,
		OnSidebar:   a.setSidebar,
	})
	if err := a.orch.NewChat(ctx); err != nil {
		return err
	}

	return repl(ctx, a, filepath.Join(filepath.Dir(cfg.DBPath), "history"))
}

// loadDotEnv loads variables from files (default ".env") without overriding
// ones already set. It reports whether a file was read.
func loadDotEnv(files ...string) bool {
	return godotenv.Load(files...) == nil
}

func repl(ctx context.Context, a *app, historyFile string) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	if f, err := os.Open(historyFile); err == nil {
		if _, err := line.ReadHistory(f); err != nil {
			slog.Debug("Failed to read history", "error", err)
		}
		f.Close()
	}
	defer func() {
		f, err := os.OpenFile(historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			slog.Debug("Failed to open history file", "error", err)
			return
		}
		defer f.Close()
		if _, err := line.WriteHistory(f); err != nil {
			slog.Debug("Failed to write history", "error", err)
		}
	}()

	for ctx.Err() == nil {
		input, err := line.Prompt("you> ")
		if err != nil {
			// Ctrl+C at the prompt or end of input.
			fmt.Println()
			return nil
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		// Ctrl+C while a reply streams cancels that turn only.
		turnCtx, cancel := signal.NotifyContext(ctx, os.Interrupt)
		quit, err := a.handle(turnCtx, input)
		cancel()
		if err != nil {
			printError(os.Stdout, err)
		}
		if quit {
			return nil
		}
	}
	return nil
}

func newViewServer(addr string, hub *viewsync.Hub) *http.Server {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	viewsync.NewHandler(hub, nil).RegisterRoutes(r)
	r.Handle("/*", web.Handler())

	return &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
}

func terminalWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 0
	}
	w, _, err := term.GetSize(fd)
	if err != nil {
		return 0
	}
	return w
}

func terminalRenderer() render.RichText {
	w := terminalWidth()
	if w == 0 {
		return render.Plain{}
	}
	r, err := render.NewTerminal(w)
	if err != nil {
		slog.Warn("Falling back to plain output", "error", err)
		return render.Plain{}
	}
	return r
}
