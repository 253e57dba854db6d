// Package main provides the local sync server for desktop platforms.
// Desktop clients communicate via REST/WebSocket on localhost:8090.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kimhsiao/memonexus/syncengine/cmd/desktop/handlers"
	"github.com/kimhsiao/memonexus/syncengine/internal/app"
	"github.com/kimhsiao/memonexus/syncengine/internal/config"
	"github.com/kimhsiao/memonexus/syncengine/internal/logging"
	"github.com/kimhsiao/memonexus/syncengine/internal/sync"
	"github.com/kimhsiao/memonexus/syncengine/internal/telemetry"
)

const (
	serviceName     = "syncengine-desktop"
	shutdownTimeout = 10 * time.Second
)

func main() {
	configPath := flag.String("config", "", "path to config.toml")
	assumeOnline := flag.Bool("assume-online", false, "skip the connectivity probe and treat the network as reachable")
	flag.Parse()

	if err := run(*configPath, *assumeOnline); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

func run(configPath string, assumeOnline bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logOut, closeLog, err := openLog(cfg.LogPath())
	if err != nil {
		return err
	}
	defer closeLog()
	logging.Init(logOut, logging.ParseLevel(cfg.LogLevel))
	defer logging.Get().Sync()

	a, err := app.Build(cfg, app.Options{AssumeOnline: assumeOnline})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logging.Error("Shutdown incomplete", err)
		}
	}()

	hub := NewWSHub()
	defer hub.Stop()
	unsubscribe := a.Engine.Subscribe(hub.Forward)
	defer unsubscribe()
	stats := telemetry.NewCollector()
	unsubscribeStats := a.Engine.Subscribe(stats.Handle)
	defer unsubscribeStats()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		// The engine keeps serving status and enqueue calls.
		logging.Error("Engine started without a readable queue", err)
	}

	server := &http.Server{
		Addr:              cfg.APIBind,
		Handler:           newMux(a.Engine, hub, stats),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logging.Info("Desktop sync server starting", map[string]interface{}{"addr": cfg.APIBind})
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logging.Info("Shutting down desktop sync server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// newMux registers the health, sync and WebSocket routes.
func newMux(engine sync.SyncEngineInterface, hub *WSHub, stats *telemetry.Collector) *http.ServeMux {
	h := handlers.NewSyncHandler(engine)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","service":"` + serviceName + `"}`))
	})
	mux.HandleFunc("GET /api/sync/status", h.GetStatus)
	mux.HandleFunc("GET /api/sync/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(stats.Snapshot()); err != nil {
			logging.Error("Failed to encode stats", err)
		}
	})
	mux.HandleFunc("POST /api/sync/trigger", h.TriggerSync)
	mux.HandleFunc("GET /api/sync/queue", h.ListQueue)
	mux.HandleFunc("POST /api/sync/queue", h.Enqueue)
	mux.HandleFunc("DELETE /api/sync/queue/{id}", h.RemoveQueued)
	mux.HandleFunc("GET /ws", HandleWebSocket(hub))
	return mux
}

// openLog appends to path and mirrors to stdout.
func openLog(path string) (io.Writer, func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return io.MultiWriter(os.Stdout, f), func() { f.Close() }, nil
}
