// Command canvasguardd is the canvas repair coordinator daemon: it
// hosts the connection registry, the session orchestrator, the
// persistence store, and the worker/UI websocket + session-lifecycle
// HTTP surface in a single process.
//
// Usage:
//
//	canvasguardd [-addr=:8080] [-bootstrap=guardconfig.toml]
//
// Environment variables:
//
//	DATABASE_URL - path to the local SQLite data file (default ./canvasguard.db)
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andrewboldi/canvasguard/internal/battracker"
	"github.com/andrewboldi/canvasguard/internal/guardconfig"
	"github.com/andrewboldi/canvasguard/internal/guarddata"
	"github.com/andrewboldi/canvasguard/internal/httpapi"
	"github.com/andrewboldi/canvasguard/internal/lockout"
	"github.com/andrewboldi/canvasguard/internal/orchestrator"
	"github.com/andrewboldi/canvasguard/internal/registry"
	"github.com/andrewboldi/canvasguard/internal/store"
	"github.com/andrewboldi/canvasguard/internal/wire"
	"github.com/andrewboldi/canvasguard/internal/wsconn"
)

var (
	addr          = flag.String("addr", ":8080", "HTTP listen address")
	bootstrapPath = flag.String("bootstrap", "", "optional TOML file of default guard config settings")
)

func main() {
	flag.Parse()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := run(logger); err != nil {
		logger.Error("daemon exited with error", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	dbPath := os.Getenv("DATABASE_URL")
	if dbPath == "" {
		dbPath = "./canvasguard.db"
	}

	cfg := guardconfig.New()
	if *bootstrapPath != "" {
		loaded, err := guardconfig.LoadBootstrap(*bootstrapPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(ctx, dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	guardDataStore := guarddata.New()
	hooks := &favoriteHooks{config: cfg, guardData: guardDataStore, logger: logger}
	reg := registry.New(hooks, logger)
	hooks.registry = reg

	tracker := battracker.New()
	lockoutSet := lockout.New()
	orch := orchestrator.New(reg, st, cfg, tracker, lockoutSet, nil, nil, logger)

	wsHandler := wsconn.NewWorkerHandler(reg, orch, logger)
	uiHandler := wsconn.NewUIHandler(reg, store.NewUILister(st), guardDataStore, logger)
	httpServer := httpapi.NewServer(*addr, orch, st, guardDataStore, wsHandler, uiHandler, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
		cancel()
	}()

	return httpServer.Start()
}

// favoriteHooks implements registry.FavoriteHooks: on election it pushes
// the current guard config and the last uploaded guard data to the new
// favorite, so it never has to wait for an out-of-band refresh.
type favoriteHooks struct {
	registry  *registry.Registry
	config    *guardconfig.Config
	guardData *guarddata.Store
	logger    *slog.Logger
}

func (h *favoriteHooks) OnFavoriteElected(workerID string) {
	payload := wire.NewGuardConfigPayload(h.config)
	if err := h.registry.SendToSlave(workerID, wire.TypeGuardConfig, payload); err != nil {
		h.logger.Warn("pushing guard config to new favorite failed", "worker_id", workerID, "error", err)
	}

	raw, ok := h.guardData.Get()
	if !ok {
		return
	}
	if err := h.registry.SendToSlave(workerID, wire.TypeGuardData, wire.GuardDataPayload{Type: wire.TypeGuardData, Data: raw}); err != nil {
		h.logger.Warn("pushing guard data to new favorite failed", "worker_id", workerID, "error", err)
	}
}
