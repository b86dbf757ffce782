// Command coordinatord runs the coordination core in one world process: it
// registers the world, serves an ambient health endpoint, and runs the
// periodic auto-execute sweep and (for executor worlds) the startup
// validity checks.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/anchorhq/anchord/internal/adapter/cachedstore"
	"github.com/anchorhq/anchord/internal/adapter/natskv"
	cfnats "github.com/anchorhq/anchord/internal/adapter/nats"
	"github.com/anchorhq/anchord/internal/adapter/otel"
	"github.com/anchorhq/anchord/internal/adapter/postgres"
	"github.com/anchorhq/anchord/internal/adapter/ristretto"
	"github.com/anchorhq/anchord/internal/adapter/tiered"
	"github.com/anchorhq/anchord/internal/adapter/ws"
	"github.com/anchorhq/anchord/internal/config"
	"github.com/anchorhq/anchord/internal/domain/world"
	"github.com/anchorhq/anchord/internal/logger"
	"github.com/anchorhq/anchord/internal/port/worldregistry"
	"github.com/anchorhq/anchord/internal/resilience"
	"github.com/anchorhq/anchord/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer closeLog.Close()

	selfID, err := selfWorldID(cfg.World.ID)
	if err != nil {
		return fmt.Errorf("world id: %w", err)
	}
	kind := world.Kind(cfg.World.Kind)

	slog.Info("config loaded",
		"world_id", selfID, "world_kind", kind,
		"port", cfg.Server.Port, "pg_max_conns", cfg.Postgres.MaxConns)

	ctx := context.Background()

	shutdownOtel, err := otel.Init(ctx, cfg.Logging.Service, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	conn, err := cfnats.Connect(cfg.NATS.URL, breaker)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = conn.Close() }()

	planCache, err := newCache(ctx, conn, cfg.Cache)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	registry := postgres.NewRegistry(pool)
	locks := postgres.NewLockTable(pool)
	store := cachedstore.Wrap(postgres.NewPlanStore(pool), planCache, cfg.Cache.L2TTL)
	hub := ws.NewHub()

	self := world.World{ID: selfID, Kind: kind, LastSeen: time.Now().UTC()}
	if err := registry.Register(ctx, self); err != nil {
		return fmt.Errorf("register world: %w", err)
	}
	slog.Info("world registered", "world_id", selfID, "kind", kind)

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go heartbeatLoop(heartbeatCtx, registry, selfID, cfg.Coordinator.HeartbeatInterval)

	coord := &service.Coordinator{
		Store:                    store,
		Locks:                    locks,
		Registry:                 registry,
		Executor:                 nil, // the runtime executor is out of scope; dispatch always crosses the connector
		Conn:                     conn,
		Events:                   hub,
		SelfWorldID:              selfID,
		HeartbeatTimeout:         cfg.Coordinator.HeartbeatTimeout,
		MaxConcurrentDispatch:    cfg.Coordinator.MaxConcurrentDispatch,
		InvalidationRetryBackoff: cfg.Coordinator.InvalidationRetryBackoff,
	}

	if cfg.Coordinator.ValidityCheckOnStart && kind == world.KindExecutor {
		startupCtx, cancel := context.WithTimeout(ctx, cfg.Coordinator.HeartbeatTimeout)
		verdicts, err := coord.WorldsValidityCheck(startupCtx, true, world.Filter{})
		cancel()
		if err != nil {
			slog.Error("startup worlds validity check failed", "error", err)
		} else {
			slog.Info("startup worlds validity check complete", "verdicts", len(verdicts))
		}

		// Both checks run before the world announces itself ready: a world
		// validity check alone can leave orphaned locks behind from a world
		// that was already gone before this process existed.
		locksCtx, cancelLocks := context.WithTimeout(ctx, cfg.Coordinator.HeartbeatTimeout)
		cleaned, err := coord.CleanOrphanedLocks(locksCtx)
		cancelLocks()
		if err != nil {
			slog.Error("startup locks validity check failed", "error", err)
		} else {
			slog.Info("startup locks validity check complete", "cleaned", len(cleaned))
		}
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go autoExecuteLoop(sweepCtx, coord, cfg.Coordinator.AutoExecuteInterval)

	r := chi.NewRouter()
	r.Use(otel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Get("/healthz", healthHandler(selfID, kind))
	r.Get("/ws", hub.HandleWS)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down")

	stopHeartbeat()
	stopSweep()
	_ = registry.Deregister(context.Background(), selfID)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return shutdownOtel(shutdownCtx)
}

// selfWorldID parses the configured world ID, generating a fresh one when
// unset so a world never needs a pre-provisioned identity to start.
func selfWorldID(configured string) (uuid.UUID, error) {
	if configured == "" {
		return uuid.New(), nil
	}
	return uuid.Parse(configured)
}

// newCache builds the tiered L1 (in-process ristretto) + L2 (NATS JetStream
// KV) cache backing cachedstore's read-through plan lookups.
func newCache(ctx context.Context, conn *cfnats.Connector, cfg config.Cache) (*tiered.Cache, error) {
	l1, err := ristretto.New(cfg.L1MaxSizeMB * 1024 * 1024)
	if err != nil {
		return nil, fmt.Errorf("ristretto: %w", err)
	}

	js, err := jetstream.New(conn.Raw())
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: cfg.L2Bucket,
		TTL:    cfg.L2TTL,
	})
	if err != nil {
		return nil, fmt.Errorf("jetstream kv bucket %s: %w", cfg.L2Bucket, err)
	}

	l2 := natskv.New(kv)
	return tiered.New(l1, l2, cfg.L2TTL), nil
}

func heartbeatLoop(ctx context.Context, registry worldregistry.Registry, selfID uuid.UUID, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := registry.Heartbeat(ctx, selfID, time.Now().UTC()); err != nil {
				slog.Error("heartbeat failed", "error", err)
			}
		}
	}
}

func autoExecuteLoop(ctx context.Context, coord *service.Coordinator, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := coord.AutoExecute(ctx); err != nil {
				slog.Error("auto-execute sweep failed", "error", err)
			}
		}
	}
}

func healthHandler(selfID uuid.UUID, kind world.Kind) http.HandlerFunc {
	type status struct {
		Status  string `json:"status"`
		WorldID string `json:"world_id"`
		Kind    string `json:"kind"`
	}
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(status{Status: "ok", WorldID: selfID.String(), Kind: string(kind)})
	}
}
