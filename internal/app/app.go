// Package app wires the configured stores, transports and services together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sourcegraph/conc"
	"gorm.io/gorm"

	"bounty-orchestrator/internal/api/handler"
	"bounty-orchestrator/internal/checkpoint"
	"bounty-orchestrator/internal/config"
	"bounty-orchestrator/internal/coordinator"
	"bounty-orchestrator/internal/core/ports"
	"bounty-orchestrator/internal/core/postgres/repository"
	"bounty-orchestrator/internal/domain"
	"bounty-orchestrator/internal/engine"
	"bounty-orchestrator/internal/executor"
	"bounty-orchestrator/internal/infrastructure/inmem"
	redisinfra "bounty-orchestrator/internal/infrastructure/redis"
	"bounty-orchestrator/internal/knowledge"
	"bounty-orchestrator/internal/logging"
	"bounty-orchestrator/internal/memory"
	"bounty-orchestrator/internal/metrics"
	"bounty-orchestrator/internal/prompt"
	"bounty-orchestrator/internal/schema"
	"bounty-orchestrator/internal/service"
	"bounty-orchestrator/internal/worker"
)

const (
	inmemQueueCapacity = 1024
	inmemPopTimeout    = time.Second
	shutdownTimeout    = 15 * time.Second
)

// App holds every long-lived component of one process.
type App struct {
	Config      *config.Config
	Log         *slog.Logger
	Metrics     *metrics.Metrics
	Memory      *memory.Manager
	Checkpoints ports.CheckpointStore
	Queue       ports.RunQueue
	Bus         ports.EventBus
	Locker      ports.Locker
	Engine      *engine.Engine
	Syncer      *knowledge.Synchronizer
	Service     service.BountyService
	Worker      *worker.Worker
	Coordinator *coordinator.Coordinator
	Router      *gin.Engine

	db    *gorm.DB
	redis *goredis.Client
}

// Build constructs the application from a loaded config. Without a database
// URL it falls back to in-memory stores only when dev.allow_in_memory is set.
func Build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	log = logging.OrNop(log)
	policy, err := engine.ParsePolicy(cfg.Engine.CompetitionPolicy)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Log: log, Metrics: metrics.New()}

	// 1. Storage
	embedder := memory.NewHashingEmbedder(cfg.Memory.EmbeddingDims)
	var mem ports.MemoryStore
	switch {
	case cfg.Database.URL != "":
		db, err := repository.Open(cfg.Database.Driver, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		a.db = db
		if err := repository.Migrate(db); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		mem = repository.NewMemoryRepository(db, embedder)
		a.Checkpoints = repository.NewCheckpointRepository(db)
	case cfg.Dev.AllowInMemory:
		log.Warn("running with in-memory stores, state is lost on restart")
		inMem := memory.NewInMemory(embedder)
		mem = inMem
		a.Checkpoints = checkpoint.NewMemoryStore(inMem)
	default:
		return nil, fmt.Errorf("database.url: %w", domain.ErrStoreUnconfigured)
	}
	a.Memory = memory.NewManager(mem, log)

	// 2. Queue, event bus and job leases
	if cfg.Redis.Addr != "" {
		client, err := redisinfra.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.PoolSize)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.redis = client
		a.Queue = redisinfra.NewRedisQueue(client)
		a.Bus = redisinfra.NewRedisEventBus(client)
		a.Locker = redisinfra.NewRedisLocker(client)
	} else {
		a.Queue = inmem.NewQueue(inmemQueueCapacity, inmemPopTimeout)
		a.Bus = inmem.NewBus()
		a.Locker = inmem.NewLocker()
	}

	// 3. Executor, prompts and schemas
	exec := executor.NewInstrumented(executor.NewClient(executor.Config{
		BaseURL:   cfg.Executor.URL,
		Timeout:   cfg.Executor.Timeout(),
		AgentRole: cfg.Executor.AgentRole,
	}, nil), a.Metrics)
	prompts, err := prompt.New()
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	schemas, err := schema.New()
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	// 4. Domain services
	a.Syncer = knowledge.NewSynchronizer(exec, a.Memory, prompts, cfg.Knowledge.StalenessThreshold(), log)
	a.Engine = engine.New(engine.Deps{
		Checkpoints: a.Checkpoints,
		Executor:    exec,
		Profiles:    a.Syncer,
		Lessons:     a.Memory,
		Prompts:     prompts,
		Schemas:     schemas,
		Bus:         a.Bus,
		Metrics:     a.Metrics,
	}, policy, log)
	a.Service = service.NewBountyService(service.Deps{
		Checkpoints: a.Checkpoints,
		Memory:      a.Memory,
		Recorder:    knowledge.NewRecorder(a.Checkpoints, a.Memory, exec, prompts, log),
		Queue:       a.Queue,
		Bus:         a.Bus,
	}, log)

	// 5. Background processing and HTTP
	a.Worker = worker.NewWorker(a.Queue, worker.InitRegistry(a.Engine, a.Syncer, log), a.Locker, cfg.Worker.MaxRetries, a.Metrics, log)
	a.Coordinator = coordinator.NewCoordinator(a.Queue, a.Bus, a.Locker, log)

	if cfg.Server.GinMode != "" {
		gin.SetMode(cfg.Server.GinMode)
	}
	a.Router = handler.NewRouter(handler.NewBountyHandler(a.Service), a.Metrics.Registry, log)

	return a, nil
}

// Serve runs the HTTP server, the worker pool and the coordinator until ctx
// is done or the server fails, then shuts everything down.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv := &http.Server{
		Addr:              a.Config.Server.Addr,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg conc.WaitGroup
	wg.Go(func() { a.Worker.StartPool(ctx, a.Config.Worker.Concurrency) })
	wg.Go(func() {
		if err := a.Coordinator.Start(ctx); err != nil {
			a.Log.Error("coordinator stopped", "error", err)
			cancel()
		}
	})

	serveErr := make(chan error, 1)
	go func() {
		a.Log.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
	}

	a.Log.Info("shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		a.Log.Error("http shutdown", "error", shutdownErr)
	}
	cancel()
	wg.Wait()
	return err
}

// Close releases the database pool and the redis client.
func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, repository.Close(a.db))
	}
	return errors.Join(errs...)
}
