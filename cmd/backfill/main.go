// The backfill binary replays historical conversations through the same
// assembly and dispatch path the live bridge uses, then exits. It takes
// the bridge run lock, so it cannot run while cmd/cdc is up.
package main

import (
	"context"
	"database/sql"
	"log"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/northcell/conversation-cdc/internal/catalog"
	"github.com/northcell/conversation-cdc/internal/config"
	"github.com/northcell/conversation-cdc/internal/lock"
	"github.com/northcell/conversation-cdc/internal/queue"
	"github.com/northcell/conversation-cdc/internal/repository/postgres"
	"github.com/northcell/conversation-cdc/internal/schema"
	"github.com/northcell/conversation-cdc/internal/service/assembly"
	"github.com/northcell/conversation-cdc/internal/service/dispatch"
	"github.com/northcell/conversation-cdc/internal/worker"
)

const runLockKey = "cdc-bridge:run"

func main() {
	log.Println("Starting conversation backfill...")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Println("Connected to database")

	if err := schema.Ensure(ctx, db); err != nil {
		log.Fatalf("Schema check failed: %v", err)
	}

	sqsClient, err := queue.NewClient(ctx, cfg.AWS)
	if err != nil {
		log.Fatalf("Failed to create SQS client: %v", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	runLock := lock.New(redisClient, db, runLockKey, 2*time.Minute)
	ok, err := runLock.Acquire(ctx)
	if err != nil {
		log.Fatalf("Failed to acquire run lock: %v", err)
	}
	if !ok {
		log.Fatalf("The CDC bridge (or another backfill) holds the run lock; stop it first")
	}
	defer runLock.Release(context.Background())
	go runLock.Keep(ctx)
	log.Printf("Run lock acquired (%s)", runLockKey)

	cat := catalog.Default()
	sourceRepo := postgres.NewSourceRepo(db, cfg.CDC.RecentWindow())
	dispatchRepo := postgres.NewDispatchRepo(db)
	resultRepo := postgres.NewResultRepo(db, cfg.CDC.RecentWindow())

	assembler := assembly.NewService(sourceRepo)
	dispatcher := dispatch.NewService(
		queue.NewPublisher(sqsClient, cfg.Queues.OutboundURL),
		dispatchRepo, dispatch.NewRouteCache(),
		dispatch.Config{MaxSendAttempts: cfg.CDC.MaxSendAttempts},
	)

	engine := worker.NewBackfillEngine(cat, sourceRepo, assembler, dispatcher,
		dispatchRepo, resultRepo, cfg.Backfill)

	if err := engine.Run(ctx); err != nil {
		log.Fatalf("Backfill failed: %v", err)
	}
}
