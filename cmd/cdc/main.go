package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/northcell/conversation-cdc/internal/catalog"
	"github.com/northcell/conversation-cdc/internal/config"
	"github.com/northcell/conversation-cdc/internal/domain"
	"github.com/northcell/conversation-cdc/internal/lock"
	"github.com/northcell/conversation-cdc/internal/queue"
	"github.com/northcell/conversation-cdc/internal/repository/postgres"
	"github.com/northcell/conversation-cdc/internal/schema"
	"github.com/northcell/conversation-cdc/internal/service/assembly"
	"github.com/northcell/conversation-cdc/internal/service/dispatch"
	"github.com/northcell/conversation-cdc/internal/service/ingest"
	"github.com/northcell/conversation-cdc/internal/worker"
)

const runLockKey = "cdc-bridge:run"

func main() {
	log.Println("Starting conversation CDC bridge...")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db := openDatabase(cfg)
	defer db.Close()

	ctx := context.Background()

	// Bridge tables are ours to create; source tables are not, so a
	// missing source table is only a warning.
	if err := schema.Ensure(ctx, db); err != nil {
		log.Fatalf("Schema check failed: %v", err)
	}
	if missing, err := schema.ValidateSources(ctx, db); err != nil {
		log.Fatalf("Source table check failed: %v", err)
	} else if len(missing) > 0 {
		log.Printf("Warning: source tables missing (collector will return nothing for them): %v", missing)
	}
	log.Println("Schema validated")

	sqsClient, err := queue.NewClient(ctx, cfg.AWS)
	if err != nil {
		log.Fatalf("Failed to create SQS client: %v", err)
	}

	cat := catalog.Default()
	sourceRepo := postgres.NewSourceRepo(db, cfg.CDC.RecentWindow())
	dispatchRepo := postgres.NewDispatchRepo(db)
	resultRepo := postgres.NewResultRepo(db, cfg.CDC.RecentWindow())
	statusRepo := postgres.NewStatusRepo(db)

	routes := dispatch.NewRouteCache()
	assembler := assembly.NewService(sourceRepo)
	dispatcher := dispatch.NewService(
		queue.NewPublisher(sqsClient, cfg.Queues.OutboundURL),
		dispatchRepo, routes,
		dispatch.Config{MaxSendAttempts: cfg.CDC.MaxSendAttempts},
	)
	consumer := queue.NewConsumer(sqsClient, cfg.Queues.InboundURL,
		cfg.Queues.WaitTimeSeconds, cfg.Queues.VisibilityTimeoutSeconds)
	ingestor := ingest.NewService(consumer, resultRepo, cat, routes)

	mode := ""
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}

	switch mode {
	case "flush_sqs":
		runFlushOnce(ingestor)
	case "flush_mode":
		runFlushLoop(ingestor, flushInterval())
	case "":
		runBridge(cfg, db, cat, sourceRepo, assembler, dispatcher, ingestor, statusRepo, dispatchRepo, resultRepo)
	default:
		log.Fatalf("Unknown mode %q (expected flush_sqs or flush_mode)", mode)
	}
}

func openDatabase(cfg *config.Config) *sql.DB {
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Println("Connected to database")
	return db
}

// runFlushOnce drains every pending ML result from the inbound queue and
// exits. Used to empty the queue before maintenance windows.
func runFlushOnce(ingestor *ingest.Service) {
	log.Println("Flush mode: draining inbound queue once")
	n, err := ingestor.DrainOnce(context.Background())
	if err != nil {
		log.Fatalf("Flush failed after %d result(s): %v", n, err)
	}
	log.Printf("Flush complete: %d result(s) ingested", n)
}

// runFlushLoop ingests inbound results on a fixed interval without
// touching the source tables. Useful when another instance owns capture.
func runFlushLoop(ingestor *ingest.Service, interval time.Duration) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("Flush loop: ingesting inbound results every %v", interval)
	if err := ingestor.RunFlushLoop(ctx, interval); err != nil && ctx.Err() == nil {
		log.Fatalf("Flush loop failed: %v", err)
	}
	log.Println("Flush loop stopped")
}

func flushInterval() time.Duration {
	interval := 60 * time.Second
	if len(os.Args) > 2 {
		secs, err := strconv.Atoi(os.Args[2])
		if err != nil || secs <= 0 {
			log.Fatalf("Invalid flush interval %q", os.Args[2])
		}
		interval = time.Duration(secs) * time.Second
	}
	return interval
}

func runBridge(cfg *config.Config, db *sql.DB, cat *catalog.Catalog, collector *postgres.SourceRepo,
	assembler *assembly.Service, dispatcher *dispatch.Service, ingestor *ingest.Service,
	statusRepo *postgres.StatusRepo, dispatchRepo *postgres.DispatchRepo, resultRepo *postgres.ResultRepo) {

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The run lock keeps a second bridge instance (or a concurrent
	// backfill) from double-dispatching the same ids.
	runLock := lock.New(redisFromConfig(cfg), db, runLockKey, 2*time.Minute)
	ok, err := runLock.Acquire(ctx)
	if err != nil {
		log.Fatalf("Failed to acquire run lock: %v", err)
	}
	if !ok {
		log.Fatalf("Another bridge instance holds the run lock; refusing to start")
	}
	defer runLock.Release(context.Background())
	go runLock.Keep(ctx)
	log.Printf("Run lock acquired (%s)", runLockKey)

	seedStatusRows(ctx, cfg, cat, statusRepo)

	w := worker.NewCDCWorker(cat, collector, assembler, dispatcher, ingestor,
		statusRepo, dispatchRepo, resultRepo, cfg.CDC)
	if err := w.Start(); err != nil {
		log.Fatalf("Failed to start worker: %v", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	w.Stop()
	cancel()
	log.Println("Bridge stopped")
}

// seedStatusRows makes sure every mode row exists so operators can flip
// is_enabled without inserting rows by hand. Existing rows are untouched.
func seedStatusRows(ctx context.Context, cfg *config.Config, cat *catalog.Catalog, statusRepo *postgres.StatusRepo) {
	for _, src := range cat.All() {
		if err := statusRepo.Seed(ctx, src.ModeKey, time.Now(), true); err != nil {
			log.Fatalf("Failed to seed status row %s: %v", src.ModeKey, err)
		}
	}

	start, err := time.Parse("2006-01-02", cfg.CDC.HistoricalStartDate)
	if err != nil {
		log.Fatalf("Invalid cdc.historical_start_date %q: %v", cfg.CDC.HistoricalStartDate, err)
	}
	// Historical replay ships disabled; an operator enables the row when
	// a replay is wanted.
	if err := statusRepo.Seed(ctx, domain.HistoricalModeKey, start, false); err != nil {
		log.Fatalf("Failed to seed status row %s: %v", domain.HistoricalModeKey, err)
	}
}

func redisFromConfig(cfg *config.Config) *redis.Client {
	if cfg.Redis.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}
