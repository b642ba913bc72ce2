// The ML evaluator is the weekly cron: compare churn outcomes against the
// predictions the ML service made, mine the misses, and store reviewable
// config recommendations. One shot; exit code reflects the run.
package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/northcell/conversation-cdc/internal/catalog"
	"github.com/northcell/conversation-cdc/internal/config"
	"github.com/northcell/conversation-cdc/internal/repository/postgres"
	"github.com/northcell/conversation-cdc/internal/service/evaluation"
	"github.com/northcell/conversation-cdc/internal/warehouse"
)

func main() {
	log.Println("Starting ML evaluation run...")

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

	// Transcript mining reads the call source; churn scores and outcomes
	// come from the destination tables.
	src, ok := catalog.Default().ByID("verint")
	if !ok {
		log.Fatalf("Catalog has no verint source")
	}

	var mirror evaluation.Mirror
	if cfg.Warehouse.Enabled {
		wh, err := warehouse.New(cfg.Warehouse)
		if err != nil {
			log.Fatalf("Failed to configure warehouse mirror: %v", err)
		}
		defer wh.Close()
		if err := wh.Ping(ctx); err != nil {
			// Mirroring is best effort; the run proceeds either way.
			log.Printf("Warning: warehouse unreachable, mirroring will likely fail: %v", err)
		}
		mirror = wh
		log.Printf("Warehouse mirror enabled (table %s)", cfg.Warehouse.Table)
	}

	svc := evaluation.NewService(
		postgres.NewEvaluationRepo(db, src),
		mirror,
		evaluation.Config{
			LookbackDays:    cfg.Evaluation.LookbackDays,
			HighThreshold:   cfg.Evaluation.HighThreshold,
			MediumThreshold: cfg.Evaluation.MediumThreshold,
		},
	)

	summary, err := svc.Run(ctx)
	if err != nil {
		log.Printf("Evaluation run failed: %v", err)
		os.Exit(1)
	}

	m := summary.Metrics
	log.Printf("Evaluation %s complete: churned=%d scored=%d recall=%.1f%% coverage=%.1f%% recommendations=%d",
		summary.EvalID, m.TotalChurned, m.WithScore, m.RecallMedium*100, m.Coverage*100, len(summary.Recommendations))
	if summary.Note != "" {
		log.Printf("Note: %s", summary.Note)
	}
	for _, rec := range summary.Recommendations {
		log.Printf("  recommendation %s (%s) pending review", rec.ID, rec.Type)
	}
}
