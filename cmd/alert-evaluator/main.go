// The alert evaluator runs every enabled alert rule against the
// destination tables, stores triggered events and emails the operators.
// It is designed for cron (one-shot, exit code 0/1) but can loop with
// -loop or -interval. Each pass writes a JSON status file that external
// monitoring can probe.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/northcell/conversation-cdc/internal/config"
	"github.com/northcell/conversation-cdc/internal/notify"
	"github.com/northcell/conversation-cdc/internal/repository/postgres"
	"github.com/northcell/conversation-cdc/internal/service/alerting"
)

type statusReport struct {
	RanAt     time.Time          `json:"ran_at"`
	Duration  string             `json:"duration"`
	Evaluated int                `json:"evaluated"`
	Triggered int                `json:"triggered"`
	Outcomes  []alerting.Outcome `json:"outcomes"`
	Error     string             `json:"error,omitempty"`
}

func main() {
	loop := flag.Bool("loop", false, "run forever, evaluating at the configured alerts interval")
	interval := flag.Duration("interval", 0, "override the evaluation interval (implies -loop)")
	statusFile := flag.String("status-file", "", "override the status file path")
	flag.Parse()

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	every := cfg.Alerts.Interval()
	if *interval > 0 {
		every = *interval
		*loop = true
	}
	statusPath := cfg.Alerts.StatusFile
	if *statusFile != "" {
		statusPath = *statusFile
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

	// Email is optional: without sender and recipients the evaluator
	// still records alert_history rows, it just stays silent.
	var notifier alerting.Notifier
	if cfg.Alerts.EmailFrom != "" && len(cfg.Alerts.EmailTo) > 0 {
		emailNotifier, err := notify.NewEmailNotifier(ctx, cfg.AWS, cfg.Alerts)
		if err != nil {
			log.Fatalf("Failed to create email notifier: %v", err)
		}
		notifier = emailNotifier
		log.Printf("Email notifications enabled: %d recipient(s), min severity %s",
			len(cfg.Alerts.EmailTo), cfg.Alerts.NotifyMinSeverity)
	} else {
		log.Println("Email notifications disabled (no sender or recipients configured)")
	}

	svc := alerting.NewService(
		postgres.NewAlertRepo(db),
		postgres.NewMetricRepo(db),
		notifier,
		cfg.Alerts.NotifyMinSeverity,
	)

	if !*loop {
		if err := runPass(ctx, svc, statusPath); err != nil {
			log.Printf("Evaluation failed: %v", err)
			os.Exit(1)
		}
		return
	}

	log.Printf("Alert evaluator looping every %v", every)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		if err := runPass(ctx, svc, statusPath); err != nil {
			log.Printf("Evaluation failed: %v", err)
		}
		select {
		case <-ctx.Done():
			log.Println("Alert evaluator stopped")
			return
		case <-ticker.C:
		}
	}
}

// runPass evaluates every rule once and writes the status file. The
// returned error covers pass-level failures only; single-rule problems
// are reported inside the outcomes.
func runPass(ctx context.Context, svc *alerting.Service, statusPath string) error {
	start := time.Now()
	outcomes, err := svc.EvaluateAll(ctx)

	report := statusReport{
		RanAt:     start,
		Duration:  time.Since(start).Round(time.Millisecond).String(),
		Evaluated: len(outcomes),
		Outcomes:  outcomes,
	}
	for _, o := range outcomes {
		if o.Triggered {
			report.Triggered++
		}
	}
	if err != nil {
		report.Error = err.Error()
	}
	writeStatus(statusPath, &report)

	if err != nil {
		return err
	}
	log.Printf("Evaluated %d rule(s), %d triggered (%s)", report.Evaluated, report.Triggered, report.Duration)
	return nil
}

// writeStatus is best effort; a broken status file must not break alerting.
func writeStatus(path string, report *statusReport) {
	if path == "" {
		return
	}
	raw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Printf("Warning: failed to marshal status report: %v", err)
		return
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		log.Printf("Warning: failed to write status file %s: %v", path, err)
	}
}
