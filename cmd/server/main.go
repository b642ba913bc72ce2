// The server binary hosts the operator API: alert rule management, alert
// acknowledgement, ML recommendation review and classification feedback.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/northcell/conversation-cdc/internal/auth"
	"github.com/northcell/conversation-cdc/internal/config"
	"github.com/northcell/conversation-cdc/internal/objectstore"
	"github.com/northcell/conversation-cdc/internal/queue"
	"github.com/northcell/conversation-cdc/internal/repository/postgres"
	"github.com/northcell/conversation-cdc/internal/server"
	"github.com/northcell/conversation-cdc/internal/service/alerting"
	"github.com/northcell/conversation-cdc/internal/service/mlconfig"
)

func main() {
	log.Println("Starting operator API server...")

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Println("Connected to database")

	sqsClient, err := queue.NewClient(ctx, cfg.AWS)
	if err != nil {
		log.Fatalf("Failed to create SQS client: %v", err)
	}

	store, err := objectstore.New(ctx, cfg.AWS, cfg.S3.Bucket)
	if err != nil {
		log.Fatalf("Failed to create object store client: %v", err)
	}

	// The API never sends alert emails itself; that is the evaluator's
	// job, so the alert service runs without a notifier here.
	alerts := alerting.NewService(
		postgres.NewAlertRepo(db),
		postgres.NewMetricRepo(db),
		nil,
		cfg.Alerts.NotifyMinSeverity,
	)
	ml := mlconfig.NewService(
		postgres.NewRecommendationRepo(db),
		store,
		queue.NewPublisher(sqsClient, cfg.Queues.NotifyURL),
	)

	var authManager *auth.AuthManager
	if cfg.Auth.Enabled && cfg.Auth.GoogleClientID != "" {
		baseURL := fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
		if envURL := os.Getenv("AUTH_BASE_URL"); envURL != "" {
			baseURL = envURL
		}
		authManager = auth.NewAuthManager(&cfg.Auth, baseURL)

		// Catch rotated credentials at boot rather than at first login.
		log.Println("Validating Google OAuth credentials...")
		if err := authManager.ValidateCredentials(ctx); err != nil {
			log.Fatalf("OAuth pre-flight failed: %v", err)
		}
		authManager.CleanupExpiredSessions(ctx)
		log.Printf("Google OAuth enabled for domain %s (callback %s/auth/callback)",
			cfg.Auth.AllowedDomain, baseURL)
	} else {
		log.Println("Authentication disabled")
	}

	srv := server.NewServer(cfg.Server, server.NewHandlers(alerts, ml, db), authManager)

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		log.Printf("Listening on %s", addr)
		if err := srv.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
