package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"taskpoints/internal/backup"
	"taskpoints/internal/database"
	"taskpoints/internal/logging"
	"taskpoints/internal/scheduler"
	"taskpoints/internal/server"
	"taskpoints/internal/telegram"
)

func main() {
	restoreID := flag.Int64("restore", 0, "restore the given backup id and exit")
	flag.Parse()

	logger := logging.Setup(os.Getenv("TASKPOINTS_LOG_LEVEL"), os.Getenv("TASKPOINTS_LOG_FORMAT"))

	token := os.Getenv("TASKPOINTS_BOT_TOKEN")
	if token == "" {
		log.Fatal("TASKPOINTS_BOT_TOKEN is required")
	}

	port := envOr("TASKPOINTS_PORT", "8080")
	dbPath := envOr("TASKPOINTS_DB_PATH", "taskpoints.db")

	loc, err := time.LoadLocation(envOr("TASKPOINTS_TZ", "Local"))
	if err != nil {
		log.Fatalf("load timezone: %v", err)
	}

	db, err := database.Open(dbPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	backupCfg := backup.Config{
		S3: backup.S3Config{
			Endpoint:  os.Getenv("TASKPOINTS_S3_ENDPOINT"),
			Bucket:    os.Getenv("TASKPOINTS_S3_BUCKET"),
			Region:    os.Getenv("TASKPOINTS_S3_REGION"),
			AccessKey: os.Getenv("TASKPOINTS_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("TASKPOINTS_S3_SECRET_KEY"),
		},
		DBPath:        dbPath,
		Passphrase:    os.Getenv("TASKPOINTS_BACKUP_PASSPHRASE"),
		Hour:          envIntOr("TASKPOINTS_BACKUP_HOUR", 3),
		RetentionDays: envIntOr("TASKPOINTS_BACKUP_RETENTION_DAYS", 30),
	}

	tg := telegram.NewClient(token)
	cfg := server.Config{
		WebhookSecret: os.Getenv("TASKPOINTS_WEBHOOK_SECRET"),
		CronSecret:    os.Getenv("TASKPOINTS_CRON_SECRET"),
		Backup:        backupCfg,
	}
	srv := server.New(db, tg, loc, cfg, logger)

	if *restoreID != 0 {
		// Restore exits the process on success.
		if err := srv.BackupManager().Restore(context.Background(), *restoreID); err != nil {
			log.Fatalf("restore backup %d: %v", *restoreID, err)
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweepHour := envIntOr("TASKPOINTS_SWEEP_HOUR", 7)
	loop := scheduler.NewLoop(srv.Sweeper(), sweepHour, loc, logger.With("component", "scheduler"))
	loop.Start(ctx)
	defer loop.Stop()

	srv.BackupManager().Start(ctx)
	defer srv.BackupManager().Stop()

	if webhookURL := os.Getenv("TASKPOINTS_WEBHOOK_URL"); webhookURL != "" {
		if err := tg.SetWebhook(ctx, webhookURL+"/webhook", cfg.WebhookSecret); err != nil {
			log.Fatalf("set webhook: %v", err)
		}
		logger.Info("webhook registered", "url", webhookURL+"/webhook")
	}

	// Periodic cleanup of stale rate limiter buckets.
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				srv.RateLimiter().Cleanup()
			}
		}
	}()

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("taskpoints running", "port", port, "tz", loc.String())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("%s: invalid integer %q", key, v)
	}
	return n
}
