// Package server wires the HTTP surface: the Telegram webhook, cron
// endpoints for the assignment sweeps, a small ops API and the dashboard
// websocket.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"taskpoints/internal/backup"
	"taskpoints/internal/bot"
	"taskpoints/internal/engine"
	"taskpoints/internal/middleware"
	"taskpoints/internal/scheduler"
	"taskpoints/internal/store"
	"taskpoints/internal/telegram"
	ws "taskpoints/internal/websocket"
)

// Config carries the secrets and backup settings the server needs beyond
// its collaborators.
type Config struct {
	// WebhookSecret must match the secret_token registered with Telegram.
	WebhookSecret string
	// CronSecret gates the sweep and ops endpoints.
	CronSecret string
	Backup     backup.Config
}

type Server struct {
	db            *sql.DB
	cfg           Config
	loc           *time.Location
	hub           *ws.Hub
	engine        *engine.Engine
	bot           *bot.Bot
	sweeper       *scheduler.Sweeper
	backupManager *backup.Manager
	sweeps        *store.SweepRunStore
	ledger        *store.LedgerStore
	rateLimiter   *middleware.RateLimiter
	logger        *slog.Logger
}

func New(db *sql.DB, tg *telegram.Client, loc *time.Location, cfg Config, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))
	eng := engine.New(db, hub, logger.With("component", "engine"))

	backupStore := store.NewBackupStore(db)
	backupMgr := backup.NewManager(cfg.Backup, db, backupStore, logger.With("component", "backup"), func(st backup.Status) {
		hub.Broadcast(ws.Message{
			Type:   "backup_status",
			Entity: "backup",
			Action: string(st.State),
			Extra: map[string]any{
				"in_progress": st.InProgress,
				"error":       st.LastError,
			},
		})
	})

	return &Server{
		db:            db,
		cfg:           cfg,
		loc:           loc,
		hub:           hub,
		engine:        eng,
		bot:           bot.New(db, eng, tg, loc, logger.With("component", "bot")),
		sweeper:       scheduler.NewSweeper(db, tg, logger.With("component", "scheduler")),
		backupManager: backupMgr,
		sweeps:        store.NewSweepRunStore(db),
		ledger:        store.NewLedgerStore(db),
		rateLimiter:   middleware.NewRateLimiter(),
		logger:        logger,
	}
}

// Sweeper returns the sweeper so main can run it on the in-process schedule.
func (s *Server) Sweeper() *scheduler.Sweeper {
	return s.sweeper
}

// BackupManager returns the backup manager for lifecycle control.
func (s *Server) BackupManager() *backup.Manager {
	return s.backupManager
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)

	webhookAuth := middleware.RequireSecret("X-Telegram-Bot-Api-Secret-Token", s.cfg.WebhookSecret)
	mux.Handle("POST /webhook", webhookAuth(http.HandlerFunc(s.webhookHandler)))

	cronAuth := middleware.RequireSecret("X-Cron-Secret", s.cfg.CronSecret)
	mux.Handle("POST /cron/daily", cronAuth(s.rateLimited(s.sweepHandler(s.sweeper.RunDaily))))
	mux.Handle("POST /cron/weekly", cronAuth(s.rateLimited(s.sweepHandler(s.sweeper.RunWeekly))))

	mux.Handle("GET /api/sweeps", cronAuth(http.HandlerFunc(s.sweepsHandler)))
	mux.Handle("GET /api/ledger/recent", cronAuth(http.HandlerFunc(s.recentLedgerHandler)))
	mux.Handle("GET /api/backup/status", cronAuth(http.HandlerFunc(s.backupStatusHandler)))
	mux.Handle("POST /api/backup/run", cronAuth(http.HandlerFunc(s.backupRunHandler)))

	// Dashboards connect from the home network.
	mux.HandleFunc("GET /ws", ws.Handler(s.hub, s.logger.With("component", "websocket")))

	return middleware.RequestLogger(s.logger.With("component", "http"))(mux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	var update telegram.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&update); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	// Telegram retries on non-200, so failures inside the handler are
	// logged there rather than surfaced as errors here.
	s.bot.HandleUpdate(r.Context(), &update)
	w.WriteHeader(http.StatusOK)
}

type sweepResponse struct {
	Created  int `json:"created"`
	Notified int `json:"notified"`
	Errors   int `json:"errors"`
}

func (s *Server) sweepHandler(run func(ctx context.Context, now time.Time) (*scheduler.Stats, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := run(r.Context(), time.Now().In(s.loc))
		if err != nil {
			s.logger.Error("sweep failed", "error", err)
			http.Error(w, "sweep failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, sweepResponse{Created: stats.Created, Notified: stats.Notified, Errors: stats.Errors})
	}
}

func (s *Server) sweepsHandler(w http.ResponseWriter, r *http.Request) {
	runs, err := s.sweeps.ListSince(r.Context(), time.Now().AddDate(0, 0, -7))
	if err != nil {
		s.logger.Error("list sweep runs", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, runs)
}

func (s *Server) recentLedgerHandler(w http.ResponseWriter, r *http.Request) {
	entries, err := s.ledger.Recent(r.Context(), 50)
	if err != nil {
		s.logger.Error("list recent ledger", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, entries)
}

func (s *Server) backupStatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.backupManager.Status())
}

func (s *Server) backupRunHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.backupManager.RunBackup(r.Context()); err != nil {
		s.logger.Error("manual backup failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, s.backupManager.Status())
}

func (s *Server) rateLimited(h http.HandlerFunc) http.Handler {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	return middleware.RateLimit(s.rateLimiter, keyFunc, 10, time.Minute)(h)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
