package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Loop fires the sweeps once per day at the configured hour. The cron HTTP
// endpoints can trigger the same sweeps out of band; idempotence makes the
// overlap harmless.
type Loop struct {
	mu      sync.RWMutex
	sweeper *Sweeper
	hour    int
	loc     *time.Location
	logger  *slog.Logger
	cancel  context.CancelFunc
	done    chan struct{}

	interval time.Duration
	lastDay  string
}

func NewLoop(sweeper *Sweeper, hour int, loc *time.Location, logger *slog.Logger) *Loop {
	return &Loop{
		sweeper:  sweeper,
		hour:     hour,
		loc:      loc,
		logger:   logger,
		interval: time.Minute,
	}
}

// Start begins the sweep loop.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})
	l.mu.Unlock()

	go func() {
		defer close(l.done)
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.tick(ctx, time.Now().In(l.loc))
			}
		}
	}()
}

// Stop gracefully stops the loop.
func (l *Loop) Stop() {
	l.mu.RLock()
	cancel := l.cancel
	done := l.done
	l.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (l *Loop) tick(ctx context.Context, now time.Time) {
	if now.Hour() != l.hour {
		return
	}
	day := now.Format("2006-01-02")
	if day == l.lastDay {
		return
	}
	l.lastDay = day

	if _, err := l.sweeper.RunDaily(ctx, now); err != nil {
		l.logger.Error("daily sweep", "error", err)
	}
	if _, err := l.sweeper.RunWeekly(ctx, now); err != nil {
		l.logger.Error("weekly sweep", "error", err)
	}
}
