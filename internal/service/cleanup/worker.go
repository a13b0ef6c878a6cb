package cleanup

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type ChatSweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type SessionSweeper interface {
	CleanupStale(ctx context.Context) int
}

type Worker struct {
	Chat     ChatSweeper
	Sessions SessionSweeper
	Interval time.Duration
	log      *zap.Logger
}

func NewWorker(chat ChatSweeper, sessions SessionSweeper, interval time.Duration, log *zap.Logger) *Worker {
	return &Worker{Chat: chat, Sessions: sessions, Interval: interval, log: log.Named("cleanup")}
}

// Start runs the sweeps on a ticker until ctx is done.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	w.log.Info("background worker started", zap.Duration("interval", w.Interval))
	for {
		select {
		case <-ctx.Done():
			w.log.Info("background worker stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce purges abandoned chat threads and idle game sessions.
func (w *Worker) RunOnce(ctx context.Context) {
	purged, err := w.Chat.Sweep(ctx)
	if err != nil {
		w.log.Warn("chat sweep failed", zap.Error(err))
	} else if purged > 0 {
		w.log.Info("purged chat threads", zap.Int("count", purged))
	}

	w.Sessions.CleanupStale(ctx)
}
