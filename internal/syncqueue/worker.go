package syncqueue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
)

type Prober interface {
	Probe(ctx context.Context) error
}

// Worker flushes the queue on a schedule and whenever the queue asks for it.
type Worker struct {
	queue    *Queue
	prober   Prober
	interval time.Duration
	sched    *gocron.Scheduler
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewWorker(q *Queue, prober Prober, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Worker{
		queue:    q,
		prober:   prober,
		interval: interval,
		sched:    gocron.NewScheduler(time.UTC),
		logger:   slog.Default().With("component", "sync-worker"),
		done:     make(chan struct{}),
	}
}

func (w *Worker) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	w.sched.SingletonModeAll()
	if _, err := w.sched.Every(w.interval).Do(w.tick, ctx); err != nil {
		w.cancel()
		return fmt.Errorf("scheduling sync job: %w", err)
	}
	w.sched.StartAsync()

	go func() {
		defer close(w.done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.queue.Kicks():
				w.flush(ctx)
			}
		}
	}()
	w.logger.Info("sync worker started", "interval", w.interval)
	return nil
}

// tick probes connectivity and requests a flush. All passes run on the
// worker goroutine.
func (w *Worker) tick(ctx context.Context) {
	if w.prober != nil {
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := w.prober.Probe(probeCtx)
		cancel()
		w.queue.SetOnline(err == nil)
		if err != nil {
			w.logger.Debug("sync endpoint unreachable", "error", err)
			return
		}
	}
	w.queue.Kick()
}

func (w *Worker) flush(ctx context.Context) {
	rep, err := w.queue.Process(ctx)
	if err != nil {
		w.logger.Error("sync pass failed", "error", err)
		return
	}
	if rep.Synced+rep.Failed+rep.Dropped > 0 {
		w.logger.Info("sync pass finished", "synced", rep.Synced, "failed", rep.Failed, "dropped", rep.Dropped)
	}
}

func (w *Worker) Stop() {
	w.sched.Stop()
	if w.cancel != nil {
		w.cancel()
		<-w.done
	}
	w.logger.Info("sync worker stopped")
}
