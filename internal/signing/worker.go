// internal/signing/worker.go
package signing

import (
	"context"
	"sync"
	"time"

	"loanflow/internal/common/logger"
	"loanflow/internal/common/metrics"
	"loanflow/internal/models"
)

// JobClaimer is the claim side of the job table the poll loop consumes.
type JobClaimer interface {
	ClaimDue(ctx context.Context, limit int) ([]*models.SigningJob, error)
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error)
	QueueDepth(ctx context.Context) (int, error)
}

// WorkerConfig tunes the queue consumer.
type WorkerConfig struct {
	PollInterval time.Duration
	WorkerCount  int
	BatchSize    int
	ClaimTimeout time.Duration
}

// Worker polls the job table for due work and fans it out to a fixed pool of
// goroutines. Claiming uses FOR UPDATE SKIP LOCKED so multiple instances of
// the service can run the same loop without double-submitting.
type Worker struct {
	jobs         JobClaimer
	orchestrator *Orchestrator
	cfg          WorkerConfig
	logger       logger.Logger

	wg   sync.WaitGroup
	stop context.CancelFunc
}

func NewWorker(jobs JobClaimer, orchestrator *Orchestrator, cfg WorkerConfig, log logger.Logger) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = cfg.WorkerCount * 2
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = 2 * time.Minute
	}
	return &Worker{
		jobs:         jobs,
		orchestrator: orchestrator,
		cfg:          cfg,
		logger:       log.WithFields(map[string]interface{}{"component": "signing-worker"}),
	}
}

// Start launches the poll loop and worker pool. It returns immediately.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.stop = context.WithCancel(ctx)

	claimed := make(chan *models.SigningJob)

	for i := 0; i < w.cfg.WorkerCount; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			for job := range claimed {
				w.orchestrator.Process(ctx, job)
			}
		}()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer close(claimed)
		w.poll(ctx, claimed)
	}()

	w.logger.Info("signing worker started", map[string]interface{}{
		"workers":      w.cfg.WorkerCount,
		"pollInterval": w.cfg.PollInterval.String(),
	})
}

// Stop cancels the loop and waits for in-flight jobs to finish.
func (w *Worker) Stop() {
	if w.stop != nil {
		w.stop()
	}
	w.wg.Wait()
	w.logger.Info("signing worker stopped", nil)
}

func (w *Worker) poll(ctx context.Context, claimed chan<- *models.SigningJob) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// Requeue submitted rows abandoned by a crashed or stopped
		// consumer before claiming new work.
		if n, err := w.jobs.ReclaimStale(ctx, w.cfg.ClaimTimeout); err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.WithError(err).Error("failed to reclaim stale signing jobs", nil)
		} else if n > 0 {
			w.logger.Warn("requeued signing jobs with expired claim leases", map[string]interface{}{
				"count": n,
			})
		}

		jobs, err := w.jobs.ClaimDue(ctx, w.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.WithError(err).Error("failed to claim signing jobs", nil)
			continue
		}

		if depth, err := w.jobs.QueueDepth(ctx); err == nil {
			metrics.SigningQueueDepth.Set(float64(depth))
		}

		for _, job := range jobs {
			select {
			case <-ctx.Done():
				return
			case claimed <- job:
			}
		}
	}
}
