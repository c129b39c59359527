package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/multimessenger/nmmadb/internal/config"
	"github.com/multimessenger/nmmadb/internal/db/repos"
	"github.com/multimessenger/nmmadb/internal/engine"
	"github.com/multimessenger/nmmadb/internal/events"
	"github.com/multimessenger/nmmadb/internal/logger"
)

// Dispatcher claims queued fit jobs and hands them to a bounded pool of
// worker slots. Multiple dispatcher processes may run against the same
// store: the claim's atomicity lives in the store's conditional update,
// not in any lock held here.
type Dispatcher struct {
	cfg    config.DispatcherConfig
	repo   *repos.FitJobRepository
	worker *Worker

	// slots holds one worker identity per free slot. Claiming consumes
	// a slot; a finished job returns it. A saturated pool therefore
	// never attempts a claim and pending jobs simply accumulate in the
	// store.
	slots chan string
	wake  chan struct{}
}

// NewDispatcher creates a dispatcher with cfg.Slots worker slots
func NewDispatcher(cfg config.DispatcherConfig, repo *repos.FitJobRepository, runner engine.Runner) *Dispatcher {
	d := &Dispatcher{
		cfg:    cfg,
		repo:   repo,
		worker: NewWorker(repo, runner, cfg.LeaseDuration, cfg.RetryBackoff),
		slots:  make(chan string, cfg.Slots),
		wake:   make(chan struct{}, 1),
	}
	base := uuid.NewString()[:8]
	for i := 0; i < cfg.Slots; i++ {
		d.slots <- fmt.Sprintf("worker-%s-%d", base, i)
	}
	return d
}

// Wake nudges the dispatcher out of its poll sleep
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run drives the claim loop until ctx is cancelled, then waits for all
// in-flight fits to finish. Intended to be launched as a goroutine.
func (d *Dispatcher) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	events.Subscribe(events.EventJobEnqueued, func(_ context.Context, _ events.Event) error {
		d.Wake()
		return nil
	})

	// The sweep that requeues orphaned work is the claim loop itself:
	// ClaimNext already prefers expired leases in FIFO order, so the
	// ticker only guarantees the loop runs even when nothing is
	// enqueueing.
	sweep := time.NewTicker(d.cfg.SweepInterval)
	defer sweep.Stop()

	var inflight sync.WaitGroup
	logger.Infof("Dispatcher started with %d worker slots", d.cfg.Slots)

	for {
		workerID, ok := d.acquireSlot(ctx)
		if !ok {
			break
		}

		job, err := d.repo.ClaimNext(ctx, workerID, d.cfg.LeaseDuration)
		if err != nil {
			d.slots <- workerID
			logger.Errorf("Dispatcher error claiming job: %v", err)
			if !d.sleep(ctx, d.cfg.RetryBackoff, sweep) {
				break
			}
			continue
		}

		if job == nil {
			d.slots <- workerID
			if !d.sleep(ctx, d.cfg.PollInterval, sweep) {
				break
			}
			continue
		}

		logger.InfoWithFields("Dispatcher claimed job", map[string]interface{}{
			"job_id":     job.ID,
			"object_id":  job.ObjectID,
			"model_name": job.ModelName,
			"worker_id":  workerID,
		})

		inflight.Add(1)
		go func(workerID string) {
			defer inflight.Done()
			defer func() { d.slots <- workerID }()
			d.worker.Process(ctx, job, workerID)
		}(workerID)
	}

	logger.Info("Dispatcher received shutdown signal, draining workers...")
	inflight.Wait()
	logger.Info("Dispatcher stopped")
}

// acquireSlot blocks until a worker slot is free or ctx is cancelled
func (d *Dispatcher) acquireSlot(ctx context.Context) (string, bool) {
	select {
	case <-ctx.Done():
		return "", false
	case workerID := <-d.slots:
		return workerID, true
	}
}

// sleep waits for the given interval, a wake signal, or a sweep tick.
// Returns false when ctx is cancelled.
func (d *Dispatcher) sleep(ctx context.Context, interval time.Duration, sweep *time.Ticker) bool {
	timer := time.NewTimer(interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	case <-d.wake:
	case <-sweep.C:
	}
	return true
}
