package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/multimessenger/nmmadb/internal/db/models"
	"github.com/multimessenger/nmmadb/internal/db/repos"
	"github.com/multimessenger/nmmadb/internal/engine"
	"github.com/multimessenger/nmmadb/internal/events"
	"github.com/multimessenger/nmmadb/internal/logger"
)

// reportAttempts bounds terminal-report retries on storage errors.
// Ownership errors are never retried: the losing worker must stop.
const reportAttempts = 3

// Worker executes one claimed fit job under a lease, keeping the lease
// alive for the duration of the computation.
type Worker struct {
	repo          *repos.FitJobRepository
	runner        engine.Runner
	leaseDuration time.Duration
	retryBackoff  time.Duration
}

// NewWorker creates a worker harness around the given engine runner
func NewWorker(repo *repos.FitJobRepository, runner engine.Runner, leaseDuration, retryBackoff time.Duration) *Worker {
	return &Worker{
		repo:          repo,
		runner:        runner,
		leaseDuration: leaseDuration,
		retryBackoff:  retryBackoff,
	}
}

// Process runs a claimed job to a terminal state. If this process dies
// mid-run the lease simply expires and the dispatcher sweep reclaims
// the job; there is no separate crash-handling path.
func (w *Worker) Process(ctx context.Context, job *models.FitJob, workerID string) {
	if err := w.repo.MarkRunning(ctx, job.ID, workerID); err != nil {
		// Lost the lease between claim and start; someone else owns it now.
		logger.WarnWithFields("Worker could not start job", map[string]interface{}{
			"job_id":    job.ID,
			"worker_id": workerID,
			"error":     err.Error(),
		})
		return
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	heartbeatDone := make(chan struct{})
	go w.heartbeat(runCtx, job.ID, workerID, cancelRun, heartbeatDone)

	result, runErr := w.runFit(runCtx, job)

	cancelRun()
	<-heartbeatDone

	// A run interrupted by shutdown is not a failed fit: leave the job
	// leased and let lease expiry hand it to another worker.
	if runErr != nil && errors.Is(runErr, context.Canceled) && ctx.Err() != nil {
		logger.InfoWithFields("Worker interrupted, leaving job for reclaim", map[string]interface{}{
			"job_id":    job.ID,
			"worker_id": workerID,
		})
		return
	}

	// Reports use the parent context: a cancelled run must still be
	// recorded if we can reach the store.
	if runErr != nil {
		w.reportFailure(ctx, job.ID, workerID, runErr)
	} else {
		w.reportSuccess(ctx, job.ID, workerID, result)
	}

	events.Publish(events.Event{
		Type:      events.EventJobFinished,
		JobID:     job.ID,
		ObjectID:  job.ObjectID,
		ModelName: job.ModelName,
	})
}

// heartbeat extends the lease at a third of its duration so one missed
// extension does not lose the lease. An ownership failure cancels the
// running computation immediately.
func (w *Worker) heartbeat(ctx context.Context, jobID uint, workerID string, cancelRun context.CancelFunc, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.leaseDuration / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.repo.ExtendLease(ctx, jobID, workerID, w.leaseDuration)
			if err == nil {
				continue
			}
			if errors.Is(err, repos.ErrNotOwner) || errors.Is(err, repos.ErrLeaseExpired) {
				logger.WarnWithFields("Worker lost lease, aborting computation", map[string]interface{}{
					"job_id":    jobID,
					"worker_id": workerID,
					"error":     err.Error(),
				})
				cancelRun()
				return
			}
			// Transient storage error: the next tick retries, and the
			// lease tolerates one missed extension.
			logger.Errorf("Worker %s failed to extend lease for job %d: %v", workerID, jobID, err)
		}
	}
}

// runFit decodes the payload and invokes the engine, converting panics
// into computation failures.
func (w *Worker) runFit(ctx context.Context, job *models.FitJob) (result *models.FitResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", engine.ErrComputationFailed, r)
		}
	}()

	var payload models.FitPayload
	if jsonErr := json.Unmarshal(job.Payload, &payload); jsonErr != nil {
		return nil, fmt.Errorf("%w: unreadable payload: %v", engine.ErrComputationFailed, jsonErr)
	}

	return w.runner.Run(ctx, &payload)
}

func (w *Worker) reportSuccess(ctx context.Context, jobID uint, workerID string, result *models.FitResult) {
	err := w.reportWithRetry(ctx, func() error {
		return w.repo.Complete(ctx, jobID, workerID, result)
	})
	if err != nil {
		logger.ErrorWithFields("Worker failed to record fit success", map[string]interface{}{
			"job_id":    jobID,
			"worker_id": workerID,
			"error":     err.Error(),
		})
		return
	}
	logger.InfoWithFields("Fit succeeded", map[string]interface{}{
		"job_id":    jobID,
		"worker_id": workerID,
	})
}

func (w *Worker) reportFailure(ctx context.Context, jobID uint, workerID string, runErr error) {
	err := w.reportWithRetry(ctx, func() error {
		return w.repo.Fail(ctx, jobID, workerID, runErr.Error())
	})
	if err != nil {
		logger.ErrorWithFields("Worker failed to record fit failure", map[string]interface{}{
			"job_id":    jobID,
			"worker_id": workerID,
			"error":     err.Error(),
		})
		return
	}
	logger.WarnWithFields("Fit failed", map[string]interface{}{
		"job_id":    jobID,
		"worker_id": workerID,
		"error":     runErr.Error(),
	})
}

// reportWithRetry retries a terminal report on transient storage
// errors only. If the report never lands the lease expires and the job
// is reclaimed, so nothing is lost by giving up here.
func (w *Worker) reportWithRetry(ctx context.Context, report func() error) error {
	var err error
	for attempt := 0; attempt < reportAttempts; attempt++ {
		err = report()
		if err == nil || !errors.Is(err, repos.ErrStorageUnavailable) {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(w.retryBackoff):
		}
	}
	return err
}
