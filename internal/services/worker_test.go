package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/multimessenger/nmmadb/internal/db/models"
)

func TestWorkerProcessSuccess(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	enqueueTestJob(t, repo, "ZTF21abcdefg")
	job, err := repo.ClaimNext(ctx, "worker-1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)

	var gotPayload *models.FitPayload
	runner := &fakeRunner{
		run: func(_ context.Context, payload *models.FitPayload) (*models.FitResult, error) {
			gotPayload = payload
			return &models.FitResult{
				PosteriorSamples: json.RawMessage(`{"mej": [0.04]}`),
				LogBayesFactor:   7.1,
			}, nil
		},
	}

	worker := NewWorker(repo, runner, time.Minute, time.Millisecond)
	worker.Process(ctx, job, "worker-1")

	require.NotNil(t, gotPayload)
	require.Equal(t, "ZTF21abcdefg", gotPayload.ObjectID)
	require.Equal(t, "Bu2019lm", gotPayload.ModelName)

	final, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStateSucceeded, final.State)
	require.NotNil(t, final.LogBayesFactor)
	require.InDelta(t, 7.1, *final.LogBayesFactor, 1e-9)
}

func TestWorkerProcessFailure(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	enqueueTestJob(t, repo, "ZTF21abcdefg")
	job, err := repo.ClaimNext(ctx, "worker-1", time.Minute)
	require.NoError(t, err)

	runner := &fakeRunner{
		run: func(_ context.Context, _ *models.FitPayload) (*models.FitResult, error) {
			return nil, errors.New("sampler diverged")
		},
	}

	worker := NewWorker(repo, runner, time.Minute, time.Millisecond)
	worker.Process(ctx, job, "worker-1")

	final, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStateFailed, final.State)
	require.Contains(t, final.Error, "sampler diverged")
}

func TestWorkerProcessPanic(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	enqueueTestJob(t, repo, "ZTF21abcdefg")
	job, err := repo.ClaimNext(ctx, "worker-1", time.Minute)
	require.NoError(t, err)

	runner := &fakeRunner{
		run: func(_ context.Context, _ *models.FitPayload) (*models.FitResult, error) {
			panic("index out of range")
		},
	}

	worker := NewWorker(repo, runner, time.Minute, time.Millisecond)
	worker.Process(ctx, job, "worker-1")

	final, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStateFailed, final.State)
	require.Contains(t, final.Error, "panic")
}

// TestWorkerExtendsLease lets a fit outlive the initial lease: the
// heartbeat must keep extending it so the job is never reclaimable.
func TestWorkerExtendsLease(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	enqueueTestJob(t, repo, "ZTF21abcdefg")
	lease := 150 * time.Millisecond
	job, err := repo.ClaimNext(ctx, "worker-1", lease)
	require.NoError(t, err)

	runner := &fakeRunner{
		run: func(runCtx context.Context, _ *models.FitPayload) (*models.FitResult, error) {
			// Runs for several lease durations
			select {
			case <-time.After(3 * lease):
				return &models.FitResult{LogBayesFactor: 1}, nil
			case <-runCtx.Done():
				return nil, runCtx.Err()
			}
		},
	}

	worker := NewWorker(repo, runner, lease, time.Millisecond)
	worker.Process(ctx, job, "worker-1")

	final, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStateSucceeded, final.State)
	require.Equal(t, "worker-1", final.ClaimedBy)
}

// TestWorkerStopsOnLostLease verifies the losing party of a lease race
// halts its computation and does not overwrite the new owner's work.
func TestWorkerStopsOnLostLease(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	enqueueTestJob(t, repo, "ZTF21abcdefg")
	lease := 90 * time.Millisecond
	job, err := repo.ClaimNext(ctx, "worker-1", lease)
	require.NoError(t, err)

	started := make(chan struct{})
	runner := &fakeRunner{
		run: func(runCtx context.Context, _ *models.FitPayload) (*models.FitResult, error) {
			close(started)
			<-runCtx.Done()
			return nil, runCtx.Err()
		},
	}

	worker := NewWorker(repo, runner, lease, time.Millisecond)
	done := make(chan struct{})
	go func() {
		worker.Process(ctx, job, "worker-1")
		close(done)
	}()

	<-started
	// Steal the job: expire the lease and reclaim it for another
	// worker. The loser's heartbeat may race the expiry back to a
	// valid lease, so retry until the claim lands.
	var stolen *models.FitJob
	for i := 0; i < 200 && stolen == nil; i++ {
		_ = repo.ExtendLease(ctx, job.ID, "worker-1", -time.Second)
		stolen, err = repo.ClaimNext(ctx, "worker-2", time.Minute)
		require.NoError(t, err)
	}
	require.NotNil(t, stolen)
	require.Equal(t, job.ID, stolen.ID)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after losing its lease")
	}

	// The job still belongs to the new owner, unharmed by the loser
	final, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStateClaimed, final.State)
	require.Equal(t, "worker-2", final.ClaimedBy)
}

func TestWorkerShutdownLeavesJobForReclaim(t *testing.T) {
	repo := newTestRepo(t)

	enqueueTestJob(t, repo, "ZTF21abcdefg")
	job, err := repo.ClaimNext(context.Background(), "worker-1", time.Minute)
	require.NoError(t, err)

	runner := &fakeRunner{
		run: func(runCtx context.Context, _ *models.FitPayload) (*models.FitResult, error) {
			<-runCtx.Done()
			return nil, runCtx.Err()
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	worker := NewWorker(repo, runner, time.Minute, time.Millisecond)
	worker.Process(ctx, job, "worker-1")

	// An interrupted run is not a failed fit: the job stays running
	// under its lease so another worker can reclaim it after expiry.
	final, err := repo.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStateRunning, final.State)
	require.Empty(t, final.Error)
	require.NotNil(t, final.LeaseExpiresAt)
}
