package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/multimessenger/nmmadb/internal/config"
	"github.com/multimessenger/nmmadb/internal/db/models"
	"github.com/multimessenger/nmmadb/internal/db/repos"
)

func testDispatcherConfig() config.DispatcherConfig {
	return config.DispatcherConfig{
		Slots:         2,
		PollInterval:  10 * time.Millisecond,
		SweepInterval: 25 * time.Millisecond,
		LeaseDuration: 300 * time.Millisecond,
		RetryBackoff:  10 * time.Millisecond,
	}
}

func waitForState(t *testing.T, repo *repos.FitJobRepository, jobID uint, want models.JobState) *models.FitJob {
	t.Helper()

	var got *models.FitJob
	require.Eventually(t, func() bool {
		job, err := repo.GetByID(context.Background(), jobID)
		if err != nil {
			return false
		}
		got = job
		return job.State == want
	}, 10*time.Second, 10*time.Millisecond)
	return got
}

// TestDispatcherEndToEnd drives one job through the whole pipeline:
// enqueue, claim within a poll interval, run with lease extensions,
// succeed with the recorded result.
func TestDispatcherEndToEnd(t *testing.T) {
	repo := newTestRepo(t)
	cfg := testDispatcherConfig()

	runner := &fakeRunner{
		run: func(runCtx context.Context, payload *models.FitPayload) (*models.FitResult, error) {
			// Outlives two heartbeat ticks so the lease is extended
			select {
			case <-time.After(cfg.LeaseDuration):
			case <-runCtx.Done():
				return nil, runCtx.Err()
			}
			return &models.FitResult{
				PosteriorSamples: json.RawMessage(`{"mej": [0.03]}`),
				LogBayesFactor:   4.2,
			}, nil
		},
	}

	dispatcher := NewDispatcher(cfg, repo, runner)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go dispatcher.Run(ctx, &wg)

	job := enqueueTestJob(t, repo, "ZTF21abcdefg")
	dispatcher.Wake()

	final := waitForState(t, repo, job.ID, models.JobStateSucceeded)
	require.NotNil(t, final.LogBayesFactor)
	require.InDelta(t, 4.2, *final.LogBayesFactor, 1e-9)
	require.NotEmpty(t, final.ClaimedBy)
	require.Nil(t, final.LeaseExpiresAt)

	cancel()
	wg.Wait()
}

// TestDispatcherBoundedSlots saturates the pool and verifies excess
// jobs wait in the store rather than running concurrently.
func TestDispatcherBoundedSlots(t *testing.T) {
	repo := newTestRepo(t)
	cfg := testDispatcherConfig()
	cfg.Slots = 1

	release := make(chan struct{})
	var mu sync.Mutex
	running := 0
	maxRunning := 0

	runner := &fakeRunner{
		run: func(runCtx context.Context, _ *models.FitPayload) (*models.FitResult, error) {
			mu.Lock()
			running++
			if running > maxRunning {
				maxRunning = running
			}
			mu.Unlock()

			select {
			case <-release:
			case <-runCtx.Done():
			}

			mu.Lock()
			running--
			mu.Unlock()
			return &models.FitResult{}, nil
		},
	}

	dispatcher := NewDispatcher(cfg, repo, runner)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go dispatcher.Run(ctx, &wg)

	first := enqueueTestJob(t, repo, "ZTF21aaaaaaa")
	second := enqueueTestJob(t, repo, "ZTF21bbbbbbb")
	dispatcher.Wake()

	waitForState(t, repo, first.ID, models.JobStateRunning)

	// The second job must stay pending while the only slot is busy
	time.Sleep(5 * cfg.PollInterval)
	pending, err := repo.GetByID(context.Background(), second.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatePending, pending.State)

	close(release)
	waitForState(t, repo, second.ID, models.JobStateSucceeded)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, maxRunning, "slot bound must hold")

	cancel()
	wg.Wait()
}

// TestDispatcherReclaimsCrashedWorker simulates a worker process crash:
// a job is claimed and marked running by a worker that never extends
// its lease. After expiry plus a sweep the dispatcher must reclaim the
// job and a live worker must finish it.
func TestDispatcherReclaimsCrashedWorker(t *testing.T) {
	repo := newTestRepo(t)
	cfg := testDispatcherConfig()
	ctx := context.Background()

	job := enqueueTestJob(t, repo, "ZTF21abcdefg")

	// The doomed worker claims the job, starts it, then "crashes"
	claimed, err := repo.ClaimNext(ctx, "worker-dead", 50*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, job.ID, claimed.ID)
	require.NoError(t, repo.MarkRunning(ctx, job.ID, "worker-dead"))

	runner := &fakeRunner{
		run: func(_ context.Context, _ *models.FitPayload) (*models.FitResult, error) {
			return &models.FitResult{LogBayesFactor: 2.7}, nil
		},
	}

	dispatcher := NewDispatcher(cfg, repo, runner)
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go dispatcher.Run(runCtx, &wg)

	final := waitForState(t, repo, job.ID, models.JobStateSucceeded)
	require.NotEqual(t, "worker-dead", final.ClaimedBy)
	require.NotEmpty(t, final.ClaimedBy)

	// The dead worker's late report must be rejected
	require.ErrorIs(t, repo.Complete(ctx, job.ID, "worker-dead", &models.FitResult{}), repos.ErrNotOwner)

	cancel()
	wg.Wait()
}
