package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/multimessenger/nmmadb/internal/db/models"
	"github.com/multimessenger/nmmadb/internal/db/repos"
	"github.com/multimessenger/nmmadb/internal/events"
)

// FitJob handles fit job submission and status reads
type FitJob struct {
	repo *repos.FitJobRepository
}

// NewFitJobService creates a new instance of the fit job service
func NewFitJobService(repo *repos.FitJobRepository) *FitJob {
	return &FitJob{
		repo: repo,
	}
}

// Enqueue validates and inserts a new pending fit job, then nudges any
// in-process dispatcher so the job is picked up before the next poll.
func (s *FitJob) Enqueue(ctx context.Context, payload *models.FitPayload) (*models.FitJob, error) {
	if payload.ModelName == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if payload.ObjectID == "" {
		return nil, fmt.Errorf("object id is required")
	}
	if len(payload.Photometry) == 0 {
		return nil, fmt.Errorf("photometry is required")
	}
	for i, row := range payload.Photometry {
		if len(row) != 4 {
			return nil, fmt.Errorf("photometry row %d has %d columns, want 4", i, len(row))
		}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	job := &models.FitJob{
		ObjectID:  payload.ObjectID,
		ModelName: payload.ModelName,
		Payload:   raw,
		State:     models.JobStatePending,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, err
	}

	events.Publish(events.Event{
		Type:      events.EventJobEnqueued,
		JobID:     job.ID,
		ObjectID:  job.ObjectID,
		ModelName: job.ModelName,
	})

	return job, nil
}

// Get retrieves a fit job by ID
func (s *FitJob) Get(ctx context.Context, id uint) (*models.FitJob, error) {
	return s.repo.GetByID(ctx, id)
}

// GetByObjectAndModel retrieves the latest fit job for an object/model pair
func (s *FitJob) GetByObjectAndModel(ctx context.Context, objectID, modelName string) (*models.FitJob, error) {
	return s.repo.GetByObjectAndModel(ctx, objectID, modelName)
}

// List retrieves fit jobs with optional state filtering and pagination
func (s *FitJob) List(ctx context.Context, opts *models.ListOptions) ([]models.FitJob, error) {
	return s.repo.List(ctx, opts)
}

// Cancel cancels a pending or claimed fit job
func (s *FitJob) Cancel(ctx context.Context, id uint) error {
	return s.repo.Cancel(ctx, id)
}
