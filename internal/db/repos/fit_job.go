package repos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/multimessenger/nmmadb/internal/db/models"
)

// claimAttempts bounds how many candidates a single ClaimNext call will
// race for before reporting no work. Each lost race means another
// worker won that row, so a small bound is enough.
const claimAttempts = 5

// eligibleCond matches jobs that may be claimed by the given worker:
// pending jobs, plus claimed/running jobs whose lease lapsed under a
// different worker.
const eligibleCond = "state = ? OR (state IN (?, ?) AND lease_expires_at < ? AND claimed_by <> ?)"

// FitJobRepository handles database operations for fit jobs
type FitJobRepository struct {
	db *gorm.DB
}

// NewFitJobRepository creates a new instance of FitJobRepository
func NewFitJobRepository(db *gorm.DB) *FitJobRepository {
	return &FitJobRepository{
		db: db,
	}
}

// Create inserts a new pending fit job in the database
func (r *FitJobRepository) Create(ctx context.Context, job *models.FitJob) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// GetByID retrieves a fit job by ID from the database
func (r *FitJobRepository) GetByID(ctx context.Context, id uint) (*models.FitJob, error) {
	var job models.FitJob
	if err := r.db.WithContext(ctx).First(&job, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return &job, nil
}

// GetByObjectAndModel retrieves the most recent fit job for an object/model pair
func (r *FitJobRepository) GetByObjectAndModel(ctx context.Context, objectID, modelName string) (*models.FitJob, error) {
	var job models.FitJob
	err := r.db.WithContext(ctx).Where(models.FitJob{
		ObjectID:  objectID,
		ModelName: modelName,
	}).Order("created_at DESC, id DESC").First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return &job, nil
}

// List retrieves fit jobs with optional state filtering and pagination
func (r *FitJobRepository) List(ctx context.Context, opts *models.ListOptions) ([]models.FitJob, error) {
	var jobs []models.FitJob
	query := r.db.WithContext(ctx).Order("created_at ASC, id ASC")
	if opts != nil {
		if opts.State != nil {
			query = query.Where(models.FitJobStateField+" = ?", *opts.State)
		}
		if opts.Limit > 0 {
			query = query.Limit(opts.Limit)
		}
		query = query.Offset(opts.Offset)
	}
	if err := query.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return jobs, nil
}

// ClaimNext atomically claims the oldest eligible fit job for the given
// worker and returns it, or nil when no eligible job exists.
//
// Eligible jobs are pending ones plus claimed/running ones whose lease
// expired under a different worker; reclaimed jobs keep their original
// created_at and therefore re-enter ahead of newer work. The claim is a
// conditional UPDATE keyed on the candidate's prior state and lease, so
// exactly one of any number of concurrent callers wins a given row.
func (r *FitJobRepository) ClaimNext(ctx context.Context, workerID string, leaseDuration time.Duration) (*models.FitJob, error) {
	for attempt := 0; attempt < claimAttempts; attempt++ {
		now := time.Now().UTC()

		var candidate models.FitJob
		err := r.db.WithContext(ctx).
			Where(eligibleCond,
				models.JobStatePending,
				models.JobStateClaimed, models.JobStateRunning, now, workerID).
			Order("created_at ASC, id ASC").
			First(&candidate).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}

		expiresAt := now.Add(leaseDuration)
		res := r.db.WithContext(ctx).Model(&models.FitJob{}).
			Where("id = ? AND ("+eligibleCond+")",
				candidate.ID,
				models.JobStatePending,
				models.JobStateClaimed, models.JobStateRunning, now, workerID).
			Updates(map[string]interface{}{
				models.FitJobStateField:          models.JobStateClaimed,
				models.FitJobClaimedByField:      workerID,
				models.FitJobLeaseExpiresAtField: expiresAt,
			})
		if res.Error != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, res.Error)
		}
		if res.RowsAffected == 1 {
			return r.GetByID(ctx, candidate.ID)
		}
		// Lost the race for this row; try the next candidate.
	}
	return nil, nil
}

// MarkRunning transitions a claimed fit job to running. The calling
// worker must still hold an unexpired lease.
func (r *FitJobRepository) MarkRunning(ctx context.Context, id uint, workerID string) error {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&models.FitJob{}).
		Where("id = ? AND state = ? AND claimed_by = ? AND lease_expires_at >= ?",
			id, models.JobStateClaimed, workerID, now).
		Update(models.FitJobStateField, models.JobStateRunning)
	if res.Error != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		return r.diagnoseOwnership(ctx, id, workerID)
	}
	return nil
}

// ExtendLease refreshes the lease deadline of a claimed or running job.
// Workers call this periodically so a long fit is not reclaimed.
func (r *FitJobRepository) ExtendLease(ctx context.Context, id uint, workerID string, leaseDuration time.Duration) error {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&models.FitJob{}).
		Where("id = ? AND state IN (?, ?) AND claimed_by = ? AND lease_expires_at >= ?",
			id, models.JobStateClaimed, models.JobStateRunning, workerID, now).
		Update(models.FitJobLeaseExpiresAtField, now.Add(leaseDuration))
	if res.Error != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		return r.diagnoseOwnership(ctx, id, workerID)
	}
	return nil
}

// Complete records a successful fit. The transition is idempotent for
// the worker that already succeeded: a repeated call is a no-op that
// leaves the recorded row untouched.
func (r *FitJobRepository) Complete(ctx context.Context, id uint, workerID string, result *models.FitResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode fit result: %w", err)
	}

	res := r.db.WithContext(ctx).Model(&models.FitJob{}).
		Where("id = ? AND state = ? AND claimed_by = ?", id, models.JobStateRunning, workerID).
		Updates(map[string]interface{}{
			models.FitJobStateField:          models.JobStateSucceeded,
			"result":                         json.RawMessage(raw),
			"log_bayes_factor":               result.LogBayesFactor,
			models.FitJobLeaseExpiresAtField: nil,
		})
	if res.Error != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		return r.diagnoseTerminal(ctx, id, workerID, models.JobStateSucceeded)
	}
	return nil
}

// Fail records a failed fit with a structured error detail. Idempotent
// under the same ownership rule as Complete.
func (r *FitJobRepository) Fail(ctx context.Context, id uint, workerID string, errMsg string) error {
	res := r.db.WithContext(ctx).Model(&models.FitJob{}).
		Where("id = ? AND state = ? AND claimed_by = ?", id, models.JobStateRunning, workerID).
		Updates(map[string]interface{}{
			models.FitJobStateField:          models.JobStateFailed,
			"error":                          errMsg,
			models.FitJobLeaseExpiresAtField: nil,
		})
	if res.Error != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		return r.diagnoseTerminal(ctx, id, workerID, models.JobStateFailed)
	}
	return nil
}

// Cancel transitions a pending or claimed job to cancelled. Running and
// terminal jobs cannot be cancelled.
func (r *FitJobRepository) Cancel(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Model(&models.FitJob{}).
		Where("id = ? AND state IN (?, ?)", id, models.JobStatePending, models.JobStateClaimed).
		Updates(map[string]interface{}{
			models.FitJobStateField:          models.JobStateCancelled,
			models.FitJobClaimedByField:      "",
			models.FitJobLeaseExpiresAtField: nil,
		})
	if res.Error != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrInvalidTransition
	}
	return nil
}

// diagnoseOwnership explains a rejected lease-guarded mutation: the
// caller's view is stale and it must stop progressing the job.
func (r *FitJobRepository) diagnoseOwnership(ctx context.Context, id uint, workerID string) error {
	job, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if job.ClaimedBy != workerID {
		return ErrNotOwner
	}
	if job.LeaseExpiresAt != nil && job.LeaseExpiresAt.Before(time.Now().UTC()) {
		return ErrLeaseExpired
	}
	return ErrInvalidTransition
}

// diagnoseTerminal explains a rejected terminal transition, treating a
// repeated report from the recorded owner as a successful no-op.
func (r *FitJobRepository) diagnoseTerminal(ctx context.Context, id uint, workerID string, want models.JobState) error {
	job, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if job.State == want && job.ClaimedBy == workerID {
		// Retried report after the first one landed.
		return nil
	}
	if job.ClaimedBy != workerID {
		return ErrNotOwner
	}
	if job.State.Terminal() {
		return ErrInvalidTransition
	}
	if job.LeaseExpiresAt != nil && job.LeaseExpiresAt.Before(time.Now().UTC()) {
		return ErrLeaseExpired
	}
	return ErrInvalidTransition
}
