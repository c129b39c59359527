// Package engine runs nested-sampling light curve fits. The inference
// itself is an external computation; this package only defines the
// calling contract and its process-based implementation.
package engine

import (
	"context"
	"errors"

	"github.com/multimessenger/nmmadb/internal/db/models"
)

// ErrComputationFailed indicates the inference engine reported an
// error. It is recorded as the job's terminal failure, never retried.
var ErrComputationFailed = errors.New("fit computation failed")

// Runner executes one fit to completion or failure. Implementations
// must honor context cancellation; a run may take minutes to hours.
type Runner interface {
	Run(ctx context.Context, payload *models.FitPayload) (*models.FitResult, error)
}
