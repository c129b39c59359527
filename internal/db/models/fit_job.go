package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Field names for the fit job model
const (
	// FitJobStateField is the field name for the job state
	FitJobStateField = "state"
	// FitJobClaimedByField is the field name for the claiming worker id
	FitJobClaimedByField = "claimed_by"
	// FitJobLeaseExpiresAtField is the field name for the lease deadline
	FitJobLeaseExpiresAtField = "lease_expires_at"
	// FitJobCreatedAtField is the field name for the creation timestamp
	FitJobCreatedAtField = "created_at"
)

// JobState represents the current state of a fit job
type JobState string

// Job state constants
const (
	// JobStateUnknown represents an unknown or invalid job state
	JobStateUnknown JobState = "unknown"
	// JobStatePending indicates the job is waiting to be claimed
	JobStatePending JobState = "pending"
	// JobStateClaimed indicates a worker holds the job but has not started it
	JobStateClaimed JobState = "claimed"
	// JobStateRunning indicates the fit is currently being computed
	JobStateRunning JobState = "running"
	// JobStateSucceeded indicates the fit finished and results are recorded
	JobStateSucceeded JobState = "succeeded"
	// JobStateFailed indicates the fit failed and the error is recorded
	JobStateFailed JobState = "failed"
	// JobStateCancelled indicates the job was cancelled before running
	JobStateCancelled JobState = "cancelled"
)

// FitJob represents one requested nested-sampling light curve fit.
//
// The row is the queue: workers coordinate exclusively through
// conditional updates on state, claimed_by and lease_expires_at.
type FitJob struct {
	gorm.Model
	ObjectID       string          `json:"object_id" gorm:"not null; index"`
	ModelName      string          `json:"model_name" gorm:"not null; index"`
	Payload        json.RawMessage `json:"payload" gorm:"type:jsonb"`
	State          JobState        `json:"state" gorm:"not null; index"`
	ClaimedBy      string          `json:"claimed_by,omitempty" gorm:"index"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty" gorm:"index"`
	Result         json.RawMessage `json:"result,omitempty" gorm:"type:jsonb"`
	Error          string          `json:"error,omitempty" gorm:"type:text"`
	LogBayesFactor *float64        `json:"log_bayes_factor,omitempty"`
	CreatedAt      time.Time       `json:"created_at" gorm:"index"`
}

// FitPayload is the submitted fit request stored in the payload column.
// Photometry rows are [time, filter, mag, mag_error] strings, the exact
// shape the light_curve_analysis data file expects.
type FitPayload struct {
	ModelName  string     `json:"model_name"`
	ObjectID   string     `json:"object_id"`
	Photometry [][]string `json:"photometry"`
}

// FitResult is the recorded output of a finished fit.
type FitResult struct {
	BestfitLightcurve json.RawMessage `json:"bestfit_lightcurve,omitempty"`
	PosteriorSamples  json.RawMessage `json:"posterior_samples,omitempty"`
	LogBayesFactor    float64         `json:"log_bayes_factor"`
}

// String returns the string representation of the job state
func (s JobState) String() string {
	return string(s)
}

// Terminal reports whether no further transition is permitted from s
func (s JobState) Terminal() bool {
	switch s {
	case JobStateSucceeded, JobStateFailed, JobStateCancelled:
		return true
	}
	return false
}

// ParseJobState converts a string to a JobState type
func ParseJobState(str string) (JobState, error) {
	switch str {
	case string(JobStatePending):
		return JobStatePending, nil
	case string(JobStateClaimed):
		return JobStateClaimed, nil
	case string(JobStateRunning):
		return JobStateRunning, nil
	case string(JobStateSucceeded):
		return JobStateSucceeded, nil
	case string(JobStateFailed):
		return JobStateFailed, nil
	case string(JobStateCancelled):
		return JobStateCancelled, nil
	default:
		return JobStateUnknown, fmt.Errorf("invalid job state: %s", str)
	}
}

// UnmarshalJSON implements json.Unmarshaler for JobState
func (s *JobState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	state, err := ParseJobState(str)
	if err != nil {
		return err
	}

	*s = state
	return nil
}

// MarshalJSON implements json.Marshaler for JobState
func (s *JobState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Validate ensures that the fit job data is valid
func (j *FitJob) Validate() error {
	if j.ObjectID == "" {
		return fmt.Errorf("fit job object id cannot be empty")
	}
	if j.ModelName == "" {
		return fmt.Errorf("fit job model name cannot be empty")
	}
	return nil
}

// BeforeCreate is a GORM hook that runs before inserting a new fit job
func (j *FitJob) BeforeCreate(_ *gorm.DB) error {
	if j.State == "" {
		j.State = JobStatePending
	}
	return j.Validate()
}
