// Package handlers provides HTTP request handling
package handlers

// Common error messages
const (
	ErrMsgInvalidReqBody = "Invalid request body"
	ErrMsgInvalidJobID   = "Invalid fit job id"
)

// Fit job error messages
const (
	ErrMsgFitNotFound       = "Fit job not found"
	ErrMsgFitCreateFailed   = "Failed to submit fit job"
	ErrMsgFitListFailed     = "Failed to list fit jobs"
	ErrMsgFitGetFailed      = "Failed to get fit job"
	ErrMsgFitCancelFailed   = "Failed to cancel fit job"
	ErrMsgFitNotCancellable = "Fit job can no longer be cancelled"
	ErrMsgFitStillRunning   = "Fit job is still in progress"
)
