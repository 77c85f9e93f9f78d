package services

import "errors"

// Run service errors. Returned errors wrap these inside an AppError that
// carries the HTTP-facing classification.
var (
	ErrRunNotFound      = errors.New("run not found")
	ErrRunNotComplete   = errors.New("run has not completed")
	ErrRunFinished      = errors.New("run already finished")
	ErrModelUnavailable = errors.New("fitted model is not available for this run")
)
