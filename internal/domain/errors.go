package domain

import "errors"

// Sentinel errors, grounded on the teacher's internal/pkg/errors style but
// widened to the orchestration domain's own taxonomy (spec.md §7).
var (
	// ErrNotFound is returned when a job or task row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned by CreateJob when job_id already exists.
	// JobSubmission treats this as the idempotency success path, not a
	// failure.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidTransition is returned when a status transition is not in
	// the valid transition matrix (e.g. COMPLETED -> PROCESSING).
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrUnknownJobType is a registry lookup miss; a deployment/config
	// defect, not a transient condition.
	ErrUnknownJobType = errors.New("unknown job type")

	// ErrUnknownTaskType is a handler registry lookup miss; same severity
	// as ErrUnknownJobType.
	ErrUnknownTaskType = errors.New("unknown task type")

	// ErrContractViolation marks an invariant break that must not be
	// retried: dead-letter and surface via observability.
	ErrContractViolation = errors.New("contract violation")

	// ErrValidationFailed is returned by JobSubmission.Validate.
	ErrValidationFailed = errors.New("validation failed")
)
