package apierr

import "fmt"

type Error struct {
	Status int
	Code   string
	Err    error

	// JobID, when set, is the job the error pertains to -- callers that
	// already have it in scope (job-not-found, stage dispatch failures)
	// attach it so the response envelope can carry it without the client
	// having to re-parse the request path.
	JobID string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// WithJobID attaches a job_id to the error and returns it for chaining.
func (e *Error) WithJobID(jobID string) *Error {
	e.JobID = jobID
	return e
}
