package job

import "errors"

var (
	// ErrUnknownTask is returned when a job names a task that has not
	// been registered.
	ErrUnknownTask = errors.New("job: unknown task")

	// ErrInvalidPayload is returned when a task payload cannot be
	// unmarshaled into the expected type.
	ErrInvalidPayload = errors.New("job: invalid payload")

	// ErrAlreadyStarted is returned when starting a manager that is
	// already running.
	ErrAlreadyStarted = errors.New("job: already started")

	// ErrNotStarted is returned when stopping a manager that is not
	// running.
	ErrNotStarted = errors.New("job: not started")

	// ErrPoolRequired is returned when a manager or enqueuer is created
	// without a database pool.
	ErrPoolRequired = errors.New("job: pool is required")
)

// terminalError marks a failure that redelivery cannot fix.
type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// Terminal wraps err so the queue abandons the job instead of retrying it.
// Use it for failures where another attempt cannot produce a different
// outcome, such as a missing template.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// IsTerminal reports whether err carries a Terminal marker.
func IsTerminal(err error) bool {
	var t *terminalError
	return errors.As(err, &t)
}
