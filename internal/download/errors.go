package download

import (
	"errors"
	"strings"
)

// ErrAlreadyRunning is returned by Start while a run is in progress.
var ErrAlreadyRunning = errors.New("a download is already running")

// ValidationError lists required inputs that were left empty. It is
// returned before any connection attempt.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return "please fill in all fields: missing " + strings.Join(e.Missing, ", ")
}

// IsValidationError reports whether err (or any error in its chain) is a
// ValidationError.
func IsValidationError(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}
