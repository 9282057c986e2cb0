package fetch

import (
	"errors"
	"fmt"
)

// ErrGone marks a resource the source reports permanently absent (404 or
// 410). Callers soft-delete the entity instead of retrying.
var ErrGone = errors.New("resource gone from source")

// TransientError marks a fetch failure worth retrying: network errors,
// 5xx responses, and 429 throttling.
type TransientError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient fetch failure for %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("transient fetch failure for %s: status %d", e.URL, e.StatusCode)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
