package retry

import "errors"

// NonRetryableError marks a failure that must abort immediately regardless of
// the retry policy.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return "non-retryable: " + e.Err.Error()
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so that Do stops retrying. nil stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	var nre *NonRetryableError
	if errors.As(err, &nre) {
		return err
	}
	return &NonRetryableError{Err: err}
}

// IsPermanent reports whether err (or anything it wraps) is non-retryable.
func IsPermanent(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}
