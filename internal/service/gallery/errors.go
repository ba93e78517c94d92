package gallery

import (
	"errors"
	"fmt"
)

var (
	ErrMissingSession = errors.New("session id is required")
	ErrInvalidSession = errors.New("session id must not contain '/'")
	ErrNoFiles        = errors.New("no files to upload")
	ErrTooManyFiles   = errors.New("too many files")
)

// ValidationError rejects an upload before anything is written.
type ValidationError struct {
	File   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.File == "" {
		return e.Reason
	}
	return fmt.Sprintf("file %q: %s", e.File, e.Reason)
}

// IsClientError reports whether err was caused by the request rather than
// a backend.
func IsClientError(err error) bool {
	var ve *ValidationError
	return errors.Is(err, ErrMissingSession) ||
		errors.Is(err, ErrInvalidSession) ||
		errors.Is(err, ErrNoFiles) ||
		errors.Is(err, ErrTooManyFiles) ||
		errors.As(err, &ve)
}
