package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals that the requested job does not exist.
	ErrNotFound = errors.New("job not found")
	// ErrClaimLost is returned by Claim when the job is no longer pending.
	ErrClaimLost = errors.New("job claim lost")
	// ErrActiveKeyTaken is returned by Insert when another pending or running
	// job already holds the grouping key.
	ErrActiveKeyTaken = errors.New("grouping key already has an active job")
	// ErrNotRunning is returned by Complete and Fail when the job is not running.
	ErrNotRunning = errors.New("job is not running")
	// ErrCrawlFailure marks a crawl that fetched nothing.
	ErrCrawlFailure = errors.New("crawl failure")
	// ErrPersistence wraps job store and result sink write failures.
	ErrPersistence = errors.New("persistence failure")
)

// ValidationError rejects malformed job input before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
