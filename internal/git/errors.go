package git

import (
	"errors"
	"fmt"
)

// ErrRepositoryNotInitialized is returned for any operation issued before a
// repository has been loaded.
var ErrRepositoryNotInitialized = errors.New("repository not initialized")

// RefNotFoundError reports a ref that could not be resolved to a commit.
type RefNotFoundError struct {
	Ref string
	Err error
}

func (e *RefNotFoundError) Error() string {
	return fmt.Sprintf("ref not found: %q", e.Ref)
}

func (e *RefNotFoundError) Unwrap() error { return e.Err }

// MissingRepositoryDataError reports that the expected .git structure is
// absent from a snapshot or directory.
type MissingRepositoryDataError struct {
	Reason string
	Err    error
}

func (e *MissingRepositoryDataError) Error() string {
	if e.Reason == "" {
		return "missing repository data"
	}
	return "missing repository data: " + e.Reason
}

func (e *MissingRepositoryDataError) Unwrap() error { return e.Err }
