package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// ErrAborted is returned when the caller chooses to abort on duplicates.
var ErrAborted = eris.New("reconcile: aborted by caller")

// ErrUndecided is returned by Commit when duplicates were found and no
// decision was recorded.
var ErrUndecided = eris.New("reconcile: duplicates require a decision before commit")

// ConflictError marks a record whose external id already exists in the store.
type ConflictError struct {
	Index      int
	ExternalID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("reconcile: external id %q (row %d) already exists", e.ExternalID, e.Index)
}

// PartialDeleteError lists duplicates that could not be removed during a
// replace. The caller may retry with AllowPartial to continue without them.
type PartialDeleteError struct {
	FailedIDs []string
}

func (e *PartialDeleteError) Error() string {
	return fmt.Sprintf("reconcile: failed to delete %d duplicate(s): %s", len(e.FailedIDs), strings.Join(e.FailedIDs, ", "))
}

// CommitTimeoutError is returned when the whole commit exceeds its deadline.
// Partial holds what was written before the deadline.
type CommitTimeoutError struct {
	Timeout time.Duration
	Partial *CommitResult
}

func (e *CommitTimeoutError) Error() string {
	return fmt.Sprintf("reconcile: commit exceeded %s", e.Timeout)
}

func (e *CommitTimeoutError) Unwrap() error { return context.DeadlineExceeded }

// ErrorKind separates validation failures from store failures.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindProcessing ErrorKind = "processing"
)

// RecordError is a per-record failure in a commit.
type RecordError struct {
	Index      int       `json:"index"`
	ExternalID string    `json:"external_id,omitempty"`
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
}

func (e RecordError) Error() string {
	if e.ExternalID != "" {
		return fmt.Sprintf("row %d (%s): %s", e.Index, e.ExternalID, e.Message)
	}
	return fmt.Sprintf("row %d: %s", e.Index, e.Message)
}
