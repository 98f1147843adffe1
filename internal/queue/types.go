package queue

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrUnavailable marks store failures the caller should treat as transient.
	ErrUnavailable = errors.New("job store unavailable")

	ErrNotFound       = errors.New("job not found")
	ErrInvalidOutcome = errors.New("invalid release outcome")
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusRunning Status = "RUNNING"
	StatusFailed  Status = "FAILED"
	StatusDone    Status = "DONE"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusFailed, StatusDone:
		return true
	}
	return false
}

// Collection states. Only active collections have claimable jobs.
const (
	CollectionActive   = "ACTIVE"
	CollectionInactive = "INACTIVE"
)

// Job is one regeneration request: a target document within a collection.
type Job struct {
	ID         int64
	Target     string
	Collection string
	Status     Status
	Touched    time.Time
	Note       string
}

// Queue is the contract the scheduler works against.
type Queue interface {
	// ResetStaleRunning moves every RUNNING job back to PENDING.
	ResetStaleRunning(ctx context.Context) (int64, error)
	// ClaimNext marks the next eligible PENDING job RUNNING and returns it.
	// An empty eligible set means every active collection.
	ClaimNext(ctx context.Context, eligible []string, batch int) (Job, bool, error)
	// Release moves a RUNNING job to DONE, FAILED or PENDING.
	Release(ctx context.Context, id int64, outcome Status, note string) error
}

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means 5s
}

type storeError struct {
	op  string
	err error
}

func (e *storeError) Error() string   { return "queue " + e.op + ": " + e.err.Error() }
func (e *storeError) Unwrap() []error { return []error{ErrUnavailable, e.err} }

func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &storeError{op: op, err: err}
}

// IsTransient reports whether err came from the store rather than the caller.
func IsTransient(err error) bool { return errors.Is(err, ErrUnavailable) }

func eligibleKey(eligible []string) string {
	return strings.Join(eligible, "\x00")
}
