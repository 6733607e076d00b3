package request

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidTransition is returned when a transition is attempted from
	// a state that does not permit it. The record is left unchanged.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrForbidden is returned on authorization failures (wrong POD, wrong
	// role, not the submitter). Nothing is partially applied.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound is returned when no request exists for the id.
	ErrNotFound = errors.New("request not found")

	// ErrNoResult is returned when a result is read from a request that has
	// not executed successfully.
	ErrNoResult = errors.New("request has no execution result")

	// ErrInvalidSubmission is returned when a submission payload fails
	// construction-time validation.
	ErrInvalidSubmission = errors.New("invalid submission")
)

// StatusUpdate carries the fields written alongside a status transition.
// Nil pointers leave the stored value untouched.
type StatusUpdate struct {
	Status          Status
	ApproverEmail   *string
	RejectionReason *string
	ExecutionResult *string
	ExecutionError  *string
	IsCompressed    *bool
	CompressedBlob  []byte
	ExecutedAt      *time.Time
}

// Filter narrows a List call.
type Filter struct {
	UserID string
	PodIDs []string
	Status Status
	Limit  int
	Offset int
}

// Store is the narrow persistence contract the state machine depends on.
// UpdateStatus must apply the transition atomically: only when the current
// status still equals from. The losing side of a race observes
// ErrInvalidTransition.
type Store interface {
	Create(ctx context.Context, r *QueryRequest) error
	Get(ctx context.Context, id string) (*QueryRequest, error)
	List(ctx context.Context, f Filter) ([]*QueryRequest, error)
	UpdateStatus(ctx context.Context, id string, from Status, upd StatusUpdate) (*QueryRequest, error)
}
