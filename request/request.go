// Package request owns the lifecycle of a submitted query or script: the
// QueryRequest model, the approval state machine and the store contract the
// state machine serializes through.
package request

import (
	"fmt"
	"time"

	"github.com/rs/xid"
)

// DatabaseKind selects the backend a request targets.
type DatabaseKind string

const (
	KindRelational    DatabaseKind = "relational"
	KindDocumentStore DatabaseKind = "document"
)

// SubmissionKind distinguishes free-text queries from uploaded scripts.
type SubmissionKind string

const (
	SubmissionQuery  SubmissionKind = "query"
	SubmissionScript SubmissionKind = "script"
)

// Status is the request workflow state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusExecuted  Status = "executed"
	StatusFailed    Status = "failed"
	StatusWithdrawn Status = "withdrawn"
)

// Terminal reports whether no further transition is permitted.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusExecuted, StatusFailed, StatusWithdrawn:
		return true
	}
	return false
}

// transitions is the authoritative state machine. A status never re-enters
// pending once left.
var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected, StatusWithdrawn},
	StatusApproved: {StatusExecuted, StatusFailed},
}

// CanTransition reports whether the state machine permits s -> next.
func (s Status) CanTransition(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// QueryRequest is the unit of work. Warnings are computed exactly once at
// submission; ExecutionResult and ExecutionError are mutually exclusive
// outcomes of the single permitted execution attempt.
type QueryRequest struct {
	ID string `json:"id"`

	UserID    string `json:"user_id"`
	UserEmail string `json:"user_email"`

	DatabaseKind DatabaseKind `json:"database_kind"`
	InstanceID   string       `json:"instance_id"`
	InstanceName string       `json:"instance_name"`
	DatabaseName string       `json:"database_name"`

	Kind           SubmissionKind `json:"kind"`
	Query          string         `json:"query,omitempty"`
	ScriptFileName string         `json:"script_file_name,omitempty"`
	ScriptContent  string         `json:"-"`

	Status          Status     `json:"status"`
	ApproverEmail   string     `json:"approver_email,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	ExecutionResult string     `json:"execution_result,omitempty"`
	ExecutionError  string     `json:"execution_error,omitempty"`
	IsCompressed    bool       `json:"is_compressed"`
	CompressedBlob  []byte     `json:"-"`
	ExecutedAt      *time.Time `json:"executed_at,omitempty"`

	Warnings []string `json:"warnings,omitempty"`

	PodID   string `json:"pod_id"`
	PodName string `json:"pod_name"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRequest constructs a pending request and enforces that exactly one of
// query or script payload is populated.
func NewRequest(userID, userEmail string, kind DatabaseKind, instanceID, instanceName, dbName string,
	query, scriptFileName, scriptContent, podID, podName string) (*QueryRequest, error) {

	hasQuery := query != ""
	hasScript := scriptFileName != "" || scriptContent != ""

	if hasQuery == hasScript {
		return nil, fmt.Errorf("%w: exactly one of query or script must be provided", ErrInvalidSubmission)
	}
	if hasScript && (scriptFileName == "" || scriptContent == "") {
		return nil, fmt.Errorf("%w: script submissions need both a file name and content", ErrInvalidSubmission)
	}

	submission := SubmissionQuery
	if hasScript {
		submission = SubmissionScript
	}

	now := time.Now().UTC()
	return &QueryRequest{
		ID:             xid.New().String(),
		UserID:         userID,
		UserEmail:      userEmail,
		DatabaseKind:   kind,
		InstanceID:     instanceID,
		InstanceName:   instanceName,
		DatabaseName:   dbName,
		Kind:           submission,
		Query:          query,
		ScriptFileName: scriptFileName,
		ScriptContent:  scriptContent,
		Status:         StatusPending,
		PodID:          podID,
		PodName:        podName,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// PayloadText returns the submitted text regardless of submission kind.
func (r *QueryRequest) PayloadText() string {
	if r.Kind == SubmissionScript {
		return r.ScriptContent
	}
	return r.Query
}
