package request

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/querygate/querygate/auth"
	"github.com/querygate/querygate/executor"
	"github.com/querygate/querygate/sanitize"
	"github.com/querygate/querygate/script"
)

// resultCompressThreshold is the output size above which execution results
// are stored gzip-compressed with a truncated inline preview.
const resultCompressThreshold = 100 * 1024

// Instance is a resolved connection target. Credentials live only for the
// duration of one execution.
type Instance struct {
	ID         string
	Name       string
	Kind       DatabaseKind
	ConnString string
	Schema     string
}

// Registry resolves an instance id to connection parameters.
type Registry interface {
	Resolve(ctx context.Context, instanceID string) (Instance, error)
}

// StatementExecutor is the slice of the relational executor the state
// machine drives.
type StatementExecutor interface {
	Execute(ctx context.Context, statement, schema string) executor.Result
	Close()
}

// ExecutorFactory builds an executor for one connection target.
type ExecutorFactory func(connString string) (StatementExecutor, error)

// ScriptRunner is the script-execution boundary.
type ScriptRunner interface {
	Run(ctx context.Context, in script.Input) (script.RunResult, error)
}

// Service drives submissions through validation, approval and execution.
type Service struct {
	store    Store
	registry Registry
	execFn   ExecutorFactory
	runner   ScriptRunner
	log      *zap.SugaredLogger
}

// NewService wires the state machine to its collaborators.
func NewService(store Store, registry Registry, execFn ExecutorFactory, runner ScriptRunner, log *zap.SugaredLogger) *Service {
	return &Service{store: store, registry: registry, execFn: execFn, runner: runner, log: log}
}

// SubmitInput is a new submission.
type SubmitInput struct {
	DatabaseKind   DatabaseKind
	InstanceID     string
	DatabaseName   string
	Query          string
	ScriptFileName string
	ScriptContent  string
	PodID          string
	PodName        string
}

// Submit validates the payload and creates a pending request. Hard blocks
// (denylisted operators, invalid file names) prevent creation entirely;
// soft findings become warnings recorded once, at submission time.
func (s *Service) Submit(ctx context.Context, p auth.Principal, in SubmitInput) (*QueryRequest, error) {
	inst, err := s.registry.Resolve(ctx, in.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("resolve instance %s: %w", in.InstanceID, err)
	}

	scriptFileName := in.ScriptFileName
	if scriptFileName != "" {
		scriptFileName, err = sanitize.SanitizeFileName(scriptFileName)
		if err != nil {
			return nil, err
		}
	}

	r, err := NewRequest(p.UserID, p.Email, in.DatabaseKind, inst.ID, inst.Name,
		in.DatabaseName, in.Query, scriptFileName, in.ScriptContent, in.PodID, in.PodName)
	if err != nil {
		return nil, err
	}

	payload := r.PayloadText()

	if in.DatabaseKind == KindDocumentStore {
		if _, err := sanitize.SanitizeDocumentStoreInput(payload); err != nil {
			return nil, err
		}
		if sanitize.IsDangerousDocumentMethod(payload) {
			r.Warnings = append(r.Warnings,
				"script calls a destructive collection method (drop/dropDatabase/remove)")
		}
	} else {
		if sanitize.IsDangerousDDL(payload) {
			r.Warnings = append(r.Warnings,
				"statement contains DDL that alters schema or destroys data")
		}
		if sanitize.DetectSQLInjectionPattern(payload) {
			r.Warnings = append(r.Warnings,
				"statement matches a SQL injection pattern")
		}
	}

	if err := s.store.Create(ctx, r); err != nil {
		return nil, err
	}

	s.logf("request %s submitted by %s (%d warnings)", r.ID, p.Email, len(r.Warnings))
	return r, nil
}

// Approve claims a pending request and executes it synchronously. The
// pending -> approved CAS is the serialization point: of two racing
// approvals exactly one proceeds, the other observes ErrInvalidTransition.
// Once approved the action always terminates in a stored outcome.
func (s *Service) Approve(ctx context.Context, p auth.Principal, id string) (*QueryRequest, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.CanModerate(r.PodID) {
		return nil, ErrForbidden
	}

	r, err = s.store.UpdateStatus(ctx, id, StatusPending, StatusUpdate{
		Status:        StatusApproved,
		ApproverEmail: &p.Email,
	})
	if err != nil {
		return nil, err
	}

	output, execErr := s.execute(ctx, r)

	now := time.Now().UTC()
	upd := StatusUpdate{ExecutedAt: &now}

	if execErr != "" {
		upd.Status = StatusFailed
		upd.ExecutionError = &execErr
	} else {
		upd.Status = StatusExecuted
		result, blob, compressed := compressResult(output)
		upd.ExecutionResult = &result
		upd.IsCompressed = &compressed
		if compressed {
			upd.CompressedBlob = blob
		}
	}

	final, err := s.store.UpdateStatus(ctx, id, StatusApproved, upd)
	if err != nil {
		return nil, fmt.Errorf("record execution outcome for %s: %w", id, err)
	}

	s.logf("request %s approved by %s: %s", id, p.Email, final.Status)
	return final, nil
}

// execute runs the request against its target and returns either output or
// an error string. It never panics or throws: every failure mode ends up
// recorded on the request.
func (s *Service) execute(ctx context.Context, r *QueryRequest) (output, execErr string) {
	inst, err := s.registry.Resolve(ctx, r.InstanceID)
	if err != nil {
		return "", fmt.Sprintf("resolve instance %s: %s", r.InstanceID, err)
	}

	if r.DatabaseKind == KindRelational && r.Kind == SubmissionQuery {
		exec, err := s.execFn(inst.ConnString)
		if err != nil {
			return "", err.Error()
		}
		defer exec.Close()

		res := exec.Execute(ctx, r.Query, inst.Schema)
		if !res.Success {
			return "", res.Error
		}
		return res.Output, ""
	}

	// document-store queries and uploaded scripts both go through the
	// isolated script process
	in := script.Input{
		FileName: r.ScriptFileName,
		Script:   r.PayloadText(),
		Env:      map[string]string{script.ConnectionURLEnv: inst.ConnString},
	}
	res, err := s.runner.Run(ctx, in)
	if err != nil {
		return "", err.Error()
	}
	if res.TimedOut {
		return "", fmt.Sprintf("script timed out after %s", script.DefaultTimeout)
	}
	if res.ExitCode != 0 {
		msg := res.Stderr
		if msg == "" {
			msg = fmt.Sprintf("script exited with code %d", res.ExitCode)
		}
		return "", msg
	}
	return res.Stdout, ""
}

// Reject moves a pending request to rejected, storing the reason verbatim.
// Display sanitization happens at render time, not at storage time.
func (s *Service) Reject(ctx context.Context, p auth.Principal, id, reason string) (*QueryRequest, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.CanModerate(r.PodID) {
		return nil, ErrForbidden
	}

	return s.store.UpdateStatus(ctx, id, StatusPending, StatusUpdate{
		Status:          StatusRejected,
		ApproverEmail:   &p.Email,
		RejectionReason: &reason,
	})
}

// Withdraw lets the original submitter retract a pending request.
func (s *Service) Withdraw(ctx context.Context, p auth.Principal, id string) (*QueryRequest, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.UserID != p.UserID {
		return nil, ErrForbidden
	}

	return s.store.UpdateStatus(ctx, id, StatusPending, StatusUpdate{
		Status: StatusWithdrawn,
	})
}

// Clone reads a terminal request and submits a new pending request with the
// same payload. The original is never mutated; warnings are recomputed
// because cloning is a fresh submission.
func (s *Service) Clone(ctx context.Context, p auth.Principal, id string) (*QueryRequest, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.UserID != p.UserID {
		return nil, ErrForbidden
	}
	switch r.Status {
	case StatusRejected, StatusFailed, StatusWithdrawn:
	default:
		return nil, ErrInvalidTransition
	}

	return s.Submit(ctx, p, SubmitInput{
		DatabaseKind:   r.DatabaseKind,
		InstanceID:     r.InstanceID,
		DatabaseName:   r.DatabaseName,
		Query:          r.Query,
		ScriptFileName: r.ScriptFileName,
		ScriptContent:  r.ScriptContent,
		PodID:          r.PodID,
		PodName:        r.PodName,
	})
}

// Get returns one request, restricted to its submitter and moderators of
// its POD.
func (s *Service) Get(ctx context.Context, p auth.Principal, id string) (*QueryRequest, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.UserID != p.UserID && !p.CanModerate(r.PodID) {
		return nil, ErrForbidden
	}
	return r, nil
}

// List returns the requests visible to the principal: developers see their
// own, managers their PODs', admins everything.
func (s *Service) List(ctx context.Context, p auth.Principal, f Filter) ([]*QueryRequest, error) {
	switch p.Role {
	case auth.RoleAdmin:
	case auth.RoleManager:
		f.PodIDs = p.ManagedPods
	default:
		f.UserID = p.UserID
	}
	return s.store.List(ctx, f)
}

// Result streams the full execution result, decompressing when the stored
// payload was compressed out-of-band.
func (s *Service) Result(ctx context.Context, p auth.Principal, id string) ([]byte, error) {
	r, err := s.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusExecuted {
		return nil, fmt.Errorf("request %s: %w", id, ErrNoResult)
	}

	if !r.IsCompressed {
		return []byte(r.ExecutionResult), nil
	}

	zr, err := gzip.NewReader(bytes.NewReader(r.CompressedBlob))
	if err != nil {
		return nil, fmt.Errorf("decompress result for %s: %w", id, err)
	}
	defer zr.Close() //nolint:errcheck
	return io.ReadAll(zr)
}

// compressResult gzips oversized output, keeping a truncated preview
// inline. Small output is stored as-is.
func compressResult(output string) (stored string, blob []byte, compressed bool) {
	if len(output) <= resultCompressThreshold {
		return output, nil, false
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte(output)) //nolint:errcheck
	if err := zw.Close(); err != nil {
		// compression is an optimization; fall back to raw storage
		return output, nil, false
	}
	return sanitize.Truncate(output, sanitize.MaxDisplayLen), buf.Bytes(), true
}

func (s *Service) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Infof(format, args...)
	}
}
