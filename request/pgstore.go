package request

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore is the Postgres-backed Store. The conditional status update maps
// the state-machine CAS onto a single UPDATE ... WHERE status = $from.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a store over an existing pool.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const requestsSchema = `
CREATE TABLE IF NOT EXISTS query_requests (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	user_email       TEXT NOT NULL,
	database_kind    TEXT NOT NULL,
	instance_id      TEXT NOT NULL,
	instance_name    TEXT NOT NULL,
	database_name    TEXT NOT NULL,
	kind             TEXT NOT NULL,
	query            TEXT NOT NULL DEFAULT '',
	script_file_name TEXT NOT NULL DEFAULT '',
	script_content   TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL CHECK (status IN
		('pending','approved','rejected','executed','failed','withdrawn')),
	approver_email   TEXT NOT NULL DEFAULT '',
	rejection_reason TEXT NOT NULL DEFAULT '',
	execution_result TEXT NOT NULL DEFAULT '',
	execution_error  TEXT NOT NULL DEFAULT '',
	is_compressed    BOOLEAN NOT NULL DEFAULT false,
	compressed_blob  BYTEA,
	executed_at      TIMESTAMPTZ,
	warnings         TEXT[] NOT NULL DEFAULT '{}',
	pod_id           TEXT NOT NULL,
	pod_name         TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS query_requests_user_idx ON query_requests (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS query_requests_pod_idx ON query_requests (pod_id, status, created_at DESC);
`

// Migrate creates the backing table.
func (s *PgStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, requestsSchema); err != nil {
		return fmt.Errorf("pgstore: migrate: %w", err)
	}
	return nil
}

const requestColumns = `id, user_id, user_email, database_kind, instance_id, instance_name,
	database_name, kind, query, script_file_name, script_content, status, approver_email,
	rejection_reason, execution_result, execution_error, is_compressed, compressed_blob,
	executed_at, warnings, pod_id, pod_name, created_at, updated_at`

func (s *PgStore) Create(ctx context.Context, r *QueryRequest) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO query_requests (`+requestColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)`,
		r.ID, r.UserID, r.UserEmail, r.DatabaseKind, r.InstanceID, r.InstanceName,
		r.DatabaseName, r.Kind, r.Query, r.ScriptFileName, r.ScriptContent, r.Status,
		r.ApproverEmail, r.RejectionReason, r.ExecutionResult, r.ExecutionError,
		r.IsCompressed, r.CompressedBlob, r.ExecutedAt, r.Warnings, r.PodID, r.PodName,
		r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("pgstore: create: %w", err)
	}
	return nil
}

func (s *PgStore) Get(ctx context.Context, id string) (*QueryRequest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM query_requests WHERE id = $1`, id)
	return scanRequest(row)
}

func (s *PgStore) List(ctx context.Context, f Filter) ([]*QueryRequest, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.UserID != "" {
		where = append(where, "user_id = "+arg(f.UserID))
	}
	if len(f.PodIDs) > 0 {
		where = append(where, "pod_id = ANY("+arg(f.PodIDs)+")")
	}
	if f.Status != "" {
		where = append(where, "status = "+arg(f.Status))
	}

	q := `SELECT ` + requestColumns + ` FROM query_requests`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		q += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		q += " OFFSET " + arg(f.Offset)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list: %w", err)
	}
	defer rows.Close()

	var out []*QueryRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PgStore) UpdateStatus(ctx context.Context, id string, from Status, upd StatusUpdate) (*QueryRequest, error) {
	if !from.CanTransition(upd.Status) {
		return nil, ErrInvalidTransition
	}

	set := []string{"status = $3", "updated_at = now()"}
	args := []any{id, from, upd.Status}
	add := func(col string, v any) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if upd.ApproverEmail != nil {
		add("approver_email", *upd.ApproverEmail)
	}
	if upd.RejectionReason != nil {
		add("rejection_reason", *upd.RejectionReason)
	}
	if upd.ExecutionResult != nil {
		add("execution_result", *upd.ExecutionResult)
	}
	if upd.ExecutionError != nil {
		add("execution_error", *upd.ExecutionError)
	}
	if upd.IsCompressed != nil {
		add("is_compressed", *upd.IsCompressed)
	}
	if upd.CompressedBlob != nil {
		add("compressed_blob", upd.CompressedBlob)
	}
	if upd.ExecutedAt != nil {
		add("executed_at", *upd.ExecutedAt)
	}

	// transition applies only while the row is still in the expected state
	row := s.pool.QueryRow(ctx, `UPDATE query_requests SET `+strings.Join(set, ", ")+
		` WHERE id = $1 AND status = $2 RETURNING `+requestColumns, args...)

	r, err := scanRequest(row)
	if errors.Is(err, ErrNotFound) {
		// distinguish a missing row from a lost race
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrInvalidTransition
	}
	return r, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*QueryRequest, error) {
	var r QueryRequest
	err := row.Scan(&r.ID, &r.UserID, &r.UserEmail, &r.DatabaseKind, &r.InstanceID,
		&r.InstanceName, &r.DatabaseName, &r.Kind, &r.Query, &r.ScriptFileName,
		&r.ScriptContent, &r.Status, &r.ApproverEmail, &r.RejectionReason,
		&r.ExecutionResult, &r.ExecutionError, &r.IsCompressed, &r.CompressedBlob,
		&r.ExecutedAt, &r.Warnings, &r.PodID, &r.PodName, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: scan: %w", err)
	}
	return &r, nil
}
