// Package executor runs approved relational statements against a single
// Postgres target. The core safety property lives here: a read statement is
// never executed until a pre-flight count proves it returns no more rows
// than the system is designed to transport.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// MaxResultRows is the hard ceiling on rows a read statement may return.
const MaxResultRows = 10000

// Config holds the connection parameters for one target.
type Config struct {
	Host       string
	Port       uint16
	DBName     string
	User       string
	Password   string
	Schema     string
	DisableTLS bool
}

// Result is the normalized outcome of a single execution attempt. Output
// and Error are mutually exclusive.
type Result struct {
	Success  bool
	Output   string
	RowCount int64
	Error    string
}

// Executor owns a pooled connection to one relational target. The pool is
// the shared resource; each Execute call acquires and releases its own
// logical connection.
type Executor struct {
	conf Config
	log  *zap.SugaredLogger

	mu   sync.Mutex
	pool *pgxpool.Pool
}

// New creates an executor. No connection is made until Connect or the
// first Execute call.
func New(conf Config, log *zap.SugaredLogger) *Executor {
	return &Executor{conf: conf, log: log}
}

// Connect lazily creates the underlying pool. Repeat and concurrent calls
// are idempotent; only one pool is ever created.
func (e *Executor) Connect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pool != nil {
		return nil
	}

	pool, err := pgxpool.New(ctx, e.connString())
	if err != nil {
		return fmt.Errorf("executor: connect: %w", err)
	}
	e.pool = pool
	return nil
}

// Close releases the pool. Safe to call when never connected.
func (e *Executor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pool != nil {
		e.pool.Close()
		e.pool = nil
	}
}

func (e *Executor) connString() string {
	sslmode := "require"
	if e.conf.DisableTLS {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		e.conf.User, e.conf.Password, e.conf.Host, e.conf.Port, e.conf.DBName, sslmode)
}

var (
	readStatementRe = regexp.MustCompile(`(?i)^\s*(SELECT|WITH|VALUES|TABLE)\b`)
	schemaNameRe    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

	countPrinter = message.NewPrinter(language.English)
)

// isReadStatement reports whether the pre-flight row count applies. Write
// statements skip the count and proceed directly.
func isReadStatement(statement string) bool {
	return readStatementRe.MatchString(statement)
}

// countStatement wraps a read statement for the pre-flight row count.
func countStatement(statement string) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS _count_check",
		strings.TrimRight(strings.TrimSpace(statement), ";"))
}

// querier is the slice of a pooled connection Execute drives. It exists so
// the count-then-veto ordering is testable without a live database.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Execute runs one statement. The pre-flight count happens before the
// statement itself; if the count exceeds MaxResultRows the statement is
// never issued. Driver failures of any shape are surfaced verbatim in the
// Error field, never thrown.
func (e *Executor) Execute(ctx context.Context, statement, schema string) Result {
	if err := e.Connect(ctx); err != nil {
		return failure(err)
	}

	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		return failure(err)
	}
	defer conn.Release()

	return e.run(ctx, conn, statement, schema)
}

func (e *Executor) run(ctx context.Context, conn querier, statement, schema string) Result {
	if schema == "" {
		schema = e.conf.Schema
	}
	if schema != "" {
		if !schemaNameRe.MatchString(schema) {
			return Result{Success: false, Error: fmt.Sprintf("invalid schema name %q", schema)}
		}
		if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", schema)); err != nil {
			return failure(err)
		}
	}

	if isReadStatement(statement) {
		var count int64
		if err := conn.QueryRow(ctx, countStatement(statement)).Scan(&count); err != nil {
			return failure(err)
		}
		if count > MaxResultRows {
			return Result{Success: false, Error: rowLimitError(count)}
		}

		rows, err := conn.Query(ctx, statement)
		if err != nil {
			return failure(err)
		}
		records, err := collectRecords(rows)
		if err != nil {
			return failure(err)
		}
		return normalizeRead(records)
	}

	tag, err := conn.Exec(ctx, statement)
	if err != nil {
		return failure(err)
	}
	return normalizeWrite(tag.RowsAffected())
}

// TestConnection attempts a trivial round trip. It never returns an error;
// any failure, including construction failure, yields false.
func (e *Executor) TestConnection(ctx context.Context) bool {
	if err := e.Connect(ctx); err != nil {
		return false
	}
	var one int
	if err := e.pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return false
	}
	return one == 1
}

func failure(err error) Result {
	return Result{Success: false, Error: err.Error()}
}

// rowLimitError names both the ceiling and the actual count.
func rowLimitError(count int64) string {
	return countPrinter.Sprintf(
		"query returns %d rows which exceeds the maximum limit of %d rows; narrow the query before resubmitting",
		count, int64(MaxResultRows))
}

// normalizeRead renders returned rows as pretty-printed JSON.
func normalizeRead(records []map[string]any) Result {
	if len(records) == 0 {
		return Result{Success: true, Output: "Query executed successfully"}
	}

	out, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return failure(err)
	}
	return Result{Success: true, Output: string(out), RowCount: int64(len(records))}
}

// normalizeWrite renders an affected-row count.
func normalizeWrite(affected int64) Result {
	if affected > 0 {
		return Result{
			Success:  true,
			Output:   fmt.Sprintf("%d row(s) affected", affected),
			RowCount: affected,
		}
	}
	return Result{Success: true, Output: "Query executed successfully"}
}
