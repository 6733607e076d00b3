package discover

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// fetchPostgresDatabases enumerates non-template databases via the system
// catalog. The connection exists only for this one query.
func fetchPostgresDatabases(ctx context.Context, connString string) ([]string, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("discover: postgres connect: %w", err)
	}
	defer conn.Close(ctx) //nolint:errcheck

	rows, err := conn.Query(ctx,
		`SELECT datname FROM pg_database WHERE datistemplate = false ORDER BY datname`)
	if err != nil {
		return nil, err
	}
	return collectNames(rows)
}

// fetchPostgresSchemas enumerates schemas via information_schema.
func fetchPostgresSchemas(ctx context.Context, connString string) ([]string, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("discover: postgres connect: %w", err)
	}
	defer conn.Close(ctx) //nolint:errcheck

	rows, err := conn.Query(ctx,
		`SELECT schema_name FROM information_schema.schemata ORDER BY schema_name`)
	if err != nil {
		return nil, err
	}
	return collectNames(rows)
}

func collectNames(rows pgx.Rows) ([]string, error) {
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
