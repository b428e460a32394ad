package sqlstore

import (
	"context"
	"fmt"
	"strings"
)

// Dialect names accepted by New; they match the database/sql driver names.
const (
	Postgres = "postgres"
	MySQL    = "mysql"
	SQLite   = "sqlite3"
)

// TableConfig configures the table names used by the store.
type TableConfig struct {
	Projects  string
	Pipelines string
	Runs      string
	StepRuns  string
	Artifacts string
	Parked    string
	Attempts  string
}

// DefaultTableConfig returns the default table configuration.
func DefaultTableConfig() TableConfig {
	return TableConfig{
		Projects:  "mlpipe_projects",
		Pipelines: "mlpipe_pipelines",
		Runs:      "mlpipe_runs",
		StepRuns:  "mlpipe_step_runs",
		Artifacts: "mlpipe_artifacts",
		Parked:    "mlpipe_parked_runs",
		Attempts:  "mlpipe_retry_attempts",
	}
}

func blobType(dialect string) string {
	switch dialect {
	case Postgres:
		return "BYTEA"
	case MySQL:
		return "LONGBLOB"
	default:
		return "BLOB"
	}
}

// MigrationUp returns the statements creating the store tables. Times are kept
// as unix nanoseconds so every dialect reads them back the same way.
func MigrationUp(dialect string, c TableConfig) []string {
	blob := blobType(dialect)
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    name VARCHAR(255) PRIMARY KEY,
    created_at BIGINT NOT NULL
)`, c.Projects),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id VARCHAR(64) PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    stack VARCHAR(255) NOT NULL,
    project VARCHAR(255) NOT NULL,
    created_at BIGINT NOT NULL,
    UNIQUE (name, stack, project)
)`, c.Pipelines),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id VARCHAR(64) PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    pipeline_id VARCHAR(64) NOT NULL,
    status VARCHAR(32) NOT NULL,
    started_at BIGINT NOT NULL,
    finished_at BIGINT NOT NULL,
    error TEXT
)`, c.Runs),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    run_id VARCHAR(64) NOT NULL,
    step_index INTEGER NOT NULL,
    name VARCHAR(255) NOT NULL,
    status VARCHAR(32) NOT NULL,
    started_at BIGINT NOT NULL,
    duration_ns BIGINT NOT NULL,
    error TEXT,
    PRIMARY KEY (run_id, step_index)
)`, c.StepRuns),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    run_id VARCHAR(64) NOT NULL,
    step_index INTEGER NOT NULL,
    step_name VARCHAR(255) NOT NULL,
    output VARCHAR(255) NOT NULL,
    materializer VARCHAR(64) NOT NULL,
    uri TEXT NOT NULL
)`, c.Artifacts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    run_id VARCHAR(64) PRIMARY KEY,
    run_name VARCHAR(255) NOT NULL,
    pipeline_name VARCHAR(255) NOT NULL,
    next_step_index INTEGER NOT NULL,
    input %s,
    resume_at BIGINT NOT NULL
)`, c.Parked, blob),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    run_id VARCHAR(64) PRIMARY KEY,
    attempt INTEGER NOT NULL
)`, c.Attempts),
	}
}

// MigrationDown returns the statements dropping the store tables.
func MigrationDown(c TableConfig) []string {
	tables := []string{c.Attempts, c.Parked, c.Artifacts, c.StepRuns, c.Runs, c.Pipelines, c.Projects}
	out := make([]string, 0, len(tables))
	for _, t := range tables {
		out = append(out, "DROP TABLE IF EXISTS "+t)
	}
	return out
}

// Migrate creates any missing tables.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range MigrationUp(s.dialect, s.tables) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			// "CREATE TABLE IF NOT EXISTS <name> ("
			return fmt.Errorf("failed to migrate %s: %w", strings.Fields(stmt)[5], err)
		}
	}
	return nil
}
