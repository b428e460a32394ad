// Package sqlstore implements store.Store on database/sql. PostgreSQL (lib/pq),
// MySQL (go-sql-driver/mysql) and SQLite (mattn/go-sqlite3) are supported.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dcshock/mlpipe/store"
	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Store is a SQL implementation of store.Store.
type Store struct {
	db      *sql.DB
	dialect string
	tables  TableConfig
}

// New wraps an open database with the default table names. dialect is one of
// Postgres, MySQL or SQLite.
func New(db *sql.DB, dialect string) (*Store, error) {
	switch dialect {
	case Postgres, MySQL, SQLite:
	default:
		return nil, fmt.Errorf("unsupported sql dialect %q", dialect)
	}
	return &Store{db: db, dialect: dialect, tables: DefaultTableConfig()}, nil
}

// Open opens the database for driver and dsn, checks the connection and
// creates missing tables.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if driver == SQLite {
		// one writer; avoids "database is locked" under concurrent observers
		db.SetMaxOpenConns(1)
	}
	s, err := New(db, driver)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", driver, err)
	}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

var _ store.Store = (*Store)(nil)

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// q rewrites ? placeholders for the dialect.
func (s *Store) q(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func (s *Store) CreateProject(ctx context.Context, name string) (store.Project, error) {
	p, err := s.GetProject(ctx, name)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, store.ErrProjectNotFound) {
		return store.Project{}, err
	}
	p = store.Project{Name: name, CreatedAt: time.Now().UTC()}
	query := fmt.Sprintf(`INSERT INTO %s (name, created_at) VALUES (?, ?)`, s.tables.Projects)
	if _, err := s.db.ExecContext(ctx, s.q(query), name, nanos(p.CreatedAt)); err != nil {
		return store.Project{}, fmt.Errorf("failed to create project: %w", err)
	}
	return p, nil
}

func (s *Store) GetProject(ctx context.Context, name string) (store.Project, error) {
	query := fmt.Sprintf(`SELECT name, created_at FROM %s WHERE name = ?`, s.tables.Projects)
	var (
		p       store.Project
		created int64
	)
	err := s.db.QueryRowContext(ctx, s.q(query), name).Scan(&p.Name, &created)
	if err == sql.ErrNoRows {
		return store.Project{}, fmt.Errorf("%w: %s", store.ErrProjectNotFound, name)
	}
	if err != nil {
		return store.Project{}, fmt.Errorf("failed to get project: %w", err)
	}
	p.CreatedAt = fromNanos(created)
	return p, nil
}

const pipelineColumns = `id, name, stack, project, created_at`

func scanPipeline(row interface{ Scan(...any) error }) (store.Pipeline, error) {
	var (
		p       store.Pipeline
		created int64
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Stack, &p.Project, &created); err != nil {
		return store.Pipeline{}, err
	}
	p.CreatedAt = fromNanos(created)
	return p, nil
}

func (s *Store) EnsurePipeline(ctx context.Context, name, stack, project string) (store.Pipeline, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE name = ? AND stack = ? AND project = ?`, pipelineColumns, s.tables.Pipelines)
	p, err := scanPipeline(s.db.QueryRowContext(ctx, s.q(query), name, stack, project))
	if err == nil {
		return p, nil
	}
	if err != sql.ErrNoRows {
		return store.Pipeline{}, fmt.Errorf("failed to get pipeline: %w", err)
	}

	p = store.Pipeline{ID: uuid.New().String(), Name: name, Stack: stack, Project: project, CreatedAt: time.Now().UTC()}
	insert := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?)`, s.tables.Pipelines, pipelineColumns)
	if _, err := s.db.ExecContext(ctx, s.q(insert), p.ID, p.Name, p.Stack, p.Project, nanos(p.CreatedAt)); err != nil {
		return store.Pipeline{}, fmt.Errorf("failed to create pipeline: %w", err)
	}
	return p, nil
}

func (s *Store) GetPipeline(ctx context.Context, name, stack string) (store.Pipeline, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE name = ?`, pipelineColumns, s.tables.Pipelines)
	args := []any{name}
	if stack != "" {
		query += ` AND stack = ?`
		args = append(args, stack)
	}
	query += ` ORDER BY stack, project LIMIT 1`
	p, err := scanPipeline(s.db.QueryRowContext(ctx, s.q(query), args...))
	if err == sql.ErrNoRows {
		return store.Pipeline{}, fmt.Errorf("%w: %s", store.ErrPipelineNotFound, name)
	}
	if err != nil {
		return store.Pipeline{}, fmt.Errorf("failed to get pipeline: %w", err)
	}
	return p, nil
}

func (s *Store) ListPipelines(ctx context.Context, filter store.Filter) ([]store.Pipeline, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE 1 = 1`, pipelineColumns, s.tables.Pipelines)
	var args []any
	if filter.Stack != "" {
		query += ` AND stack = ?`
		args = append(args, filter.Stack)
	}
	if filter.Project != "" {
		query += ` AND project = ?`
		args = append(args, filter.Project)
	}
	query += ` ORDER BY name, stack, project`

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pipelines: %w", err)
	}
	defer rows.Close()

	var out []store.Pipeline
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pipeline: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) runExists(ctx context.Context, runID string) (bool, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE id = ?`, s.tables.Runs)
	var n int
	if err := s.db.QueryRowContext(ctx, s.q(query), runID).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to look up run: %w", err)
	}
	return n > 0, nil
}

func (s *Store) StartRun(ctx context.Context, run store.Run) error {
	exists, err := s.runExists(ctx, run.ID)
	if err != nil {
		return err
	}
	if exists {
		query := fmt.Sprintf(`UPDATE %s SET status = ?, finished_at = 0, error = '' WHERE id = ?`, s.tables.Runs)
		if _, err := s.db.ExecContext(ctx, s.q(query), string(store.StatusRunning), run.ID); err != nil {
			return fmt.Errorf("failed to restart run: %w", err)
		}
		return nil
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, name, pipeline_id, status, started_at, finished_at, error) VALUES (?, ?, ?, ?, ?, 0, '')`, s.tables.Runs)
	if _, err := s.db.ExecContext(ctx, s.q(query), run.ID, run.Name, run.PipelineID, string(store.StatusRunning), nanos(run.StartedAt)); err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	return nil
}

func (s *Store) FinishRun(ctx context.Context, runID string, status store.Status, errText string, finishedAt time.Time) error {
	exists, err := s.runExists(ctx, runID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", store.ErrRunNotFound, runID)
	}
	query := fmt.Sprintf(`UPDATE %s SET status = ?, error = ?, finished_at = ? WHERE id = ?`, s.tables.Runs)
	if _, err := s.db.ExecContext(ctx, s.q(query), string(status), errText, nanos(finishedAt), runID); err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

const runColumns = `id, name, pipeline_id, status, started_at, finished_at, error`

func scanRun(row interface{ Scan(...any) error }) (store.Run, error) {
	var (
		r                 store.Run
		status            string
		started, finished int64
		errText           sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Name, &r.PipelineID, &status, &started, &finished, &errText); err != nil {
		return store.Run{}, err
	}
	r.Status = store.Status(status)
	r.StartedAt = fromNanos(started)
	r.FinishedAt = fromNanos(finished)
	r.Error = errText.String
	return r, nil
}

func (s *Store) GetRun(ctx context.Context, runID string) (store.Run, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, runColumns, s.tables.Runs)
	r, err := scanRun(s.db.QueryRowContext(ctx, s.q(query), runID))
	if err == sql.ErrNoRows {
		return store.Run{}, fmt.Errorf("%w: %s", store.ErrRunNotFound, runID)
	}
	if err != nil {
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return r, nil
}

func (s *Store) ListRuns(ctx context.Context, pipelineID string) ([]store.Run, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE pipeline_id = ? ORDER BY started_at, name`, runColumns, s.tables.Runs)
	rows, err := s.db.QueryContext(ctx, s.q(query), pipelineID)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []store.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) StartStep(ctx context.Context, sr store.StepRun) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	del := fmt.Sprintf(`DELETE FROM %s WHERE run_id = ? AND step_index = ?`, s.tables.StepRuns)
	if _, err := tx.ExecContext(ctx, s.q(del), sr.RunID, sr.Index); err != nil {
		return fmt.Errorf("failed to reset step run: %w", err)
	}
	ins := fmt.Sprintf(`INSERT INTO %s (run_id, step_index, name, status, started_at, duration_ns, error) VALUES (?, ?, ?, ?, ?, 0, '')`, s.tables.StepRuns)
	if _, err := tx.ExecContext(ctx, s.q(ins), sr.RunID, sr.Index, sr.Name, string(store.StatusRunning), nanos(sr.StartedAt)); err != nil {
		return fmt.Errorf("failed to start step run: %w", err)
	}
	return tx.Commit()
}

func (s *Store) FinishStep(ctx context.Context, sr store.StepRun) error {
	query := fmt.Sprintf(`UPDATE %s SET status = ?, duration_ns = ?, error = ? WHERE run_id = ? AND step_index = ?`, s.tables.StepRuns)
	if _, err := s.db.ExecContext(ctx, s.q(query), string(sr.Status), int64(sr.Duration), sr.Error, sr.RunID, sr.Index); err != nil {
		return fmt.Errorf("failed to finish step run: %w", err)
	}
	return nil
}

func (s *Store) ListSteps(ctx context.Context, runID string) ([]store.StepRun, error) {
	query := fmt.Sprintf(`SELECT run_id, step_index, name, status, started_at, duration_ns, error FROM %s WHERE run_id = ? ORDER BY step_index`, s.tables.StepRuns)
	rows, err := s.db.QueryContext(ctx, s.q(query), runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list step runs: %w", err)
	}
	defer rows.Close()

	var out []store.StepRun
	for rows.Next() {
		var (
			sr               store.StepRun
			status           string
			started, durNano int64
			errText          sql.NullString
		)
		if err := rows.Scan(&sr.RunID, &sr.Index, &sr.Name, &status, &started, &durNano, &errText); err != nil {
			return nil, fmt.Errorf("failed to scan step run: %w", err)
		}
		sr.Status = store.Status(status)
		sr.StartedAt = fromNanos(started)
		sr.Duration = time.Duration(durNano)
		sr.Error = errText.String
		out = append(out, sr)
	}
	return out, rows.Err()
}

func (s *Store) AddArtifact(ctx context.Context, a store.Artifact) error {
	query := fmt.Sprintf(`INSERT INTO %s (run_id, step_index, step_name, output, materializer, uri) VALUES (?, ?, ?, ?, ?, ?)`, s.tables.Artifacts)
	if _, err := s.db.ExecContext(ctx, s.q(query), a.RunID, a.StepIndex, a.StepName, a.Output, a.Materializer, a.URI); err != nil {
		return fmt.Errorf("failed to add artifact: %w", err)
	}
	return nil
}

func (s *Store) ListArtifacts(ctx context.Context, runID string) ([]store.Artifact, error) {
	query := fmt.Sprintf(`SELECT run_id, step_index, step_name, output, materializer, uri FROM %s WHERE run_id = ? ORDER BY step_index, output`, s.tables.Artifacts)
	rows, err := s.db.QueryContext(ctx, s.q(query), runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	var out []store.Artifact
	for rows.Next() {
		var a store.Artifact
		if err := rows.Scan(&a.RunID, &a.StepIndex, &a.StepName, &a.Output, &a.Materializer, &a.URI); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) SaveParkedRun(ctx context.Context, p store.ParkedRun) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	del := fmt.Sprintf(`DELETE FROM %s WHERE run_id = ?`, s.tables.Parked)
	if _, err := tx.ExecContext(ctx, s.q(del), p.RunID); err != nil {
		return fmt.Errorf("failed to replace parked run: %w", err)
	}
	ins := fmt.Sprintf(`INSERT INTO %s (run_id, run_name, pipeline_name, next_step_index, input, resume_at) VALUES (?, ?, ?, ?, ?, ?)`, s.tables.Parked)
	if _, err := tx.ExecContext(ctx, s.q(ins), p.RunID, p.RunName, p.PipelineName, p.NextStepIndex, p.Input, nanos(p.ResumeAt)); err != nil {
		return fmt.Errorf("failed to save parked run: %w", err)
	}
	return tx.Commit()
}

func (s *Store) DueParkedRuns(ctx context.Context, now time.Time) ([]store.ParkedRun, error) {
	query := fmt.Sprintf(`SELECT run_id, run_name, pipeline_name, next_step_index, input, resume_at FROM %s WHERE resume_at <= ? ORDER BY resume_at`, s.tables.Parked)
	rows, err := s.db.QueryContext(ctx, s.q(query), nanos(now))
	if err != nil {
		return nil, fmt.Errorf("failed to list parked runs: %w", err)
	}
	defer rows.Close()

	var out []store.ParkedRun
	for rows.Next() {
		var (
			p        store.ParkedRun
			resumeAt int64
		)
		if err := rows.Scan(&p.RunID, &p.RunName, &p.PipelineName, &p.NextStepIndex, &p.Input, &resumeAt); err != nil {
			return nil, fmt.Errorf("failed to scan parked run: %w", err)
		}
		p.ResumeAt = fromNanos(resumeAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) DeleteParkedRun(ctx context.Context, runID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE run_id = ?`, s.tables.Parked)
	if _, err := s.db.ExecContext(ctx, s.q(query), runID); err != nil {
		return fmt.Errorf("failed to delete parked run: %w", err)
	}
	return nil
}

func (s *Store) GetAttempt(ctx context.Context, runID string) (int, error) {
	query := fmt.Sprintf(`SELECT attempt FROM %s WHERE run_id = ?`, s.tables.Attempts)
	var n int
	err := s.db.QueryRowContext(ctx, s.q(query), runID).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get attempt: %w", err)
	}
	return n, nil
}

func (s *Store) SetAttempt(ctx context.Context, runID string, attempt int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	del := fmt.Sprintf(`DELETE FROM %s WHERE run_id = ?`, s.tables.Attempts)
	if _, err := tx.ExecContext(ctx, s.q(del), runID); err != nil {
		return fmt.Errorf("failed to reset attempt: %w", err)
	}
	ins := fmt.Sprintf(`INSERT INTO %s (run_id, attempt) VALUES (?, ?)`, s.tables.Attempts)
	if _, err := tx.ExecContext(ctx, s.q(ins), runID, attempt); err != nil {
		return fmt.Errorf("failed to set attempt: %w", err)
	}
	return tx.Commit()
}
