package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/lightci/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// --- Pipeline CRUD ---

func (s *SQLiteStore) CreatePipeline(ctx context.Context, p *model.Pipeline) error {
	s.logger.Debug("sql", "op", "insert", "table", "pipelines", "id", p.ID)

	envJSON, err := json.Marshal(orEmptyMap(p.Environment))
	if err != nil {
		return fmt.Errorf("marshal environment: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO pipelines (id, name, repository, default_branch, description, workspace_id, environment, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Repository, p.DefaultBranch, p.Description, p.WorkspaceID,
		string(envJSON), p.Status.String(),
		p.CreatedAt.Format(time.RFC3339Nano), p.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return err
	}

	if err := insertSteps(ctx, tx, p); err != nil {
		return err
	}

	return tx.Commit()
}

func insertSteps(ctx context.Context, tx *sql.Tx, p *model.Pipeline) error {
	for i := range p.Steps {
		st := &p.Steps[i]
		envJSON, err := json.Marshal(orEmptyMap(st.Environment))
		if err != nil {
			return fmt.Errorf("marshal step environment: %w", err)
		}
		depsJSON, err := json.Marshal(orEmptySlice(st.Dependencies))
		if err != nil {
			return fmt.Errorf("marshal step dependencies: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO pipeline_steps (pipeline_id, step_id, name, command, environment, dependencies, timeout_seconds, retries, working_dir, position)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, st.ID, st.Name, st.Command,
			string(envJSON), string(depsJSON),
			st.TimeoutSeconds, st.Retries, st.WorkingDir, i,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) GetPipeline(ctx context.Context, id string) (*model.Pipeline, error) {
	s.logger.Debug("sql", "op", "select", "table", "pipelines", "id", id)

	var p model.Pipeline
	var envJSON, status, createdAt, updatedAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, repository, default_branch, description, workspace_id, environment, status, created_at, updated_at
		 FROM pipelines WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Repository, &p.DefaultBranch, &p.Description, &p.WorkspaceID,
		&envJSON, &status, &createdAt, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(envJSON), &p.Environment); err != nil {
		return nil, fmt.Errorf("unmarshal environment: %w", err)
	}
	p.Status = model.ParsePipelineStatus(status)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)

	steps, err := s.pipelineSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Steps = steps

	return &p, nil
}

func (s *SQLiteStore) pipelineSteps(ctx context.Context, pipelineID string) ([]model.Step, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT step_id, name, command, environment, dependencies, timeout_seconds, retries, working_dir
		 FROM pipeline_steps WHERE pipeline_id = ? ORDER BY position`, pipelineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []model.Step
	for rows.Next() {
		var st model.Step
		var envJSON, depsJSON string
		if err := rows.Scan(&st.ID, &st.Name, &st.Command, &envJSON, &depsJSON,
			&st.TimeoutSeconds, &st.Retries, &st.WorkingDir); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(envJSON), &st.Environment); err != nil {
			return nil, fmt.Errorf("unmarshal step environment: %w", err)
		}
		if err := json.Unmarshal([]byte(depsJSON), &st.Dependencies); err != nil {
			return nil, fmt.Errorf("unmarshal step dependencies: %w", err)
		}
		st.Status = model.StepPending
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

func (s *SQLiteStore) ListPipelines(ctx context.Context, opts model.ListOptions) ([]*model.Pipeline, int, error) {
	s.logger.Debug("sql", "op", "select", "table", "pipelines")

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pipelines`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM pipelines ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, opts.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, 0, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	pipelines := make([]*model.Pipeline, 0, len(ids))
	for _, id := range ids {
		p, err := s.GetPipeline(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		if p != nil {
			pipelines = append(pipelines, p)
		}
	}

	return pipelines, total, nil
}

func (s *SQLiteStore) UpdatePipeline(ctx context.Context, p *model.Pipeline) error {
	s.logger.Debug("sql", "op", "update", "table", "pipelines", "id", p.ID)

	envJSON, err := json.Marshal(orEmptyMap(p.Environment))
	if err != nil {
		return fmt.Errorf("marshal environment: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE pipelines SET name = ?, repository = ?, default_branch = ?, description = ?,
		 workspace_id = ?, environment = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		p.Name, p.Repository, p.DefaultBranch, p.Description, p.WorkspaceID,
		string(envJSON), p.Status.String(), p.UpdatedAt.Format(time.RFC3339Nano), p.ID,
	)
	if err != nil {
		return err
	}

	// Step definitions are replaced wholesale with the pipeline.
	if _, err := tx.ExecContext(ctx, `DELETE FROM pipeline_steps WHERE pipeline_id = ?`, p.ID); err != nil {
		return err
	}
	if err := insertSteps(ctx, tx, p); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStore) DeletePipeline(ctx context.Context, id string) error {
	s.logger.Debug("sql", "op", "delete", "table", "pipelines", "id", id)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pipeline_steps WHERE pipeline_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pipelines WHERE id = ?`, id); err != nil {
		return err
	}

	return tx.Commit()
}

// --- Build CRUD ---

func (s *SQLiteStore) CreateBuild(ctx context.Context, b *model.Build) error {
	s.logger.Debug("sql", "op", "insert", "table", "builds", "id", b.ID)

	paramsJSON, err := json.Marshal(orEmptyMap(b.Parameters))
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO builds (id, pipeline_id, branch, commit_sha, status, parameters, started_at, completed_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.PipelineID, b.Branch, b.Commit, b.Status.String(), string(paramsJSON),
		nullableTime(b.StartedAt), nullableTime(b.CompletedAt),
		b.CreatedAt.Format(time.RFC3339Nano), b.UpdatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *SQLiteStore) GetBuild(ctx context.Context, id string) (*model.Build, error) {
	s.logger.Debug("sql", "op", "select", "table", "builds", "id", id)

	row := s.db.QueryRowContext(ctx,
		`SELECT id, pipeline_id, branch, commit_sha, status, parameters, started_at, completed_at, created_at, updated_at
		 FROM builds WHERE id = ?`, id)
	b, err := scanBuild(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return b, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBuild(row rowScanner) (*model.Build, error) {
	var b model.Build
	var paramsJSON, status, createdAt, updatedAt string
	var startedAt, completedAt sql.NullString

	err := row.Scan(&b.ID, &b.PipelineID, &b.Branch, &b.Commit, &status, &paramsJSON,
		&startedAt, &completedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(paramsJSON), &b.Parameters); err != nil {
		return nil, fmt.Errorf("unmarshal parameters: %w", err)
	}
	b.Status = model.ParseBuildStatus(status)
	b.StartedAt = parseNullTime(startedAt)
	b.CompletedAt = parseNullTime(completedAt)
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return &b, nil
}

func (s *SQLiteStore) ListBuilds(ctx context.Context, opts model.ListOptions) ([]*model.Build, int, error) {
	s.logger.Debug("sql", "op", "select", "table", "builds")

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	where := ""
	args := []any{}
	if opts.Status != "" {
		where = " WHERE status = ?"
		args = append(args, opts.Status)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM builds`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, opts.Offset)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, pipeline_id, branch, commit_sha, status, parameters, started_at, completed_at, created_at, updated_at
		 FROM builds`+where+` ORDER BY created_at DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var builds []*model.Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, 0, err
		}
		builds = append(builds, b)
	}
	return builds, total, rows.Err()
}

func (s *SQLiteStore) UpdateBuild(ctx context.Context, b *model.Build) error {
	s.logger.Debug("sql", "op", "update", "table", "builds", "id", b.ID)
	return updateBuild(ctx, s.db, b)
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func updateBuild(ctx context.Context, db execer, b *model.Build) error {
	paramsJSON, err := json.Marshal(orEmptyMap(b.Parameters))
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}

	_, err = db.ExecContext(ctx,
		`UPDATE builds SET status = ?, parameters = ?, started_at = ?, completed_at = ?, updated_at = ?
		 WHERE id = ?`,
		b.Status.String(), string(paramsJSON),
		nullableTime(b.StartedAt), nullableTime(b.CompletedAt),
		b.UpdatedAt.Format(time.RFC3339Nano), b.ID,
	)
	return err
}

// FinishBuild writes the terminal build update and all step results atomically.
func (s *SQLiteStore) FinishBuild(ctx context.Context, b *model.Build, results []*model.StepResult) error {
	s.logger.Debug("sql", "op", "finish", "table", "builds", "id", b.ID, "results", len(results))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := updateBuild(ctx, tx, b); err != nil {
		return err
	}
	for _, res := range results {
		if err := upsertStepResult(ctx, tx, b.ID, res); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// --- Step results ---

func (s *SQLiteStore) UpsertStepResult(ctx context.Context, buildID string, res *model.StepResult) error {
	s.logger.Debug("sql", "op", "upsert", "table", "steps", "build_id", buildID, "step_id", res.StepID)
	return upsertStepResult(ctx, s.db, buildID, res)
}

func upsertStepResult(ctx context.Context, db execer, buildID string, res *model.StepResult) error {
	var exitCode any
	if res.ExitCode != nil {
		exitCode = *res.ExitCode
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO steps (build_id, step_id, status, output, error, exit_code, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(build_id, step_id) DO UPDATE SET
			status = excluded.status,
			output = excluded.output,
			error = excluded.error,
			exit_code = excluded.exit_code,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at`,
		buildID, res.StepID, res.Status.String(), res.Output, res.Error,
		exitCode, nullableTime(res.StartedAt), nullableTime(res.CompletedAt),
	)
	return err
}

func (s *SQLiteStore) ListStepResults(ctx context.Context, buildID string) ([]*model.StepResult, error) {
	s.logger.Debug("sql", "op", "select", "table", "steps", "build_id", buildID)

	rows, err := s.db.QueryContext(ctx,
		`SELECT step_id, status, output, error, exit_code, started_at, completed_at
		 FROM steps WHERE build_id = ? ORDER BY started_at, step_id`, buildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*model.StepResult
	for rows.Next() {
		var res model.StepResult
		var status string
		var exitCode sql.NullInt64
		var startedAt, completedAt sql.NullString
		if err := rows.Scan(&res.StepID, &status, &res.Output, &res.Error,
			&exitCode, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		res.Status = model.ParseStepStatus(status)
		if exitCode.Valid {
			code := int(exitCode.Int64)
			res.ExitCode = &code
		}
		res.StartedAt = parseNullTime(startedAt)
		res.CompletedAt = parseNullTime(completedAt)
		results = append(results, &res)
	}
	return results, rows.Err()
}

// --- Build logs ---

func (s *SQLiteStore) AppendBuildLog(ctx context.Context, entry *model.BuildLog) error {
	s.logger.Debug("sql", "op", "insert", "table", "build_logs", "build_id", entry.BuildID)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO build_logs (build_id, step_id, content, timestamp) VALUES (?, ?, ?, ?)`,
		entry.BuildID, entry.StepID, entry.Content, entry.Timestamp.Format(time.RFC3339Nano),
	)
	return err
}

func (s *SQLiteStore) ListBuildLogs(ctx context.Context, buildID string) ([]*model.BuildLog, error) {
	s.logger.Debug("sql", "op", "select", "table", "build_logs", "build_id", buildID)

	rows, err := s.db.QueryContext(ctx,
		`SELECT build_id, step_id, content, timestamp FROM build_logs WHERE build_id = ? ORDER BY id`, buildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*model.BuildLog
	for rows.Next() {
		var entry model.BuildLog
		var ts string
		if err := rows.Scan(&entry.BuildID, &entry.StepID, &entry.Content, &ts); err != nil {
			return nil, err
		}
		entry.Timestamp = parseTime(ts)
		logs = append(logs, &entry)
	}
	return logs, rows.Err()
}

// --- helpers ---

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
