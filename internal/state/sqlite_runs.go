package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// CreateRun creates a new running run.
func (s *SQLiteStore) CreateRun(ctx context.Context, jobName, namespace, sqlText string) (*Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	run := &Run{
		ID:        generateID(),
		JobName:   jobName,
		Namespace: namespace,
		Status:    RunStatusRunning,
		SQL:       sqlText,
		StartedAt: s.now(),
	}

	s.logger.Debug("creating run", slog.String("id", run.ID), slog.String("job", jobName))

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, job_name, namespace, status, sql_text, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.JobName, run.Namespace, string(run.Status), run.SQL, formatTime(run.StartedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// CompleteRun stores the event and graph of a successful run.
func (s *SQLiteStore) CompleteRun(ctx context.Context, id string, units int, event, graph any) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	ev, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	g, err := json.Marshal(graph)
	if err != nil {
		return fmt.Errorf("failed to encode graph: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, units = ?, event = ?, graph = ?, completed_at = ? WHERE id = ?`,
		string(RunStatusCompleted), units, string(ev), string(g), formatTime(s.now()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return mustAffect(res, id)
}

// FailRun marks a run failed.
func (s *SQLiteStore) FailRun(ctx context.Context, id, errMsg string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(RunStatusFailed), errMsg, formatTime(s.now()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to fail run: %w", err)
	}
	return mustAffect(res, id)
}

// GetRun retrieves a run with its artifacts.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, job_name, namespace, status, sql_text, units, error, started_at, completed_at, event, graph
		FROM runs WHERE id = ?`, id)

	var event, graph sql.NullString
	run, err := scanRun(row, &event, &graph)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if event.Valid {
		run.Event = json.RawMessage(event.String)
	}
	if graph.Valid {
		run.Graph = json.RawMessage(graph.String)
	}
	return run, nil
}

// ListRuns retrieves the most recent runs up to limit.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_name, namespace, status, sql_text, units, error, started_at, completed_at
		FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanRun reads the common run columns followed by extra.
func scanRun(row scanner, extra ...any) (*Run, error) {
	run := &Run{}
	var (
		status      string
		errMsg      sql.NullString
		startedAt   string
		completedAt sql.NullString
	)
	dest := append([]any{&run.ID, &run.JobName, &run.Namespace, &status, &run.SQL, &run.Units, &errMsg, &startedAt, &completedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	run.Status = RunStatus(status)
	run.Error = errMsg.String
	t, err := parseTime(startedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid started_at %q: %w", startedAt, err)
	}
	run.StartedAt = t
	if completedAt.Valid {
		t, err := parseTime(completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("invalid completed_at %q: %w", completedAt.String, err)
		}
		run.CompletedAt = &t
	}
	return run, nil
}

func mustAffect(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}
