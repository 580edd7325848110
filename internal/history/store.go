// File: internal/history/store.go

// Package history persists task transcripts to a local SQLite database so
// runs can be audited after the fact. The store is a best-effort
// collaborator: callers log and continue on its errors.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/averell-dev/deskrover/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id             TEXT PRIMARY KEY,
	instruction    TEXT NOT NULL,
	step_budget    INTEGER NOT NULL,
	time_budget_ms INTEGER NOT NULL,
	started_at     TIMESTAMP NOT NULL,
	status         TEXT,
	reason         TEXT,
	answer         TEXT,
	elapsed_ms     INTEGER
);

CREATE TABLE IF NOT EXISTS steps (
	task_id     TEXT NOT NULL REFERENCES tasks(id),
	number      INTEGER NOT NULL,
	frame_id    TEXT,
	action      TEXT NOT NULL,
	tier        TEXT,
	success     INTEGER NOT NULL,
	verified    INTEGER NOT NULL,
	error       TEXT,
	elapsed_ms  INTEGER NOT NULL,
	occurred_at TIMESTAMP NOT NULL,
	PRIMARY KEY (task_id, number)
);

CREATE INDEX IF NOT EXISTS idx_tasks_started_at ON tasks(started_at);
`

// TaskSummary is one row of the task listing.
type TaskSummary struct {
	ID          string
	Instruction string
	Status      string
	Reason      string
	Answer      string
	Steps       int
	StartedAt   time.Time
	Elapsed     time.Duration
}

// Store implements schemas.TranscriptStore over SQLite.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open creates or opens the transcript database at path, creating parent
// directories and the schema as needed.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cannot create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cannot open history database: %w", err)
	}
	// The store is written from one loop at a time; a single connection
	// sidesteps SQLite's writer lock contention.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("cannot configure history database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cannot create history schema: %w", err)
	}

	logger.Named("history").Debug("Transcript store opened", zap.String("path", path))
	return &Store{db: db, logger: logger.Named("history")}, nil
}

// CreateTask inserts the initial task row.
func (s *Store) CreateTask(ctx context.Context, task schemas.Task) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, instruction, step_budget, time_budget_ms, started_at) VALUES (?, ?, ?, ?, ?)`,
		task.ID, task.Instruction, task.StepBudget, task.TimeBudget.Milliseconds(), task.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("cannot insert task: %w", err)
	}
	return nil
}

// AppendStep records one completed step.
func (s *Store) AppendStep(ctx context.Context, taskID string, step schemas.Step) error {
	action, err := json.Marshal(step.Action)
	if err != nil {
		return fmt.Errorf("cannot encode action: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO steps (task_id, number, frame_id, action, tier, success, verified, error, elapsed_ms, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		taskID, step.Number, step.FrameID, string(action), string(step.Result.Tier),
		step.Result.Success, step.Verified, step.Error, step.Elapsed.Milliseconds(), step.OccurredAt.UTC())
	if err != nil {
		return fmt.Errorf("cannot insert step: %w", err)
	}
	return nil
}

// FinishTask stamps the terminal outcome onto the task row.
func (s *Store) FinishTask(ctx context.Context, result schemas.TaskResult) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, reason = ?, answer = ?, elapsed_ms = ? WHERE id = ?`,
		string(result.Status), result.Reason, result.Answer, result.Elapsed.Milliseconds(), result.TaskID)
	if err != nil {
		return fmt.Errorf("cannot finish task: %w", err)
	}
	return nil
}

// ListTasks returns the most recent task runs, newest first.
func (s *Store) ListTasks(ctx context.Context, limit int) ([]TaskSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.id, t.instruction, COALESCE(t.status, ''), COALESCE(t.reason, ''), COALESCE(t.answer, ''),
		        (SELECT COUNT(*) FROM steps s WHERE s.task_id = t.id),
		        t.started_at, COALESCE(t.elapsed_ms, 0)
		 FROM tasks t ORDER BY t.started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("cannot list tasks: %w", err)
	}
	defer rows.Close()

	var out []TaskSummary
	for rows.Next() {
		var t TaskSummary
		var elapsedMs int64
		if err := rows.Scan(&t.ID, &t.Instruction, &t.Status, &t.Reason, &t.Answer, &t.Steps, &t.StartedAt, &elapsedMs); err != nil {
			return nil, fmt.Errorf("cannot scan task row: %w", err)
		}
		t.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		out = append(out, t)
	}
	return out, rows.Err()
}

// StepsForTask returns the recorded steps of one task in order.
func (s *Store) StepsForTask(ctx context.Context, taskID string) ([]schemas.Step, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT number, COALESCE(frame_id, ''), action, COALESCE(tier, ''), success, verified, COALESCE(error, ''), elapsed_ms, occurred_at
		 FROM steps WHERE task_id = ? ORDER BY number`, taskID)
	if err != nil {
		return nil, fmt.Errorf("cannot query steps: %w", err)
	}
	defer rows.Close()

	var out []schemas.Step
	for rows.Next() {
		var step schemas.Step
		var action string
		var tier string
		var elapsedMs int64
		if err := rows.Scan(&step.Number, &step.FrameID, &action, &tier, &step.Result.Success,
			&step.Verified, &step.Error, &elapsedMs, &step.OccurredAt); err != nil {
			return nil, fmt.Errorf("cannot scan step row: %w", err)
		}
		if err := json.Unmarshal([]byte(action), &step.Action); err != nil {
			return nil, fmt.Errorf("cannot decode recorded action: %w", err)
		}
		step.Result.Tier = schemas.ResolutionTier(tier)
		step.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		out = append(out, step)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
