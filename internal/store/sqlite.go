package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/persona-sim/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS tasks (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT 'pending',
	data       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS personas (
	task_id    TEXT NOT NULL REFERENCES tasks(id),
	position   INTEGER NOT NULL,
	persona_id TEXT NOT NULL,
	data       TEXT NOT NULL,
	PRIMARY KEY (task_id, position)
);

CREATE TABLE IF NOT EXISTS simulations (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id       TEXT NOT NULL REFERENCES tasks(id),
	simulation_id TEXT NOT NULL,
	persona_id    TEXT NOT NULL,
	data          TEXT NOT NULL,
	UNIQUE (task_id, simulation_id)
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_simulations_persona ON simulations(task_id, persona_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveTask(ctx context.Context, task *model.Task) error {
	touch(task)
	data, err := encode(task)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, status, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET status = excluded.status, data = excluded.data, updated_at = excluded.updated_at`,
		task.ID, string(task.Status), data, task.CreatedAt, task.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: save task %s", task.ID)
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM tasks WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: task %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get task %s", id)
	}
	return decodeTask(data)
}

func (s *SQLiteStore) ListTasks(ctx context.Context, filter TaskFilter) ([]model.Task, error) {
	query := `SELECT data FROM tasks WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, listLimit(filter))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list tasks")
	}
	defer rows.Close() //nolint:errcheck

	var tasks []model.Task
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan task")
		}
		t, err := decodeTask(data)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, eris.Wrap(rows.Err(), "sqlite: list tasks iterate")
}

func (s *SQLiteStore) SavePersonas(ctx context.Context, taskID string, personas []model.Persona) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM personas WHERE task_id = ?`, taskID); err != nil {
		return eris.Wrapf(err, "sqlite: clear personas for %s", taskID)
	}
	for i, p := range personas {
		data, err := encode(p)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO personas (task_id, position, persona_id, data) VALUES (?, ?, ?, ?)`,
			taskID, i, p.ID, data,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert persona %s", p.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit personas")
}

func (s *SQLiteStore) ListPersonas(ctx context.Context, taskID string) ([]model.Persona, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM personas WHERE task_id = ? ORDER BY position`, taskID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list personas")
	}
	defer rows.Close() //nolint:errcheck
	return scanAll[model.Persona](rows, "sqlite: personas")
}

func (s *SQLiteStore) SaveSimulations(ctx context.Context, taskID string, results []model.SimulationResult) error {
	if len(results) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, r := range results {
		data, err := encode(r)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO simulations (task_id, simulation_id, persona_id, data) VALUES (?, ?, ?, ?)
			 ON CONFLICT (task_id, simulation_id) DO UPDATE SET persona_id = excluded.persona_id, data = excluded.data`,
			taskID, r.SimulationID, r.PersonaID, data,
		); err != nil {
			return eris.Wrapf(err, "sqlite: upsert simulation %s", r.SimulationID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit simulations")
}

func (s *SQLiteStore) ListSimulations(ctx context.Context, taskID string) ([]model.SimulationResult, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM simulations WHERE task_id = ? ORDER BY seq`, taskID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list simulations")
	}
	defer rows.Close() //nolint:errcheck
	return scanAll[model.SimulationResult](rows, "sqlite: simulations")
}

// rowScanner is satisfied by *sql.Rows and pgx.Rows.
type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanAll[T any](rows rowScanner, what string) ([]T, error) {
	out := []T{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrapf(err, "%s: scan", what)
		}
		var v T
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			return nil, eris.Wrapf(err, "%s: unmarshal", what)
		}
		out = append(out, v)
	}
	return out, eris.Wrapf(rows.Err(), "%s: iterate", what)
}
