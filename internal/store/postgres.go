package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/persona-sim/internal/db"
	"github.com/sells-group/persona-sim/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	saveTaskSQL = `INSERT INTO tasks (id, status, data, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`
	getTaskSQL         = `SELECT data FROM tasks WHERE id = $1`
	listPersonasSQL    = `SELECT data FROM personas WHERE task_id = $1 ORDER BY position`
	listSimulationsSQL = `SELECT data FROM simulations WHERE task_id = $1 ORDER BY seq`
)

// preparedStatements are prepared on each new connection.
var preparedStatements = map[string]string{
	"save_task":        saveTaskSQL,
	"get_task":         getTaskSQL,
	"list_personas":    listPersonasSQL,
	"list_simulations": listSimulationsSQL,
}

var simulationUpsert = db.UpsertConfig{
	Table:        "simulations",
	Columns:      []string{"task_id", "simulation_id", "persona_id", "data"},
	ConflictKeys: []string{"task_id", "simulation_id"},
}

var personaColumns = []string{"task_id", "position", "persona_id", "data"}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS tasks (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT 'pending',
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS personas (
	task_id    TEXT NOT NULL REFERENCES tasks(id),
	position   INTEGER NOT NULL,
	persona_id TEXT NOT NULL,
	data       JSONB NOT NULL,
	PRIMARY KEY (task_id, position)
);

CREATE TABLE IF NOT EXISTS simulations (
	seq           BIGSERIAL,
	task_id       TEXT NOT NULL REFERENCES tasks(id),
	simulation_id TEXT NOT NULL,
	persona_id    TEXT NOT NULL,
	data          JSONB NOT NULL,
	PRIMARY KEY (task_id, simulation_id)
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_simulations_seq ON simulations(task_id, seq);
`

// Ping checks the connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveTask(ctx context.Context, task *model.Task) error {
	touch(task)
	data, err := encode(task)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, saveTaskSQL, task.ID, string(task.Status), data, task.CreatedAt, task.UpdatedAt)
	return eris.Wrapf(err, "postgres: save task %s", task.ID)
}

func (s *PostgresStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	var data string
	err := s.pool.QueryRow(ctx, getTaskSQL, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: task %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get task %s", id)
	}
	return decodeTask(data)
}

func (s *PostgresStore) ListTasks(ctx context.Context, filter TaskFilter) ([]model.Task, error) {
	query := `SELECT data FROM tasks WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list tasks")
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan task")
		}
		t, err := decodeTask(data)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, eris.Wrap(rows.Err(), "postgres: list tasks iterate")
}

// SavePersonas replaces the task's personas in one transaction, loading the
// new set with COPY.
func (s *PostgresStore) SavePersonas(ctx context.Context, taskID string, personas []model.Persona) error {
	rows := make([][]any, len(personas))
	for i, p := range personas {
		data, err := encode(p)
		if err != nil {
			return err
		}
		rows[i] = []any{taskID, i, p.ID, data}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM personas WHERE task_id = $1`, taskID); err != nil {
		return eris.Wrapf(err, "postgres: clear personas for %s", taskID)
	}
	if _, err := db.CopyFrom(ctx, tx, "personas", personaColumns, rows); err != nil {
		return eris.Wrapf(err, "postgres: insert personas for %s", taskID)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit personas")
}

func (s *PostgresStore) ListPersonas(ctx context.Context, taskID string) ([]model.Persona, error) {
	rows, err := s.pool.Query(ctx, listPersonasSQL, taskID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list personas")
	}
	defer rows.Close()
	return scanAll[model.Persona](rows, "postgres: personas")
}

func (s *PostgresStore) SaveSimulations(ctx context.Context, taskID string, results []model.SimulationResult) error {
	rows := make([][]any, len(results))
	for i, r := range results {
		data, err := encode(r)
		if err != nil {
			return err
		}
		rows[i] = []any{taskID, r.SimulationID, r.PersonaID, data}
	}
	_, err := db.BulkUpsert(ctx, s.pool, simulationUpsert, rows)
	return eris.Wrapf(err, "postgres: save simulations for %s", taskID)
}

func (s *PostgresStore) ListSimulations(ctx context.Context, taskID string) ([]model.SimulationResult, error) {
	rows, err := s.pool.Query(ctx, listSimulationsSQL, taskID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list simulations")
	}
	defer rows.Close()
	return scanAll[model.SimulationResult](rows, "postgres: simulations")
}
