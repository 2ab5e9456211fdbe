// Package store persists tasks, generated personas and simulation results.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/persona-sim/internal/config"
	"github.com/sells-group/persona-sim/internal/model"
)

// ErrNotFound is returned when a task does not exist.
var ErrNotFound = eris.New("store: not found")

// defaultListLimit caps ListTasks when the filter sets no limit.
const defaultListLimit = 100

// TaskFilter specifies criteria for listing tasks.
type TaskFilter struct {
	Status model.TaskStatus `json:"status,omitempty"`
	Limit  int              `json:"limit,omitempty"`
	Offset int              `json:"offset,omitempty"`
}

// Store defines the persistence interface for analysis tasks.
type Store interface {
	// Tasks
	SaveTask(ctx context.Context, task *model.Task) error
	GetTask(ctx context.Context, id string) (*model.Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]model.Task, error)

	// Personas are replaced as a set.
	SavePersonas(ctx context.Context, taskID string, personas []model.Persona) error
	ListPersonas(ctx context.Context, taskID string) ([]model.Persona, error)

	// Simulations are upserted by simulation_id and listed in insertion order.
	SaveSimulations(ctx context.Context, taskID string, results []model.SimulationResult) error
	ListSimulations(ctx context.Context, taskID string) ([]model.SimulationResult, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the configured backend and applies migrations.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		st  Store
		err error
	)
	switch cfg.Driver {
	case "postgres":
		st, err = NewPostgres(ctx, cfg.DatabaseURL, nil)
	case "sqlite", "":
		st, err = NewSQLite(cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unsupported driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func touch(task *model.Task) {
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
}

func encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", eris.Wrap(err, "store: marshal")
	}
	return string(b), nil
}

func decodeTask(data string) (*model.Task, error) {
	var t model.Task
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal task")
	}
	return &t, nil
}

func listLimit(f TaskFilter) int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}
