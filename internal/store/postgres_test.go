package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/persona-sim/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS tasks`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveTask(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO tasks .* ON CONFLICT \(id\) DO UPDATE`).
		WithArgs("t1", "pending", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	task := sampleTask("t1")
	require.NoError(t, s.SaveTask(context.Background(), task))
	assert.False(t, task.UpdatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetTask(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT data FROM tasks WHERE id = \$1`).
		WithArgs("t1").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).
			AddRow(`{"id":"t1","product_description":"Timer","status":"completed","num_personas":2,"num_simulations":2}`))

	got, err := s.GetTask(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, got.Status)
	assert.Equal(t, "Timer", got.ProductDescription)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetTask_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT data FROM tasks WHERE id = \$1`).
		WithArgs("nonexistent").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetTask(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListTasks(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT data FROM tasks WHERE true AND status = \$1 ORDER BY created_at DESC LIMIT \$2 OFFSET \$3`).
		WithArgs("failed", 5, 10).
		WillReturnRows(pgxmock.NewRows([]string{"data"}).
			AddRow(`{"id":"a","status":"failed"}`).
			AddRow(`{"id":"b","status":"failed"}`))

	got, err := s.ListTasks(context.Background(), TaskFilter{Status: model.TaskStatusFailed, Limit: 5, Offset: 10})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SavePersonas(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM personas WHERE task_id = \$1`).
		WithArgs("t1").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectCopyFrom(pgx.Identifier{"personas"}, personaColumns).WillReturnResult(2)
	mock.ExpectCommit()

	err := s.SavePersonas(context.Background(), "t1", []model.Persona{{ID: "persona_1"}, {ID: "persona_2"}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SavePersonas_CopyError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM personas`).WithArgs("t1").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"personas"}, personaColumns).WillReturnError(errors.New("conn reset"))
	mock.ExpectRollback()

	err := s.SavePersonas(context.Background(), "t1", []model.Persona{{ID: "persona_1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert personas for t1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveSimulations(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_simulations"}, simulationUpsert.Columns).WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "simulations"`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.SaveSimulations(context.Background(), "t1", []model.SimulationResult{{SimulationID: "p1_x_sim_1", PersonaID: "p1"}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListSimulations(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT data FROM simulations WHERE task_id = \$1 ORDER BY seq`).
		WithArgs("t1").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).
			AddRow(`{"simulation_id":"p1_x_sim_1","persona_id":"p1","would_try":true}`))

	got, err := s.ListSimulations(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].WouldTry)
	assert.NoError(t, mock.ExpectationsWereMet())
}
