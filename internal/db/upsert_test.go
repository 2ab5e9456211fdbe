package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func simulationUpsert() UpsertConfig {
	return UpsertConfig{
		Table:        "simulations",
		Columns:      []string{"task_id", "simulation_id", "data"},
		ConflictKeys: []string{"task_id", "simulation_id"},
	}
}

func TestBulkUpsert_Validation(t *testing.T) {
	n, err := BulkUpsert(context.Background(), nil, simulationUpsert(), nil)
	assert.NoError(t, err)
	assert.Zero(t, n)

	_, err = BulkUpsert(context.Background(), nil, UpsertConfig{Table: "t", ConflictKeys: []string{"id"}}, [][]any{{1}})
	assert.ErrorContains(t, err, "no columns specified")

	_, err = BulkUpsert(context.Background(), nil, UpsertConfig{Table: "t", Columns: []string{"id"}}, [][]any{{1}})
	assert.ErrorContains(t, err, "no conflict keys specified")
}

func TestBulkUpsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cfg := simulationUpsert()
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_simulations"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_simulations"}, cfg.Columns).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "simulations" .* ON CONFLICT \("task_id", "simulation_id"\) DO UPDATE SET "data" = EXCLUDED."data"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, cfg, [][]any{{"t", "s1", "{}"}, {"t", "s2", "{}"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_CopyFailureRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cfg := simulationUpsert()
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_simulations"}, cfg.Columns).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, cfg, [][]any{{"t", "s1", "{}"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fill temp table for simulations")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSanitizeTable(t *testing.T) {
	assert.Equal(t, `"simple"`, sanitizeTable("simple"))
	assert.Equal(t, `"sim"."tasks"`, sanitizeTable("sim.tasks"))
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"task_id", "data"`, quoteAndJoin([]string{"task_id", "data"}))
}
