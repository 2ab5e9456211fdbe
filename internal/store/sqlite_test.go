package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/persona-sim/internal/config"
	"github.com/sells-group/persona-sim/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func sampleTask(id string) *model.Task {
	return &model.Task{
		ID:                 id,
		ProductDescription: "A focus timer app",
		NumPersonas:        4,
		NumSimulations:     2,
		Status:             model.TaskStatusPending,
	}
}

func TestSQLite_SaveAndGetTask(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	task := sampleTask("t1")
	require.NoError(t, st.SaveTask(ctx, task))
	assert.False(t, task.CreatedAt.IsZero())

	task.Status = model.TaskStatusSimulatingReactions
	task.Progress = model.Progress{CurrentStep: "simulating", Completed: 1, Total: 4, Percentage: 22.5}
	task.Stats = &model.Stats{WouldTryPercentage: 50, TotalPersonas: 4}
	require.NoError(t, st.SaveTask(ctx, task))

	got, err := st.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusSimulatingReactions, got.Status)
	assert.Equal(t, 22.5, got.Progress.Percentage)
	require.NotNil(t, got.Stats)
	assert.Equal(t, 50.0, got.Stats.WouldTryPercentage)
	assert.Equal(t, "A focus timer app", got.ProductDescription)
}

func TestSQLite_GetTask_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetTask(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLite_ListTasks(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		task := sampleTask(id)
		if id == "b" {
			task.Status = model.TaskStatusCompleted
		}
		require.NoError(t, st.SaveTask(ctx, task))
	}

	all, err := st.ListTasks(ctx, TaskFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	done, err := st.ListTasks(ctx, TaskFilter{Status: model.TaskStatusCompleted})
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, "b", done[0].ID)

	page, err := st.ListTasks(ctx, TaskFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, page, 1)
}

func TestSQLite_SavePersonasReplaces(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, st.SaveTask(ctx, sampleTask("t1")))

	first := []model.Persona{
		{ID: "persona_1", Description: "Student", KeyNeeds: []string{"cheap"}, UsageScenarios: []string{}, UserType: "core"},
		{ID: "persona_2", Description: "Manager", KeyNeeds: []string{}, UsageScenarios: []string{}, UserType: "casual"},
	}
	require.NoError(t, st.SavePersonas(ctx, "t1", first))
	require.NoError(t, st.SavePersonas(ctx, "t1", first[1:]))

	got, err := st.ListPersonas(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "persona_2", got[0].ID)
	assert.Equal(t, "Manager", got[0].Description)

	none, err := st.ListPersonas(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLite_SaveSimulationsUpserts(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, st.SaveTask(ctx, sampleTask("t1")))

	require.NoError(t, st.SaveSimulations(ctx, "t1", []model.SimulationResult{
		{SimulationID: "p1_x_sim_1", PersonaID: "p1", Feedback: "draft"},
		{SimulationID: "p1_x_sim_2", PersonaID: "p1", WouldTry: true},
	}))
	require.NoError(t, st.SaveSimulations(ctx, "t1", []model.SimulationResult{
		{SimulationID: "p1_x_sim_1", PersonaID: "p1", Feedback: "final"},
		{SimulationID: "p2_y_sim_1", PersonaID: "p2", Error: "boom"},
	}))
	require.NoError(t, st.SaveSimulations(ctx, "t1", nil))

	got, err := st.ListSimulations(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "p1_x_sim_1", got[0].SimulationID)
	assert.Equal(t, "final", got[0].Feedback)
	assert.True(t, got[1].WouldTry)
	assert.Equal(t, "boom", got[2].Error)
}

func TestOpen_SQLite(t *testing.T) {
	st, err := Open(context.Background(), config.StoreConfig{
		Driver:      "sqlite",
		DatabaseURL: filepath.Join(t.TempDir(), "open.db"),
	})
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	require.NoError(t, st.SaveTask(context.Background(), sampleTask("t1")))
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Driver: "mysql"})
	assert.ErrorContains(t, err, `unsupported driver "mysql"`)
}
