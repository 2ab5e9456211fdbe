package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/persona-sim/internal/model"
	"github.com/sells-group/persona-sim/internal/simulation"
)

func TestComputeStats_Empty(t *testing.T) {
	assert.Nil(t, ComputeStats([]model.Persona{{ID: "p1"}}, nil))
}

func TestComputeStats(t *testing.T) {
	personas := []model.Persona{
		{ID: "persona_1", Location: "Berlin"},
		{ID: "persona_2", Location: "Lisbon"},
	}
	results := []model.SimulationResult{
		{PersonaID: "persona_1", UserType: "core", UsageFrequency: "daily", WouldTry: true, WouldBuy: true,
			DependencyLevel: "painful", BarrierToAdoption: "price, setup time"},
		{PersonaID: "persona_1", UserType: "core", UsageFrequency: "daily", WouldTry: true,
			DependencyLevel: "acceptable", BarrierToAdoption: "price，privacy"},
		{PersonaID: "persona_2", UserType: "marginal", UsageFrequency: "weekly", IsMustHave: true,
			DependencyLevel: "weird", BarrierToAdoption: model.NotProvided},
		{PersonaID: "ghost", WouldRecommend: true, DependencyLevel: "indifferent",
			BarrierToAdoption: simulation.SimulationErrorText},
		{PersonaID: "persona_2", UserType: "marginal", UsageFrequency: "weekly",
			DependencyLevel: "indifferent", BarrierToAdoption: "x, privacy,  , setup time, price"},
		{PersonaID: "persona_2", UserType: "marginal", UsageFrequency: "weekly",
			DependencyLevel: "indifferent", BarrierToAdoption: "habit, cost, trust"},
	}

	s := ComputeStats(personas, results)
	require.NotNil(t, s)
	assert.Equal(t, 2, s.TotalPersonas)
	assert.Equal(t, 6, s.TotalSimulations)
	assert.Equal(t, 33.3, s.WouldTryPercentage)
	assert.Equal(t, 16.7, s.WouldBuyPercentage)
	assert.Equal(t, 16.7, s.MustHavePercentage)
	assert.Equal(t, 16.7, s.WouldRecommendPercentage)
	assert.Equal(t, map[string]float64{"painful": 16.7, "acceptable": 16.7, "indifferent": 50}, s.DependencyPercentages)
	assert.Equal(t, map[string]float64{"core": 33.3, "marginal": 50, "unknown": 16.7}, s.UserTypePercentages)
	assert.Equal(t, map[string]float64{"daily": 33.3, "weekly": 50, "unknown": 16.7}, s.UsageFrequencyPercentages)
	assert.Equal(t, map[string]float64{"Berlin": 33.3, "Lisbon": 50, "unknown": 16.7}, s.LocationPercentages)
	assert.Equal(t, []model.BarrierCount{
		{Barrier: "price", Count: 3},
		{Barrier: "setup time", Count: 2},
		{Barrier: "privacy", Count: 2},
		{Barrier: "habit", Count: 1},
		{Barrier: "cost", Count: 1},
	}, s.TopBarriers)
}
