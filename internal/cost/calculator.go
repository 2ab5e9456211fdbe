// Package cost provides the rough token budget shown in task progress.
package cost

import "math"

const (
	// TokensPerSimulation is the flat per-simulation token estimate.
	TokensPerSimulation = 800
	// MinTokens is the floor of any task estimate.
	MinTokens = 800
)

// EstimateTokens returns the token budget for a task with the given number
// of personas and simulations per persona.
func EstimateTokens(personas, simulations int) int {
	return max(MinTokens, personas*simulations*TokensPerSimulation)
}

// Used returns the share of total consumed at pct percent, truncated.
func Used(total int, pct float64) int {
	if pct <= 0 || total <= 0 {
		return 0
	}
	if pct >= 100 {
		return total
	}
	return int(math.Floor(float64(total) * pct / 100))
}
