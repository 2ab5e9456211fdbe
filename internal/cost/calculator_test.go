package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		personas, sims, want int
	}{
		{0, 0, 800},
		{1, 1, 800},
		{2, 2, 3200},
		{40, 2, 64000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EstimateTokens(tt.personas, tt.sims))
	}
}

func TestUsed(t *testing.T) {
	assert.Equal(t, 0, Used(3200, 0))
	assert.Equal(t, 1440, Used(3200, 45))
	assert.Equal(t, 2880, Used(3200, 90))
	assert.Equal(t, 3200, Used(3200, 120))
	assert.Equal(t, 0, Used(0, 50))
}
