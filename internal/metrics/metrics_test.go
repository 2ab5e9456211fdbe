package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveCompletion(t *testing.T) {
	before := testutil.ToFloat64(CompletionRequestsTotal.WithLabelValues("deepseek/deepseek-chat", "json", "ok"))
	ObserveCompletion("deepseek/deepseek-chat", "json", "ok", time.Now().Add(-time.Second))
	after := testutil.ToFloat64(CompletionRequestsTotal.WithLabelValues("deepseek/deepseek-chat", "json", "ok"))
	assert.Equal(t, before+1, after)
}

func TestCollectorsRegistered(t *testing.T) {
	SimulationBatchRetriesTotal.Inc()
	assert.GreaterOrEqual(t, testutil.ToFloat64(SimulationBatchRetriesTotal), float64(1))

	TasksTotal.WithLabelValues("completed").Inc()
	assert.Equal(t, 1, testutil.CollectAndCount(TasksTotal))
}
