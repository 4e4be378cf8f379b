package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/stackvity/tender-pipeline/internal/pipeline"
)

func TestRecorderComputesAggregates(t *testing.T) {
	r := NewRecorder(100, zap.NewNop())
	for _, lat := range []int64{10, 20, 30, 40, 100} {
		r.Record(pipeline.MetricSample{Operation: "model.generate", OutcomeCode: "success", LatencyMS: lat})
	}

	agg := r.Snapshot("model.generate")
	assert.Equal(t, 5, agg.Count)
	assert.Equal(t, 1.0, agg.SuccessRate)
	assert.Equal(t, int64(30), agg.P50Latency)
}

func TestRecorderDropsOldestWhenWindowFull(t *testing.T) {
	r := NewRecorder(3, zap.NewNop())
	for i := 0; i < 5; i++ {
		r.Record(pipeline.MetricSample{Operation: "op", LatencyMS: int64(i)})
	}
	agg := r.Snapshot("op")
	assert.Equal(t, 3, agg.Count)
}

func TestSnapshotOfUnknownOperationIsEmpty(t *testing.T) {
	r := NewRecorder(10, zap.NewNop())
	agg := r.Snapshot("never-recorded")
	assert.Equal(t, 0, agg.Count)
}
