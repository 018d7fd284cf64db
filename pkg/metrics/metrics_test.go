package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatherHistogram(t *testing.T, reg *prometheus.Registry, name string) *dto.Histogram {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() == name {
			require.Len(t, fam.GetMetric(), 1)
			return fam.GetMetric()[0].GetHistogram()
		}
	}
	t.Fatalf("histogram %q not gathered", name)
	return nil
}

func TestObserveSinceRecordsElapsedSeconds(t *testing.T) {
	reg := prometheus.NewRegistry()
	hist := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "test_op_duration_seconds",
		Help: "test histogram",
	})
	reg.MustRegister(hist)

	start := time.Now().Add(-50 * time.Millisecond)
	ObserveSince(start, hist)

	h := gatherHistogram(t, reg, "test_op_duration_seconds")
	assert.Equal(t, uint64(1), h.GetSampleCount())
	assert.GreaterOrEqual(t, h.GetSampleSum(), 0.05)
}

func TestObserveSinceWithLabelledObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "test_engine_op_duration_seconds",
		Help: "test histogram vec",
	}, []string{"engine", "op"})
	reg.MustRegister(vec)

	for i := 0; i < 3; i++ {
		ObserveSince(time.Now(), vec.WithLabelValues("hash", "put"))
	}

	h := gatherHistogram(t, reg, "test_engine_op_duration_seconds")
	assert.Equal(t, uint64(3), h.GetSampleCount())
}
