package selfstats

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStats struct{}

func (fakeStats) JobCount() int         { return 3 }
func (fakeStats) RunsStarted() uint64   { return 10 }
func (fakeStats) RunsCompleted() uint64 { return 9 }

func TestCollectorRegistersAndGathers(t *testing.T) {
	c, err := New(fakeStats{})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	families, err := reg.Gather()
	require.NoError(t, err)

	byName := make(map[string]float64)
	for _, fam := range families {
		if len(fam.GetMetric()) == 1 {
			m := fam.GetMetric()[0]
			if m.GetGauge() != nil {
				byName[fam.GetName()] = m.GetGauge().GetValue()
			} else if m.GetCounter() != nil {
				byName[fam.GetName()] = m.GetCounter().GetValue()
			}
		}
	}

	assert.Equal(t, 3.0, byName["script_exporter_jobs"])
	assert.Equal(t, 10.0, byName["script_exporter_runs_started_total"])
	assert.Equal(t, 9.0, byName["script_exporter_runs_completed_total"])
	assert.Greater(t, byName["script_exporter_goroutines"], 0.0)
}
