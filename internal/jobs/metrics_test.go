package jobmetrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsRowsAndFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	require.NoError(t, m.Track("rbac:assignment_retention").End(4, nil))
	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track("rbac:assignment_retention").End(0, boom), boom)

	assert.Equal(t, 4.0, testutil.ToFloat64(m.rows.WithLabelValues("rbac:assignment_retention")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("rbac:assignment_retention")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.duration))
}

func TestTrackerDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	tr := m.Track("itdesk:idempotency_cleanup")
	tr.now = func() time.Time { return tr.start.Add(2 * time.Second) }
	require.NoError(t, tr.End(0, nil))

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "itdesk_job_duration_seconds" {
			assert.InDelta(t, 2.0, f.GetMetric()[0].GetHistogram().GetSampleSum(), 0.001)
			return
		}
	}
	t.Fatal("duration histogram not gathered")
}

func TestNilMetricsTrackerIsNoop(t *testing.T) {
	var m *Metrics
	assert.NoError(t, m.Track("x").End(3, nil))
}
