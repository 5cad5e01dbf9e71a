package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RoomsProcessed.WithLabelValues(StatusOK).Inc()
	m.UpdatesApplied.WithLabelValues("update").Add(2)
	m.Compactions.WithLabelValues(CompactionStale).Inc()
	m.CompactionRequests.Inc()
	m.BatchDuration.Observe(0.01)
	m.LastBatchRooms.Set(3)
	m.HTTPRequests.WithLabelValues("POST", "200").Inc()
	m.HTTPDuration.WithLabelValues("POST").Observe(0.02)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	values := make(map[string]float64)
	for _, f := range families {
		names = append(names, f.GetName())
		for _, metric := range f.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				values[f.GetName()] += metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				values[f.GetName()] += metric.GetGauge().GetValue()
			}
		}
	}

	assert.ElementsMatch(t, []string{
		"roomsync_rooms_processed_total",
		"roomsync_updates_applied_total",
		"roomsync_compactions_total",
		"roomsync_compaction_requests_total",
		"roomsync_batch_duration_seconds",
		"roomsync_last_batch_rooms",
		"roomsync_http_requests_total",
		"roomsync_http_request_duration_seconds",
	}, names)

	assert.Equal(t, float64(2), values["roomsync_updates_applied_total"])
	assert.Equal(t, float64(3), values["roomsync_last_batch_rooms"])
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	assert.Panics(t, func() { New(reg) })
}

func TestNewNop(t *testing.T) {
	// Два независимых набора не конфликтуют
	assert.NotPanics(t, func() {
		NewNop()
		NewNop()
	})
}
