package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersAllMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)
	require.NotNil(t, m)

	m.ObserveDirectoryAuth("success", 120*time.Millisecond)
	m.ObserveSync(SyncCreated)
	m.ObserveGroupChanges(1, 1)
	m.ObserveRaceLost()
	m.ObserveLogin("accepted", "")

	mfs, err := registry.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}

	for _, name := range []string{
		"adbridge_directory_authentications_total",
		"adbridge_directory_authentication_duration_seconds",
		"adbridge_provision_syncs_total",
		"adbridge_provision_group_changes_total",
		"adbridge_provision_race_lost_total",
		"adbridge_auth_logins_total",
	} {
		assert.True(t, names[name], "metric %s not gathered", name)
	}
}

func TestMetrics_Counters(t *testing.T) {
	m := New(nil)

	m.ObserveDirectoryAuth("invalid_credentials", time.Second)
	m.ObserveDirectoryAuth("invalid_credentials", time.Second)
	m.ObserveSync(SyncUpdated)
	m.ObserveGroupChanges(3, 0)
	m.ObserveLogin("rejected", "service_error")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.directoryAuthTotal.WithLabelValues("invalid_credentials")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.syncTotal.WithLabelValues(SyncUpdated)))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.groupChangesTotal.WithLabelValues(GroupAdd)))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.groupChangesTotal.WithLabelValues(GroupRemove)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.loginTotal.WithLabelValues("rejected", "service_error")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveDirectoryAuth("success", time.Millisecond)
		m.ObserveSync(SyncFailed)
		m.ObserveGroupChanges(1, 2)
		m.ObserveRaceLost()
		m.ObserveLogin("accepted", "")
	})
}
