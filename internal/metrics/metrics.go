// Package metrics exposes Prometheus metrics for directory authentication,
// user provisioning and login outcomes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "adbridge"

// Label constants for metrics.
const (
	LabelOutcome   = "outcome"
	LabelResult    = "result"
	LabelOperation = "operation"
	LabelKind      = "kind"
)

// Sync results.
const (
	SyncCreated = "created"
	SyncUpdated = "updated"
	SyncFailed  = "failed"
)

// Group membership operations.
const (
	GroupAdd    = "add"
	GroupRemove = "remove"
)

// Metrics provides Prometheus metrics for the authentication bridge.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	directoryAuthTotal    *prometheus.CounterVec
	directoryAuthDuration prometheus.Histogram

	syncTotal         *prometheus.CounterVec
	groupChangesTotal *prometheus.CounterVec
	raceLostTotal     prometheus.Counter

	loginTotal *prometheus.CounterVec
}

// New creates and registers metrics.
// If registry is nil, metrics will be created but not registered (useful for testing).
func New(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		directoryAuthTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "directory",
				Name:      "authentications_total",
				Help:      "Total number of directory authentication attempts by outcome",
			},
			[]string{LabelOutcome},
		),

		directoryAuthDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "directory",
				Name:      "authentication_duration_seconds",
				Help:      "Time spent authenticating against the directory",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),

		syncTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "provision",
				Name:      "syncs_total",
				Help:      "Total number of local user synchronizations by result",
			},
			[]string{LabelResult},
		),

		groupChangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "provision",
				Name:      "group_changes_total",
				Help:      "Total number of group membership changes applied",
			},
			[]string{LabelOperation},
		),

		raceLostTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "provision",
				Name:      "race_lost_total",
				Help:      "Number of user creations lost to a concurrent login",
			},
		),

		loginTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "logins_total",
				Help:      "Total number of login attempts by result and rejection kind",
			},
			[]string{LabelResult, LabelKind},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.directoryAuthTotal,
			m.directoryAuthDuration,
			m.syncTotal,
			m.groupChangesTotal,
			m.raceLostTotal,
			m.loginTotal,
		)
	}

	return m
}

// ObserveDirectoryAuth records a directory authentication attempt.
func (m *Metrics) ObserveDirectoryAuth(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.directoryAuthTotal.WithLabelValues(outcome).Inc()
	m.directoryAuthDuration.Observe(duration.Seconds())
}

// ObserveSync records the result of a user synchronization.
func (m *Metrics) ObserveSync(result string) {
	if m == nil {
		return
	}
	m.syncTotal.WithLabelValues(result).Inc()
}

// ObserveGroupChanges records applied membership changes.
func (m *Metrics) ObserveGroupChanges(added, removed int) {
	if m == nil {
		return
	}
	if added > 0 {
		m.groupChangesTotal.WithLabelValues(GroupAdd).Add(float64(added))
	}
	if removed > 0 {
		m.groupChangesTotal.WithLabelValues(GroupRemove).Add(float64(removed))
	}
}

// ObserveRaceLost records a user creation that lost to a concurrent login.
func (m *Metrics) ObserveRaceLost() {
	if m == nil {
		return
	}
	m.raceLostTotal.Inc()
}

// ObserveLogin records a login result. kind is empty for accepted logins.
func (m *Metrics) ObserveLogin(result, kind string) {
	if m == nil {
		return
	}
	m.loginTotal.WithLabelValues(result, kind).Inc()
}
