// Package metrics provides Prometheus metrics for the Quire Teams bot.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Refresh outcome label values.
const (
	RefreshSuccess      = "success"
	RefreshInvalidGrant = "invalid_grant"
	RefreshError        = "error"
)

// Metrics holds all Prometheus metrics for the bot.
type Metrics struct {
	// Token lifecycle metrics
	TokenRefreshesTotal *prometheus.CounterVec
	LoginsTotal         prometheus.Counter
	LogoutsTotal        prometheus.Counter

	// Remote API metrics
	RemoteCallFailuresTotal *prometheus.CounterVec
	RemoteCallRetriesTotal  prometheus.Counter

	// Notification metrics
	NotificationsTotal *prometheus.CounterVec
}

// New creates a new Metrics instance and registers with Prometheus.
func New() *Metrics {
	m := &Metrics{
		TokenRefreshesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quirebot",
			Name:      "token_refreshes_total",
			Help:      "Refresh-token exchanges by outcome.",
		}, []string{"outcome"}),
		LoginsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quirebot",
			Name:      "logins_total",
			Help:      "Completed sign-in verifications.",
		}),
		LogoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quirebot",
			Name:      "logouts_total",
			Help:      "Explicit logouts.",
		}),
		RemoteCallFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quirebot",
			Name:      "remote_call_failures_total",
			Help:      "Classified Quire API failures by kind.",
		}, []string{"kind"}),
		RemoteCallRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quirebot",
			Name:      "remote_call_retries_total",
			Help:      "Calls retried after a refresh triggered by a 401.",
		}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quirebot",
			Name:      "notifications_total",
			Help:      "Quire push notifications by delivery outcome.",
		}, []string{"outcome"}),
	}

	prometheus.MustRegister(
		m.TokenRefreshesTotal,
		m.LoginsTotal,
		m.LogoutsTotal,
		m.RemoteCallFailuresTotal,
		m.RemoteCallRetriesTotal,
		m.NotificationsTotal,
	)

	return m
}

// Handler returns the HTTP handler exposing the metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
