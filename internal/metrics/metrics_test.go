package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func resetRegistry() {
	// Create a new registry for each test to avoid conflicts
	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg
}

func TestNew(t *testing.T) {
	resetRegistry()

	m := New()
	if m.TokenRefreshesTotal == nil || m.RemoteCallFailuresTotal == nil || m.NotificationsTotal == nil {
		t.Fatal("metrics should be initialized")
	}

	m.TokenRefreshesTotal.WithLabelValues(RefreshSuccess).Inc()
	m.RemoteCallFailuresTotal.WithLabelValues("forbidden").Inc()
	m.RemoteCallRetriesTotal.Inc()
}

func TestHandler(t *testing.T) {
	resetRegistry()

	m := New()
	m.LoginsTotal.Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}
