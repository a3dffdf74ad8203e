package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/quire-api/microsoft-teams/internal/auth"
	"github.com/quire-api/microsoft-teams/internal/bot"
	"github.com/quire-api/microsoft-teams/internal/metrics"
	"github.com/quire-api/microsoft-teams/pkg/clock"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	oauth := auth.NewOAuthClient(auth.OAuthConfig{
		ClientID: "client",
		AuthURL:  "https://quire.io/oauth",
	}, clock.New())
	return NewRouter(RouterConfig{
		Bot:      bot.New(bot.Config{Logger: zerolog.Nop()}),
		Notifier: bot.NewNotifier(nil, nil, nil, bot.NewCards(""), nil, zerolog.Nop()),
		Auth:     auth.NewWebHandler(oauth, auth.NewCodeBroker(0, nil), zerolog.Nop()),
	}, zerolog.Nop())
}

func TestHeartbeat(t *testing.T) {
	router := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/heartbeat", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestAuthStartRoute(t *testing.T) {
	router := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bot-auth-start", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "https://quire.io/oauth") {
		t.Fatalf("sign-in page missing provider URL: %s", rec.Body.String())
	}
}

func TestMessagesRejectsBadBody(t *testing.T) {
	router := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader("{")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	oauth := auth.NewOAuthClient(auth.OAuthConfig{
		ClientID: "client",
		AuthURL:  "https://quire.io/oauth",
	}, clock.New())
	router := NewRouter(RouterConfig{
		Bot:      bot.New(bot.Config{Logger: zerolog.Nop()}),
		Notifier: bot.NewNotifier(nil, nil, nil, bot.NewCards(""), nil, zerolog.Nop()),
		Auth:     auth.NewWebHandler(oauth, auth.NewCodeBroker(0, nil), zerolog.Nop()),
		Metrics:  metrics.New(),
	}, zerolog.Nop())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "quirebot_") {
		t.Fatalf("metrics body missing collector output: %.100s", rec.Body.String())
	}
}

func TestUnknownRoute(t *testing.T) {
	router := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
