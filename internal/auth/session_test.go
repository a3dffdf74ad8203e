package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/quire-api/microsoft-teams/internal/models"
	"github.com/quire-api/microsoft-teams/internal/quire"
	"github.com/quire-api/microsoft-teams/pkg/clock"
)

type fakeTokenStore struct {
	mu      sync.Mutex
	tokens  map[string]models.Token
	puts    int
	deletes int
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{tokens: make(map[string]models.Token)}
}

func (s *fakeTokenStore) PutToken(userID string, token models.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[userID] = token
	s.puts++
	return nil
}

func (s *fakeTokenStore) GetToken(userID string) (models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[userID]
	if !ok {
		return models.Token{}, models.ErrTokenNotFound
	}
	return token, nil
}

func (s *fakeTokenStore) DeleteToken(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, userID)
	s.deletes++
	return nil
}

// tokenProvider is a scripted OAuth token endpoint. Each call pops the
// next response from the queue.
type tokenProvider struct {
	mu        sync.Mutex
	responses []tokenProviderResponse
	calls     int
}

type tokenProviderResponse struct {
	status int
	body   map[string]any
}

func (p *tokenProvider) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.calls++
		if len(p.responses) == 0 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		resp := p.responses[0]
		p.responses = p.responses[1:]
		w.WriteHeader(resp.status)
		json.NewEncoder(w).Encode(resp.body)
	}
}

func (p *tokenProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func refreshOK(access, refresh string) tokenProviderResponse {
	return tokenProviderResponse{
		status: http.StatusOK,
		body:   map[string]any{"access_token": access, "refresh_token": refresh, "expires_in": 3600},
	}
}

func refreshInvalidGrant() tokenProviderResponse {
	return tokenProviderResponse{
		status: http.StatusBadRequest,
		body:   map[string]any{"error": "invalid_grant"},
	}
}

func newTestManager(t *testing.T, store *fakeTokenStore, provider *tokenProvider, clk clock.Clock) *Manager {
	t.Helper()
	srv := httptest.NewServer(provider.handler())
	t.Cleanup(srv.Close)
	oauth := NewOAuthClient(OAuthConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		AuthURL:      srv.URL + "/oauth",
		TokenURL:     srv.URL + "/oauth/token",
	}, clk)
	return NewManager(store, oauth, clk, nil, zerolog.Nop())
}

func unauthorizedErr() error {
	return &quire.APIError{Kind: quire.KindUnauthorized, StatusCode: http.StatusUnauthorized, Err: errors.New("unauthorized")}
}

func TestSessionNoTokenShortCircuits(t *testing.T) {
	store := newFakeTokenStore()
	provider := &tokenProvider{}
	mgr := newTestManager(t, store, provider, clock.New())

	calls := 0
	err := mgr.Session("user-1").Do(context.Background(), func(ctx context.Context, token models.Token) error {
		calls++
		return nil
	})
	if !errors.Is(err, ErrLoginRequired) {
		t.Fatalf("expected ErrLoginRequired, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("call ran %d times without a credential", calls)
	}
	if provider.callCount() != 0 {
		t.Fatalf("token endpoint hit %d times without a credential", provider.callCount())
	}
}

func TestSessionRetriesOnceAfterUnauthorized(t *testing.T) {
	store := newFakeTokenStore()
	store.PutToken("user-1", models.Token{AccessToken: "stale", RefreshToken: "r1"})
	provider := &tokenProvider{responses: []tokenProviderResponse{refreshOK("fresh", "r2")}}
	mgr := newTestManager(t, store, provider, clock.New())

	var seen []string
	err := mgr.Session("user-1").Do(context.Background(), func(ctx context.Context, token models.Token) error {
		seen = append(seen, token.AccessToken)
		if token.AccessToken == "stale" {
			return unauthorizedErr()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if len(seen) != 2 || seen[0] != "stale" || seen[1] != "fresh" {
		t.Fatalf("unexpected call sequence %v", seen)
	}
	if provider.callCount() != 1 {
		t.Fatalf("expected 1 refresh, got %d", provider.callCount())
	}
	stored, err := store.GetToken("user-1")
	if err != nil {
		t.Fatalf("GetToken: %v", err)
	}
	if stored.AccessToken != "fresh" || stored.RefreshToken != "r2" {
		t.Fatalf("refreshed token not persisted: %+v", stored)
	}
}

func TestSessionUnauthorizedAfterRetryIsFinal(t *testing.T) {
	store := newFakeTokenStore()
	store.PutToken("user-1", models.Token{AccessToken: "stale", RefreshToken: "r1"})
	provider := &tokenProvider{responses: []tokenProviderResponse{refreshOK("fresh", "r2")}}
	mgr := newTestManager(t, store, provider, clock.New())

	calls := 0
	err := mgr.Session("user-1").Do(context.Background(), func(ctx context.Context, token models.Token) error {
		calls++
		return unauthorizedErr()
	})
	if !quire.IsUnauthorized(err) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", calls)
	}
	if provider.callCount() != 1 {
		t.Fatalf("expected exactly 1 refresh, got %d", provider.callCount())
	}
}

func TestSessionInvalidGrantClearsCredential(t *testing.T) {
	store := newFakeTokenStore()
	store.PutToken("user-1", models.Token{AccessToken: "stale", RefreshToken: "revoked"})
	provider := &tokenProvider{responses: []tokenProviderResponse{refreshInvalidGrant()}}
	mgr := newTestManager(t, store, provider, clock.New())

	err := mgr.Session("user-1").Do(context.Background(), func(ctx context.Context, token models.Token) error {
		return unauthorizedErr()
	})
	if !errors.Is(err, ErrLoginRequired) {
		t.Fatalf("expected ErrLoginRequired, got %v", err)
	}
	if _, err := store.GetToken("user-1"); !errors.Is(err, models.ErrTokenNotFound) {
		t.Fatalf("credential not cleared: %v", err)
	}
	if store.deletes != 1 {
		t.Fatalf("expected 1 delete, got %d", store.deletes)
	}
}

func TestSessionProactiveRefreshOnExpiry(t *testing.T) {
	clk := clock.NewMock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := newFakeTokenStore()
	store.PutToken("user-1", models.Token{
		AccessToken:  "expired",
		RefreshToken: "r1",
		ExpiresAt:    clk.Now().Add(-time.Minute),
	})
	provider := &tokenProvider{responses: []tokenProviderResponse{refreshOK("fresh", "r2")}}
	mgr := newTestManager(t, store, provider, clk)

	var seen []string
	err := mgr.Session("user-1").Do(context.Background(), func(ctx context.Context, token models.Token) error {
		seen = append(seen, token.AccessToken)
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if len(seen) != 1 || seen[0] != "fresh" {
		t.Fatalf("expected one call with fresh token, got %v", seen)
	}
	if provider.callCount() != 1 {
		t.Fatalf("expected 1 refresh, got %d", provider.callCount())
	}
}

// A proactive refresh consumes the per-call budget: if the fresh token
// still draws a 401, the failure is final.
func TestSessionProactiveRefreshThenUnauthorizedIsFinal(t *testing.T) {
	clk := clock.NewMock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := newFakeTokenStore()
	store.PutToken("user-1", models.Token{
		AccessToken:  "expired",
		RefreshToken: "r1",
		ExpiresAt:    clk.Now().Add(-time.Minute),
	})
	provider := &tokenProvider{responses: []tokenProviderResponse{refreshOK("fresh", "r2")}}
	mgr := newTestManager(t, store, provider, clk)

	calls := 0
	err := mgr.Session("user-1").Do(context.Background(), func(ctx context.Context, token models.Token) error {
		calls++
		return unauthorizedErr()
	})
	if !quire.IsUnauthorized(err) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 attempt, got %d", calls)
	}
	if provider.callCount() != 1 {
		t.Fatalf("expected 1 refresh, got %d", provider.callCount())
	}
}

func TestSessionNonRetriableFailures(t *testing.T) {
	kinds := []quire.ErrorKind{quire.KindForbidden, quire.KindNotFound, quire.KindTimeout, quire.KindUnavailable}
	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			store := newFakeTokenStore()
			store.PutToken("user-1", models.Token{AccessToken: "a", RefreshToken: "r"})
			provider := &tokenProvider{}
			mgr := newTestManager(t, store, provider, clock.New())

			calls := 0
			err := mgr.Session("user-1").Do(context.Background(), func(ctx context.Context, token models.Token) error {
				calls++
				return &quire.APIError{Kind: kind, Err: errors.New(string(kind))}
			})
			if !quire.IsKind(err, kind) {
				t.Fatalf("expected %s, got %v", kind, err)
			}
			if calls != 1 {
				t.Fatalf("%s retried: %d calls", kind, calls)
			}
			if provider.callCount() != 0 {
				t.Fatalf("%s triggered a refresh", kind)
			}
		})
	}
}

func TestSessionWithTokenSkipsStore(t *testing.T) {
	store := newFakeTokenStore()
	provider := &tokenProvider{}
	mgr := newTestManager(t, store, provider, clock.New())

	err := mgr.SessionWithToken("user-1", models.Token{AccessToken: "supplied"}).Do(context.Background(),
		func(ctx context.Context, token models.Token) error {
			if token.AccessToken != "supplied" {
				t.Fatalf("unexpected token %q", token.AccessToken)
			}
			return nil
		})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
}

func TestManagerIsLoggedIn(t *testing.T) {
	store := newFakeTokenStore()
	mgr := newTestManager(t, store, &tokenProvider{}, clock.New())

	ok, err := mgr.IsLoggedIn("user-1")
	if err != nil || ok {
		t.Fatalf("expected not logged in, got %v %v", ok, err)
	}
	store.PutToken("user-1", models.Token{AccessToken: "a"})
	ok, err = mgr.IsLoggedIn("user-1")
	if err != nil || !ok {
		t.Fatalf("expected logged in, got %v %v", ok, err)
	}
}
