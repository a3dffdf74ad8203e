package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/quire-api/microsoft-teams/internal/models"
	"github.com/quire-api/microsoft-teams/pkg/clock"
)

func tokenWithRefresh(refresh string) models.Token {
	return models.Token{AccessToken: "stale", RefreshToken: refresh}
}

func TestOAuthClientExchange(t *testing.T) {
	clk := clock.NewMock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		if got := r.Header.Get("Content-Type"); got != "application/x-www-form-urlencoded" {
			t.Errorf("content type %q", got)
		}
		if got := r.PostForm.Get("grant_type"); got != "authorization_code" {
			t.Errorf("grant_type %q", got)
		}
		if got := r.PostForm.Get("code"); got != "auth-code" {
			t.Errorf("code %q", got)
		}
		if r.PostForm.Get("client_id") != "client" || r.PostForm.Get("client_secret") != "secret" {
			t.Error("client credentials not sent")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access",
			"refresh_token": "refresh",
			"expires_in":    3600,
		})
	}))
	defer srv.Close()

	client := NewOAuthClient(OAuthConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		TokenURL:     srv.URL,
	}, clk)

	token, err := client.Exchange(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if token.AccessToken != "access" || token.RefreshToken != "refresh" {
		t.Fatalf("unexpected token %+v", token)
	}
	if want := clk.Now().Add(time.Hour); !token.ExpiresAt.Equal(want) {
		t.Fatalf("ExpiresAt %v, want %v", token.ExpiresAt, want)
	}
}

func TestOAuthClientRefreshInvalidGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
	}))
	defer srv.Close()

	client := NewOAuthClient(OAuthConfig{TokenURL: srv.URL}, clock.New())
	_, err := client.Refresh(context.Background(), tokenWithRefresh("revoked"))
	if !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("expected ErrInvalidGrant, got %v", err)
	}
}

func TestOAuthClientRefreshServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewOAuthClient(OAuthConfig{TokenURL: srv.URL}, clock.New())
	_, err := client.Refresh(context.Background(), tokenWithRefresh("r1"))
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrInvalidGrant) {
		t.Fatal("transient provider failure misreported as invalid grant")
	}
}

func TestOAuthClientRefreshSendsRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if got := r.PostForm.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type %q", got)
		}
		if got := r.PostForm.Get("refresh_token"); got != "r1" {
			t.Errorf("refresh_token %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{"access_token": "a2", "refresh_token": "r2"})
	}))
	defer srv.Close()

	client := NewOAuthClient(OAuthConfig{TokenURL: srv.URL}, clock.New())
	token, err := client.Refresh(context.Background(), tokenWithRefresh("r1"))
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if token.AccessToken != "a2" || token.RefreshToken != "r2" {
		t.Fatalf("unexpected token %+v", token)
	}
}

func TestOAuthClientClientCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if got := r.PostForm.Get("grant_type"); got != "client_credentials" {
			t.Errorf("grant_type %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{"access_token": "app-token", "expires_in": 86400})
	}))
	defer srv.Close()

	client := NewOAuthClient(OAuthConfig{TokenURL: srv.URL}, clock.New())
	token, err := client.ClientCredentials(context.Background())
	if err != nil {
		t.Fatalf("ClientCredentials: %v", err)
	}
	if token.AccessToken != "app-token" {
		t.Fatalf("unexpected token %+v", token)
	}
}

func TestOAuthClientMissingAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"token_type": "bearer"})
	}))
	defer srv.Close()

	client := NewOAuthClient(OAuthConfig{TokenURL: srv.URL}, clock.New())
	if _, err := client.Exchange(context.Background(), "code"); err == nil {
		t.Fatal("expected error for response without access_token")
	}
}

func TestAuthCodeURL(t *testing.T) {
	client := NewOAuthClient(OAuthConfig{
		ClientID:    "client id",
		AuthURL:     "https://quire.io/oauth",
		RedirectURI: "https://bot.example.com/bot-auth-end",
	}, clock.New())

	got := client.AuthCodeURL("a state")
	if !strings.HasPrefix(got, "https://quire.io/oauth?") {
		t.Fatalf("unexpected URL %q", got)
	}
	if !strings.Contains(got, "client_id=client+id") {
		t.Fatalf("client_id not escaped in %q", got)
	}
	if !strings.Contains(got, "redirect_uri=https%3A%2F%2Fbot.example.com%2Fbot-auth-end") {
		t.Fatalf("redirect_uri not escaped in %q", got)
	}
	if !strings.Contains(got, "state=a+state") {
		t.Fatalf("state not escaped in %q", got)
	}

	if got := client.AuthCodeURL(""); strings.Contains(got, "state=") {
		t.Fatalf("empty state should be omitted, got %q", got)
	}
}
