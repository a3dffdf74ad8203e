package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quire-api/microsoft-teams/internal/models"
	"github.com/quire-api/microsoft-teams/pkg/clock"
)

// ErrInvalidGrant means the identity provider rejected the grant itself
// (HTTP 400): the authorization code or refresh token is expired,
// revoked, or malformed. The credential is permanently unusable.
var ErrInvalidGrant = errors.New("invalid grant")

// OAuthConfig configures the identity-provider endpoints.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	// AuthURL is the browser authorization page, e.g. "https://quire.io/oauth".
	AuthURL string
	// TokenURL is the token endpoint, e.g. "https://quire.io/oauth/token".
	TokenURL string
	// RedirectURI is where the provider sends the browser after consent.
	RedirectURI string
	// Scope, when set, is sent with client_credentials grants. The Bot
	// Framework token endpoint requires it; Quire does not.
	Scope string
}

// OAuthClient drives the three provider grants: authorization_code,
// refresh_token and client_credentials. It is stateless; tokens it
// returns carry an absolute expiry derived from expires_in.
type OAuthClient struct {
	cfg        OAuthConfig
	httpClient *http.Client
	clock      clock.Clock
}

// NewOAuthClient creates a client for the provider endpoints. A nil clk
// selects the real clock.
func NewOAuthClient(cfg OAuthConfig, clk clock.Clock) *OAuthClient {
	if clk == nil {
		clk = clock.New()
	}
	return &OAuthClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		clock:      clk,
	}
}

// AuthCodeURL returns the provider authorization URL the browser popup
// navigates to. The state value is echoed back on the redirect.
func (c *OAuthClient) AuthCodeURL(state string) string {
	u := fmt.Sprintf("%s?client_id=%s&redirect_uri=%s",
		c.cfg.AuthURL,
		url.QueryEscape(c.cfg.ClientID),
		url.QueryEscape(c.cfg.RedirectURI),
	)
	if state != "" {
		u += "&state=" + url.QueryEscape(state)
	}
	return u
}

// Exchange trades an authorization code for a token.
func (c *OAuthClient) Exchange(ctx context.Context, code string) (models.Token, error) {
	form := url.Values{
		"grant_type": {"authorization_code"},
		"code":       {code},
	}
	return c.grant(ctx, form)
}

// Refresh trades a refresh token for a new token pair. A provider 400
// is reported as ErrInvalidGrant: the refresh token is dead and the
// user must log in again. Any other failure is propagated as-is since
// the credential may still be good.
func (c *OAuthClient) Refresh(ctx context.Context, old models.Token) (models.Token, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {old.RefreshToken},
	}
	return c.grant(ctx, form)
}

// ClientCredentials obtains a token for the application itself, not any
// individual user.
func (c *OAuthClient) ClientCredentials(ctx context.Context) (models.Token, error) {
	form := url.Values{
		"grant_type": {"client_credentials"},
	}
	if c.cfg.Scope != "" {
		form.Set("scope", c.cfg.Scope)
	}
	return c.grant(ctx, form)
}

// tokenResponse is the provider's wire shape.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// grant posts a form-encoded grant request to the token endpoint.
func (c *OAuthClient) grant(ctx context.Context, form url.Values) (models.Token, error) {
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return models.Token{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.Token{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest {
		io.Copy(io.Discard, resp.Body)
		return models.Token{}, fmt.Errorf("%s grant rejected: %w", form.Get("grant_type"), ErrInvalidGrant)
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return models.Token{}, fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return models.Token{}, fmt.Errorf("decoding token response: %w", err)
	}
	if tr.AccessToken == "" {
		return models.Token{}, errors.New("token response missing access_token")
	}

	token := models.Token{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
	}
	if tr.ExpiresIn > 0 {
		token.ExpiresAt = c.clock.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return token, nil
}
