package auth

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/quire-api/microsoft-teams/internal/metrics"
	"github.com/quire-api/microsoft-teams/internal/models"
	"github.com/quire-api/microsoft-teams/internal/quire"
	"github.com/quire-api/microsoft-teams/internal/storage"
	"github.com/quire-api/microsoft-teams/pkg/clock"
)

// ErrLoginRequired means no usable credential exists for the user: none
// is stored, or the stored one was permanently rejected by the identity
// provider. The caller should prompt the user to authenticate.
var ErrLoginRequired = errors.New("login required")

// Manager creates per-user sessions bound to the token store and the
// identity provider.
type Manager struct {
	tokens  storage.TokenStore
	oauth   *OAuthClient
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewManager creates a session manager. metrics may be nil.
func NewManager(tokens storage.TokenStore, oauth *OAuthClient, clk clock.Clock, m *metrics.Metrics, logger zerolog.Logger) *Manager {
	if clk == nil {
		clk = clock.New()
	}
	return &Manager{
		tokens:  tokens,
		oauth:   oauth,
		clock:   clk,
		metrics: m,
		logger:  logger,
	}
}

// IsLoggedIn reports whether a credential is stored for the user.
func (m *Manager) IsLoggedIn(userID string) (bool, error) {
	_, err := m.tokens.GetToken(userID)
	if errors.Is(err, models.ErrTokenNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Session returns an executor for the user's stored credential.
func (m *Manager) Session(userID string) *Session {
	return &Session{mgr: m, userID: userID}
}

// SessionWithToken returns an executor that uses the supplied token —
// typically one just redeemed from the verification-code flow — instead
// of reading the store.
func (m *Manager) SessionWithToken(userID string, token models.Token) *Session {
	return &Session{mgr: m, userID: userID, supplied: token}
}

// Session executes authenticated remote calls for one user with the
// refresh-and-retry protocol applied centrally:
//
//   - no credential → ErrLoginRequired, nothing touches the network
//   - a locally expired token is refreshed before the call
//   - a 401 triggers at most one refresh and one retry of the same
//     operation; the retried outcome is final
//   - a refresh rejected as invalid_grant deletes the stored credential
//     and yields ErrLoginRequired
//   - every other failure is returned as classified, never retried
//
// The single-retry bound also keeps mutating calls safe: a retry only
// happens after a 401, i.e. before the remote side effect occurred.
type Session struct {
	mgr      *Manager
	userID   string
	supplied models.Token
}

// Do runs one authenticated operation against the remote API.
func (s *Session) Do(ctx context.Context, call func(ctx context.Context, token models.Token) error) error {
	m := s.mgr

	token := s.supplied
	if token.IsZero() {
		var err error
		token, err = m.tokens.GetToken(s.userID)
		if errors.Is(err, models.ErrTokenNotFound) {
			return ErrLoginRequired
		}
		if err != nil {
			return err
		}
	}

	refreshed := false
	if token.Expired(m.clock.Now()) {
		var err error
		token, err = s.refresh(ctx, token)
		if err != nil {
			return err
		}
		refreshed = true
	}

	err := call(ctx, token)
	if err == nil {
		return nil
	}

	if !quire.IsUnauthorized(err) || refreshed {
		s.countFailure(err)
		return err
	}

	// The API rejected a token we presumed fresh. One refresh, one
	// retry, and whatever the retry yields is the final outcome.
	token, rerr := s.refresh(ctx, token)
	if rerr != nil {
		return rerr
	}
	if m.metrics != nil {
		m.metrics.RemoteCallRetriesTotal.Inc()
	}
	if err := call(ctx, token); err != nil {
		s.countFailure(err)
		return err
	}
	return nil
}

// refresh exchanges the refresh token and persists the outcome. An
// invalid grant clears the stored credential and maps to
// ErrLoginRequired; other failures propagate untouched, since it is not
// known whether the credential itself is bad.
func (s *Session) refresh(ctx context.Context, old models.Token) (models.Token, error) {
	m := s.mgr

	token, err := m.oauth.Refresh(ctx, old)
	if err != nil {
		if errors.Is(err, ErrInvalidGrant) {
			m.countRefresh(metrics.RefreshInvalidGrant)
			m.logger.Info().Str("user_id", s.userID).Msg("Refresh token rejected, clearing credential")
			if derr := m.tokens.DeleteToken(s.userID); derr != nil {
				return models.Token{}, derr
			}
			return models.Token{}, ErrLoginRequired
		}
		m.countRefresh(metrics.RefreshError)
		return models.Token{}, err
	}

	if err := m.tokens.PutToken(s.userID, token); err != nil {
		return models.Token{}, err
	}
	m.countRefresh(metrics.RefreshSuccess)
	return token, nil
}

func (s *Session) countFailure(err error) {
	if s.mgr.metrics == nil {
		return
	}
	var apiErr *quire.APIError
	if errors.As(err, &apiErr) {
		s.mgr.metrics.RemoteCallFailuresTotal.WithLabelValues(apiErr.Kind.String()).Inc()
	}
}

func (m *Manager) countRefresh(outcome string) {
	if m.metrics != nil {
		m.metrics.TokenRefreshesTotal.WithLabelValues(outcome).Inc()
	}
}
