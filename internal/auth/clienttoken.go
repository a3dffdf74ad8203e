package auth

import (
	"context"
	"sync"
	"time"

	"github.com/quire-api/microsoft-teams/internal/models"
	"github.com/quire-api/microsoft-teams/pkg/clock"
)

// refreshSkew renews a cached client token slightly before its recorded
// expiry so an in-flight request never carries a token that dies on the
// wire.
const refreshSkew = time.Minute

// TokenFetcher obtains a fresh service-level token.
type TokenFetcher func(ctx context.Context) (models.Token, error)

// ClientTokenSource caches a process-wide client-credentials token and
// refreshes it transparently on access once it nears expiry. It backs
// service-to-service calls that are not attributable to one user, such
// as the Bot Framework connector and notification lookups.
type ClientTokenSource struct {
	mu    sync.Mutex
	fetch TokenFetcher
	clock clock.Clock
	token models.Token
}

// NewClientTokenSource creates a source around fetch. A nil clk selects
// the real clock.
func NewClientTokenSource(fetch TokenFetcher, clk clock.Clock) *ClientTokenSource {
	if clk == nil {
		clk = clock.New()
	}
	return &ClientTokenSource{fetch: fetch, clock: clk}
}

// Token returns the cached token, fetching a new one if none is held or
// the held one is within the refresh skew of expiring.
func (s *ClientTokenSource) Token(ctx context.Context) (models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.token.IsZero() && !s.token.Expired(s.clock.Now().Add(refreshSkew)) {
		return s.token, nil
	}

	token, err := s.fetch(ctx)
	if err != nil {
		return models.Token{}, err
	}
	s.token = token
	return token, nil
}

// Invalidate drops the cached token so the next access fetches anew.
func (s *ClientTokenSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = models.Token{}
}
