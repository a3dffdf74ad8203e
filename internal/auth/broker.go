// Package auth implements the OAuth token lifecycle for the Quire Teams
// bot: the browser-based authorization flow, the verification-code
// handoff into the chat session, and the refresh-and-retry protocol
// around remote API calls.
package auth

import (
	"crypto/rand"
	"math/big"
	"sync"
	"time"

	"github.com/quire-api/microsoft-teams/internal/models"
	"github.com/quire-api/microsoft-teams/pkg/clock"
)

// Verification code parameters.
const (
	// CodeLength is the number of decimal digits in a verification code.
	CodeLength = 8
	// DefaultCodeTTL is how long an unredeemed code survives.
	DefaultCodeTTL = 60 * time.Second
)

// codeSpace is 10^CodeLength, the number of possible codes.
var codeSpace = big.NewInt(100_000_000)

type codeEntry struct {
	token     models.Token
	expiresAt time.Time
}

// CodeBroker hands freshly obtained OAuth tokens from the browser popup
// into the chat session. Each issued code is a cryptographically random
// 8-digit decimal string, redeemable exactly once within its survival
// window. Entries live only in process memory.
type CodeBroker struct {
	mu    sync.Mutex
	codes map[string]codeEntry
	ttl   time.Duration
	clock clock.Clock
}

// NewCodeBroker creates a broker with the given code TTL. A zero ttl
// selects DefaultCodeTTL; a nil clk selects the real clock.
func NewCodeBroker(ttl time.Duration, clk clock.Clock) *CodeBroker {
	if ttl == 0 {
		ttl = DefaultCodeTTL
	}
	if clk == nil {
		clk = clock.New()
	}
	return &CodeBroker{
		codes: make(map[string]codeEntry),
		ttl:   ttl,
		clock: clk,
	}
}

// Issue binds a token to a new verification code. A colliding code
// overwrites the previous entry; with an 8-digit space that is rare
// enough to accept.
func (b *CodeBroker) Issue(token models.Token) (string, error) {
	code, err := generateCode()
	if err != nil {
		return "", err
	}

	now := b.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.purgeLocked(now)
	b.codes[code] = codeEntry{token: token, expiresAt: now.Add(b.ttl)}
	return code, nil
}

// Redeem returns the token bound to a code. The entry is removed on
// lookup whether or not it is still valid, so a code can be redeemed at
// most once. Unknown, already-consumed, and expired codes all report
// absent.
func (b *CodeBroker) Redeem(code string) (models.Token, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.codes[code]
	delete(b.codes, code)

	if !ok || b.clock.Now().After(entry.expiresAt) {
		return models.Token{}, false
	}
	return entry.token, true
}

// purgeLocked drops expired entries. Callers must hold b.mu.
func (b *CodeBroker) purgeLocked(now time.Time) {
	for code, entry := range b.codes {
		if now.After(entry.expiresAt) {
			delete(b.codes, code)
		}
	}
}

// generateCode returns a random zero-padded decimal code.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", err
	}
	// Zero-pad to the full code length; leading zeros are significant.
	digits := n.String()
	for len(digits) < CodeLength {
		digits = "0" + digits
	}
	return digits, nil
}
