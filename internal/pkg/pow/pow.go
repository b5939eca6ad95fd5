/*
Package pow gates abuse-prone endpoints behind a hashcash style proof of work.

A client fetches a nonce, finds a counter such that sha256(nonce + counter) in hex
starts with Difficulty zeros, and trades the proof for a short-lived, single-use
token presented on the protected request.
*/
package pow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"roomcast/internal/pkg/errs"
	"roomcast/internal/pkg/logx"
	"roomcast/internal/pkg/resp"
)

const (
	// TokenHeaderKey carries the proof token on protected requests.
	TokenHeaderKey = "X-PoW-Token"

	// TokenQueryParam is the query fallback for TokenHeaderKey.
	TokenQueryParam = "pow_token"

	// ProofTokenDuration is how long an issued proof token stays valid.
	ProofTokenDuration = 30 * time.Second

	// NonceExpiryDuration is how long a challenge nonce stays valid.
	NonceExpiryDuration = 5 * time.Minute
)

// Challenge is handed to clients by the challenge endpoint.
type Challenge struct {
	Nonce      string    `json:"nonce"`
	Difficulty int       `json:"difficulty"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Manager issues challenges and proof tokens. A zero difficulty disables the gate.
type Manager struct {
	// difficulty is the number of leading hex zeros required.
	difficulty int

	// nonces and tokens map to their expiry.
	nonces map[string]time.Time
	tokens map[string]time.Time

	now func() time.Time

	mu sync.Mutex
}

// NewManager returns a Manager for difficulty. Expired entries are swept until ctx is done.
func NewManager(ctx context.Context, difficulty int) *Manager {
	m := &Manager{
		difficulty: difficulty,
		nonces:     make(map[string]time.Time),
		tokens:     make(map[string]time.Time),
		now:        time.Now,
	}

	if difficulty > 0 {
		go m.cleanupExpiredEntries(ctx)
	}

	return m
}

// Enabled reports whether protected requests need a proof token.
func (m *Manager) Enabled() bool {
	return m.difficulty > 0
}

// NewChallenge registers a fresh nonce.
func (m *Manager) NewChallenge() Challenge {
	nonce := uuid.NewString()
	expires := m.now().Add(NonceExpiryDuration)

	m.mu.Lock()
	m.nonces[nonce] = expires
	m.mu.Unlock()

	return Challenge{Nonce: nonce, Difficulty: m.difficulty, ExpiresAt: expires}
}

// Meets reports whether counter solves nonce at difficulty.
func Meets(nonce, counter string, difficulty int) bool {
	hash := sha256.Sum256([]byte(nonce + counter))
	return strings.HasPrefix(hex.EncodeToString(hash[:]), strings.Repeat("0", difficulty))
}

// Verify consumes nonce if counter solves it and returns a proof token.
func (m *Manager) Verify(nonce, counter string) (string, *errs.CustomError) {
	if !Meets(nonce, counter, m.difficulty) {
		return "", errs.NewError(errs.ErrPowChallengeInvalid)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	expiry, ok := m.nonces[nonce]
	if !ok || m.now().After(expiry) {
		return "", errs.NewError(errs.ErrPowChallengeInvalid)
	}
	delete(m.nonces, nonce)

	token := uuid.NewString()
	m.tokens[token] = m.now().Add(ProofTokenDuration)
	return token, nil
}

// ConsumeProofToken validates and burns the proof token carried by r.
func (m *Manager) ConsumeProofToken(r *http.Request) bool {
	token := r.Header.Get(TokenHeaderKey)
	if token == "" {
		token = r.URL.Query().Get(TokenQueryParam)
	}
	if token == "" {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	expiry, ok := m.tokens[token]
	if !ok {
		return false
	}
	delete(m.tokens, token)

	return !m.now().After(expiry)
}

// Middleware requires a proof token when the gate is enabled.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Enabled() && !m.ConsumeProofToken(r) {
			resp.RespondError(w, r, errs.NewError(errs.ErrPowChallengeRequired))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *Manager) sweep() (nonces, tokens int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for nonce, expiry := range m.nonces {
		if now.After(expiry) {
			delete(m.nonces, nonce)
			nonces++
		}
	}
	for token, expiry := range m.tokens {
		if now.After(expiry) {
			delete(m.tokens, token)
			tokens++
		}
	}

	return nonces, tokens
}

func (m *Manager) cleanupExpiredEntries(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if nonces, tokens := m.sweep(); nonces+tokens > 0 {
				logx.Logger().Debug().Int("nonces", nonces).Int("tokens", tokens).Msg("PoW cleanup removed expired entries")
			}
		}
	}
}
