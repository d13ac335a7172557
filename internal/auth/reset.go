package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/jjudge-oj/identity/types"
)

const (
	// ResetTokenTTL is how long a reset token stays usable after issue.
	ResetTokenTTL = 10 * time.Minute

	resetTokenBytes = 20
)

// ResetTokenManager issues password reset tokens and checks presented tokens
// against the stored challenge. Only the digest of a token is ever stored.
type ResetTokenManager struct {
	now func() time.Time
}

// NewResetTokenManager returns a manager reading time from now. A nil now
// uses time.Now.
func NewResetTokenManager(now func() time.Time) *ResetTokenManager {
	if now == nil {
		now = time.Now
	}
	return &ResetTokenManager{now: now}
}

// Issue returns a new raw token and the challenge to persist for it.
func (m *ResetTokenManager) Issue() (string, types.ResetChallenge, error) {
	var buf [resetTokenBytes]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", types.ResetChallenge{}, types.Infrastructure(err, "generate reset token")
	}
	raw := hex.EncodeToString(buf[:])
	return raw, types.ResetChallenge{
		Digest:    ResetDigest(raw),
		ExpiresAt: m.now().Add(ResetTokenTTL),
	}, nil
}

// Validate checks raw against challenge at the current time. It returns
// ErrInvalidToken on a digest mismatch and ErrTokenExpired once the expiry
// has been reached.
func (m *ResetTokenManager) Validate(raw string, challenge types.ResetChallenge) error {
	digest := ResetDigest(raw)
	if subtle.ConstantTimeCompare([]byte(digest), []byte(challenge.Digest)) != 1 {
		return types.ErrInvalidToken
	}
	if !m.now().Before(challenge.ExpiresAt) {
		return types.ErrTokenExpired
	}
	return nil
}

// ResetDigest is the stored form of a raw reset token: hex SHA-256.
func ResetDigest(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
