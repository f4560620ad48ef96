package auth

import (
	"crypto/subtle"
	"time"

	"github.com/BradenHooton/registrar/internal/models"
	pkgauth "github.com/BradenHooton/registrar/pkg/auth"
)

const csrfTokenBytes = 32

// CSRFGuard issues and checks the anti-forgery token stored on a SessionContext
type CSRFGuard struct {
	ttl time.Duration
	now func() time.Time
}

// NewCSRFGuard creates a guard whose tokens stay valid for ttl. A nil clock uses time.Now.
func NewCSRFGuard(ttl time.Duration, now func() time.Time) *CSRFGuard {
	if now == nil {
		now = time.Now
	}
	return &CSRFGuard{ttl: ttl, now: now}
}

// Issue returns the session's token, minting a new one when none exists or the
// current one has aged out.
func (g *CSRFGuard) Issue(sc *models.SessionContext) (string, error) {
	if sc.CSRFToken != "" && g.live(sc) {
		return sc.CSRFToken, nil
	}
	return g.Rotate(sc)
}

// Rotate replaces the token unconditionally (session regeneration, logout).
func (g *CSRFGuard) Rotate(sc *models.SessionContext) (string, error) {
	token, err := pkgauth.GenerateSecureToken(csrfTokenBytes)
	if err != nil {
		return "", err
	}
	sc.CSRFToken = token
	sc.CSRFIssuedAt = g.now()
	return token, nil
}

// Verify compares in constant time. Empty, missing and expired tokens fail.
func (g *CSRFGuard) Verify(sc *models.SessionContext, token string) bool {
	if sc == nil || sc.CSRFToken == "" || token == "" {
		return false
	}
	if !g.live(sc) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(sc.CSRFToken), []byte(token)) == 1
}

func (g *CSRFGuard) live(sc *models.SessionContext) bool {
	return g.now().Before(sc.CSRFIssuedAt.Add(g.ttl))
}
