package auth

import (
	"fmt"
	"time"

	"github.com/BradenHooton/registrar/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

const sessionCookieIssuer = "registrar"

// sessionClaims binds a SessionContext id to the cookie. The id itself is
// random; the signature stops clients from probing the store with guesses.
type sessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// SessionCookieSigner signs and parses session cookie values as HS256 JWTs
type SessionCookieSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSessionCookieSigner(secret string, ttl time.Duration, now func() time.Time) *SessionCookieSigner {
	if now == nil {
		now = time.Now
	}
	return &SessionCookieSigner{secret: []byte(secret), ttl: ttl, now: now}
}

func (s *SessionCookieSigner) Sign(sessionID string) (string, error) {
	issued := s.now()
	claims := &sessionClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionCookieIssuer,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(s.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session cookie: %w", err)
	}
	return signed, nil
}

// Parse returns the session id carried by a cookie value
func (s *SessionCookieSigner) Parse(value string) (string, error) {
	claims := &sessionClaims{}

	token, err := jwt.ParseWithClaims(value, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(sessionCookieIssuer),
		jwt.WithTimeFunc(s.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return "", fmt.Errorf("invalid session cookie: %w", err)
	}

	if !token.Valid || claims.SessionID == "" {
		return "", models.ErrUnauthorized
	}

	return claims.SessionID, nil
}
