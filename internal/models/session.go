package models

import "time"

// PendingLogin is the password-accepted, OTP-pending state
type PendingLogin struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	RoleID    int       `json:"role_id"`
	CreatedAt time.Time `json:"created_at"`
}

// IsExpired reports whether the pending state outlived ttl
func (p *PendingLogin) IsExpired(ttl time.Duration, now time.Time) bool {
	return !now.Before(p.CreatedAt.Add(ttl))
}

// SessionContext is the server-side state of one browser session. It is
// loaded at the start of a request, passed explicitly to every component
// and saved before the response is written.
type SessionContext struct {
	ID           string        `json:"id"`
	CSRFToken    string        `json:"csrf_token,omitempty"`
	CSRFIssuedAt time.Time     `json:"csrf_issued_at,omitempty"`
	Pending      *PendingLogin `json:"pending,omitempty"`
	UserID       string        `json:"user_id,omitempty"`
	Username     string        `json:"username,omitempty"`
	RoleID       int           `json:"role_id,omitempty"`
	SessionToken string        `json:"session_token,omitempty"`
	LastActivity time.Time     `json:"last_activity,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`

	// PreviousID holds the id this context was regenerated from until the
	// store has dropped it.
	PreviousID string `json:"-"`
}

// IsAuthenticated reports whether a full login completed in this session
func (s *SessionContext) IsAuthenticated() bool {
	return s.UserID != "" && s.SessionToken != ""
}

// ClearAuthentication drops every authenticated field
func (s *SessionContext) ClearAuthentication() {
	s.UserID = ""
	s.Username = ""
	s.RoleID = 0
	s.SessionToken = ""
	s.LastActivity = time.Time{}
}

// SessionRecord is an authenticated session minted after OTP verification
type SessionRecord struct {
	UserID    string
	Token     string
	ExpiresAt time.Time
}
