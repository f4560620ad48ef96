package models

import (
	"time"
)

// BcryptHashLength is the length of every bcrypt hash this service writes.
// Shorter stored values are legacy plaintext passwords awaiting migration.
const BcryptHashLength = 60

type User struct {
	ID             string
	Username       string
	PasswordHash   string
	Email          string
	FullName       string
	RoleID         int
	IsActive       bool
	SessionToken   *string
	SessionExpires *time.Time
	LastLogin      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsLegacyPassword reports whether the stored credential predates hashing.
// TODO: remove the plaintext fallback once every stored password is a bcrypt hash.
func (u *User) IsLegacyPassword() bool {
	return len(u.PasswordHash) < BcryptHashLength
}

// DisplayName is used in notification greetings.
func (u *User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}
