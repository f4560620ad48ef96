package models

import "time"

// OTP purposes
const (
	OTPPurposeLogin         = "login"
	OTPPurposePasswordReset = "password_reset"
)

// OTPRecord is one issued one-time code (otp_verifications row)
type OTPRecord struct {
	ID         string
	UserID     string
	Email      string
	Code       string
	Purpose    string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Attempts   int
	IsVerified bool
}

// IsExpired checks if the code has expired at the given instant
func (o *OTPRecord) IsExpired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// IsLive reports whether the code can still be verified
func (o *OTPRecord) IsLive(now time.Time) bool {
	return !o.IsVerified && !o.IsExpired(now)
}

// IsValidOTPPurpose checks a purpose against the known set
func IsValidOTPPurpose(purpose string) bool {
	return purpose == OTPPurposeLogin || purpose == OTPPurposePasswordReset
}
