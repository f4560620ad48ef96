package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Activity actions recorded by the auditor
const (
	ActivityLoginPasswordAccepted = "login_password_accepted"
	ActivityLoginFailed           = "login_failed"
	ActivityLoginLockedOut        = "login_locked_out"
	ActivityLoginSuccess          = "login_success"
	ActivityOTPIssued             = "otp_issued"
	ActivityOTPFailed             = "otp_failed"
	ActivityOTPResent             = "otp_resent"
	ActivityPendingCleared        = "pending_login_cleared"
	ActivityLogout                = "logout"
	ActivitySessionExpired        = "session_expired"
	ActivityCSRFMismatch          = "csrf_mismatch"
	ActivityRateLimited           = "rate_limited"
	ActivityPasswordReset         = "password_reset"
	ActivityLegacyPasswordUpgrade = "legacy_password_upgraded"
)

// Target tables referenced by activity entries
const (
	ActivityTableUsers = "users"
	ActivityTableOTP   = "otp_verifications"
)

// ActivityLog is one append-only audit entry (activity_logs row)
type ActivityLog struct {
	ID        int64            `db:"id"`
	UserID    *string          `db:"user_id"`
	Action    string           `db:"action"`
	TableName *string          `db:"table_name"`
	RecordID  *string          `db:"record_id"`
	OldValues ActivityMetadata `db:"old_values"`
	NewValues ActivityMetadata `db:"new_values"`
	IPAddress *string          `db:"ip_address"`
	UserAgent *string          `db:"user_agent"`
	CreatedAt time.Time        `db:"created_at"`
}

// ActivityMetadata holds additional context for activity entries
type ActivityMetadata map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (am *ActivityMetadata) Scan(value interface{}) error {
	if value == nil {
		*am = nil
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	*am = ActivityMetadata(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (am ActivityMetadata) Value() (driver.Value, error) {
	if am == nil {
		return nil, nil
	}
	return json.Marshal(map[string]interface{}(am))
}

// ActivityTarget names the row an activity entry is about
type ActivityTarget struct {
	Table    string
	RecordID string
}

// IsFailureAction reports whether action records a rejected attempt
func IsFailureAction(action string) bool {
	switch action {
	case ActivityLoginFailed, ActivityLoginLockedOut, ActivityOTPFailed,
		ActivityCSRFMismatch, ActivityRateLimited, ActivitySessionExpired:
		return true
	}
	return false
}
