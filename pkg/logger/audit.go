package logger

import (
	"context"
	"log/slog"
	"sort"
)

// SecurityEvent is the log-line shape of an activity log entry
type SecurityEvent struct {
	Action    string
	UserID    string
	Target    string
	IPAddress string
	UserAgent string
	Failure   bool
	Metadata  map[string]interface{}
}

// AuditLogger writes security events as structured log lines. Failures log at
// WARN so they can be alerted on separately from routine successes.
type AuditLogger struct {
	logger *slog.Logger
}

func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{logger: logger.With(slog.String("audit_type", "auth"))}
}

func (al *AuditLogger) Log(ctx context.Context, event SecurityEvent) {
	attrs := []slog.Attr{
		slog.String("action", event.Action),
		slog.Bool("failure", event.Failure),
	}

	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.Target != "" {
		attrs = append(attrs, slog.String("target", event.Target))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}

	keys := make([]string, 0, len(event.Metadata))
	for key := range event.Metadata {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		attrs = append(attrs, slog.Any("meta."+key, event.Metadata[key]))
	}

	level := slog.LevelInfo
	if event.Failure {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}
