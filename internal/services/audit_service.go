package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/registrar/internal/metrics"
	"github.com/BradenHooton/registrar/internal/models"
	"github.com/BradenHooton/registrar/internal/repositories"
	pkglogger "github.com/BradenHooton/registrar/pkg/logger"
)

const defaultAuditWriteTimeout = 2 * time.Second

// ActivityLogRepository defines the interface for activity log persistence
type ActivityLogRepository interface {
	Create(ctx context.Context, entry *models.ActivityLog) error
	List(ctx context.Context, filter repositories.ActivityFilter) ([]*models.ActivityLog, error)
}

// Auditor is what the authentication services need from the audit trail
type Auditor interface {
	Record(ctx context.Context, actorID, action string, target models.ActivityTarget, metadata models.ActivityMetadata)
}

// AuditService handles audit logging with dual-write pattern (slog + database)
type AuditService struct {
	repo         ActivityLogRepository
	auditLogger  *pkglogger.AuditLogger
	events       *metrics.AuthEvents
	logger       *slog.Logger
	writeTimeout time.Duration
}

// NewAuditService creates a new AuditService. events may be nil.
func NewAuditService(repo ActivityLogRepository, auditLogger *pkglogger.AuditLogger, events *metrics.AuthEvents, logger *slog.Logger) *AuditService {
	return &AuditService{
		repo:         repo,
		auditLogger:  auditLogger,
		events:       events,
		logger:       logger,
		writeTimeout: defaultAuditWriteTimeout,
	}
}

// Record appends an activity entry. It never fails: persistence errors are
// logged and dropped. The write is detached from request cancellation and
// bounded by its own timeout.
func (s *AuditService) Record(ctx context.Context, actorID, action string, target models.ActivityTarget, metadata models.ActivityMetadata) {
	meta := RequestMetaFrom(ctx)

	s.events.Inc(action)
	s.auditLogger.Log(ctx, pkglogger.SecurityEvent{
		Action:    action,
		UserID:    actorID,
		Target:    target.Table,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Failure:   models.IsFailureAction(action),
		Metadata:  metadata,
	})

	entry := &models.ActivityLog{
		Action:    action,
		UserID:    optional(actorID),
		TableName: optional(target.Table),
		RecordID:  optional(target.RecordID),
		NewValues: metadata,
		IPAddress: optional(meta.IPAddress),
		UserAgent: optional(meta.UserAgent),
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	defer cancel()

	if err := s.repo.Create(writeCtx, entry); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist activity log",
			slog.String("action", action),
			slog.Any("error", err),
		)
	}
}

// List returns activity entries newest first for the admin view
func (s *AuditService) List(ctx context.Context, filter repositories.ActivityFilter) ([]*models.ActivityLog, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	entries, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity logs: %w", err)
	}

	return entries, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
