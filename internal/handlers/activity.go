package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/BradenHooton/registrar/internal/models"
	"github.com/BradenHooton/registrar/internal/repositories"
	pkghttp "github.com/BradenHooton/registrar/pkg/http"
	"github.com/google/uuid"
)

// ActivityLister reads the activity log
type ActivityLister interface {
	List(ctx context.Context, filter repositories.ActivityFilter) ([]*models.ActivityLog, error)
}

// ActivityHandler serves the admin view of the activity log
type ActivityHandler struct {
	activity ActivityLister
	logger   *slog.Logger
}

func NewActivityHandler(activity ActivityLister, logger *slog.Logger) *ActivityHandler {
	return &ActivityHandler{activity: activity, logger: logger}
}

// ActivityLogResponse represents an activity entry in HTTP response
type ActivityLogResponse struct {
	ID        int64                  `json:"id"`
	Action    string                 `json:"action"`
	UserID    *string                `json:"user_id,omitempty"`
	TableName *string                `json:"table_name,omitempty"`
	RecordID  *string                `json:"record_id,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	IPAddress *string                `json:"ip_address,omitempty"`
	UserAgent *string                `json:"user_agent,omitempty"`
	CreatedAt string                 `json:"created_at"`
}

type ActivityListResponse struct {
	Entries []ActivityLogResponse `json:"entries"`
	Limit   int                   `json:"limit"`
	Offset  int                   `json:"offset"`
}

// List returns activity entries newest first.
// Query: user_id, action, limit (1-100, default 50), offset.
func (h *ActivityHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := repositories.ActivityFilter{
		Action: query.Get("action"),
		Limit:  50,
	}

	if userID := query.Get("user_id"); userID != "" {
		if _, err := uuid.Parse(userID); err != nil {
			pkghttp.WriteError(w, http.StatusBadRequest, "validation_error", "user_id must be a UUID")
			return
		}
		filter.UserID = userID
	}
	if l, err := strconv.Atoi(query.Get("limit")); err == nil && l > 0 && l <= 100 {
		filter.Limit = l
	}
	if o, err := strconv.Atoi(query.Get("offset")); err == nil && o >= 0 {
		filter.Offset = o
	}

	entries, err := h.activity.List(r.Context(), filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list activity", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to retrieve activity log")
		return
	}

	resp := ActivityListResponse{
		Entries: make([]ActivityLogResponse, 0, len(entries)),
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, ActivityLogResponse{
			ID:        e.ID,
			Action:    e.Action,
			UserID:    e.UserID,
			TableName: e.TableName,
			RecordID:  e.RecordID,
			Metadata:  e.NewValues,
			IPAddress: e.IPAddress,
			UserAgent: e.UserAgent,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		})
	}

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}
