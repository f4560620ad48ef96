package repositories

import (
	"context"
	"fmt"

	"github.com/BradenHooton/registrar/internal/database"
	"github.com/BradenHooton/registrar/internal/models"
	"github.com/jackc/pgx/v5"
)

// ActivityLogRepository handles activity log data access. Rows are never updated.
type ActivityLogRepository struct {
	db *database.DB
}

func NewActivityLogRepository(db *database.DB) *ActivityLogRepository {
	return &ActivityLogRepository{db: db}
}

// ActivityFilter narrows List. Empty fields match everything.
type ActivityFilter struct {
	UserID string
	Action string
	Limit  int
	Offset int
}

const activityColumns = `id, user_id, action, table_name, record_id, old_values, new_values, ip_address, user_agent, created_at`

func scanActivityRow(row rowScanner) (*models.ActivityLog, error) {
	var entry models.ActivityLog

	err := row.Scan(
		&entry.ID, &entry.UserID, &entry.Action, &entry.TableName, &entry.RecordID,
		&entry.OldValues, &entry.NewValues, &entry.IPAddress, &entry.UserAgent,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &entry, nil
}

func scanActivityRows(rows pgx.Rows) ([]*models.ActivityLog, error) {
	defer rows.Close()

	entries := make([]*models.ActivityLog, 0)

	for rows.Next() {
		entry, err := scanActivityRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity log: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity log rows: %w", err)
	}

	return entries, nil
}

func (r *ActivityLogRepository) Create(ctx context.Context, entry *models.ActivityLog) error {
	query := `
		INSERT INTO activity_logs (user_id, action, table_name, record_id, old_values, new_values, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		entry.UserID, entry.Action, entry.TableName, entry.RecordID,
		entry.OldValues, entry.NewValues, entry.IPAddress, entry.UserAgent,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create activity log: %w", database.MapPostgresError(err))
	}

	return nil
}

func (r *ActivityLogRepository) List(ctx context.Context, filter ActivityFilter) ([]*models.ActivityLog, error) {
	ctx, cancel := r.db.QueryContext(ctx)
	defer cancel()

	query := `
		SELECT ` + activityColumns + `
		FROM activity_logs
		WHERE ($1 = '' OR user_id::text = $1)
		  AND ($2 = '' OR action = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.db.Pool.Query(ctx, query, filter.UserID, filter.Action, filter.Limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity logs: %w", database.MapPostgresError(err))
	}

	return scanActivityRows(rows)
}
