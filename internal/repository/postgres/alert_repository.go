package postgres

import (
	"context"
	"fmt"

	"github.com/davidmoltin/site-integrations/internal/models"
)

// AlertHistoryRepository appends alert lifecycle events. It implements health.AlertSink.
type AlertHistoryRepository struct {
	db DBTX
}

// NewAlertHistoryRepository creates a new alert history repository
func NewAlertHistoryRepository(db DBTX) *AlertHistoryRepository {
	return &AlertHistoryRepository{db: db}
}

// RecordAlert appends one lifecycle event
func (r *AlertHistoryRepository) RecordAlert(ctx context.Context, ev models.AlertEvent) error {
	query := `
		INSERT INTO alert_history (
			alert_id, kind, platform, alert_type, severity, title, message, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(
		ctx, query,
		ev.Alert.ID, ev.Kind, ev.Alert.Platform, ev.Alert.Type, ev.Alert.Severity,
		ev.Alert.Title, ev.Alert.Message, ev.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record alert event: %w", err)
	}

	return nil
}

// ListHistory returns the most recent events, optionally for one platform
func (r *AlertHistoryRepository) ListHistory(ctx context.Context, platform models.Platform, limit int) ([]models.AlertHistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, alert_id, kind, platform, alert_type, severity, title, message, occurred_at
		FROM alert_history
		WHERE ($1::text = '' OR platform = $1)
		ORDER BY occurred_at DESC, id DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, string(platform), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert history: %w", err)
	}
	defer rows.Close()

	entries := []models.AlertHistoryEntry{}
	for rows.Next() {
		var e models.AlertHistoryEntry
		if err := rows.Scan(
			&e.ID, &e.AlertID, &e.Kind, &e.Platform, &e.Type, &e.Severity,
			&e.Title, &e.Message, &e.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert history: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alert history: %w", err)
	}

	return entries, nil
}
