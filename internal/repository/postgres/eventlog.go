package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/engagement-webhooks/internal/domain"
)

// EventLogRepo implements webhook.EventLogRepository against PostgreSQL.
// provider_event_id carries a unique index; NULLs are allowed for events
// the provider sent without an id.
type EventLogRepo struct{ db *sql.DB }

// NewEventLogRepo creates a Postgres-backed audit log repository.
func NewEventLogRepo(db *sql.DB) *EventLogRepo { return &EventLogRepo{db: db} }

func (r *EventLogRepo) Contains(ctx context.Context, providerEventID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM email_event_log WHERE provider_event_id = $1)`,
		providerEventID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check event log: %w", err)
	}
	return exists, nil
}

func (r *EventLogRepo) Append(ctx context.Context, e *domain.EventLogEntry) (bool, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	md, err := json.Marshal(e.Metadata)
	if err != nil {
		return false, fmt.Errorf("encode event metadata: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO email_event_log
			(id, provider_event_id, event_type, communication_id, user_id, occurred_at, metadata, created_at)
		VALUES ($1, NULLIF($2, ''), $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8)
		ON CONFLICT (provider_event_id) DO NOTHING
	`, e.ID, e.ProviderEventID, e.EventType, e.CommunicationID, e.UserID, e.OccurredAt, md, e.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("append event log: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// ListByCommunication returns the audit trail for one record, oldest first.
func (r *EventLogRepo) ListByCommunication(ctx context.Context, communicationID string) ([]domain.EventLogEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, COALESCE(provider_event_id, ''), event_type, COALESCE(communication_id, ''),
			COALESCE(user_id, ''), occurred_at, metadata, created_at
		FROM email_event_log
		WHERE communication_id = $1
		ORDER BY occurred_at, created_at
	`, communicationID)
	if err != nil {
		return nil, fmt.Errorf("list event log: %w", err)
	}
	defer rows.Close()

	var out []domain.EventLogEntry
	for rows.Next() {
		var (
			e  domain.EventLogEntry
			md []byte
		)
		if err := rows.Scan(&e.ID, &e.ProviderEventID, &e.EventType, &e.CommunicationID,
			&e.UserID, &e.OccurredAt, &md, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event log: %w", err)
		}
		if len(md) > 0 {
			if err := json.Unmarshal(md, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode event metadata: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
