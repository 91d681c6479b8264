package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type inboxRepository struct {
	ctx context.Context
	tx  *sql.Tx
}

// RegisterIfNotProcessed атомарно создаёт запись о событии. ON CONFLICT DO
// NOTHING делает повторную регистрацию дубликата бесшумной: true возвращается
// только создавшему запись вызову.
func (r *inboxRepository) RegisterIfNotProcessed(eventID string, eventType domain.EventType, payload []byte, now time.Time) (bool, error) {
	if eventID == "" {
		return false, fmt.Errorf("event_id is required: %w", domain.ErrInvalidCommand)
	}

	res, err := r.tx.ExecContext(r.ctx, `
		INSERT INTO inbox_records (event_id, event_type, payload, received_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, string(eventType), payload, now.UTC())
	if err != nil {
		return false, fmt.Errorf("register inbox record: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}

// MarkProcessed помечает событие обработанным. Возвращает true ровно один раз.
func (r *inboxRepository) MarkProcessed(eventID string, now time.Time) (bool, error) {
	res, err := r.tx.ExecContext(r.ctx, `
		UPDATE inbox_records
		SET processed_at = $2
		WHERE event_id = $1
		  AND processed_at IS NULL
	`, eventID, now.UTC())
	if err != nil {
		return false, fmt.Errorf("mark inbox record as processed: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}

func (r *inboxRepository) Get(eventID string) (domain.InboxRecord, error) {
	var record domain.InboxRecord
	var eventType string
	var processedAt sql.NullTime

	err := r.tx.QueryRowContext(r.ctx, `
		SELECT event_id, event_type, payload, received_at, processed_at
		FROM inbox_records
		WHERE event_id = $1
	`, eventID).Scan(
		&record.EventID, &eventType, &record.Payload, &record.ReceivedAt, &processedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.InboxRecord{}, domain.ErrInboxNotFound
		}
		return domain.InboxRecord{}, fmt.Errorf("select inbox record: %w", err)
	}

	record.EventType = domain.EventType(eventType)
	if processedAt.Valid {
		t := processedAt.Time.UTC()
		record.ProcessedAt = &t
	}
	return record, nil
}

var _ domain.InboxRepository = (*inboxRepository)(nil)
