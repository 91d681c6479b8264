package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type outboxRepository struct {
	ctx                context.Context
	tx                 *sql.Tx
	maxPublishAttempts int
	claimLease         time.Duration
}

func newOutboxRepository(ctx context.Context, tx *sql.Tx, store *Store) *outboxRepository {
	return &outboxRepository{
		ctx:                ctx,
		tx:                 tx,
		maxPublishAttempts: store.maxPublishAttempts,
		claimLease:         store.claimLease,
	}
}

func (r *outboxRepository) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Status = domain.OutboxStatusPending
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	_, err := r.tx.ExecContext(r.ctx, `
		INSERT INTO outbox_messages (
			id, aggregate_type, aggregate_id, event_type, payload,
			status, attempt_count, last_error, created_at
		) VALUES ($1,$2,$3,$4,$5,'pending',0,'',$6)
	`,
		msg.ID, msg.AggregateType, msg.AggregateID, string(msg.EventType), msg.Payload, msg.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.OutboxMessage{}, domain.ErrAlreadyExists
		}
		return domain.OutboxMessage{}, fmt.Errorf("enqueue outbox message: %w", err)
	}

	return msg, nil
}

// ClaimReadyToPublish выбирает готовые к публикации записи старейшими первыми
// и удерживает их lease'ом. SKIP LOCKED не даёт конкурирующим publisher'ам
// забрать те же строки внутри одного клейма.
func (r *outboxRepository) ClaimReadyToPublish(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	now := time.Now().UTC()

	rows, err := r.tx.QueryContext(r.ctx, `
		UPDATE outbox_messages
		SET leased_until = $1
		WHERE id IN (
			SELECT id
			FROM outbox_messages
			WHERE status IN ('pending', 'failed')
			  AND attempt_count < $2
			  AND (leased_until IS NULL OR leased_until <= $3)
			ORDER BY created_at, id
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, aggregate_type, aggregate_id, event_type, payload,
		          status, attempt_count, last_error, created_at
	`, now.Add(r.claimLease), r.maxPublishAttempts, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim outbox messages: %w", err)
	}
	defer rows.Close()

	result := make([]domain.OutboxMessage, 0, limit)
	for rows.Next() {
		var msg domain.OutboxMessage
		var status, eventType string
		if err := rows.Scan(
			&msg.ID, &msg.AggregateType, &msg.AggregateID, &eventType, &msg.Payload,
			&status, &msg.AttemptCount, &msg.LastError, &msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		msg.EventType = domain.EventType(eventType)
		msg.Status = domain.OutboxStatus(status)
		result = append(result, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}

	return result, nil
}

func (r *outboxRepository) TryMarkPublished(id string, publishedAt time.Time) (bool, error) {
	res, err := r.tx.ExecContext(r.ctx, `
		UPDATE outbox_messages
		SET status = 'published',
		    attempt_count = attempt_count + 1,
		    published_at = $2,
		    leased_until = NULL
		WHERE id = $1
		  AND status <> 'published'
	`, id, publishedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("mark outbox message as published: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.exists(id)
		if err != nil {
			return false, err
		}
		if !exists {
			return false, domain.ErrOutboxNotFound
		}
		return false, nil
	}
	return true, nil
}

func (r *outboxRepository) MarkFailed(id string, cause string, failedAt time.Time) (bool, error) {
	// Поздний отказ не понижает статус уже опубликованной записи; по
	// достижении потолка попыток запись уходит в dead.
	res, err := r.tx.ExecContext(r.ctx, `
		UPDATE outbox_messages
		SET attempt_count = attempt_count + 1,
		    last_error = $2,
		    status = CASE WHEN attempt_count + 1 >= $3 THEN 'dead' ELSE 'failed' END,
		    leased_until = NULL
		WHERE id = $1
		  AND status <> 'published'
	`, id, cause, r.maxPublishAttempts)
	if err != nil {
		return false, fmt.Errorf("mark outbox message as failed: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.exists(id)
		if err != nil {
			return false, err
		}
		if !exists {
			return false, domain.ErrOutboxNotFound
		}
		return false, nil
	}
	return true, nil
}

func (r *outboxRepository) ListDead(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.tx.QueryContext(r.ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload,
		       status, attempt_count, last_error, created_at
		FROM outbox_messages
		WHERE status = 'dead'
		ORDER BY created_at, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead outbox messages: %w", err)
	}
	defer rows.Close()

	result := make([]domain.OutboxMessage, 0, limit)
	for rows.Next() {
		var msg domain.OutboxMessage
		var status, eventType string
		if err := rows.Scan(
			&msg.ID, &msg.AggregateType, &msg.AggregateID, &eventType, &msg.Payload,
			&status, &msg.AttemptCount, &msg.LastError, &msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan dead outbox message: %w", err)
		}
		msg.EventType = domain.EventType(eventType)
		msg.Status = domain.OutboxStatus(status)
		result = append(result, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead outbox rows: %w", err)
	}

	return result, nil
}

func (r *outboxRepository) Redrive(id string) error {
	res, err := r.tx.ExecContext(r.ctx, `
		UPDATE outbox_messages
		SET status = 'pending',
		    attempt_count = 0,
		    last_error = '',
		    leased_until = NULL
		WHERE id = $1
		  AND status = 'dead'
	`, id)
	if err != nil {
		return fmt.Errorf("redrive outbox message: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		var status string
		scanErr := r.tx.QueryRowContext(r.ctx, `SELECT status FROM outbox_messages WHERE id = $1`, id).Scan(&status)
		if errors.Is(scanErr, sql.ErrNoRows) {
			return domain.ErrOutboxNotFound
		}
		if scanErr != nil {
			return fmt.Errorf("check outbox message status: %w", scanErr)
		}
		return fmt.Errorf("outbox message %s is %s, not dead: %w", id, status, domain.ErrInvalidCommand)
	}
	return nil
}

func (r *outboxRepository) Stats() (domain.OutboxStats, error) {
	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)

	if err := r.tx.QueryRowContext(r.ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status IN ('pending', 'failed')),
			COUNT(*) FILTER (WHERE status = 'dead'),
			MIN(created_at) FILTER (WHERE status IN ('pending', 'failed'))
		FROM outbox_messages
	`).Scan(&stats.PendingCount, &stats.DeadCount, &oldest); err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox stats query failed: %w", err)
	}

	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (r *outboxRepository) exists(id string) (bool, error) {
	var found string
	err := r.tx.QueryRowContext(r.ctx, `SELECT id FROM outbox_messages WHERE id = $1`, id).Scan(&found)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check outbox message exists: %w", err)
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
