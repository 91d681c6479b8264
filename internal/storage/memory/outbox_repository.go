package memory

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// outboxRepository — in-memory реализация transactional outbox с lease'ами
// на выданные publisher'у записи.
type outboxRepository struct {
	d   *data
	cfg config
}

func cloneOutbox(msg domain.OutboxMessage) domain.OutboxMessage {
	msg.Payload = append([]byte(nil), msg.Payload...)
	return msg
}

// Enqueue сохраняет событие со статусом pending и возвращает его идентификатор.
func (r *outboxRepository) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if _, exists := r.d.outbox[msg.ID]; exists {
		return domain.OutboxMessage{}, domain.ErrAlreadyExists
	}
	msg.Status = domain.OutboxStatusPending
	msg.AttemptCount = 0
	msg.CreatedAt = time.Now().UTC()
	r.d.outbox[msg.ID] = cloneOutbox(msg)
	return msg, nil
}

// ClaimReadyToPublish выбирает готовые к публикации записи, старейшие первыми,
// и удерживает их lease'ом от конкурирующих publisher'ов.
func (r *outboxRepository) ClaimReadyToPublish(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	now := time.Now().UTC()
	ready := make([]domain.OutboxMessage, 0, limit)
	for id, msg := range r.d.outbox {
		switch msg.Status {
		case domain.OutboxStatusPending:
		case domain.OutboxStatusFailed:
			if msg.AttemptCount >= r.cfg.maxPublishAttempts {
				continue
			}
		default:
			continue
		}
		if lease, held := r.d.outboxLeases[id]; held && lease.After(now) {
			continue
		}
		ready = append(ready, cloneOutbox(msg))
	}

	sort.Slice(ready, func(i, j int) bool {
		if !ready[i].CreatedAt.Equal(ready[j].CreatedAt) {
			return ready[i].CreatedAt.Before(ready[j].CreatedAt)
		}
		return ready[i].ID < ready[j].ID
	})

	if len(ready) > limit {
		ready = ready[:limit]
	}
	for _, msg := range ready {
		r.d.outboxLeases[msg.ID] = now.Add(r.cfg.claimLease)
	}

	return ready, nil
}

// TryMarkPublished помечает запись published. Возвращает false без ошибки,
// если конкурирующий publisher уже успел.
func (r *outboxRepository) TryMarkPublished(id string, publishedAt time.Time) (bool, error) {
	msg, ok := r.d.outbox[id]
	if !ok {
		return false, domain.ErrOutboxNotFound
	}
	if msg.Status == domain.OutboxStatusPublished {
		return false, nil
	}
	msg.Status = domain.OutboxStatusPublished
	msg.AttemptCount++
	msg.PublishedAt = publishedAt.UTC()
	r.d.outbox[id] = msg
	delete(r.d.outboxLeases, id)
	return true, nil
}

// MarkFailed фиксирует неудачную попытку; поздний отказ после успешной
// публикации статус не понижает. По достижении потолка запись уходит в dead.
func (r *outboxRepository) MarkFailed(id string, cause string, failedAt time.Time) (bool, error) {
	msg, ok := r.d.outbox[id]
	if !ok {
		return false, domain.ErrOutboxNotFound
	}
	if msg.Status == domain.OutboxStatusPublished {
		return false, nil
	}
	msg.AttemptCount++
	msg.LastError = cause
	if msg.AttemptCount >= r.cfg.maxPublishAttempts {
		msg.Status = domain.OutboxStatusDead
	} else {
		msg.Status = domain.OutboxStatusFailed
	}
	r.d.outbox[id] = msg
	delete(r.d.outboxLeases, id)
	return true, nil
}

// ListDead возвращает записи, исключённые из публикации после исчерпания попыток.
func (r *outboxRepository) ListDead(limit int) ([]domain.OutboxMessage, error) {
	result := make([]domain.OutboxMessage, 0)
	for _, msg := range r.d.outbox {
		if msg.Status != domain.OutboxStatusDead {
			continue
		}
		result = append(result, cloneOutbox(msg))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Redrive возвращает dead-запись в pending со сброшенным счётчиком попыток.
func (r *outboxRepository) Redrive(id string) error {
	msg, ok := r.d.outbox[id]
	if !ok {
		return domain.ErrOutboxNotFound
	}
	if msg.Status != domain.OutboxStatusDead {
		return fmt.Errorf("outbox message %s is %s, not dead: %w", id, msg.Status, domain.ErrInvalidCommand)
	}
	msg.Status = domain.OutboxStatusPending
	msg.AttemptCount = 0
	msg.LastError = ""
	r.d.outbox[id] = msg
	return nil
}

// Stats описывает backlog для метрик.
func (r *outboxRepository) Stats() (domain.OutboxStats, error) {
	var stats domain.OutboxStats
	for _, msg := range r.d.outbox {
		switch msg.Status {
		case domain.OutboxStatusPending, domain.OutboxStatusFailed:
			stats.PendingCount++
			if stats.OldestPendingAt.IsZero() || msg.CreatedAt.Before(stats.OldestPendingAt) {
				stats.OldestPendingAt = msg.CreatedAt
			}
		case domain.OutboxStatusDead:
			stats.DeadCount++
		}
	}
	return stats, nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
