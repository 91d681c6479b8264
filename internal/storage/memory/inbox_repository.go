package memory

import (
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// inboxRepository — in-memory журнал дедупликации входящих событий.
type inboxRepository struct {
	d *data
}

func cloneInbox(rec domain.InboxRecord) domain.InboxRecord {
	rec.Payload = append([]byte(nil), rec.Payload...)
	if rec.ProcessedAt != nil {
		at := *rec.ProcessedAt
		rec.ProcessedAt = &at
	}
	return rec
}

// RegisterIfNotProcessed атомарно создаёт запись о первом появлении события.
// Повторный вызов с тем же eventID возвращает false без ошибки.
func (r *inboxRepository) RegisterIfNotProcessed(eventID string, eventType domain.EventType, payload []byte, now time.Time) (bool, error) {
	if eventID == "" {
		return false, domain.ErrInvalidCommand
	}
	if _, exists := r.d.inbox[eventID]; exists {
		return false, nil
	}
	r.d.inbox[eventID] = cloneInbox(domain.InboxRecord{
		EventID:    eventID,
		EventType:  eventType,
		Payload:    payload,
		ReceivedAt: now.UTC(),
	})
	return true, nil
}

// MarkProcessed помечает событие обработанным ровно один раз; timestamp
// первого вызова не перезаписывается.
func (r *inboxRepository) MarkProcessed(eventID string, now time.Time) (bool, error) {
	rec, ok := r.d.inbox[eventID]
	if !ok {
		return false, nil
	}
	if rec.ProcessedAt != nil {
		return false, nil
	}
	at := now.UTC()
	rec.ProcessedAt = &at
	r.d.inbox[eventID] = rec
	return true, nil
}

func (r *inboxRepository) Get(eventID string) (domain.InboxRecord, error) {
	rec, ok := r.d.inbox[eventID]
	if !ok {
		return domain.InboxRecord{}, domain.ErrInboxNotFound
	}
	return cloneInbox(rec), nil
}

var _ domain.InboxRepository = (*inboxRepository)(nil)
