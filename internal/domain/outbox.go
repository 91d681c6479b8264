package domain

import "time"

// OutboxStatus описывает жизненный цикл записи transactional outbox.
type OutboxStatus string

const (
	// OutboxStatusPending — запись создана и ждёт публикации.
	OutboxStatusPending OutboxStatus = "pending"
	// OutboxStatusPublished — транспорт подтвердил публикацию; терминальный статус.
	OutboxStatusPublished OutboxStatus = "published"
	// OutboxStatusFailed — публикация не удалась, попытки ещё остались.
	OutboxStatusFailed OutboxStatus = "failed"
	// OutboxStatusDead — потолок попыток исчерпан; запись исключена из claim
	// и требует вмешательства оператора (см. cmd/outbox-redrive).
	OutboxStatusDead OutboxStatus = "dead"
)

// OutboxMessage хранит событие, ожидающее публикации. Создаётся только внутри
// той же атомарной единицы, что и породившая его мутация агрегата; статус
// меняет только publisher.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     EventType
	Payload       []byte
	Status        OutboxStatus
	AttemptCount  int
	LastError     string
	CreatedAt     time.Time
	PublishedAt   time.Time
}

// Envelope собирает конверт события для транспорта. ID записи outbox служит
// event_id для дедупликации на стороне потребителя.
func (m *OutboxMessage) Envelope() EventEnvelope {
	return EventEnvelope{
		EventID:     m.ID,
		AggregateID: m.AggregateID,
		EventType:   m.EventType,
		Payload:     m.Payload,
	}
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	DeadCount       int
	OldestPendingAt time.Time
}
