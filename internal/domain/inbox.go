package domain

import "time"

// InboxRecord — durable-запись об увиденном входящем событии. EventID уникален
// в рамках потребляющего сервиса; записи никогда не удаляются и служат
// журналом дедупликации и аудита.
type InboxRecord struct {
	EventID     string
	EventType   EventType
	Payload     []byte
	ReceivedAt  time.Time
	ProcessedAt *time.Time
}

// Processed сообщает, завершил ли обработчик работу над событием.
func (r *InboxRecord) Processed() bool {
	return r.ProcessedAt != nil
}
