package domain

import (
	"context"
	"time"
)

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ошибку, если запись с таким ID уже существует.
	Create(order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(id string) (Order, error)
	// ListByCustomer возвращает заказы клиента с опциональным ограничением на количество.
	ListByCustomer(customerID string, limit int) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(order Order) error
}

// PaymentRepository хранит платежи платёжного сервиса.
type PaymentRepository interface {
	Create(payment Payment) error
	Get(id string) (Payment, error)
	// GetByOrder возвращает платёж по заказу (для идемпотентности обработчика).
	GetByOrder(orderID string) (Payment, error)
	Save(payment Payment) error
}

// StockRepository хранит доступные количества по SKU.
type StockRepository interface {
	// Upsert создаёт или перезаписывает позицию стока (административная операция).
	Upsert(item StockItem) error
	Get(sku string) (StockItem, error)
	Save(item StockItem) error
}

// ReservationRepository хранит резервы склада.
type ReservationRepository interface {
	Create(res Reservation) error
	Get(id string) (Reservation, error)
	GetByOrder(orderID string) (Reservation, error)
	// ListActiveBefore возвращает активные резервы, созданные раньше cutoff (для экспирации).
	ListActiveBefore(cutoff time.Time, limit int) ([]Reservation, error)
	Save(res Reservation) error
}

// ProductRepository хранит карточки товаров.
type ProductRepository interface {
	Create(product Product) error
	Get(id string) (Product, error)
	Save(product Product) error
}

// SagaRepository хранит записи саг заказов.
type SagaRepository interface {
	Create(saga OrderSaga) error
	Get(orderID string) (OrderSaga, error)
	Save(saga OrderSaga) error
}

// OutboxRepository — ledger transactional outbox. Enqueue выполняется только
// внутри той же атомарной единицы, что и мутация агрегата; остальные операции
// принадлежат publisher'у.
type OutboxRepository interface {
	// Enqueue сохраняет событие со статусом pending и возвращает его с заполненным ID.
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	// ClaimReadyToPublish выбирает до limit готовых к публикации записей
	// (pending либо failed с оставшимися попытками), старейшие первыми.
	// Выданные записи удерживаются lease'ом, чтобы конкурирующий publisher
	// не забрал те же строки.
	ClaimReadyToPublish(limit int) ([]OutboxMessage, error)
	// TryMarkPublished помечает запись опубликованной. Возвращает false, если
	// конкурирующий publisher уже успел — это не ошибка.
	TryMarkPublished(id string, publishedAt time.Time) (bool, error)
	// MarkFailed фиксирует неудачную попытку. Возвращает false, если запись
	// уже published: поздний отказ не должен понижать статус. По достижении
	// maxAttempts запись переводится в dead.
	MarkFailed(id string, cause string, failedAt time.Time) (bool, error)
	// ListDead возвращает записи в статусе dead для операторского вмешательства.
	ListDead(limit int) ([]OutboxMessage, error)
	// Redrive возвращает dead-запись в pending со сброшенным счётчиком попыток.
	Redrive(id string) error
	// Stats описывает backlog для метрик.
	Stats() (OutboxStats, error)
}

// InboxRepository — журнал дедупликации входящих событий.
type InboxRepository interface {
	// RegisterIfNotProcessed атомарно создаёт запись, если её ещё нет.
	// Возвращает true только если запись создана этим вызовом.
	RegisterIfNotProcessed(eventID string, eventType EventType, payload []byte, now time.Time) (bool, error)
	// MarkProcessed помечает событие обработанным. Возвращает true ровно один
	// раз; повторный вызов или отсутствие записи дают false.
	MarkProcessed(eventID string, now time.Time) (bool, error)
	Get(eventID string) (InboxRecord, error)
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(orderID string) ([]TimelineEvent, error)
}

// Repositories даёт доступ к репозиториям, привязанным к одной атомарной единице.
type Repositories interface {
	Orders() OrderRepository
	Payments() PaymentRepository
	Stock() StockRepository
	Reservations() ReservationRepository
	Products() ProductRepository
	Sagas() SagaRepository
	Outbox() OutboxRepository
	Inbox() InboxRepository
	Timeline() TimelineRepository
}

// UnitOfWork исполняет fn атомарно: все записи внутри fn фиксируются вместе
// или вместе откатываются. Мутация агрегата и Enqueue в outbox обязаны
// проходить через один вызов Do.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(tx Repositories) error) error
}

// ProduceResult — исход асинхронной публикации одного события.
type ProduceResult struct {
	// OutboxID идентифицирует запись outbox, к которой относится результат.
	OutboxID string
	// Err не nil, если публикация не удалась или истёк таймаут.
	Err error
}

// EventProducer публикует события в транспорт. Produce возвращает future:
// канал на один результат, закрываемый после подтверждения или отказа.
type EventProducer interface {
	Produce(msg OutboxMessage) <-chan ProduceResult
	Close() error
}

// PriceLookup возвращает срезы цен для набора товаров. Вызывается вне
// критического пути саги (при приёме заказа).
type PriceLookup interface {
	GetPriceSnapshots(ctx context.Context, productIDs []string) ([]PriceSnapshot, error)
}

// ChargeProvider описывает взаимодействие с платёжным провайдером.
// Возврат ошибки означает отклонённый или не подтверждённый платёж.
type ChargeProvider interface {
	Charge(ctx context.Context, orderID string, amountMinor int64, currency string) (externalID string, err error)
}
