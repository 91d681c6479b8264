package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const (
	defaultMaxPublishAttempts = 5
	defaultClaimLease         = 30 * time.Second
)

// config хранит параметры, влияющие на поведение outbox.
type config struct {
	maxPublishAttempts int
	claimLease         time.Duration
}

// data — все таблицы сервиса. Мутируется только под мьютексом Store.
type data struct {
	orders             map[string]domain.Order
	payments           map[string]domain.Payment
	paymentByOrder     map[string]string
	stock              map[string]domain.StockItem
	reservations       map[string]domain.Reservation
	reservationByOrder map[string]string
	products           map[string]domain.Product
	sagas              map[string]domain.OrderSaga
	outbox             map[string]domain.OutboxMessage
	outboxLeases       map[string]time.Time
	inbox              map[string]domain.InboxRecord
	timeline           map[string][]domain.TimelineEvent
}

func newData() *data {
	return &data{
		orders:             make(map[string]domain.Order),
		payments:           make(map[string]domain.Payment),
		paymentByOrder:     make(map[string]string),
		stock:              make(map[string]domain.StockItem),
		reservations:       make(map[string]domain.Reservation),
		reservationByOrder: make(map[string]string),
		products:           make(map[string]domain.Product),
		sagas:              make(map[string]domain.OrderSaga),
		outbox:             make(map[string]domain.OutboxMessage),
		outboxLeases:       make(map[string]time.Time),
		inbox:              make(map[string]domain.InboxRecord),
		timeline:           make(map[string][]domain.TimelineEvent),
	}
}

// clone копирует все таблицы. Значения не копируются глубоко: репозитории
// никогда не мутируют сохранённые значения на месте, только перезаписывают.
func (d *data) clone() *data {
	c := newData()
	for k, v := range d.orders {
		c.orders[k] = v
	}
	for k, v := range d.payments {
		c.payments[k] = v
	}
	for k, v := range d.paymentByOrder {
		c.paymentByOrder[k] = v
	}
	for k, v := range d.stock {
		c.stock[k] = v
	}
	for k, v := range d.reservations {
		c.reservations[k] = v
	}
	for k, v := range d.reservationByOrder {
		c.reservationByOrder[k] = v
	}
	for k, v := range d.products {
		c.products[k] = v
	}
	for k, v := range d.sagas {
		c.sagas[k] = v
	}
	for k, v := range d.outbox {
		c.outbox[k] = v
	}
	for k, v := range d.outboxLeases {
		c.outboxLeases[k] = v
	}
	for k, v := range d.inbox {
		c.inbox[k] = v
	}
	for k, v := range d.timeline {
		c.timeline[k] = v
	}
	return c
}

// Store — in-memory реализация unit of work для локальной разработки и тестов.
// Do исполняет fn под общим мьютексом; при ошибке состояние откатывается к
// снимку, сделанному на входе.
type Store struct {
	mu  sync.Mutex
	d   *data
	cfg config
}

// Option настраивает Store.
type Option func(*Store)

// WithMaxPublishAttempts задаёт потолок попыток публикации до перевода записи в dead.
func WithMaxPublishAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.cfg.maxPublishAttempts = n
		}
	}
}

// WithClaimLease задаёт длительность lease на выданные publisher'у записи.
func WithClaimLease(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.cfg.claimLease = d
		}
	}
}

// NewStore создаёт пустое in-memory хранилище.
func NewStore(options ...Option) *Store {
	s := &Store{
		d: newData(),
		cfg: config{
			maxPublishAttempts: defaultMaxPublishAttempts,
			claimLease:         defaultClaimLease,
		},
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Do атомарно исполняет fn: все изменения фиксируются вместе либо вместе
// откатываются при любой ошибке.
func (s *Store) Do(ctx context.Context, fn func(tx domain.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.d.clone()
	tx := &txRepos{d: s.d, cfg: s.cfg}
	if err := fn(tx); err != nil {
		s.d = snapshot
		return err
	}
	return nil
}

// txRepos выдаёт репозитории, работающие с данными текущей транзакции.
type txRepos struct {
	d   *data
	cfg config
}

func (t *txRepos) Orders() domain.OrderRepository             { return &orderRepository{d: t.d} }
func (t *txRepos) Payments() domain.PaymentRepository         { return &paymentRepository{d: t.d} }
func (t *txRepos) Stock() domain.StockRepository              { return &stockRepository{d: t.d} }
func (t *txRepos) Reservations() domain.ReservationRepository { return &reservationRepository{d: t.d} }
func (t *txRepos) Products() domain.ProductRepository         { return &productRepository{d: t.d} }
func (t *txRepos) Sagas() domain.SagaRepository               { return &sagaRepository{d: t.d} }
func (t *txRepos) Outbox() domain.OutboxRepository            { return &outboxRepository{d: t.d, cfg: t.cfg} }
func (t *txRepos) Inbox() domain.InboxRepository              { return &inboxRepository{d: t.d} }
func (t *txRepos) Timeline() domain.TimelineRepository        { return &timelineRepository{d: t.d} }

var _ domain.UnitOfWork = (*Store)(nil)
var _ domain.Repositories = (*txRepos)(nil)
