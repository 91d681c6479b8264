// Package postgres реализует долговечное хранилище контекста заказов:
// заказы, саги, outbox, inbox и timeline поверх одной sql.Tx.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const (
	defaultConnTimeout     = 5 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 25
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute

	defaultMaxPublishAttempts = 5
	defaultClaimLease         = 30 * time.Second
)

// Store оборачивает SQL-подключение к PostgreSQL и реализует unit of work.
type Store struct {
	db                 *sql.DB
	maxPublishAttempts int
	claimLease         time.Duration
}

// Option настраивает Store.
type Option func(*Store)

// WithMaxPublishAttempts задаёт потолок попыток публикации до перевода записи в dead.
func WithMaxPublishAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxPublishAttempts = n
		}
	}
}

// WithClaimLease задаёт длительность lease на выданные publisher'у записи.
func WithClaimLease(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.claimLease = d
		}
	}
}

// Open открывает подключение к PostgreSQL и проверяет доступность базы.
func Open(ctx context.Context, dsn string, options ...Option) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &Store{
		db:                 db,
		maxPublishAttempts: defaultMaxPublishAttempts,
		claimLease:         defaultClaimLease,
	}
	for _, option := range options {
		option(s)
	}
	return s, nil
}

// DB возвращает raw SQL DB, когда нужен низкоуровневый доступ.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping проверяет доступность подключения.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// EnsureSchema применяет все up-миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

// Close закрывает подключение к БД.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Do атомарно исполняет fn в одной sql.Tx: запись агрегата, саги и outbox
// фиксируются вместе или вместе откатываются.
func (s *Store) Do(ctx context.Context, fn func(tx domain.Repositories) error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	repos := &txRepos{ctx: ctx, tx: sqlTx, store: s}
	if err := fn(repos); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// txRepos выдаёт репозитории, привязанные к одной транзакции. Хранилище
// покрывает контекст заказов; остальные контексты живут в памяти своих
// сервисов, поэтому их репозитории здесь недоступны.
type txRepos struct {
	ctx   context.Context
	tx    *sql.Tx
	store *Store
}

func (t *txRepos) Orders() domain.OrderRepository      { return &orderRepository{ctx: t.ctx, tx: t.tx} }
func (t *txRepos) Sagas() domain.SagaRepository        { return &sagaRepository{ctx: t.ctx, tx: t.tx} }
func (t *txRepos) Outbox() domain.OutboxRepository     { return newOutboxRepository(t.ctx, t.tx, t.store) }
func (t *txRepos) Inbox() domain.InboxRepository       { return &inboxRepository{ctx: t.ctx, tx: t.tx} }
func (t *txRepos) Timeline() domain.TimelineRepository { return &timelineRepository{ctx: t.ctx, tx: t.tx} }

func (t *txRepos) Payments() domain.PaymentRepository {
	return unsupportedPaymentRepository{}
}

func (t *txRepos) Stock() domain.StockRepository {
	return unsupportedStockRepository{}
}

func (t *txRepos) Reservations() domain.ReservationRepository {
	return unsupportedReservationRepository{}
}

func (t *txRepos) Products() domain.ProductRepository {
	return unsupportedProductRepository{}
}

// ErrUnsupportedRepository возвращается при обращении к репозиторию контекста,
// который не хранится в PostgreSQL.
var ErrUnsupportedRepository = errors.New("repository is not backed by postgres storage")

type unsupportedPaymentRepository struct{}

func (unsupportedPaymentRepository) Create(domain.Payment) error { return ErrUnsupportedRepository }
func (unsupportedPaymentRepository) Get(string) (domain.Payment, error) {
	return domain.Payment{}, ErrUnsupportedRepository
}
func (unsupportedPaymentRepository) GetByOrder(string) (domain.Payment, error) {
	return domain.Payment{}, ErrUnsupportedRepository
}
func (unsupportedPaymentRepository) Save(domain.Payment) error { return ErrUnsupportedRepository }

type unsupportedStockRepository struct{}

func (unsupportedStockRepository) Upsert(domain.StockItem) error { return ErrUnsupportedRepository }
func (unsupportedStockRepository) Get(string) (domain.StockItem, error) {
	return domain.StockItem{}, ErrUnsupportedRepository
}
func (unsupportedStockRepository) Save(domain.StockItem) error { return ErrUnsupportedRepository }

type unsupportedReservationRepository struct{}

func (unsupportedReservationRepository) Create(domain.Reservation) error {
	return ErrUnsupportedRepository
}
func (unsupportedReservationRepository) Get(string) (domain.Reservation, error) {
	return domain.Reservation{}, ErrUnsupportedRepository
}
func (unsupportedReservationRepository) GetByOrder(string) (domain.Reservation, error) {
	return domain.Reservation{}, ErrUnsupportedRepository
}
func (unsupportedReservationRepository) ListActiveBefore(time.Time, int) ([]domain.Reservation, error) {
	return nil, ErrUnsupportedRepository
}
func (unsupportedReservationRepository) Save(domain.Reservation) error {
	return ErrUnsupportedRepository
}

type unsupportedProductRepository struct{}

func (unsupportedProductRepository) Create(domain.Product) error { return ErrUnsupportedRepository }
func (unsupportedProductRepository) Get(string) (domain.Product, error) {
	return domain.Product{}, ErrUnsupportedRepository
}
func (unsupportedProductRepository) Save(domain.Product) error { return ErrUnsupportedRepository }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.UnitOfWork = (*Store)(nil)
var _ domain.Repositories = (*txRepos)(nil)
