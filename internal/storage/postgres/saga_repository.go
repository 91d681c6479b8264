package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type sagaRepository struct {
	ctx context.Context
	tx  *sql.Tx
}

func (r *sagaRepository) Create(saga domain.OrderSaga) error {
	_, err := r.tx.ExecContext(r.ctx, `
		INSERT INTO order_sagas (
			order_id, current_step, compensation_pending, last_event_id,
			version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
	`,
		saga.OrderID, string(saga.CurrentStep), saga.CompensationPending, saga.LastEventID,
		saga.Version, saga.CreatedAt, saga.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("insert order saga: %w", err)
	}
	return nil
}

func (r *sagaRepository) Get(orderID string) (domain.OrderSaga, error) {
	var saga domain.OrderSaga
	var step string

	err := r.tx.QueryRowContext(r.ctx, `
		SELECT order_id, current_step, compensation_pending, last_event_id,
		       version, created_at, updated_at
		FROM order_sagas
		WHERE order_id = $1
	`, orderID).Scan(
		&saga.OrderID, &step, &saga.CompensationPending, &saga.LastEventID,
		&saga.Version, &saga.CreatedAt, &saga.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.OrderSaga{}, domain.ErrSagaNotFound
		}
		return domain.OrderSaga{}, fmt.Errorf("select order saga: %w", err)
	}
	saga.CurrentStep = domain.SagaStep(step)
	return saga, nil
}

func (r *sagaRepository) Save(saga domain.OrderSaga) error {
	res, err := r.tx.ExecContext(r.ctx, `
		UPDATE order_sagas
		SET current_step = $1,
		    compensation_pending = $2,
		    last_event_id = $3,
		    version = version + 1,
		    updated_at = $4
		WHERE order_id = $5
		  AND version = $6
	`,
		string(saga.CurrentStep),
		saga.CompensationPending,
		saga.LastEventID,
		saga.UpdatedAt,
		saga.OrderID,
		saga.Version,
	)
	if err != nil {
		return fmt.Errorf("update order saga: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		var id string
		scanErr := r.tx.QueryRowContext(r.ctx, `SELECT order_id FROM order_sagas WHERE order_id = $1`, saga.OrderID).Scan(&id)
		if errors.Is(scanErr, sql.ErrNoRows) {
			return domain.ErrSagaNotFound
		}
		if scanErr != nil {
			return fmt.Errorf("check saga exists: %w", scanErr)
		}
		return domain.ErrVersionConflict
	}
	return nil
}

var _ domain.SagaRepository = (*sagaRepository)(nil)
