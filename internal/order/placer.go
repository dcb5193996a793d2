package order

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/esewa-checkout/internal/basket"
)

// ErrAlreadyPlaced signals that an order for this basket already exists.
// Duplicate notification delivery lands here via the unique constraints on
// orders, never as a second order.
var ErrAlreadyPlaced = errors.New("order already placed for basket")

// ErrAmountMismatch signals that the verified amount does not match the
// basket's tax-inclusive total.
var ErrAmountMismatch = errors.New("verified amount does not match basket total")

const uniqueViolation = "23505"

// Placement is the result of a successful order placement.
type Placement struct {
	OrderID     int64
	OrderNumber string
}

// Placer applies a verified payment to a basket and creates the order in a
// single transaction. Any failure rolls back the whole unit.
type Placer struct {
	Pool     *pgxpool.Pool
	Currency string
}

// Place captures the payment, marks the basket submitted and inserts the
// order row. amount <= 0 skips the total check (verification responses do
// not always carry an amount).
func (p *Placer) Place(ctx context.Context, b *basket.Basket, orderNumber, transactionID string, amount basket.Money) (Placement, error) {
	if amount > 0 && amount != b.Pricing.Total {
		return Placement{}, ErrAmountMismatch
	}
	if p == nil || p.Pool == nil {
		return Placement{}, errors.New("order placer not configured")
	}

	tx, err := p.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Placement{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO payments (basket_id, transaction_id, amount, currency, status)
		VALUES ($1, $2, $3, $4, 'CAPTURED')`,
		b.ID, transactionID, b.Pricing.Total, p.currency(b)); err != nil {
		return Placement{}, placementError(err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE baskets SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3`,
		basket.StatusSubmitted, b.ID, basket.StatusOpen)
	if err != nil {
		return Placement{}, err
	}
	if tag.RowsAffected() == 0 {
		return Placement{}, ErrAlreadyPlaced
	}

	var orderID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO orders (order_number, basket_id, total, currency)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		orderNumber, b.ID, b.Pricing.Total, p.currency(b)).Scan(&orderID)
	if err != nil {
		return Placement{}, placementError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Placement{}, err
	}
	return Placement{OrderID: orderID, OrderNumber: orderNumber}, nil
}

func (p *Placer) currency(b *basket.Basket) string {
	if b.Currency != "" {
		return b.Currency
	}
	return p.Currency
}

func placementError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrAlreadyPlaced
	}
	return err
}
