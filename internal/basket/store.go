package basket

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store loads baskets from Postgres.
type Store struct {
	Pool *pgxpool.Pool
}

// GetByID returns the basket with its lines, or ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id int64) (*Basket, error) {
	if s == nil || s.Pool == nil {
		return nil, errors.New("basket store not configured")
	}
	b := &Basket{}
	query := `
		SELECT id, owner_email, status, currency
		FROM baskets
		WHERE id = $1`
	err := s.Pool.QueryRow(ctx, query, id).Scan(&b.ID, &b.OwnerEmail, &b.Status, &b.Currency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	rows, err := s.Pool.Query(ctx, `
		SELECT id, title, sku, qty, unit_price
		FROM basket_lines
		WHERE basket_id = $1
		ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.Title, &l.SKU, &l.Qty, &l.UnitPrice); err != nil {
			return nil, err
		}
		b.Lines = append(b.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return b, nil
}
