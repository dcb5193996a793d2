package basket

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Offer discount kinds.
const (
	OfferKindPercent = "PERCENT"
	OfferKindFixed   = "FIXED_AMOUNT"
)

// Offer is a sitewide discount applied while repricing a basket.
type Offer struct {
	ID        int64
	Name      string
	Kind      string
	Value     int64 // basis points for PERCENT, minor units for FIXED_AMOUNT
	ValidFrom time.Time
	ValidTo   time.Time
}

// Discount returns the discount this offer yields for the given subtotal.
func (o Offer) Discount(subtotal Money) Money {
	switch o.Kind {
	case OfferKindPercent:
		return (subtotal * Money(o.Value)) / 10000
	case OfferKindFixed:
		return Money(o.Value)
	default:
		return 0
	}
}

// BestDiscount picks the largest discount among the offers, clamped to the subtotal.
func BestDiscount(offers []Offer, subtotal Money) Money {
	var best Money
	for _, o := range offers {
		if d := o.Discount(subtotal); d > best {
			best = d
		}
	}
	if best > subtotal {
		best = subtotal
	}
	return best
}

// OfferApplicator reprices a basket with the currently active offers, the way
// the storefront priced it when the payment request was built.
type OfferApplicator struct {
	Pool   *pgxpool.Pool
	TaxBps int
	Now    func() time.Time
}

// Apply loads active offers and recomputes the basket pricing summary.
func (a *OfferApplicator) Apply(ctx context.Context, b *Basket) error {
	if a == nil || a.Pool == nil {
		return errors.New("offer applicator not configured")
	}
	now := time.Now()
	if a.Now != nil {
		now = a.Now()
	}
	rows, err := a.Pool.Query(ctx, `
		SELECT id, name, kind, value, valid_from, valid_to
		FROM offers
		WHERE active AND valid_from <= $1 AND valid_to >= $1`, now)
	if err != nil {
		return err
	}
	defer rows.Close()

	var offers []Offer
	for rows.Next() {
		var o Offer
		if err := rows.Scan(&o.ID, &o.Name, &o.Kind, &o.Value, &o.ValidFrom, &o.ValidTo); err != nil {
			return err
		}
		offers = append(offers, o)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	var subtotal Money
	for _, l := range b.Lines {
		subtotal += l.Total()
	}
	b.Reprice(BestDiscount(offers, subtotal), a.TaxBps)
	return nil
}
