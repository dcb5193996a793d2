package basket

import (
	"errors"
	"fmt"
)

// Money represents a monetary value stored in minor units (paisa).
type Money = int64

// Basket statuses. A basket accepts payment only while open; submission
// happens exactly once, inside the order placement transaction.
const (
	StatusOpen      = "OPEN"
	StatusSubmitted = "SUBMITTED"
)

// ErrNotFound indicates the requested basket could not be located.
var ErrNotFound = errors.New("basket not found")

// Line is a single priced basket entry.
type Line struct {
	ID        int64
	Title     string
	SKU       string
	Qty       int32
	UnitPrice Money
}

// Total returns the line total in minor units.
func (l Line) Total() Money {
	if l.Qty <= 0 {
		return 0
	}
	return Money(l.Qty) * l.UnitPrice
}

// Summary aggregates computed pricing components.
type Summary struct {
	Subtotal Money
	Discount Money
	Tax      Money
	Total    Money
}

// Basket is an in-progress shopping cart, pre-order.
type Basket struct {
	ID         int64
	OwnerEmail string
	Status     string
	Currency   string
	Lines      []Line
	Pricing    Summary
}

// Reprice recomputes the pricing summary from the basket lines, the given
// discount and a tax rate in basis points.
func (b *Basket) Reprice(discount Money, taxBps int) {
	var subtotal Money
	for _, l := range b.Lines {
		subtotal += l.Total()
	}
	if discount > subtotal {
		discount = subtotal
	}
	if discount < 0 {
		discount = 0
	}
	taxable := subtotal - discount
	tax := (taxable * Money(taxBps)) / 10000
	b.Pricing = Summary{
		Subtotal: subtotal,
		Discount: discount,
		Tax:      tax,
		Total:    taxable + tax,
	}
}

// FormatAmount renders a minor-unit amount the way the gateway expects it,
// two decimal places ("100.00").
func FormatAmount(m Money) string {
	sign := ""
	if m < 0 {
		sign = "-"
		m = -m
	}
	return fmt.Sprintf("%s%d.%02d", sign, m/100, m%100)
}
