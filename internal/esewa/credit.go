package esewa

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/noah-isme/esewa-checkout/internal/basket"
)

// ErrUnsupportedOperation indicates the gateway does not expose the refund
// endpoint for this merchant tier.
var ErrUnsupportedOperation = errors.New("esewa: refunds are not supported for this merchant tier")

// CreditIssuer deterministically refuses refunds. eSewa has a refund URL but
// it is not available to demo merchants, so the operation must fail loudly
// instead of pretending to succeed. Never performs network I/O.
type CreditIssuer struct {
	Logger zerolog.Logger
}

// IssueCredit always returns ErrUnsupportedOperation.
func (c CreditIssuer) IssueCredit(_ context.Context, orderNumber, referenceNumber string, amount basket.Money, currency string) error {
	c.Logger.Error().
		Str("order_number", orderNumber).
		Str("reference_number", referenceNumber).
		Int64("amount", amount).
		Str("currency", currency).
		Msg("esewa processor cannot issue credits or refunds")
	return ErrUnsupportedOperation
}
