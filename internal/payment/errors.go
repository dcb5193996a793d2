package payment

import "errors"

// Error kinds recovered locally by the handlers. None of these surface to
// the end user beyond the generic payment-error redirect; full detail goes
// to the logs and the audit record.
var (
	// ErrMalformedNotification indicates an inbound notification without a
	// payment reference.
	ErrMalformedNotification = errors.New("notification missing payment reference")
	// ErrVerificationFailed indicates the gateway did not confirm the
	// transaction (error code, transport failure or timeout).
	ErrVerificationFailed = errors.New("gateway verification failed")
	// ErrBasketNotFound indicates the verified reference does not resolve to
	// an existing basket.
	ErrBasketNotFound = errors.New("notification references unknown basket")
	// ErrPaymentApplication indicates the atomic payment/order unit failed
	// and was rolled back.
	ErrPaymentApplication = errors.New("payment application failed")
)
