package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/esewa-checkout/internal/basket"
	"github.com/noah-isme/esewa-checkout/internal/common"
	"github.com/noah-isme/esewa-checkout/internal/esewa"
	"github.com/noah-isme/esewa-checkout/internal/events"
	"github.com/noah-isme/esewa-checkout/internal/obs"
	"github.com/noah-isme/esewa-checkout/internal/order"
)

// Verifier confirms a payment reference against the gateway.
type Verifier interface {
	Verify(ctx context.Context, paymentReference string) (esewa.VerificationResult, error)
}

// ReferenceDecoder recovers the basket id embedded in a merchant reference.
type ReferenceDecoder interface {
	BasketID(reference string) (int64, error)
}

// OrderPlacer applies a captured payment and places the order atomically.
type OrderPlacer interface {
	Place(ctx context.Context, b *basket.Basket, orderNumber, transactionID string, amount basket.Money) (order.Placement, error)
}

// Webhook handles the gateway's browser-redirect notification. The endpoint
// is unauthenticated by design: trust comes from the server-side verification
// round trip, never from the inbound payload.
type Webhook struct {
	Verifier     Verifier
	Baskets      BasketStore
	Offers       Applicator
	Orders       OrderPlacer
	References   ReferenceDecoder
	Audit        AuditRecorder
	Events       *events.Bus
	Replay       *redis.Client
	ReplayTTL    time.Duration
	SuccessCodes []string
	ErrorURL     string
	ReceiptURL   func(orderNumber string) string
	Logger       zerolog.Logger
}

// Handle processes one notification end to end. The user always ends up on a
// redirect (receipt on success, payment-error page otherwise) and exactly one
// audit record is written whatever the outcome.
func (h *Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	if h.Verifier == nil || h.Baskets == nil || h.Orders == nil || h.References == nil || h.Audit == nil {
		common.JSONError(w, http.StatusInternalServerError, "NOT_CONFIGURED", "notification handler is not configured", nil)
		return
	}
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		h.Logger.Error().Err(err).Msg("could not parse merchant notification")
		h.recordAudit(ctx, url.Values{}, UnknownTransactionID, nil)
		countNotification("malformed")
		h.redirectError(w, r)
		return
	}

	// The audit record mirrors the raw inbound payload and must be written
	// exactly once, on every path out of this handler.
	transactionID := UnknownTransactionID
	var basketID *int64
	defer func() {
		h.recordAudit(ctx, r.Form, transactionID, basketID)
	}()

	reference := r.Form.Get("payment_reference")
	if reference == "" {
		h.Logger.Error().Err(ErrMalformedNotification).Msg("received an invalid merchant notification")
		countNotification("malformed")
		h.redirectError(w, r)
		return
	}

	verifyStart := time.Now()
	result, err := h.Verifier.Verify(ctx, reference)
	observeVerification(err == nil, time.Since(verifyStart))
	if err != nil {
		h.Logger.Error().Err(fmt.Errorf("%w: %w", ErrVerificationFailed, err)).
			Str("payment_reference", reference).
			Msg("gateway verification call failed")
		countNotification("verification_error")
		h.redirectError(w, r)
		return
	}
	if !result.Succeeded(h.SuccessCodes) {
		h.Logger.Error().Err(ErrVerificationFailed).
			Str("payment_reference", reference).
			Str("response_code", result.ResponseCode).
			Msg("gateway reported an unsuccessful transaction")
		countNotification("verification_failed")
		h.redirectError(w, r)
		return
	}
	if result.TransactionID != "" {
		transactionID = result.TransactionID
	}

	orderNumber := result.ReferenceNo
	if orderNumber == "" {
		orderNumber = reference
	}
	id, err := h.References.BasketID(orderNumber)
	if err != nil {
		h.Logger.Error().Err(err).Str("reference_no", orderNumber).Msg("could not decode basket reference")
		countNotification("basket_not_found")
		h.redirectError(w, r)
		return
	}
	bkt, err := h.Baskets.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, basket.ErrNotFound) {
			h.Logger.Error().Err(ErrBasketNotFound).Int64("basket_id", id).Msg("notification references unknown basket")
			h.emit(ctx, events.TopicNotificationRejected, id, map[string]any{
				"reference_no":   orderNumber,
				"transaction_id": transactionID,
				"reason":         ErrBasketNotFound.Error(),
			})
		} else {
			h.Logger.Error().Err(err).Int64("basket_id", id).Msg("could not load basket")
		}
		countNotification("basket_not_found")
		h.redirectError(w, r)
		return
	}
	basketID = &bkt.ID

	if h.Offers != nil {
		if err := h.Offers.Apply(ctx, bkt); err != nil {
			h.Logger.Error().Err(err).Int64("basket_id", bkt.ID).Msg("could not reprice basket")
			countNotification("payment_failed")
			h.redirectError(w, r)
			return
		}
	}

	// Best-effort replay guard. The database unique constraints remain the
	// authority; a Redis failure only means the duplicate is caught there.
	// A failed placement releases the guard again so the gateway's
	// redelivery gets another shot at the placer.
	if h.duplicate(ctx, transactionID) {
		h.Logger.Info().
			Str("transaction_id", transactionID).
			Int64("basket_id", bkt.ID).
			Msg("duplicate notification, redirecting to receipt")
		countNotification("duplicate")
		h.redirectReceipt(w, r, orderNumber)
		return
	}

	placement, err := h.Orders.Place(ctx, bkt, orderNumber, transactionID, result.AmountMinor())
	if err != nil {
		if errors.Is(err, order.ErrAlreadyPlaced) {
			h.Logger.Info().
				Str("order_number", orderNumber).
				Int64("basket_id", bkt.ID).
				Msg("order already placed for this notification")
			countNotification("duplicate")
			h.redirectReceipt(w, r, orderNumber)
			return
		}
		h.releaseGuard(ctx, transactionID)
		h.Logger.Error().Err(fmt.Errorf("%w: %w", ErrPaymentApplication, err)).
			Str("order_number", orderNumber).
			Int64("basket_id", bkt.ID).
			Msg("payment did not complete")
		countNotification("payment_failed")
		h.emit(ctx, events.TopicPaymentFailed, bkt.ID, map[string]any{
			"order_number":   orderNumber,
			"transaction_id": transactionID,
			"reason":         err.Error(),
		})
		h.redirectError(w, r)
		return
	}

	h.Logger.Info().
		Str("order_number", placement.OrderNumber).
		Int64("order_id", placement.OrderID).
		Int64("basket_id", bkt.ID).
		Str("transaction_id", transactionID).
		Msg("order placed")
	countNotification("success")
	h.emit(ctx, events.TopicOrderPaid, bkt.ID, map[string]any{
		"order_id":       placement.OrderID,
		"order_number":   placement.OrderNumber,
		"transaction_id": transactionID,
		"amount":         bkt.Pricing.Total,
		"currency":       bkt.Currency,
	})
	h.redirectReceipt(w, r, placement.OrderNumber)
}

func (h *Webhook) duplicate(ctx context.Context, transactionID string) bool {
	if h.Replay == nil || h.ReplayTTL <= 0 || transactionID == UnknownTransactionID {
		return false
	}
	ok, err := h.Replay.SetNX(ctx, replayKey(transactionID), "1", h.ReplayTTL).Result()
	if err != nil {
		h.Logger.Warn().Err(err).Msg("replay guard unavailable")
		return false
	}
	return !ok
}

// releaseGuard drops the replay key for a transaction whose placement did not
// settle. "Seen" must never stand in for "placed".
func (h *Webhook) releaseGuard(ctx context.Context, transactionID string) {
	if h.Replay == nil || transactionID == UnknownTransactionID {
		return
	}
	if err := h.Replay.Del(ctx, replayKey(transactionID)).Err(); err != nil {
		h.Logger.Warn().Err(err).Str("transaction_id", transactionID).Msg("could not release replay guard")
	}
}

func replayKey(transactionID string) string {
	return "esewa:notify:" + common.Sha256Hex(transactionID)
}

func (h *Webhook) recordAudit(ctx context.Context, payload url.Values, transactionID string, basketID *int64) {
	if _, err := h.Audit.Record(ctx, payload, transactionID, basketID); err != nil {
		h.Logger.Error().Err(err).Str("transaction_id", transactionID).Msg("could not record processor response")
	}
}

func (h *Webhook) emit(ctx context.Context, topic string, aggregateID int64, payload any) {
	if h.Events == nil {
		return
	}
	if _, err := h.Events.Emit(ctx, topic, aggregateID, payload); err != nil {
		h.Logger.Warn().Err(err).Str("topic", topic).Msg("could not emit event")
	}
}

func (h *Webhook) redirectError(w http.ResponseWriter, r *http.Request) {
	target := h.ErrorURL
	if target == "" {
		target = "/payment-error"
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *Webhook) redirectReceipt(w http.ResponseWriter, r *http.Request, orderNumber string) {
	if h.ReceiptURL == nil {
		h.redirectError(w, r)
		return
	}
	http.Redirect(w, r, h.ReceiptURL(orderNumber), http.StatusFound)
}

func countNotification(result string) {
	if obs.NotificationTotal == nil {
		return
	}
	obs.NotificationTotal.WithLabelValues(result).Inc()
}

func observeVerification(ok bool, d time.Duration) {
	if obs.VerificationLatency == nil {
		return
	}
	result := "error"
	if ok {
		result = "ok"
	}
	obs.VerificationLatency.WithLabelValues(result).Observe(obs.DurationMillis(d))
}
