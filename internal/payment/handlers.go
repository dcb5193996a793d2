package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/esewa-checkout/internal/basket"
	"github.com/noah-isme/esewa-checkout/internal/common"
	"github.com/noah-isme/esewa-checkout/internal/esewa"
	"github.com/noah-isme/esewa-checkout/internal/obs"
)

// BasketStore loads baskets for checkout.
type BasketStore interface {
	GetByID(ctx context.Context, id int64) (*basket.Basket, error)
}

// Applicator reprices a basket with the currently active offers.
type Applicator interface {
	Apply(ctx context.Context, b *basket.Basket) error
}

// NumberGenerator produces the merchant reference for a basket.
type NumberGenerator interface {
	Generate(basketID int64) (string, error)
}

// CreditIssuer attempts a refund against the gateway.
type CreditIssuer interface {
	IssueCredit(ctx context.Context, orderNumber, referenceNumber string, amount basket.Money, currency string) error
}

// Handler serves the payment request and refund endpoints.
type Handler struct {
	Baskets   BasketStore
	Offers    Applicator
	Numbers   NumberGenerator
	Processor esewa.Processor
	Credit    CreditIssuer
	Validate  *validator.Validate
	Logger    zerolog.Logger
}

type createRequestPayload struct {
	BasketID int64 `json:"basketId" validate:"required,gt=0"`
}

type createRequestResponse struct {
	OrderNumber string            `json:"orderNumber"`
	SubmitURL   string            `json:"submitUrl"`
	Fields      map[string]string `json:"fields"`
}

// CreateRequest builds the signed form the storefront posts to the gateway's
// hosted payment page. The basket is repriced with active offers first so the
// signed amount matches what the order will be placed for.
func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var payload createRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_JSON", "invalid request body", nil)
		return
	}
	if err := h.Validate.Struct(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "basketId must be a positive integer", nil)
		return
	}

	resp, err := h.buildRequest(r.Context(), payload.BasketID)
	if err != nil {
		h.renderError(w, err)
		return
	}
	countPaymentRequest("success")
	common.JSON(w, http.StatusOK, resp)
}

func (h *Handler) buildRequest(ctx context.Context, basketID int64) (createRequestResponse, error) {
	bkt, err := h.Baskets.GetByID(ctx, basketID)
	if err != nil {
		if errors.Is(err, basket.ErrNotFound) {
			return createRequestResponse{}, common.NewAppError("BASKET_NOT_FOUND", "basket does not exist", http.StatusNotFound, err)
		}
		return createRequestResponse{}, common.NewAppError("INTERNAL", "could not load basket", http.StatusInternalServerError, err)
	}
	if h.Offers != nil {
		if err := h.Offers.Apply(ctx, bkt); err != nil {
			return createRequestResponse{}, common.NewAppError("INTERNAL", "could not price basket", http.StatusInternalServerError, err)
		}
	}

	orderNumber, err := h.Numbers.Generate(bkt.ID)
	if err != nil {
		return createRequestResponse{}, common.NewAppError("INTERNAL", "could not generate order number", http.StatusInternalServerError, err)
	}

	req, err := h.Processor.BuildPaymentRequest(bkt, orderNumber)
	if err != nil {
		switch {
		case errors.Is(err, esewa.ErrInvalidBasket):
			return createRequestResponse{}, common.NewAppError("INVALID_BASKET", "basket has no payable content", http.StatusUnprocessableEntity, err)
		case errors.Is(err, esewa.ErrConfiguration):
			return createRequestResponse{}, common.NewAppError("PAYMENT_NOT_CONFIGURED", "payment processor is not configured", http.StatusInternalServerError, err)
		default:
			return createRequestResponse{}, common.NewAppError("INTERNAL", "could not build payment request", http.StatusInternalServerError, err)
		}
	}

	return createRequestResponse{
		OrderNumber: orderNumber,
		SubmitURL:   req.SubmitURL,
		Fields:      req.Fields,
	}, nil
}

func (h *Handler) renderError(w http.ResponseWriter, err error) {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			h.Logger.Error().Err(err).Str("code", appErr.Code).Msg("payment request failed")
			countPaymentRequest("error")
		} else {
			countPaymentRequest(resultLabel(appErr.Code))
		}
		common.JSONError(w, appErr.HTTPStatus, appErr.Code, appErr.Message, appErr.Details)
		return
	}
	h.Logger.Error().Err(err).Msg("payment request failed")
	countPaymentRequest("error")
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
}

func resultLabel(code string) string {
	switch code {
	case "BASKET_NOT_FOUND":
		return "basket_not_found"
	case "INVALID_BASKET":
		return "invalid_basket"
	default:
		return "error"
	}
}

type creditPayload struct {
	OrderNumber     string `json:"orderNumber" validate:"required"`
	ReferenceNumber string `json:"referenceNumber"`
	Amount          int64  `json:"amount" validate:"gte=0"`
	Currency        string `json:"currency"`
}

// IssueCredit accepts a refund request. The gateway contract in use offers no
// programmatic refund API, so every attempt is logged and rejected with 501.
func (h *Handler) IssueCredit(w http.ResponseWriter, r *http.Request) {
	var payload creditPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_JSON", "invalid request body", nil)
		return
	}
	if err := h.Validate.Struct(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "orderNumber is required", nil)
		return
	}
	if obs.CreditRequestTotal != nil {
		obs.CreditRequestTotal.Inc()
	}

	err := h.Credit.IssueCredit(r.Context(), payload.OrderNumber, payload.ReferenceNumber, payload.Amount, payload.Currency)
	if errors.Is(err, esewa.ErrUnsupportedOperation) {
		common.JSONError(w, http.StatusNotImplemented, "UNSUPPORTED_OPERATION", "refunds are not supported by this payment processor", nil)
		return
	}
	if err != nil {
		h.Logger.Error().Err(err).Str("order_number", payload.OrderNumber).Msg("refund attempt failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "refund attempt failed", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"status": "refunded"})
}

func countPaymentRequest(result string) {
	if obs.PaymentRequestTotal == nil {
		return
	}
	obs.PaymentRequestTotal.WithLabelValues(result).Inc()
}
