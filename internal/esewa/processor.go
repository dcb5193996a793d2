package esewa

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/noah-isme/esewa-checkout/internal/basket"
)

// Payment page endpoint, relative to the configured gateway host.
const paymentFormPath = "/api/epay/main/v2/form"

// ErrConfiguration indicates required merchant configuration is missing.
var ErrConfiguration = errors.New("esewa: merchant configuration incomplete")

// ErrInvalidBasket indicates a basket with no lines or a non-positive total.
var ErrInvalidBasket = errors.New("esewa: basket has no payable content")

// Config carries the merchant contract for the hosted payment page. The
// signed-field list is gateway-owned; treat it as deployment configuration.
type Config struct {
	MerchantCode  string
	MerchantEmail string
	SecretKey     string
	BaseURL       string
	SuccessURL    string
	FailureURL    string
	SignedFields  []string
}

// PaymentRequest is the form the storefront submits to the gateway's hosted
// payment page on behalf of the customer.
type PaymentRequest struct {
	SubmitURL string            `json:"submitUrl"`
	Fields    map[string]string `json:"fields"`
}

// Processor assembles signed payment requests. It performs no I/O; submission
// happens client side via form redirect.
type Processor struct {
	Config Config
}

// BuildPaymentRequest returns the submission endpoint and the field set for
// the basket. The basket must already be priced (offers applied).
func (p Processor) BuildPaymentRequest(b *basket.Basket, orderNumber string) (PaymentRequest, error) {
	cfg := p.Config
	if strings.TrimSpace(cfg.MerchantCode) == "" || cfg.SecretKey == "" {
		return PaymentRequest{}, ErrConfiguration
	}
	if b == nil || len(b.Lines) == 0 || b.Pricing.Total <= 0 {
		return PaymentRequest{}, ErrInvalidBasket
	}

	// amount carries the basket's tax-inclusive total; tax_amount reports the
	// component already included, so total_amount equals amount plus charges.
	fields := map[string]string{
		"amount":                  basket.FormatAmount(b.Pricing.Total),
		"tax_amount":              basket.FormatAmount(b.Pricing.Tax),
		"total_amount":            basket.FormatAmount(b.Pricing.Total),
		"transaction_uuid":        orderNumber,
		"product_code":            cfg.MerchantCode,
		"product_service_charge":  "0",
		"product_delivery_charge": "0",
		"success_url":             cfg.SuccessURL,
		"failure_url":             cfg.FailureURL,
	}
	for i, line := range b.Lines {
		fields[cartField(i, "name")] = line.Title
		fields[cartField(i, "quantity")] = fmt.Sprintf("%d", line.Qty)
		fields[cartField(i, "sku")] = line.SKU
		fields[cartField(i, "price")] = basket.FormatAmount(line.UnitPrice)
		fields[cartField(i, "total")] = basket.FormatAmount(line.Total())
	}

	signed := cfg.SignedFields
	if len(signed) == 0 {
		signed = []string{"total_amount", "transaction_uuid", "product_code"}
	}
	fields["signed_field_names"] = strings.Join(signed, ",")
	fields["signature"] = signFields(cfg.SecretKey, signed, fields)

	return PaymentRequest{
		SubmitURL: strings.TrimRight(cfg.BaseURL, "/") + paymentFormPath,
		Fields:    fields,
	}, nil
}

func cartField(index int, name string) string {
	return fmt.Sprintf("cart.items[%d].%s", index, name)
}

// signFields computes the integrity signature: HMAC-SHA256 over the ordered
// "name=value" pairs of the signed fields, base64 encoded.
func signFields(secret string, signed []string, fields map[string]string) string {
	pairs := make([]string, 0, len(signed))
	for _, name := range signed {
		pairs = append(pairs, name+"="+fields[name])
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.Join(pairs, ",")))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
