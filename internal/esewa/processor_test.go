package esewa_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/esewa-checkout/internal/basket"
	"github.com/noah-isme/esewa-checkout/internal/esewa"
)

func testConfig() esewa.Config {
	return esewa.Config{
		MerchantCode:  "EPAYTEST",
		MerchantEmail: "merchant@example.com",
		SecretKey:     "8gBm/:&EnhH.1/q",
		BaseURL:       "https://rc-epay.esewa.com.np",
		SuccessURL:    "https://shop.example.com/api/v1/payments/esewa/notify",
		FailureURL:    "https://shop.example.com/checkout/error",
	}
}

func pricedBasket() *basket.Basket {
	b := &basket.Basket{
		ID:       42,
		Status:   basket.StatusOpen,
		Currency: "NPR",
		Lines: []basket.Line{
			{ID: 1, Title: "Khukuri", SKU: "KH-1", Qty: 2, UnitPrice: 5000},
		},
	}
	b.Reprice(0, 0)
	return b
}

func TestBuildPaymentRequest(t *testing.T) {
	p := esewa.Processor{Config: testConfig()}
	req, err := p.BuildPaymentRequest(pricedBasket(), "ESW-8K4J2M1Q")
	require.NoError(t, err)

	require.Equal(t, "https://rc-epay.esewa.com.np/api/epay/main/v2/form", req.SubmitURL)
	require.Equal(t, "100.00", req.Fields["amount"])
	require.Equal(t, "100.00", req.Fields["total_amount"])
	require.Equal(t, "0.00", req.Fields["tax_amount"])
	require.Equal(t, "ESW-8K4J2M1Q", req.Fields["transaction_uuid"])
	require.Equal(t, "EPAYTEST", req.Fields["product_code"])
	require.Equal(t, "0", req.Fields["product_service_charge"])
	require.Equal(t, "0", req.Fields["product_delivery_charge"])
	require.Equal(t, testConfig().SuccessURL, req.Fields["success_url"])
	require.Equal(t, testConfig().FailureURL, req.Fields["failure_url"])

	require.Equal(t, "Khukuri", req.Fields["cart.items[0].name"])
	require.Equal(t, "2", req.Fields["cart.items[0].quantity"])
	require.Equal(t, "KH-1", req.Fields["cart.items[0].sku"])
	require.Equal(t, "50.00", req.Fields["cart.items[0].price"])
	require.Equal(t, "100.00", req.Fields["cart.items[0].total"])

	require.Equal(t, "total_amount,transaction_uuid,product_code", req.Fields["signed_field_names"])

	mac := hmac.New(sha256.New, []byte(testConfig().SecretKey))
	mac.Write([]byte("total_amount=100.00,transaction_uuid=ESW-8K4J2M1Q,product_code=EPAYTEST"))
	require.Equal(t, base64.StdEncoding.EncodeToString(mac.Sum(nil)), req.Fields["signature"])
}

func TestBuildPaymentRequestWithTax(t *testing.T) {
	b := pricedBasket()
	b.Reprice(0, 1300)
	p := esewa.Processor{Config: testConfig()}
	req, err := p.BuildPaymentRequest(b, "ESW-8K4J2M1Q")
	require.NoError(t, err)

	// 13% VAT on a 100.00 basket.
	require.Equal(t, "113.00", req.Fields["amount"])
	require.Equal(t, "113.00", req.Fields["total_amount"])
	require.Equal(t, "13.00", req.Fields["tax_amount"])
}

func TestBuildPaymentRequestCustomSignedFields(t *testing.T) {
	cfg := testConfig()
	cfg.SignedFields = []string{"total_amount", "product_code"}
	p := esewa.Processor{Config: cfg}
	req, err := p.BuildPaymentRequest(pricedBasket(), "ESW-8K4J2M1Q")
	require.NoError(t, err)
	require.Equal(t, "total_amount,product_code", req.Fields["signed_field_names"])

	mac := hmac.New(sha256.New, []byte(cfg.SecretKey))
	mac.Write([]byte("total_amount=100.00,product_code=EPAYTEST"))
	require.Equal(t, base64.StdEncoding.EncodeToString(mac.Sum(nil)), req.Fields["signature"])
}

func TestBuildPaymentRequestMissingConfig(t *testing.T) {
	cfg := testConfig()
	cfg.SecretKey = ""
	p := esewa.Processor{Config: cfg}
	_, err := p.BuildPaymentRequest(pricedBasket(), "ESW-8K4J2M1Q")
	require.True(t, errors.Is(err, esewa.ErrConfiguration))
}

func TestBuildPaymentRequestEmptyBasket(t *testing.T) {
	p := esewa.Processor{Config: testConfig()}
	_, err := p.BuildPaymentRequest(&basket.Basket{ID: 7}, "ESW-8K4J2M1Q")
	require.True(t, errors.Is(err, esewa.ErrInvalidBasket))
	_, err = p.BuildPaymentRequest(nil, "ESW-8K4J2M1Q")
	require.True(t, errors.Is(err, esewa.ErrInvalidBasket))
}
