package esewa_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/esewa-checkout/internal/esewa"
)

func TestVerifySuccess(t *testing.T) {
	var form map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = map[string]string{
			"merchant_email":    r.Form.Get("merchant_email"),
			"secret_key":        r.Form.Get("secret_key"),
			"product_code":      r.Form.Get("product_code"),
			"payment_reference": r.Form.Get("payment_reference"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response_code":"100","reference_no":"ESW-8K4J2M1Q","transaction_id":"0KDL6NA","total_amount":"113.00"}`))
	}))
	t.Cleanup(srv.Close)

	client := &esewa.Client{
		HTTP:          srv.Client(),
		BaseURL:       srv.URL,
		MerchantCode:  "EPAYTEST",
		MerchantEmail: "merchant@example.com",
		SecretKey:     "8gBm/:&EnhH.1/q",
	}
	result, err := client.Verify(context.Background(), "ESW-8K4J2M1Q")
	require.NoError(t, err)

	require.Equal(t, "merchant@example.com", form["merchant_email"])
	require.Equal(t, "8gBm/:&EnhH.1/q", form["secret_key"])
	require.Equal(t, "EPAYTEST", form["product_code"])
	require.Equal(t, "ESW-8K4J2M1Q", form["payment_reference"])

	require.Equal(t, "100", result.ResponseCode)
	require.Equal(t, "ESW-8K4J2M1Q", result.ReferenceNo)
	require.Equal(t, "0KDL6NA", result.TransactionID)
	require.EqualValues(t, 11300, result.AmountMinor())
	require.True(t, result.Succeeded([]string{"100", "111"}))
}

func TestVerifyFailureCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response_code":"999"}`))
	}))
	t.Cleanup(srv.Close)

	client := &esewa.Client{HTTP: srv.Client(), BaseURL: srv.URL, SecretKey: "secret"}
	result, err := client.Verify(context.Background(), "ESW-8K4J2M1Q")
	require.NoError(t, err)
	require.False(t, result.Succeeded([]string{"100", "111"}))
}

func TestVerifyServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	client := &esewa.Client{HTTP: srv.Client(), BaseURL: srv.URL, SecretKey: "secret"}
	_, err := client.Verify(context.Background(), "ESW-8K4J2M1Q")
	require.True(t, errors.Is(err, esewa.ErrVerification))
}

func TestVerifyTimeout(t *testing.T) {
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
	}))
	t.Cleanup(func() {
		close(blocked)
		srv.Close()
	})

	client := &esewa.Client{
		HTTP:      srv.Client(),
		BaseURL:   srv.URL,
		SecretKey: "secret",
		Timeout:   50 * time.Millisecond,
	}
	_, err := client.Verify(context.Background(), "ESW-8K4J2M1Q")
	require.True(t, errors.Is(err, esewa.ErrVerification))
}

func TestVerifyBadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	t.Cleanup(srv.Close)

	client := &esewa.Client{HTTP: srv.Client(), BaseURL: srv.URL, SecretKey: "secret"}
	_, err := client.Verify(context.Background(), "ESW-8K4J2M1Q")
	require.True(t, errors.Is(err, esewa.ErrVerification))
}

func TestVerifyMissingConfig(t *testing.T) {
	client := &esewa.Client{}
	_, err := client.Verify(context.Background(), "ESW-8K4J2M1Q")
	require.True(t, errors.Is(err, esewa.ErrConfiguration))
}

func TestAmountMinorParsing(t *testing.T) {
	cases := []struct {
		raw  string
		want int64
	}{
		{`"113.00"`, 11300},
		{`"100"`, 10000},
		{`113.5`, 11350},
		{`""`, 0},
		{`"abc"`, 0},
	}
	for _, tc := range cases {
		var result esewa.VerificationResult
		require.NoError(t, json.Unmarshal([]byte(`{"total_amount":`+tc.raw+`}`), &result))
		require.EqualValues(t, tc.want, result.AmountMinor(), "raw %s", tc.raw)
	}
}
