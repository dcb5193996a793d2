package esewa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/noah-isme/esewa-checkout/internal/basket"
)

// ErrVerification indicates the gateway rejected or failed the server-side
// verification call, including transport errors and timeouts.
var ErrVerification = errors.New("esewa: verification call failed")

// AmountString tolerates both quoted and bare numeric JSON values; the
// gateway is not consistent about which it sends.
type AmountString string

func (a *AmountString) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*a = ""
		return nil
	}
	if len(trimmed) >= 2 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = AmountString(s)
		return nil
	}
	*a = AmountString(trimmed)
	return nil
}

func (a AmountString) String() string { return string(a) }

// VerificationResult is the parsed response of the gateway's server-side
// verification endpoint.
type VerificationResult struct {
	ResponseCode  string       `json:"response_code"`
	ReferenceNo   string       `json:"reference_no"`
	TransactionID string       `json:"transaction_id"`
	TotalAmount   AmountString `json:"total_amount"`
}

// Succeeded reports whether the response code belongs to the gateway's
// success set.
func (r VerificationResult) Succeeded(successCodes []string) bool {
	for _, code := range successCodes {
		if r.ResponseCode == code {
			return true
		}
	}
	return false
}

// AmountMinor converts the reported amount to minor units. Zero when the
// gateway omitted the amount.
func (r VerificationResult) AmountMinor() basket.Money {
	trimmed := strings.TrimSpace(r.TotalAmount.String())
	if trimmed == "" {
		return 0
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0
	}
	return basket.Money(math.Round(f * 100))
}

// Client calls the gateway's verification endpoint with merchant credentials.
type Client struct {
	HTTP          *http.Client
	BaseURL       string
	VerifyPath    string
	MerchantCode  string
	MerchantEmail string
	SecretKey     string
	Timeout       time.Duration
}

// Verify confirms a payment reference against the gateway. The call is
// bounded by the configured timeout; any transport failure maps to
// ErrVerification so the caller treats it as a failed verification.
func (c *Client) Verify(ctx context.Context, paymentReference string) (VerificationResult, error) {
	if c == nil || c.SecretKey == "" {
		return VerificationResult{}, ErrConfiguration
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	form := url.Values{}
	form.Set("merchant_email", c.MerchantEmail)
	form.Set("secret_key", c.SecretKey)
	form.Set("product_code", c.MerchantCode)
	form.Set("payment_reference", paymentReference)

	endpoint := strings.TrimRight(c.BaseURL, "/") + c.verifyPath()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return VerificationResult{}, fmt.Errorf("%w: %v", ErrVerification, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return VerificationResult{}, fmt.Errorf("%w: %v", ErrVerification, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return VerificationResult{}, fmt.Errorf("%w: unexpected status %d", ErrVerification, resp.StatusCode)
	}
	var result VerificationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return VerificationResult{}, fmt.Errorf("%w: decode response: %v", ErrVerification, err)
	}
	return result, nil
}

func (c *Client) verifyPath() string {
	path := strings.TrimSpace(c.VerifyPath)
	if path == "" {
		return "/api/epay/transaction/status"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}
