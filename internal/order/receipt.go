package order

import (
	"net/url"
	"strings"
)

// ReceiptURL builds the post-purchase confirmation page URL for an order.
func ReceiptURL(base, orderNumber string) string {
	values := url.Values{}
	values.Set("order_number", orderNumber)
	return strings.TrimRight(base, "/") + "?" + values.Encode()
}
