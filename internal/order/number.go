package order

import (
	"errors"
	"fmt"
	"strings"

	hashids "github.com/speps/go-hashids/v2"
)

// ErrBadReference indicates a gateway reference number that does not decode
// to a basket id.
var ErrBadReference = errors.New("reference does not map to a basket")

// NumberCodec converts between basket ids and order numbers. The gateway
// echoes the order number back as its reference number, so the codec is the
// only link between a merchant notification and the basket that produced it.
type NumberCodec struct {
	Prefix string
	h      *hashids.HashID
}

// NewNumberCodec builds a codec using the provided salt and prefix.
func NewNumberCodec(salt, prefix string) (*NumberCodec, error) {
	data := hashids.NewData()
	data.Salt = salt
	data.MinLength = 8
	h, err := hashids.NewWithData(data)
	if err != nil {
		return nil, fmt.Errorf("order number codec: %w", err)
	}
	if prefix == "" {
		prefix = "ESW"
	}
	return &NumberCodec{Prefix: prefix, h: h}, nil
}

// Generate returns the order number for a basket id.
func (c *NumberCodec) Generate(basketID int64) (string, error) {
	if basketID <= 0 {
		return "", fmt.Errorf("generate order number: invalid basket id %d", basketID)
	}
	code, err := c.h.EncodeInt64([]int64{basketID})
	if err != nil {
		return "", fmt.Errorf("generate order number: %w", err)
	}
	return fmt.Sprintf("%s-%s", c.Prefix, code), nil
}

// BasketID decodes a gateway reference number back to the basket id.
func (c *NumberCodec) BasketID(reference string) (int64, error) {
	reference = strings.TrimSpace(reference)
	code, ok := strings.CutPrefix(reference, c.Prefix+"-")
	if !ok || code == "" {
		return 0, ErrBadReference
	}
	ids, err := c.h.DecodeInt64WithError(code)
	if err != nil || len(ids) != 1 || ids[0] <= 0 {
		return 0, ErrBadReference
	}
	return ids[0], nil
}
