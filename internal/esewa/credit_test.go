package esewa_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/esewa-checkout/internal/esewa"
)

func TestIssueCreditAlwaysUnsupported(t *testing.T) {
	var buf bytes.Buffer
	issuer := esewa.CreditIssuer{Logger: zerolog.New(&buf)}

	err := issuer.IssueCredit(context.Background(), "ESW-8K4J2M1Q", "0KDL6NA", 11300, "NPR")
	require.True(t, errors.Is(err, esewa.ErrUnsupportedOperation))

	logged := buf.String()
	require.Contains(t, logged, "ESW-8K4J2M1Q")
	require.Contains(t, logged, "0KDL6NA")
	require.Contains(t, logged, "cannot issue credits")
}
