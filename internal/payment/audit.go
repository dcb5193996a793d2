package payment

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/jackc/pgx/v5/pgxpool"
)

// UnknownTransactionID is recorded when the notification never reached a
// verified gateway transaction id.
const UnknownTransactionID = "Unknown"

// AuditRecorder persists the raw processor payload for a notification.
// Exactly one record is written per inbound notification, whatever the
// outcome of processing.
type AuditRecorder interface {
	Record(ctx context.Context, payload url.Values, transactionID string, basketID *int64) (int64, error)
}

// Recorder writes audit rows to payment_processor_responses. It runs
// outside any order transaction so the record survives a rollback.
type Recorder struct {
	Pool *pgxpool.Pool
}

func (r *Recorder) Record(ctx context.Context, payload url.Values, transactionID string, basketID *int64) (int64, error) {
	raw, err := json.Marshal(flattenValues(payload))
	if err != nil {
		return 0, err
	}
	if transactionID == "" {
		transactionID = UnknownTransactionID
	}
	var id int64
	err = r.Pool.QueryRow(ctx, `
		INSERT INTO payment_processor_responses (transaction_id, basket_id, payload)
		VALUES ($1, $2, $3)
		RETURNING id
	`, transactionID, basketID, raw).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// flattenValues keeps single-valued form fields as plain strings so the
// stored payload reads like the original notification.
func flattenValues(v url.Values) map[string]any {
	out := make(map[string]any, len(v))
	for k, vals := range v {
		if len(vals) == 1 {
			out[k] = vals[0]
			continue
		}
		out[k] = vals
	}
	return out
}
