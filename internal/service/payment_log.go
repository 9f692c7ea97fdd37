package service

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/GTDGit/gtd_ticketing/internal/models"
)

// maskedKeys are never persisted or echoed back in clear.
var maskedKeys = map[string]bool{"hash": true, "salt": true}

// maskFields copies fields with secrets masked.
func maskFields(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		if maskedKeys[k] && v != "" {
			v = "***MASKED***"
		}
		out[k] = v
	}
	return out
}

func toJSON(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func intPtr(i int) *int {
	if i == 0 {
		return nil
	}
	return &i
}

// writeLog persists an audit row. Audit failures are logged and never block the
// business update.
func writeLog(ctx context.Context, store PaymentLogStore, entry *models.PaymentLog) {
	if err := store.Create(ctx, entry); err != nil {
		log.Error().
			Err(err).
			Str("action", string(entry.Action)).
			Str("transaction_id", entry.TransactionID).
			Msg("Failed to write payment audit log")
	}
}
