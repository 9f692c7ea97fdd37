package repository

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"

	"github.com/GTDGit/gtd_ticketing/internal/models"
)

// PaymentLogRepository appends and reads gateway audit rows.
type PaymentLogRepository struct {
	db *sqlx.DB
}

// NewPaymentLogRepository creates a new PaymentLogRepository.
func NewPaymentLogRepository(db *sqlx.DB) *PaymentLogRepository {
	return &PaymentLogRepository{db: db}
}

// jsonOrEmpty keeps NOT NULL jsonb columns valid.
func jsonOrEmpty(v json.RawMessage) []byte {
	if len(v) == 0 || !json.Valid(v) {
		return []byte("{}")
	}
	return v
}

// Create inserts a new audit row.
func (r *PaymentLogRepository) Create(ctx context.Context, l *models.PaymentLog) error {
	const q = `
        INSERT INTO payment_logs (
            action, transaction_id, registration_id, endpoint, request, response,
            http_status, gateway_status, hash_valid, error_message, created_at
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW()
        ) RETURNING id, created_at`

	return r.db.QueryRowxContext(ctx, q,
		l.Action, l.TransactionID, l.RegistrationID, l.Endpoint,
		jsonOrEmpty(l.Request), jsonOrEmpty(l.Response),
		l.HTTPStatus, l.GatewayStatus, l.HashValid, l.ErrorMessage,
	).Scan(&l.ID, &l.CreatedAt)
}

// ListByTransactionID returns all audit rows for a transaction ordered by creation time.
func (r *PaymentLogRepository) ListByTransactionID(ctx context.Context, transactionID string) ([]models.PaymentLog, error) {
	const q = `SELECT * FROM payment_logs WHERE transaction_id = $1 ORDER BY created_at ASC, id ASC`
	stmt, err := r.db.PreparexContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	var logs []models.PaymentLog
	if err := stmt.SelectContext(ctx, &logs, transactionID); err != nil {
		return nil, err
	}
	return logs, nil
}
