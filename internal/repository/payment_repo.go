package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/GTDGit/gtd_ticketing/internal/models"
)

// PaymentRepository stores payment rows and applies reconciliation outcomes.
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository creates a new PaymentRepository.
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// UpsertPending records an initiated payment. A re-initiation of the same
// transaction refreshes the amount while pending and the initiation time while
// not yet settled, so a retried decline is picked up by the pending scan again.
func (r *PaymentRepository) UpsertPending(ctx context.Context, p *models.Payment) error {
	const q = `
        INSERT INTO payments (
            registration_id, transaction_id, amount, status, initiated_at, created_at, updated_at
        ) VALUES (
            $1, $2, $3, 'pending', NOW(), NOW(), NOW()
        )
        ON CONFLICT (transaction_id) DO UPDATE SET
            amount = CASE WHEN payments.status = 'pending' THEN EXCLUDED.amount ELSE payments.amount END,
            initiated_at = CASE WHEN payments.status IN ('pending', 'failed') THEN NOW() ELSE payments.initiated_at END,
            updated_at = NOW()
        RETURNING id, status, initiated_at, created_at, updated_at`

	return r.db.QueryRowxContext(ctx, q, p.RegistrationID, p.TransactionID, p.Amount).
		Scan(&p.ID, &p.Status, &p.InitiatedAt, &p.CreatedAt, &p.UpdatedAt)
}

// GetByRegistrationID returns the authoritative payment for a registration or sql.ErrNoRows.
func (r *PaymentRepository) GetByRegistrationID(ctx context.Context, registrationID string) (*models.Payment, error) {
	const q = `SELECT * FROM payments WHERE registration_id = $1 LIMIT 1`
	stmt, err := r.db.PreparexContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	var p models.Payment
	if err := stmt.GetContext(ctx, &p, registrationID); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPendingRegistrationIDs pages through registrations whose payment is pending,
// oldest first. Declined payments initiated again after completion count as pending.
func (r *PaymentRepository) ListPendingRegistrationIDs(ctx context.Context, offset, limit int) ([]string, error) {
	const q = `
        SELECT registration_id FROM payments
        WHERE status = 'pending'
           OR (status = 'failed' AND completed_at IS NOT NULL AND initiated_at > completed_at)
        ORDER BY created_at ASC, id ASC
        OFFSET $1 LIMIT $2`

	stmt, err := r.db.PreparexContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	var ids []string
	if err := stmt.SelectContext(ctx, &ids, offset, limit); err != nil {
		return nil, err
	}
	return ids, nil
}

// ApplyOutcome moves a registration and its payment to the outcome status inside
// one transaction holding the registration row lock. Outcomes that are not an
// allowed transition from the locked status leave both rows untouched.
func (r *PaymentRepository) ApplyOutcome(ctx context.Context, o models.PaymentOutcome) (*models.ApplyResult, error) {
	if !o.Status.IsValid() {
		return nil, fmt.Errorf("unknown payment status %q", o.Status)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const lockQ = `SELECT` + registrationColumns + ` FROM registrations WHERE id = $1 FOR UPDATE`
	var reg models.Registration
	if err := tx.GetContext(ctx, &reg, lockQ, o.RegistrationID); err != nil {
		return nil, err
	}
	if reg.TransactionRef() != o.TransactionID {
		return nil, fmt.Errorf("transaction %s does not belong to registration %s", o.TransactionID, o.RegistrationID)
	}

	res := &models.ApplyResult{Previous: reg.PaymentStatus, Current: reg.PaymentStatus, Registration: &reg}
	if !models.CanTransition(reg.PaymentStatus, o.Status) {
		if reg.PaymentStatus != o.Status {
			log.Warn().
				Str("registration_id", o.RegistrationID).
				Str("transaction_id", o.TransactionID).
				Str("from", string(reg.PaymentStatus)).
				Str("to", string(o.Status)).
				Msg("Ignoring disallowed payment status transition")
		}
		return res, nil
	}

	const regQ = `
        UPDATE registrations SET
            payment_status = $2,
            is_verified = CASE WHEN $2 = 'paid' THEN TRUE ELSE is_verified END,
            updated_at = NOW()
        WHERE id = $1`
	if _, err := tx.ExecContext(ctx, regQ, o.RegistrationID, o.Status); err != nil {
		return nil, fmt.Errorf("update registration: %w", err)
	}

	const payQ = `
        INSERT INTO payments (
            registration_id, transaction_id, amount, refund_amount, status, mode,
            gateway_response_message, gateway_payment_id, initiated_at, completed_at, refunded_at,
            created_at, updated_at
        ) VALUES (
            $1, $2, $3, $4, $5, NULLIF($6, ''),
            NULLIF($7, ''), NULLIF($8, ''), NOW(),
            CASE WHEN $5 IN ('paid', 'failed') THEN NOW() END,
            CASE WHEN $5 = 'refunded' THEN NOW() END,
            NOW(), NOW()
        )
        ON CONFLICT (transaction_id) DO UPDATE SET
            status = EXCLUDED.status,
            refund_amount = CASE WHEN EXCLUDED.status = 'refunded' THEN EXCLUDED.refund_amount ELSE payments.refund_amount END,
            mode = COALESCE(EXCLUDED.mode, payments.mode),
            gateway_response_message = COALESCE(EXCLUDED.gateway_response_message, payments.gateway_response_message),
            gateway_payment_id = COALESCE(EXCLUDED.gateway_payment_id, payments.gateway_payment_id),
            completed_at = CASE WHEN EXCLUDED.status IN ('paid', 'failed') THEN NOW() ELSE payments.completed_at END,
            refunded_at = CASE WHEN EXCLUDED.status = 'refunded' THEN NOW() ELSE payments.refunded_at END,
            updated_at = NOW()`
	amount := o.Amount
	if amount.IsZero() {
		amount = reg.Amount
	}
	if _, err := tx.ExecContext(ctx, payQ,
		o.RegistrationID, o.TransactionID, amount, o.RefundAmount, o.Status, o.Mode,
		o.Message, o.GatewayPaymentID,
	); err != nil {
		return nil, fmt.Errorf("upsert payment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	reg.PaymentStatus = o.Status
	res.Current = o.Status
	res.Transitioned = true
	return res, nil
}

// IsNotFound reports whether err means no row matched.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
