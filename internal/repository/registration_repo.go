package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/GTDGit/gtd_ticketing/internal/models"
)

// RegistrationRepository reads booking rows and maintains their payment linkage.
type RegistrationRepository struct {
	db *sqlx.DB
}

// NewRegistrationRepository creates a new RegistrationRepository.
func NewRegistrationRepository(db *sqlx.DB) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

const registrationColumns = `
    id, event_id, user_id, attendee_name, email, phone, amount, quantity,
    transaction_id, payment_status, is_verified, is_waitlisted, ticket_url,
    created_at, updated_at`

// GetByID returns a registration by id or sql.ErrNoRows.
func (r *RegistrationRepository) GetByID(ctx context.Context, id string) (*models.Registration, error) {
	const q = `SELECT` + registrationColumns + ` FROM registrations WHERE id = $1`
	stmt, err := r.db.PreparexContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	var reg models.Registration
	if err := stmt.GetContext(ctx, &reg, id); err != nil {
		return nil, err
	}
	return &reg, nil
}

// GetByTransactionID returns the registration holding a transaction id or sql.ErrNoRows.
func (r *RegistrationRepository) GetByTransactionID(ctx context.Context, transactionID string) (*models.Registration, error) {
	const q = `SELECT` + registrationColumns + ` FROM registrations WHERE transaction_id = $1 LIMIT 1`
	stmt, err := r.db.PreparexContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	var reg models.Registration
	if err := stmt.GetContext(ctx, &reg, transactionID); err != nil {
		return nil, err
	}
	return &reg, nil
}

// AssignTransactionID sets the transaction id if none is assigned yet and returns
// the id the registration ends up with. The first assignment wins.
func (r *RegistrationRepository) AssignTransactionID(ctx context.Context, id, transactionID string) (string, error) {
	const q = `
        UPDATE registrations
        SET transaction_id = $2, updated_at = NOW()
        WHERE id = $1 AND transaction_id IS NULL
        RETURNING transaction_id`

	var assigned string
	err := r.db.QueryRowxContext(ctx, q, id, transactionID).Scan(&assigned)
	if err == nil {
		return assigned, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}

	// Lost the race or already assigned: report the existing id.
	const current = `SELECT transaction_id FROM registrations WHERE id = $1`
	var existing sql.NullString
	if err := r.db.QueryRowxContext(ctx, current, id).Scan(&existing); err != nil {
		return "", err
	}
	if !existing.Valid {
		return "", sql.ErrNoRows
	}
	return existing.String, nil
}
