package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the business payment state shared by registrations and payments.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// IsValid reports whether s is a known status.
func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

// allowedTransitions lists every status change reconciliation may apply.
// failed -> paid covers a retry that settles after an earlier decline.
var allowedTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending: {PaymentPaid, PaymentFailed},
	PaymentFailed:  {PaymentPaid},
	PaymentPaid:    {PaymentRefunded},
}

// CanTransition reports whether a payment may move from one status to another.
// Re-applying the current status is not a transition.
func CanTransition(from, to PaymentStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Payment is the authoritative gateway payment row for a registration.
type Payment struct {
	ID                     int64           `db:"id" json:"id"`
	RegistrationID         string          `db:"registration_id" json:"registrationId"`
	TransactionID          string          `db:"transaction_id" json:"transactionId"`
	Amount                 decimal.Decimal `db:"amount" json:"amount"`
	RefundAmount           decimal.Decimal `db:"refund_amount" json:"refundAmount"`
	Status                 PaymentStatus   `db:"status" json:"status"`
	Mode                   *string         `db:"mode" json:"mode,omitempty"`
	GatewayResponseMessage *string         `db:"gateway_response_message" json:"gatewayResponseMessage,omitempty"`
	GatewayPaymentID       *string         `db:"gateway_payment_id" json:"gatewayPaymentId,omitempty"`
	InitiatedAt            time.Time       `db:"initiated_at" json:"initiatedAt"`
	CompletedAt            *time.Time      `db:"completed_at" json:"completedAt,omitempty"`
	RefundedAt             *time.Time      `db:"refunded_at" json:"refundedAt,omitempty"`
	CreatedAt              time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt              time.Time       `db:"updated_at" json:"updatedAt"`
}

// PaymentOutcome is a verified gateway result ready to be applied to a registration.
type PaymentOutcome struct {
	RegistrationID   string
	TransactionID    string
	Status           PaymentStatus
	Amount           decimal.Decimal
	RefundAmount     decimal.Decimal
	Mode             string
	Message          string
	GatewayPaymentID string
}

// ApplyResult describes what applying an outcome actually changed.
type ApplyResult struct {
	Previous     PaymentStatus
	Current      PaymentStatus
	Transitioned bool
	Registration *Registration
}
