package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Registration is a booking owned by the ticketing app. Payment reconciliation only
// touches its payment linkage and verification flags.
type Registration struct {
	ID            string          `db:"id" json:"id"`
	EventID       string          `db:"event_id" json:"eventId"`
	UserID        *string         `db:"user_id" json:"userId,omitempty"`
	AttendeeName  string          `db:"attendee_name" json:"attendeeName"`
	Email         string          `db:"email" json:"email"`
	Phone         *string         `db:"phone" json:"phone,omitempty"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	Quantity      int             `db:"quantity" json:"quantity"`
	TransactionID *string         `db:"transaction_id" json:"transactionId,omitempty"`
	PaymentStatus PaymentStatus   `db:"payment_status" json:"paymentStatus"`
	IsVerified    bool            `db:"is_verified" json:"isVerified"`
	IsWaitlisted  bool            `db:"is_waitlisted" json:"isWaitlisted"`
	TicketURL     *string         `db:"ticket_url" json:"ticketUrl,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updatedAt"`
}

// TransactionRef returns the assigned transaction id or "".
func (r *Registration) TransactionRef() string {
	if r.TransactionID == nil {
		return ""
	}
	return *r.TransactionID
}

// RegistrationLookup is the payment linkage of a registration.
type RegistrationLookup struct {
	RegistrationID string        `json:"registrationId"`
	TransactionID  string        `json:"transactionId"`
	PaymentStatus  PaymentStatus `json:"paymentStatus"`
}
