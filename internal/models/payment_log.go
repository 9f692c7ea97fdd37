package models

import (
	"encoding/json"
	"time"
)

// PaymentLogAction names the gateway interaction an audit row records.
type PaymentLogAction string

const (
	LogActionInitiate    PaymentLogAction = "initiate"
	LogActionCallback    PaymentLogAction = "callback"
	LogActionTransaction PaymentLogAction = "transaction"
)

// PaymentLog is an append-only audit row for one gateway request/response pair.
type PaymentLog struct {
	ID             int64            `db:"id" json:"id"`
	Action         PaymentLogAction `db:"action" json:"action"`
	TransactionID  string           `db:"transaction_id" json:"transactionId"`
	RegistrationID *string          `db:"registration_id" json:"registrationId,omitempty"`
	Endpoint       string           `db:"endpoint" json:"endpoint"`
	Request        json.RawMessage  `db:"request" json:"request"`
	Response       json.RawMessage  `db:"response" json:"response"`
	HTTPStatus     *int             `db:"http_status" json:"httpStatus,omitempty"`
	GatewayStatus  *string          `db:"gateway_status" json:"gatewayStatus,omitempty"`
	HashValid      *bool            `db:"hash_valid" json:"hashValid,omitempty"`
	ErrorMessage   *string          `db:"error_message" json:"errorMessage,omitempty"`
	CreatedAt      time.Time        `db:"created_at" json:"createdAt"`
}
