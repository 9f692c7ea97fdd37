package models

import (
	"encoding/json"
	"time"
)

// HashVerification is the outcome of checking a gateway signature.
type HashVerification struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// TransactionStatusResult is computed per reconciliation pass.
type TransactionStatusResult struct {
	RegistrationID   string           `json:"registrationId"`
	TransactionID    string           `json:"transactionId"`
	Flow             string           `json:"flow"`
	GatewayStatus    string           `json:"gatewayStatus,omitempty"`
	HashVerification HashVerification `json:"hashVerification"`
	PaymentStatus    PaymentStatus    `json:"paymentStatus"`
	Transitioned     bool             `json:"transitioned"`
	InProgress       bool             `json:"inProgress,omitempty"`
	Message          string           `json:"message,omitempty"`
	Payload          json.RawMessage  `json:"payload,omitempty"`
}

// SyncItemResult is the per-registration outcome of a batch reconciliation.
type SyncItemResult struct {
	RegistrationID string                   `json:"registrationId"`
	OK             bool                     `json:"ok"`
	Flow           string                   `json:"flow,omitempty"`
	Error          string                   `json:"error,omitempty"`
	Result         *TransactionStatusResult `json:"result,omitempty"`
}

// PaymentEventType names a payment notification.
type PaymentEventType string

const (
	EventPaymentSucceeded PaymentEventType = "payment.succeeded"
	EventPaymentFailed    PaymentEventType = "payment.failed"
	EventPaymentRefunded  PaymentEventType = "payment.refunded"
)

// EventTypeFor maps a reached status to its notification type.
func EventTypeFor(s PaymentStatus) (PaymentEventType, bool) {
	switch s {
	case PaymentPaid:
		return EventPaymentSucceeded, true
	case PaymentFailed:
		return EventPaymentFailed, true
	case PaymentRefunded:
		return EventPaymentRefunded, true
	}
	return "", false
}

// PaymentEvent is emitted once per observed status transition. Downstream consumers
// generate tickets and send emails from it.
type PaymentEvent struct {
	Type           PaymentEventType `json:"type"`
	RegistrationID string           `json:"registrationId"`
	TransactionID  string           `json:"transactionId"`
	EventID        string           `json:"eventId"`
	UserID         string           `json:"userId,omitempty"`
	AttendeeName   string           `json:"attendeeName"`
	Email          string           `json:"email"`
	Amount         string           `json:"amount"`
	Quantity       int              `json:"quantity"`
	PreviousStatus PaymentStatus    `json:"previousStatus"`
	Status         PaymentStatus    `json:"status"`
	Mode           string           `json:"mode,omitempty"`
	Message        string           `json:"message,omitempty"`
	SendEmail      bool             `json:"sendEmail"`
	Source         string           `json:"source"`
	OccurredAt     time.Time        `json:"occurredAt"`
}

// SyncBatchReport summarizes one sub-request of the pending sync job.
type SyncBatchReport struct {
	Batch      int    `json:"batch"`
	Size       int    `json:"size"`
	OK         bool   `json:"ok"`
	HTTPStatus int    `json:"httpStatus,omitempty"`
	Successful int    `json:"successful"`
	Failed     int    `json:"failed"`
	Error      string `json:"error,omitempty"`
}

// SyncTotals aggregates registration outcomes across batches.
type SyncTotals struct {
	Registrations int `json:"registrations"`
	Successful    int `json:"successful"`
	Failed        int `json:"failed"`
}

// SyncReport is the result of a pending sync run.
type SyncReport struct {
	BatchSize        int               `json:"batchSize"`
	ScanPageSize     int               `json:"scanPageSize"`
	ScannedPages     int               `json:"scannedPages"`
	Batches          []SyncBatchReport `json:"batches"`
	ProcessedBatches int               `json:"processedBatches"`
	Totals           SyncTotals        `json:"totals"`
	StartedAt        time.Time         `json:"startedAt"`
	FinishedAt       time.Time         `json:"finishedAt"`
}
