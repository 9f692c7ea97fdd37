package service

import (
	"context"

	"github.com/GTDGit/gtd_ticketing/internal/models"
	"github.com/GTDGit/gtd_ticketing/pkg/easebuzz"
)

// RegistrationStore is the booking data the engine reads and links payments to.
type RegistrationStore interface {
	GetByID(ctx context.Context, id string) (*models.Registration, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*models.Registration, error)
	AssignTransactionID(ctx context.Context, id, transactionID string) (string, error)
}

// PaymentLedger stores payment rows and applies outcomes atomically.
type PaymentLedger interface {
	UpsertPending(ctx context.Context, p *models.Payment) error
	GetByRegistrationID(ctx context.Context, registrationID string) (*models.Payment, error)
	ListPendingRegistrationIDs(ctx context.Context, offset, limit int) ([]string, error)
	ApplyOutcome(ctx context.Context, o models.PaymentOutcome) (*models.ApplyResult, error)
}

// PaymentLogStore is the append-only gateway audit trail.
type PaymentLogStore interface {
	Create(ctx context.Context, l *models.PaymentLog) error
	ListByTransactionID(ctx context.Context, transactionID string) ([]models.PaymentLog, error)
}

// Gateway is the subset of the gateway client the engine uses.
type Gateway interface {
	Signer() *easebuzz.Signer
	PaymentURL(accessKey string) string
	BuildInitiatePayload(in easebuzz.InitiateRequest, callbackBase string) (*easebuzz.InitiatePayload, error)
	InitiateTransaction(ctx context.Context, payload *easebuzz.InitiatePayload) easebuzz.Response
	RetrieveTransaction(ctx context.Context, transactionID string) easebuzz.RetrieveResult
}

// Locker serializes reconciliation of one transaction across instances.
type Locker interface {
	Acquire(ctx context.Context, transactionID string) (release func(), err error)
}

// nopLocker is used when no shared lock backend is configured.
type nopLocker struct{}

func (nopLocker) Acquire(context.Context, string) (func(), error) {
	return func() {}, nil
}
