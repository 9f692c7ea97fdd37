package notify

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/GTDGit/gtd_ticketing/internal/models"
)

// Notifier delivers payment events to downstream consumers (ticket generation,
// confirmation and failure emails, admin dashboards).
type Notifier interface {
	Notify(ctx context.Context, event *models.PaymentEvent) error
}

// Multi fans an event out to several notifiers. Every notifier is tried; errors
// are joined.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event *models.PaymentEvent) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier only logs events. Used when no broker is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, event *models.PaymentEvent) error {
	log.Info().
		Str("event", string(event.Type)).
		Str("registration_id", event.RegistrationID).
		Str("transaction_id", event.TransactionID).
		Str("status", string(event.Status)).
		Bool("send_email", event.SendEmail).
		Msg("[NOTIFY] Payment event")
	return nil
}
