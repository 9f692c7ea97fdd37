package sse

import (
	"context"
	"time"

	"github.com/GTDGit/gtd_ticketing/internal/models"
)

// HubNotifier forwards payment events to connected admin dashboards.
type HubNotifier struct {
	hub *Hub
}

// NewHubNotifier creates a notifier backed by the given Hub.
func NewHubNotifier(hub *Hub) *HubNotifier {
	return &HubNotifier{hub: hub}
}

// Notify broadcasts the event; it never fails.
func (n *HubNotifier) Notify(_ context.Context, ev *models.PaymentEvent) error {
	if n.hub.ClientCount() == 0 {
		return nil
	}
	n.hub.Broadcast(paymentToEvent(ev))
	return nil
}

func paymentToEvent(ev *models.PaymentEvent) *PaymentStatusEvent {
	ts := ev.OccurredAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return &PaymentStatusEvent{
		Event:          EventPaymentStatusChanged,
		Type:           string(ev.Type),
		RegistrationID: ev.RegistrationID,
		TransactionID:  ev.TransactionID,
		EventID:        ev.EventID,
		PreviousStatus: string(ev.PreviousStatus),
		Status:         string(ev.Status),
		Amount:         ev.Amount,
		Mode:           ev.Mode,
		Message:        ev.Message,
		Source:         ev.Source,
		Timestamp:      ts,
	}
}
