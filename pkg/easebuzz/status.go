package easebuzz

import "strings"

// Flow is the canonical outcome of a gateway status string.
type Flow string

const (
	FlowSuccess Flow = "success"
	FlowFailure Flow = "failure"
	FlowPending Flow = "pending"
	FlowUnknown Flow = "unknown"
)

// Status classification (keys are lowercased, spaces and hyphens become underscores).

// SuccessStatuses - payment captured
var SuccessStatuses = map[string]bool{
	"success":    true,
	"successful": true,
	"captured":   true,
	"paid":       true,
	"completed":  true,
}

// FailureStatuses - terminal, payment not taken
var FailureStatuses = map[string]bool{
	"failure":        true,
	"failed":         true,
	"usercancelled":  true,
	"user_cancelled": true,
	"cancelled":      true,
	"canceled":       true,
	"dropped":        true,
	"bounced":        true,
	"declined":       true,
	"rejected":       true,
	"error":          true,
}

// PendingStatuses - still in flight, check again later
var PendingStatuses = map[string]bool{
	"pending":    true,
	"initiated":  true,
	"in_process": true,
	"processing": true,
	"awaited":    true,
}

// ResolveFlow maps a free-text gateway status to a Flow. It is total: empty and
// unrecognized strings resolve to FlowUnknown.
func ResolveFlow(status string) Flow {
	s := strings.ToLower(strings.TrimSpace(status))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	switch {
	case SuccessStatuses[s]:
		return FlowSuccess
	case FailureStatuses[s]:
		return FlowFailure
	case PendingStatuses[s]:
		return FlowPending
	default:
		return FlowUnknown
	}
}

// IsTerminal reports whether the flow settles a payment.
func (f Flow) IsTerminal() bool {
	return f == FlowSuccess || f == FlowFailure
}
