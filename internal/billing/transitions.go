// Package billing holds the plan catalog and the subscription transition table.
package billing

import "github.com/PRX2112/image-opration-tools-sub001/internal/model"

// Transition returns the status a subscription in from moves to on a gateway
// event of kind, and whether the status changes. Terminal states never move,
// and unknown events never produce a transition.
func Transition(from model.SubscriptionStatus, kind model.GatewayEventKind) (model.SubscriptionStatus, bool) {
	if from.Terminal() {
		return from, false
	}
	to := from
	switch kind {
	case model.EventActivated:
		to = model.SubscriptionActive
	case model.EventCharged:
		// payment is recorded; status is unchanged
	case model.EventCancelled:
		if from == model.SubscriptionActive || from == model.SubscriptionPaused {
			to = model.SubscriptionCancelled
		}
	case model.EventCompleted:
		if from == model.SubscriptionActive {
			to = model.SubscriptionExpired
		}
	case model.EventPaused:
		if from == model.SubscriptionActive {
			to = model.SubscriptionPaused
		}
	case model.EventResumed:
		if from == model.SubscriptionPaused {
			to = model.SubscriptionActive
		}
	default:
	}
	return to, to != from
}

// RecordsPayment reports whether an event of kind carries a payment to log.
func RecordsPayment(kind model.GatewayEventKind) bool {
	return kind == model.EventCharged
}
