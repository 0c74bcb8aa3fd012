package domain

import "paycore/pkg/payment"

var transitions = map[Status][]Status{
	payment.StatusPending: {
		payment.StatusProcessing,
		payment.StatusFailed,
		payment.StatusCompleted,
		payment.StatusCancelled,
		payment.StatusExpired,
	},
	payment.StatusProcessing: {
		payment.StatusCompleted,
		payment.StatusFailed,
		payment.StatusCancelled,
		payment.StatusExpired,
	},
	payment.StatusCompleted: {
		payment.StatusRefunded,
		payment.StatusPartiallyRefunded,
	},
}

// predecessors is the inverse of transitions.
var predecessors = func() map[Status][]Status {
	out := make(map[Status][]Status)
	for from, tos := range transitions {
		for _, to := range tos {
			out[to] = append(out[to], from)
		}
	}
	return out
}()

// CanTransition reports whether from -> to is an edge of the status graph.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Predecessors lists the statuses a payment may be in for a write to `to`
// to be accepted. It is the IN (...) set of the conditional update.
func Predecessors(to Status) []Status {
	return append([]Status(nil), predecessors[to]...)
}

// Family groups statuses by direction for idempotency checks.
type Family int

const (
	FamilyNone Family = iota
	FamilySuccess
	FamilyFailure
)

func FamilyOf(s Status) Family {
	switch s {
	case payment.StatusCompleted, payment.StatusRefunded, payment.StatusPartiallyRefunded:
		return FamilySuccess
	case payment.StatusFailed, payment.StatusCancelled, payment.StatusExpired:
		return FamilyFailure
	}
	return FamilyNone
}

// Decision is the outcome of checking a requested transition.
type Decision int

const (
	Apply Decision = iota
	NoOp
	Conflict
)

// Decide classifies from -> to. Repeating a provider-still-pending report on
// a processing payment, or reporting a terminal outcome in the direction the
// payment already went, is a no-op. Refund statuses never arrive through
// provider reports, so a completed payment asked to complete again is a no-op
// rather than a refund.
func Decide(from, to Status) Decision {
	if from == to {
		return NoOp
	}
	if CanTransition(from, to) {
		return Apply
	}
	if from.IsTerminal() && FamilyOf(from) == FamilyOf(to) {
		return NoOp
	}
	if from == payment.StatusProcessing && to == payment.StatusPending {
		return NoOp
	}
	return Conflict
}

// IsOpen reports whether the payment still waits for a provider outcome.
func IsOpen(s Status) bool {
	return s == payment.StatusPending || s == payment.StatusProcessing
}
