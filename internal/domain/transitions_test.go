package domain

import (
	"testing"

	"paycore/pkg/payment"

	"github.com/stretchr/testify/assert"
)

var allStatuses = []Status{
	payment.StatusPending,
	payment.StatusProcessing,
	payment.StatusCompleted,
	payment.StatusFailed,
	payment.StatusCancelled,
	payment.StatusRefunded,
	payment.StatusPartiallyRefunded,
	payment.StatusExpired,
}

func TestTerminalStatusesNeverLeaveForNonRefund(t *testing.T) {
	for _, from := range allStatuses {
		if !from.IsTerminal() {
			continue
		}
		for _, to := range allStatuses {
			if to == payment.StatusRefunded || to == payment.StatusPartiallyRefunded {
				continue
			}
			assert.NotEqual(t, Apply, Decide(from, to), "%s -> %s", from, to)
		}
	}
}

func TestRefundOnlyFromCompleted(t *testing.T) {
	for _, from := range allStatuses {
		want := from == payment.StatusCompleted
		assert.Equal(t, want, CanTransition(from, payment.StatusRefunded), from)
		assert.Equal(t, want, CanTransition(from, payment.StatusPartiallyRefunded), from)
	}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		from, to Status
		want     Decision
	}{
		{payment.StatusPending, payment.StatusProcessing, Apply},
		{payment.StatusProcessing, payment.StatusCompleted, Apply},
		{payment.StatusPending, payment.StatusCompleted, Apply},
		{payment.StatusProcessing, payment.StatusProcessing, NoOp},
		{payment.StatusProcessing, payment.StatusPending, NoOp},
		{payment.StatusCompleted, payment.StatusCompleted, NoOp},
		{payment.StatusRefunded, payment.StatusCompleted, NoOp},
		{payment.StatusFailed, payment.StatusExpired, NoOp},
		{payment.StatusCompleted, payment.StatusFailed, Conflict},
		{payment.StatusFailed, payment.StatusCompleted, Conflict},
		{payment.StatusExpired, payment.StatusProcessing, Conflict},
		{payment.StatusProcessing, payment.StatusRefunded, Conflict},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Decide(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestPredecessors(t *testing.T) {
	assert.ElementsMatch(t, []Status{payment.StatusPending, payment.StatusProcessing}, Predecessors(payment.StatusCompleted))
	assert.ElementsMatch(t, []Status{payment.StatusCompleted}, Predecessors(payment.StatusPartiallyRefunded))
	assert.Empty(t, Predecessors(payment.StatusPending))
}
