package ledger

import (
	"context"

	"paycore/internal/domain"
	"paycore/internal/models"
	"paycore/pkg/payment"

	"github.com/shopspring/decimal"
)

// PaymentStore is the persistence the ledger writes through.
// repository.PaymentRepository implements it.
type PaymentStore interface {
	Create(ctx context.Context, p *models.Payment) error
	GetByID(ctx context.Context, id string) (*models.Payment, error)
	GetByReference(ctx context.Context, ref string) (*models.Payment, error)
	Transition(ctx context.Context, id string, from []payment.Status, to payment.Status,
		updates map[string]any, onApplied func(ctx context.Context) error) (bool, error)
	UpdateRefund(ctx context.Context, id string, refund models.Refund) error
	ClaimRefund(ctx context.Context, id string, refund models.Refund) (bool, error)
	AppendAttempt(ctx context.Context, a *models.PaymentAttempt) error
	AppendHistory(ctx context.Context, h *models.PaymentHistory) error
}

// DonationUpdater mirrors terminal payment outcomes onto the donation.
type DonationUpdater interface {
	MarkCompleted(ctx context.Context, donationID string) error
	MarkFailed(ctx context.Context, donationID string) error
	Get(ctx context.Context, donationID string) (*models.Donation, error)
}

// DonorStats is a non-idempotent delta; the ledger calls it once per payment,
// inside the transaction that first moves the payment to completed.
type DonorStats interface {
	UpdateDonationStats(ctx context.Context, donorID string, amount decimal.Decimal) error
}

type Notifier interface {
	NotifyPaymentCompleted(ctx context.Context, p *models.Payment, d *models.Donation) error
	NotifyPaymentFailed(ctx context.Context, p *models.Payment, d *models.Donation, reason string) error
	NotifyPaymentStatusUpdate(ctx context.Context, p *models.Payment, old, new domain.Status) error
}

// Dispatcher runs post-commit side effects, each exactly once.
// notify.Dispatcher implements it.
type Dispatcher interface {
	Submit(name string, fn func(ctx context.Context) error) bool
}
