package repository

import (
	"context"
	"errors"
	"time"

	"paycore/internal/domain"
	"paycore/internal/models"

	"gorm.io/gorm"
)

// DonationRepository mirrors payment outcomes onto donations.
type DonationRepository struct {
	db *gorm.DB
}

func NewDonationRepository(db *gorm.DB) *DonationRepository {
	return &DonationRepository{db: db}
}

func (r *DonationRepository) Create(ctx context.Context, d *models.Donation) error {
	return conn(ctx, r.db).Create(d).Error
}

func (r *DonationRepository) Get(ctx context.Context, id string) (*models.Donation, error) {
	var d models.Donation
	err := conn(ctx, r.db).Where("id = ?", id).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrDonationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// MarkCompleted sets the donation completed. Recurring donations also record
// the execution; their next due date is left to the scheduler that owns it.
func (r *DonationRepository) MarkCompleted(ctx context.Context, id string) error {
	d, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	cols := map[string]any{"status": domain.DonationStatusCompleted}
	if d.IsRecurring {
		cols["execution_count"] = gorm.Expr("execution_count + 1")
		cols["last_executed_at"] = time.Now()
	}
	return conn(ctx, r.db).Model(&models.Donation{}).Where("id = ?", id).Updates(cols).Error
}

func (r *DonationRepository) MarkFailed(ctx context.Context, id string) error {
	return conn(ctx, r.db).Model(&models.Donation{}).
		Where("id = ? AND status <> ?", id, domain.DonationStatusCompleted).
		Update("status", domain.DonationStatusFailed).Error
}
