package repository

import (
	"context"
	"time"

	"paycore/internal/domain"
	"paycore/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Lifetime totals at which a donor is promoted.
var (
	SilverThreshold = decimal.NewFromInt(100000)
	GoldThreshold   = decimal.NewFromInt(1000000)
)

type DonorRepository struct {
	db *gorm.DB
}

func NewDonorRepository(db *gorm.DB) *DonorRepository {
	return &DonorRepository{db: db}
}

func (r *DonorRepository) Get(ctx context.Context, id string) (*models.Donor, error) {
	var d models.Donor
	if err := conn(ctx, r.db).Where("id = ?", id).First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// UpdateDonationStats adds amount to the donor's lifetime total and bumps the
// donation count. Callers run it inside the transaction that completed the
// payment so it happens exactly once.
func (r *DonorRepository) UpdateDonationStats(ctx context.Context, donorID string, amount decimal.Decimal) error {
	db := conn(ctx, r.db)
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.Donor{ID: donorID, Level: domain.DonorLevelBronze}).Error; err != nil {
		return err
	}
	// gorm writes map columns in name order, so level is computed from the
	// pre-update total on MySQL as well as Postgres.
	return db.Model(&models.Donor{}).Where("id = ?", donorID).Updates(map[string]any{
		"total_donated":    gorm.Expr("total_donated + ?", amount),
		"donation_count":   gorm.Expr("donation_count + 1"),
		"last_donation_at": time.Now(),
		"level": gorm.Expr("CASE WHEN total_donated + ? >= ? THEN ? WHEN total_donated + ? >= ? THEN ? ELSE ? END",
			amount, GoldThreshold, domain.DonorLevelGold,
			amount, SilverThreshold, domain.DonorLevelSilver,
			domain.DonorLevelBronze),
	}).Error
}
