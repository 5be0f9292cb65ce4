package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/TipQueue/app/models"
)

type payoutRepository struct {
	db *gorm.DB
}

// NewPayoutRepository creates a payout repository backed by GORM.
func NewPayoutRepository(db *gorm.DB) PayoutRepository {
	return &payoutRepository{db: db}
}

func (r *payoutRepository) GetByPeriod(ctx context.Context, creatorSlug string, start, end time.Time) (*models.Payout, error) {
	var p models.Payout
	err := r.db.WithContext(ctx).
		Where("creator_slug = ? AND period_start = ? AND period_end = ?", creatorSlug, start.UTC(), end.UTC()).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *payoutRepository) Create(ctx context.Context, payout *models.Payout) error {
	payout.PeriodStart = payout.PeriodStart.UTC()
	payout.PeriodEnd = payout.PeriodEnd.UTC()
	return r.db.WithContext(ctx).Create(payout).Error
}

func (r *payoutRepository) OverwriteAmounts(ctx context.Context, id uint, payout *models.Payout) error {
	updates := amountColumns(payout)
	updates["status"] = models.PayoutStatusPending
	return r.db.WithContext(ctx).Model(&models.Payout{}).Where("id = ?", id).Updates(updates).Error
}

func (r *payoutRepository) OverwritePendingAmounts(ctx context.Context, id uint, payout *models.Payout) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&models.Payout{}).
		Where("id = ? AND status = ?", id, models.PayoutStatusPending).
		Updates(amountColumns(payout))
	if tx.Error != nil {
		return false, tx.Error
	}
	if tx.RowsAffected > 0 {
		return true, nil
	}
	// MySQL reports zero affected rows when the values did not change.
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Payout{}).
		Where("id = ? AND status = ?", id, models.PayoutStatusPending).
		Count(&n).Error
	return n > 0, err
}

func amountColumns(payout *models.Payout) map[string]interface{} {
	return map[string]interface{}{
		"gross_cents":        payout.GrossCents,
		"platform_fee_cents": payout.PlatformFeeCents,
		"payout_cents":       payout.PayoutCents,
		"currency":           payout.Currency,
		"fee_policy":         payout.FeePolicy,
	}
}

func (r *payoutRepository) LatestPending(ctx context.Context, creatorSlug string) (*models.Payout, error) {
	var p models.Payout
	err := r.db.WithContext(ctx).
		Where("creator_slug = ? AND status = ?", creatorSlug, models.PayoutStatusPending).
		Order("period_start DESC").
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *payoutRepository) ListByCreator(ctx context.Context, creatorSlug string, limit int) ([]models.Payout, error) {
	var payouts []models.Payout
	err := r.db.WithContext(ctx).
		Where("creator_slug = ?", creatorSlug).
		Order("period_start DESC").
		Limit(limit).
		Find(&payouts).Error
	return payouts, err
}

func (r *payoutRepository) ListByPeriod(ctx context.Context, start, end time.Time) ([]models.Payout, error) {
	var payouts []models.Payout
	err := r.db.WithContext(ctx).
		Where("period_start = ? AND period_end = ?", start.UTC(), end.UTC()).
		Order("creator_slug ASC").
		Find(&payouts).Error
	return payouts, err
}
