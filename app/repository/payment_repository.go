package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/TipQueue/app/models"
)

type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository creates a payment repository backed by GORM.
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) GetByExternalID(ctx context.Context, externalID string) (*models.Payment, error) {
	var p models.Payment
	if err := r.db.WithContext(ctx).Where("external_id = ?", externalID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *paymentRepository) CreateIfNotExists(ctx context.Context, payment *models.Payment) (bool, *models.Payment, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		DoNothing: true,
	}).Create(payment)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	stored, err := r.GetByExternalID(ctx, payment.ExternalID)
	if err != nil {
		return false, nil, err
	}
	return created, stored, nil
}

const sumColumns = `COALESCE(SUM(amount_gross), 0) AS gross_cents,
	COALESCE(SUM(COALESCE(provider_fee_cents, 0)), 0) AS provider_fee_cents,
	COALESCE(SUM(COALESCE(net_cents, amount_gross - COALESCE(provider_fee_cents, 0))), 0) AS net_cents,
	COUNT(*) AS count`

func (r *paymentRepository) succeeded(ctx context.Context, creatorSlug string, fromMs, toMs *int64) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("creator_slug = ? AND status = ?", creatorSlug, models.PaymentStatusSucceeded)
	if fromMs != nil {
		q = q.Where("created_at_ms >= ?", *fromMs)
	}
	if toMs != nil {
		q = q.Where("created_at_ms < ?", *toMs)
	}
	return q
}

func (r *paymentRepository) SumSucceeded(ctx context.Context, creatorSlug string, fromMs, toMs *int64) (PaymentSums, error) {
	var sums PaymentSums
	if err := r.succeeded(ctx, creatorSlug, fromMs, toMs).Select(sumColumns).Scan(&sums).Error; err != nil {
		return PaymentSums{}, err
	}
	return sums, nil
}

func (r *paymentRepository) SumSucceededByCurrency(ctx context.Context, creatorSlug string, fromMs, toMs *int64) ([]CurrencySums, error) {
	var out []CurrencySums
	err := r.succeeded(ctx, creatorSlug, fromMs, toMs).
		Select("currency, " + sumColumns).
		Group("currency").
		Order("currency ASC").
		Scan(&out).Error
	return out, err
}

func (r *paymentRepository) ListSucceededAmounts(ctx context.Context, creatorSlug string) ([]PaymentAmount, error) {
	var out []PaymentAmount
	err := r.db.WithContext(ctx).Model(&models.Payment{}).
		Select("amount_gross, provider_fee_cents, net_cents, created_at_ms").
		Where("creator_slug = ? AND status = ?", creatorSlug, models.PaymentStatusSucceeded).
		Order("created_at_ms ASC").
		Scan(&out).Error
	return out, err
}
