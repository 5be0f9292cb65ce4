package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/ManuelReschke/TipQueue/app/models"
)

type creatorRepository struct {
	db *gorm.DB
}

// NewCreatorRepository creates a creator repository backed by GORM.
func NewCreatorRepository(db *gorm.DB) CreatorRepository {
	return &creatorRepository{db: db}
}

func (r *creatorRepository) Create(ctx context.Context, creator *models.Creator) error {
	return r.db.WithContext(ctx).Create(creator).Error
}

func (r *creatorRepository) GetBySlug(ctx context.Context, slug string) (*models.Creator, error) {
	var c models.Creator
	if err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *creatorRepository) GetByStripeAccountID(ctx context.Context, accountID string) (*models.Creator, error) {
	var c models.Creator
	if err := r.db.WithContext(ctx).Where("stripe_account_id = ?", accountID).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *creatorRepository) SetStripeAccountID(ctx context.Context, slug, accountID string) (*models.Creator, error) {
	tx := r.db.WithContext(ctx).Model(&models.Creator{}).
		Where("slug = ? AND stripe_account_id IS NULL", slug).
		Update("stripe_account_id", accountID)
	if tx.Error != nil {
		return nil, tx.Error
	}
	// RowsAffected == 0 means another request won; return what is stored.
	return r.GetBySlug(ctx, slug)
}

func (r *creatorRepository) SetPayoutEnabled(ctx context.Context, accountID string, enabled bool) (*models.Creator, error) {
	c, err := r.GetByStripeAccountID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if c.PayoutEnabled == enabled {
		return c, nil
	}
	if err := r.db.WithContext(ctx).Model(&models.Creator{}).
		Where("id = ?", c.ID).
		Update("payout_enabled", enabled).Error; err != nil {
		return nil, err
	}
	c.PayoutEnabled = enabled
	return c, nil
}

func (r *creatorRepository) ListWithStripeAccount(ctx context.Context, afterID uint, limit int) ([]models.Creator, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	var creators []models.Creator
	err := r.db.WithContext(ctx).
		Where("stripe_account_id IS NOT NULL AND stripe_account_id <> '' AND id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&creators).Error
	return creators, err
}
