package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/TipQueue/app/models"
)

type ticketRepository struct {
	db *gorm.DB
}

// NewTicketRepository creates a ticket repository backed by GORM.
func NewTicketRepository(db *gorm.DB) TicketRepository {
	return &ticketRepository{db: db}
}

func (r *ticketRepository) Create(ctx context.Context, ticket *models.Ticket) error {
	return r.db.WithContext(ctx).Create(ticket).Error
}

func (r *ticketRepository) GetByRef(ctx context.Context, ref string) (*models.Ticket, error) {
	var t models.Ticket
	if err := r.db.WithContext(ctx).Where("ref = ?", ref).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *ticketRepository) GetByPaymentIntentID(ctx context.Context, intentID string) (*models.Ticket, error) {
	var t models.Ticket
	if err := r.db.WithContext(ctx).Where("payment_intent_id = ?", intentID).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *ticketRepository) SetCheckoutSession(ctx context.Context, id uint, sessionID string) error {
	return r.db.WithContext(ctx).Model(&models.Ticket{}).
		Where("id = ?", id).
		Update("checkout_session_id", sessionID).Error
}

func (r *ticketRepository) CompareAndSetState(ctx context.Context, id uint, from, to models.TicketState, intentID string) (bool, error) {
	updates := map[string]interface{}{"state": to}
	if intentID != "" {
		updates["payment_intent_id"] = intentID
	}
	if to == models.TicketStateApproved || to == models.TicketStateRejected {
		updates["decided_at"] = time.Now().UTC()
	}
	tx := r.db.WithContext(ctx).Model(&models.Ticket{}).
		Where("id = ? AND state = ?", id, from).
		Updates(updates)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}
