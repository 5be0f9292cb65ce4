package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/ManuelReschke/TipQueue/app/models"
	"github.com/ManuelReschke/TipQueue/app/repository"
)

// EventLog keeps the audit trail of verified provider webhooks.
type EventLog struct {
	repo repository.WebhookEventRepository
}

// NewEventLog creates an event log from an injected repository.
func NewEventLog(repo repository.WebhookEventRepository) *EventLog {
	return &EventLog{repo: repo}
}

// RecordWebhookEvent persists webhook payloads idempotently. Events without
// an id are keyed by the hash of their payload.
func (s *EventLog) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.BillingWebhookEvent, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.BillingWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		ObjectID:        strings.TrimSpace(in.ObjectID),
		PayloadJSON:     in.PayloadJSON,
	}
	return s.repo.CreateIfNotExists(ctx, event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *EventLog) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkProcessed(ctx, webhookEventID, errMsg)
}
