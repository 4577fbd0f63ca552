package payments

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2/log"

	"github.com/membercraft/creditledger/app/models"
	"github.com/membercraft/creditledger/app/repository"
	"github.com/membercraft/creditledger/internal/pkg/ledger"
)

// Service turns verified purchase confirmations into overage grants. It
// stores every inbound event idempotently, so a provider retrying the same
// webhook grants credits at most once. Payload signatures are verified at the
// transport layer before events reach this service.
type Service struct {
	repo   repository.WebhookEventRepository
	ledger *ledger.Service
}

// NewService creates a payments service from an injected repository and the
// ledger engine.
func NewService(repo repository.WebhookEventRepository, ledgerService *ledger.Service) *Service {
	return &Service{repo: repo, ledger: ledgerService}
}

// WebhookEventInput is the normalized input for purchase confirmation events.
type WebhookEventInput struct {
	Provider        string `json:"provider" validate:"required"`
	ProviderEventID string `json:"provider_event_id"`
	EventType       string `json:"event_type"`
	AccountID       uint   `json:"account_id" validate:"required"`
	Credits         int    `json:"credits" validate:"required,gt=0"`
	PayloadJSON     string `json:"payload_json"`
}

// RecordWebhookEvent persists a purchase confirmation idempotently. Returns
// whether this call created the event; a duplicate is not an error.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.PaymentWebhookEvent, error) {
	_ = ctx
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.PaymentWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		AccountID:       in.AccountID,
		Credits:         in.Credits,
		PayloadJSON:     in.PayloadJSON,
	}
	return s.repo.CreateIfNotExists(event)
}

// GrantFromPurchase records the confirmation event and, when it is new,
// applies the overage grant. Replayed events return the stored row without
// granting again.
func (s *Service) GrantFromPurchase(ctx context.Context, in WebhookEventInput) (bool, error) {
	created, event, err := s.RecordWebhookEvent(ctx, in)
	if err != nil {
		return false, err
	}
	if !created {
		log.Infof("[Payments] duplicate event %s/%s ignored", event.Provider, event.ProviderEventID)
		return false, nil
	}

	grantErr := s.ledger.GrantOverage(ctx, in.AccountID, in.Credits, map[string]string{
		"provider":          event.Provider,
		"provider_event_id": event.ProviderEventID,
		"event_type":        event.EventType,
		"credits":           strconv.Itoa(in.Credits),
	})
	if err := s.markProcessed(event.ID, grantErr); err != nil {
		log.Errorf("[Payments] failed to mark event %d processed: %v", event.ID, err)
	}
	if grantErr != nil {
		return false, grantErr
	}
	return true, nil
}

func (s *Service) markProcessed(eventID uint, processingErr error) error {
	msg := ""
	if processingErr != nil {
		msg = processingErr.Error()
	}
	return s.repo.MarkProcessed(eventID, msg)
}
