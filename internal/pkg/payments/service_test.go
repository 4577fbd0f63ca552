package payments

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/membercraft/creditledger/app/models"
	"github.com/membercraft/creditledger/app/repository"
	"github.com/membercraft/creditledger/internal/pkg/ledger"
	"github.com/membercraft/creditledger/internal/pkg/tiers"
)

func newTestPayments() (*Service, *repository.MemoryStore) {
	store := repository.NewMemoryStore()
	repos := repository.MemoryRepositories(store)
	ledgerService := ledger.NewService(repos, tiers.StaticResolver{Tier: tiers.FreeTier()}, nil)
	return NewService(repos.WebhookEvent, ledgerService), store
}

func purchaseEvent(eventID string, credits int) WebhookEventInput {
	return WebhookEventInput{
		Provider:        "Stripe",
		ProviderEventID: eventID,
		EventType:       "checkout.completed",
		AccountID:       1,
		Credits:         credits,
		PayloadJSON:     `{"id":"` + eventID + `"}`,
	}
}

func TestGrantFromPurchase(t *testing.T) {
	svc, store := newTestPayments()

	granted, err := svc.GrantFromPurchase(context.Background(), purchaseEvent("evt_1", 200))
	require.NoError(t, err)
	assert.True(t, granted)

	allocation, err := store.GetByAccountID(1)
	require.NoError(t, err)
	assert.Equal(t, 200, allocation.OverageBalance)

	entries := store.Transactions()
	require.Len(t, entries, 1)
	assert.Equal(t, "overage_purchase", entries[0].ActionType)
	assert.Equal(t, -200, entries[0].CreditsUsed)

	meta, err := entries[0].Metadata()
	require.NoError(t, err)
	assert.Equal(t, "stripe", meta["provider"])
	assert.Equal(t, "evt_1", meta["provider_event_id"])
}

func TestGrantFromPurchaseIsIdempotent(t *testing.T) {
	svc, store := newTestPayments()

	granted, err := svc.GrantFromPurchase(context.Background(), purchaseEvent("evt_1", 200))
	require.NoError(t, err)
	assert.True(t, granted)

	// A provider retry of the same event grants nothing.
	granted, err = svc.GrantFromPurchase(context.Background(), purchaseEvent("evt_1", 200))
	require.NoError(t, err)
	assert.False(t, granted)

	allocation, err := store.GetByAccountID(1)
	require.NoError(t, err)
	assert.Equal(t, 200, allocation.OverageBalance)
	assert.Len(t, store.Transactions(), 1)
}

func TestRecordWebhookEventNormalizesProvider(t *testing.T) {
	svc, _ := newTestPayments()

	created, event, err := svc.RecordWebhookEvent(context.Background(), purchaseEvent("evt_2", 50))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "stripe", event.Provider)
}

func TestRecordWebhookEventHashFallback(t *testing.T) {
	svc, _ := newTestPayments()

	in := purchaseEvent("", 50)
	created, event, err := svc.RecordWebhookEvent(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, created)
	require.True(t, strings.HasPrefix(event.ProviderEventID, "hash:"))

	// The same payload hashes to the same synthetic id.
	created, replay, err := svc.RecordWebhookEvent(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, event.ProviderEventID, replay.ProviderEventID)
}

func TestRecordWebhookEventRequiresProvider(t *testing.T) {
	svc, _ := newTestPayments()

	in := purchaseEvent("evt_3", 50)
	in.Provider = "  "
	_, _, err := svc.RecordWebhookEvent(context.Background(), in)
	assert.Error(t, err)
}

func TestGrantFromPurchaseMarksProcessed(t *testing.T) {
	svc, store := newTestPayments()

	_, err := svc.GrantFromPurchase(context.Background(), purchaseEvent("evt_4", 75))
	require.NoError(t, err)

	_, event, err := store.CreateIfNotExists(&models.PaymentWebhookEvent{
		Provider:        "stripe",
		ProviderEventID: "evt_4",
	})
	require.NoError(t, err)
	require.NotNil(t, event.ProcessedAt)
	assert.Empty(t, event.ProcessingError)
}
