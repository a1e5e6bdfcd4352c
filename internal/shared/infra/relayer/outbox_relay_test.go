package relayer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	auctionDomain "github.com/davicafu/auctionlab/internal/auction/domain"
	sharedDomain "github.com/davicafu/auctionlab/internal/shared/domain"
	sharedEvents "github.com/davicafu/auctionlab/internal/shared/domain/events"
	"github.com/davicafu/auctionlab/tests/mocks"
)

func newEntry(seq int64, aggregateID string, eventType string, payload interface{}) sharedDomain.OutboxEntry {
	return sharedDomain.OutboxEntry{
		Seq:           seq,
		ID:            uuid.New(),
		AggregateType: auctionDomain.AuctionTopic,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
		CreatedAt:     time.Now().UTC(),
		Status:        sharedDomain.OutboxInFlight,
	}
}

func newRelayForTest(ledger sharedDomain.OutboxLedger, bus *mocks.RecordingBus) *Relay {
	return NewOutboxRelay(ledger, bus, auctionDomain.NewEventRegistry(),
		10*time.Millisecond, 20, 3, zap.NewNop())
}

func TestProcessBatch_PublishesAndMarksDelivered(t *testing.T) {
	ledger := new(mocks.MockOutboxLedger)
	bus := mocks.NewRecordingBus()
	relay := newRelayForTest(ledger, bus)

	id := uuid.New()
	entries := []sharedDomain.OutboxEntry{
		newEntry(1, id.String(), auctionDomain.EventAuctionCreated, auctionDomain.AuctionCreated{ID: id, Seller: "alice"}),
	}

	ledger.On("FetchPendingOutbox", mock.Anything, 20).Return(entries, nil)
	ledger.On("MarkOutboxDelivered", mock.Anything, int64(1)).Return(nil)

	relay.ProcessBatch(context.Background())

	assert.Equal(t, 1, bus.PublishedCount())
	envelope, ok := bus.Published[0].(sharedEvents.IntegrationEvent)
	assert.True(t, ok)
	assert.EqualValues(t, 1, envelope.Seq)
	assert.Equal(t, auctionDomain.EventAuctionCreated, envelope.Type)
	assert.Equal(t, id.String(), envelope.Key)
	ledger.AssertExpectations(t)
}

func TestProcessBatch_PublishFailure_RequeuesNotDelivered(t *testing.T) {
	ledger := new(mocks.MockOutboxLedger)
	bus := mocks.NewRecordingBus()
	relay := newRelayForTest(ledger, bus)

	id := uuid.New()
	bus.FailNextFor(id.String(), 1)

	entries := []sharedDomain.OutboxEntry{
		newEntry(1, id.String(), auctionDomain.EventAuctionCreated, auctionDomain.AuctionCreated{ID: id}),
	}

	ledger.On("FetchPendingOutbox", mock.Anything, 20).Return(entries, nil)
	ledger.On("MarkOutboxFailed", mock.Anything, int64(1)).Return(nil)

	relay.ProcessBatch(context.Background())

	assert.Equal(t, 0, bus.PublishedCount())
	ledger.AssertNotCalled(t, "MarkOutboxDelivered", mock.Anything, mock.Anything)
	ledger.AssertExpectations(t)
}

func TestProcessBatch_FailureBlocksLaterEntriesOfSameAggregate(t *testing.T) {
	ledger := new(mocks.MockOutboxLedger)
	bus := mocks.NewRecordingBus()
	relay := newRelayForTest(ledger, bus)

	blockedID := uuid.New()
	otherID := uuid.New()
	bus.FailNextFor(blockedID.String(), 1)

	entries := []sharedDomain.OutboxEntry{
		newEntry(1, blockedID.String(), auctionDomain.EventAuctionCreated, auctionDomain.AuctionCreated{ID: blockedID}),
		newEntry(2, otherID.String(), auctionDomain.EventAuctionCreated, auctionDomain.AuctionCreated{ID: otherID}),
		newEntry(3, blockedID.String(), auctionDomain.EventAuctionUpdated, auctionDomain.AuctionUpdated{ID: blockedID}),
	}

	ledger.On("FetchPendingOutbox", mock.Anything, 20).Return(entries, nil)
	ledger.On("MarkOutboxFailed", mock.Anything, int64(1)).Return(nil)
	ledger.On("MarkOutboxFailed", mock.Anything, int64(3)).Return(nil)
	ledger.On("MarkOutboxDelivered", mock.Anything, int64(2)).Return(nil)

	relay.ProcessBatch(context.Background())

	// Solo el agregado sano publica; el seq 3 vuelve al ledger sin pasar por
	// el bus para preservar el orden por subasta.
	assert.Equal(t, 1, bus.PublishedCount())
	envelope := bus.Published[0].(sharedEvents.IntegrationEvent)
	assert.EqualValues(t, 2, envelope.Seq)
	ledger.AssertExpectations(t)
}

func TestProcessBatch_UnknownEventType_Requeued(t *testing.T) {
	ledger := new(mocks.MockOutboxLedger)
	bus := mocks.NewRecordingBus()
	relay := newRelayForTest(ledger, bus)

	entries := []sharedDomain.OutboxEntry{
		newEntry(1, uuid.NewString(), "SomethingElse", map[string]interface{}{}),
	}

	ledger.On("FetchPendingOutbox", mock.Anything, 20).Return(entries, nil)
	ledger.On("MarkOutboxFailed", mock.Anything, int64(1)).Return(nil)

	relay.ProcessBatch(context.Background())

	assert.Equal(t, 0, bus.PublishedCount())
	ledger.AssertExpectations(t)
}

func TestProcessBatch_FetchError_NoPublish(t *testing.T) {
	ledger := new(mocks.MockOutboxLedger)
	bus := mocks.NewRecordingBus()
	relay := newRelayForTest(ledger, bus)

	ledger.On("FetchPendingOutbox", mock.Anything, 20).
		Return([]sharedDomain.OutboxEntry{}, errors.New("db unavailable"))

	relay.ProcessBatch(context.Background())

	assert.Equal(t, 0, bus.PublishedCount())
}

func TestRelay_EndToEnd_DrainsLedger(t *testing.T) {
	repo := mocks.NewInMemoryAuctionRepo()
	bus := mocks.NewRecordingBus()
	relay := newRelayForTest(repo, bus)

	id := uuid.New()
	for i, eventType := range []string{auctionDomain.EventAuctionCreated, auctionDomain.EventAuctionUpdated, auctionDomain.EventAuctionDeleted} {
		entry := newEntry(int64(i+1), id.String(), eventType, map[string]interface{}{"id": id.String()})
		entry.Status = sharedDomain.OutboxPending
		entry.NextAttemptAt = time.Now().UTC()
		repo.Outbox = append(repo.Outbox, entry)
	}

	relay.ProcessBatch(context.Background())

	assert.Equal(t, 3, bus.PublishedCount())
	assert.Equal(t, 0, repo.PendingCount())

	// El orden de publicación respeta la secuencia.
	for i, published := range bus.Published {
		envelope := published.(sharedEvents.IntegrationEvent)
		assert.EqualValues(t, i+1, envelope.Seq)
	}
}
