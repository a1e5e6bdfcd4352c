package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	auctionDomain "github.com/davicafu/auctionlab/internal/auction/domain"
	ch "github.com/davicafu/auctionlab/internal/auction/infra/outbound/analytics/clickhouse"
	sharedEvents "github.com/davicafu/auctionlab/internal/shared/domain/events"
)

// fakeSink acumula filas y puede fallar bajo demanda.
type fakeSink struct {
	rows     []ch.AuctionEventRow
	failNext bool
}

func (s *fakeSink) LogEvent(ctx context.Context, row ch.AuctionEventRow) error {
	if s.failNext {
		s.failNext = false
		return errors.New("sink unavailable")
	}
	s.rows = append(s.rows, row)
	return nil
}

func encodeEnvelope(t *testing.T, seq int64, eventType string, payload interface{}) []byte {
	t.Helper()

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	envelope := sharedEvents.IntegrationEvent{
		Seq:       seq,
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	raw, err := json.Marshal(envelope)
	require.NoError(t, err)
	return raw
}

func TestHandleMessage_ProjectsCreatedEvent(t *testing.T) {
	sink := &fakeSink{}
	consumer := NewAuctionConsumer(sink, zap.NewNop())

	id := uuid.New()
	msg := encodeEnvelope(t, 1, auctionDomain.EventAuctionCreated, auctionDomain.AuctionCreated{
		ID:     id,
		Seller: "alice",
		Item:   auctionDomain.Item{Make: "Ford", Model: "Mustang", Year: 1968},
	})

	consumer.HandleMessage(context.Background(), id.String(), msg)

	require.Len(t, sink.rows, 1)
	assert.EqualValues(t, 1, sink.rows[0].Seq)
	assert.Equal(t, id, sink.rows[0].AuctionID)
	assert.Equal(t, "Ford", sink.rows[0].Make)
}

func TestHandleMessage_DuplicateSeqIgnored(t *testing.T) {
	sink := &fakeSink{}
	consumer := NewAuctionConsumer(sink, zap.NewNop())

	id := uuid.New()
	msg := encodeEnvelope(t, 7, auctionDomain.EventAuctionDeleted, auctionDomain.AuctionDeleted{ID: id})

	// El relay puede reenviar el mismo evento; el seq lo absorbe.
	consumer.HandleMessage(context.Background(), id.String(), msg)
	consumer.HandleMessage(context.Background(), id.String(), msg)

	assert.Len(t, sink.rows, 1)
}

func TestHandleMessage_SinkFailureAllowsRetry(t *testing.T) {
	sink := &fakeSink{failNext: true}
	consumer := NewAuctionConsumer(sink, zap.NewNop())

	id := uuid.New()
	msg := encodeEnvelope(t, 3, auctionDomain.EventAuctionDeleted, auctionDomain.AuctionDeleted{ID: id})

	consumer.HandleMessage(context.Background(), id.String(), msg)
	require.Empty(t, sink.rows)

	// Tras el fallo, el seq queda libre y el reintento sí proyecta.
	consumer.HandleMessage(context.Background(), id.String(), msg)
	assert.Len(t, sink.rows, 1)
}

func TestHandleMessage_UnknownTypeIgnored(t *testing.T) {
	sink := &fakeSink{}
	consumer := NewAuctionConsumer(sink, zap.NewNop())

	msg := encodeEnvelope(t, 5, "SomethingElse", map[string]string{})
	consumer.HandleMessage(context.Background(), "", msg)

	assert.Empty(t, sink.rows)
}
