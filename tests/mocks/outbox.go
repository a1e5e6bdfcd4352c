package mocks

import (
	"context"
	"errors"
	"sync"

	"github.com/stretchr/testify/mock"

	sharedDomain "github.com/davicafu/auctionlab/internal/shared/domain"
)

// MockOutboxLedger simula el ledger con expectativas de testify.
type MockOutboxLedger struct {
	mock.Mock
}

var _ sharedDomain.OutboxLedger = (*MockOutboxLedger)(nil)

func (m *MockOutboxLedger) FetchPendingOutbox(ctx context.Context, limit int) ([]sharedDomain.OutboxEntry, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]sharedDomain.OutboxEntry), args.Error(1)
}

func (m *MockOutboxLedger) MarkOutboxDelivered(ctx context.Context, seq int64) error {
	args := m.Called(ctx, seq)
	return args.Error(0)
}

func (m *MockOutboxLedger) MarkOutboxFailed(ctx context.Context, seq int64) error {
	args := m.Called(ctx, seq)
	return args.Error(0)
}

// MockPublisher simula un publisher con expectativas de testify.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, event interface{}) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// RecordingBus acumula todo lo publicado y permite inyectar fallos por
// clave de partición, para probar el reintento del relay.
type RecordingBus struct {
	mu        sync.Mutex
	Published []interface{}
	FailKeys  map[string]int // clave → nº de fallos restantes
}

func NewRecordingBus() *RecordingBus {
	return &RecordingBus{FailKeys: make(map[string]int)}
}

// FailNextFor hace que las próximas n publicaciones con esa clave fallen.
func (b *RecordingBus) FailNextFor(key string, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.FailKeys[key] = n
}

func (b *RecordingBus) Publish(ctx context.Context, event interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if keyer, ok := event.(interface{ PartitionKey() string }); ok {
		if n := b.FailKeys[keyer.PartitionKey()]; n > 0 {
			b.FailKeys[keyer.PartitionKey()] = n - 1
			return errors.New("simulated publish failure")
		}
	}

	b.Published = append(b.Published, event)
	return nil
}

// PublishedCount devuelve cuántos eventos llegaron al bus.
func (b *RecordingBus) PublishedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Published)
}
