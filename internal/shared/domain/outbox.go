package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// OutboxStatus es el estado de entrega de una entrada del ledger.
type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"
	OutboxInFlight  OutboxStatus = "in_flight"
	OutboxDelivered OutboxStatus = "delivered"
)

// OutboxEntry representa un evento pendiente de publicar en el broker.
// Seq lo asigna el almacén (autoincrement) y es monótono global: ordena la
// entrega y sirve como clave de deduplicación para los consumidores.
type OutboxEntry struct {
	Seq           int64        `json:"seq"`
	ID            uuid.UUID    `json:"id"`
	AggregateType string       `json:"aggregate_type"` // ej. "auction"
	AggregateID   string       `json:"aggregate_id"`
	EventType     string       `json:"event_type"` // ej. "AuctionCreated"
	Payload       interface{}  `json:"payload"`    // JSON serializable
	CreatedAt     time.Time    `json:"created_at"`
	Status        OutboxStatus `json:"status"`
	Attempts      int          `json:"attempts"`
	NextAttemptAt time.Time    `json:"next_attempt_at"`
	ClaimedAt     *time.Time   `json:"claimed_at,omitempty"`
}

// OutboxLedger define el contrato que necesita el relay para drenar el outbox.
// El Append se hace dentro de la transacción del repositorio de dominio, por
// eso no forma parte de esta interfaz.
type OutboxLedger interface {
	// FetchPendingOutbox reclama hasta limit entradas en orden ascendente de
	// secuencia y las marca in_flight. Nunca reclama una entrada si existe una
	// anterior sin entregar del mismo agregado.
	FetchPendingOutbox(ctx context.Context, limit int) ([]OutboxEntry, error)

	// MarkOutboxDelivered es idempotente: repetir sobre una entrada ya
	// entregada no es un error.
	MarkOutboxDelivered(ctx context.Context, seq int64) error

	// MarkOutboxFailed incrementa attempts y devuelve la entrada a pending
	// con un retraso de backoff antes del siguiente intento.
	MarkOutboxFailed(ctx context.Context, seq int64) error
}
