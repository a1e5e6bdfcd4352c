package relayer

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	sharedDomain "github.com/davicafu/auctionlab/internal/shared/domain"
	sharedEvents "github.com/davicafu/auctionlab/internal/shared/domain/events"
	sharedBus "github.com/davicafu/auctionlab/internal/shared/infra/platform/bus"
	"go.uber.org/zap"
)

// Relay drena el outbox de forma asíncrona: reclama lotes, publica en orden de
// secuencia y marca el resultado en el ledger. Puede haber varias instancias a
// la vez; se coordinan solo a través del claim del ledger.
type Relay struct {
	ledger        sharedDomain.OutboxLedger
	publisher     sharedBus.EventBus
	eventRegistry map[string]sharedEvents.EventMetadata
	interval      time.Duration
	batchSize     int
	maxAttempts   int
	log           *zap.Logger
}

func NewOutboxRelay(
	ledger sharedDomain.OutboxLedger,
	publisher sharedBus.EventBus,
	registry map[string]sharedEvents.EventMetadata,
	interval time.Duration,
	batchSize int,
	maxAttempts int,
	log *zap.Logger,
) *Relay {
	return &Relay{
		ledger:        ledger,
		publisher:     publisher,
		eventRegistry: registry,
		interval:      interval,
		batchSize:     batchSize,
		maxAttempts:   maxAttempts,
		log:           log,
	}
}

// Start inicia el bucle de polling del relay.
func (r *Relay) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		r.log.Info("🚀 Outbox relay iniciado", zap.Duration("interval", r.interval))

		for {
			select {
			case <-ctx.Done():
				r.log.Info("🛑 Outbox relay detenido.")
				return
			case <-ticker.C:
				r.ProcessBatch(ctx)
			}
		}
	}()
}

// ProcessBatch reclama un lote y lo publica. Si falla la publicación de una
// entrada, las posteriores del mismo agregado vuelven al ledger sin publicarse
// para no romper el orden por subasta.
func (r *Relay) ProcessBatch(ctx context.Context) {
	entries, err := r.ledger.FetchPendingOutbox(ctx, r.batchSize)
	if err != nil {
		r.log.Warn("⚠️ Error al obtener entradas pendientes", zap.Error(err))
		return
	}
	if len(entries) > 0 {
		r.log.Info(fmt.Sprintf("📬 %d entradas reclamadas para publicar", len(entries)))
	}

	blocked := make(map[string]bool) // agregados con un fallo previo en este lote

	for _, entry := range entries {
		if blocked[entry.AggregateID] {
			r.requeue(ctx, entry)
			continue
		}
		if !r.publishAndMark(ctx, entry) {
			blocked[entry.AggregateID] = true
		}
	}
}

// publishAndMark devuelve false si la entrada no llegó al bus.
func (r *Relay) publishAndMark(ctx context.Context, entry sharedDomain.OutboxEntry) bool {
	metadata, ok := r.eventRegistry[entry.EventType]
	if !ok {
		r.log.Error("Tipo de evento desconocido en registro", zap.String("event_type", entry.EventType))
		r.requeue(ctx, entry)
		return false
	}

	// Decodificamos el payload al tipo registrado para validar su forma antes
	// de ponerlo en el sobre.
	payload := reflect.New(metadata.Type).Interface()
	payloadBytes, _ := json.Marshal(entry.Payload)
	if err := json.Unmarshal(payloadBytes, payload); err != nil {
		r.log.Error("Error al decodificar payload de la entrada",
			zap.Int64("seq", entry.Seq),
			zap.Error(err),
		)
		r.requeue(ctx, entry)
		return false
	}

	envelope := sharedEvents.IntegrationEvent{
		Seq:       entry.Seq,
		Type:      entry.EventType,
		Key:       entry.AggregateID,
		Timestamp: entry.CreatedAt,
		Data:      payloadBytes,
	}

	if err := r.publisher.Publish(ctx, envelope); err != nil {
		// Fallo transitorio del bus: nunca llega al caller, solo al ledger.
		r.log.Warn("⚠️ No se pudo publicar la entrada",
			zap.Int64("seq", entry.Seq),
			zap.Error(err),
		)
		r.requeue(ctx, entry)
		return false
	}

	if err := r.ledger.MarkOutboxDelivered(ctx, entry.Seq); err != nil {
		// La publicación ya ocurrió: la entrada se reintentará y el duplicado
		// lo absorbe la deduplicación por seq del consumidor.
		r.log.Warn("⚠️ No se pudo marcar la entrada como entregada",
			zap.Int64("seq", entry.Seq),
			zap.Error(err),
		)
		return true
	}

	r.log.Info("✅ Entrada publicada y entregada", zap.Int64("seq", entry.Seq))
	return true
}

// requeue devuelve la entrada a pending con backoff y escala por log de error
// cuando supera el máximo de intentos (la entrada nunca se descarta).
func (r *Relay) requeue(ctx context.Context, entry sharedDomain.OutboxEntry) {
	if err := r.ledger.MarkOutboxFailed(ctx, entry.Seq); err != nil {
		r.log.Warn("⚠️ No se pudo devolver la entrada a pending",
			zap.Int64("seq", entry.Seq),
			zap.Error(err),
		)
		return
	}

	if entry.Attempts+1 >= r.maxAttempts {
		r.log.Error("🚨 Entrada de outbox supera el máximo de intentos",
			zap.Int64("seq", entry.Seq),
			zap.String("event_type", entry.EventType),
			zap.Int("attempts", entry.Attempts+1),
		)
	}
}
