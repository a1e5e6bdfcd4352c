package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	auctionDomain "github.com/davicafu/auctionlab/internal/auction/domain"
	ch "github.com/davicafu/auctionlab/internal/auction/infra/outbound/analytics/clickhouse"
	sharedEvents "github.com/davicafu/auctionlab/internal/shared/domain/events"
	sharedUtils "github.com/davicafu/auctionlab/internal/shared/infra/utils"
)

// AnalyticsSink es la interfaz que el consumidor necesita del almacén de analítica.
type AnalyticsSink interface {
	LogEvent(ctx context.Context, row ch.AuctionEventRow) error
}

// AuctionConsumer proyecta los eventos de subastas al almacén de analítica.
// La entrega es "al menos una vez": el seq del sobre sirve para descartar
// eventos ya procesados.
type AuctionConsumer struct {
	sink AnalyticsSink
	log  *zap.Logger

	mu   sync.Mutex
	seen map[int64]struct{}
}

func NewAuctionConsumer(sink AnalyticsSink, logger *zap.Logger) *AuctionConsumer {
	return &AuctionConsumer{
		sink: sink,
		log:  logger,
		seen: make(map[int64]struct{}),
	}
}

// HandleMessage es el punto de entrada para un nuevo mensaje/evento.
func (c *AuctionConsumer) HandleMessage(ctx context.Context, key string, payload []byte) {
	var base sharedEvents.IntegrationEvent
	if err := json.Unmarshal(payload, &base); err != nil {
		c.log.Warn("Failed to unmarshal integration event", zap.String("key", key), zap.Error(err))
		return
	}

	// LÓGICA DE IDEMPOTENCIA: el relay puede reenviar, el seq no miente.
	if c.alreadySeen(base.Seq) {
		c.log.Info("Evento duplicado ignorado", zap.Int64("seq", base.Seq), zap.String("type", base.Type))
		return
	}

	switch base.Type {
	case auctionDomain.EventAuctionCreated:
		sharedUtils.UnmarshalAndHandle[auctionDomain.AuctionCreated](c.log, base.Data, func(evt auctionDomain.AuctionCreated) {
			c.logRow(ctx, base, ch.AuctionEventRow{
				Seq:       base.Seq,
				AuctionID: evt.ID,
				EventType: base.Type,
				Seller:    evt.Seller,
				Status:    string(auctionDomain.StatusLive),
				Make:      evt.Item.Make,
				Model:     evt.Item.Model,
				Year:      evt.Item.Year,
				EventTime: base.Timestamp,
			})
		})

	case auctionDomain.EventAuctionUpdated:
		sharedUtils.UnmarshalAndHandle[auctionDomain.AuctionUpdated](c.log, base.Data, func(evt auctionDomain.AuctionUpdated) {
			c.logRow(ctx, base, ch.AuctionEventRow{
				Seq:       base.Seq,
				AuctionID: evt.ID,
				EventType: base.Type,
				Status:    string(evt.Status),
				Make:      evt.Item.Make,
				Model:     evt.Item.Model,
				Year:      evt.Item.Year,
				EventTime: base.Timestamp,
			})
		})

	case auctionDomain.EventAuctionDeleted:
		sharedUtils.UnmarshalAndHandle[auctionDomain.AuctionDeleted](c.log, base.Data, func(evt auctionDomain.AuctionDeleted) {
			c.logRow(ctx, base, ch.AuctionEventRow{
				Seq:       base.Seq,
				AuctionID: evt.ID,
				EventType: base.Type,
				EventTime: base.Timestamp,
			})
		})

	case auctionDomain.EventAuctionFinished:
		sharedUtils.UnmarshalAndHandle[auctionDomain.AuctionFinished](c.log, base.Data, func(evt auctionDomain.AuctionFinished) {
			c.logRow(ctx, base, ch.AuctionEventRow{
				Seq:        base.Seq,
				AuctionID:  evt.ID,
				EventType:  base.Type,
				Seller:     evt.Seller,
				Status:     string(auctionDomain.StatusFinished),
				ItemSold:   evt.ItemSold,
				SoldAmount: evt.SoldAmount,
				EventTime:  base.Timestamp,
			})
		})

	default:
		c.log.Warn("Unknown auction event type", zap.String("type", base.Type), zap.String("key", key))
	}
}

// logRow escribe la fila con un contexto limitado. Si falla, el seq se libera
// para que un reintento del relay pueda procesarlo de nuevo.
func (c *AuctionConsumer) logRow(ctx context.Context, base sharedEvents.IntegrationEvent, row ch.AuctionEventRow) {
	ctxRow, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	if err := c.sink.LogEvent(ctxRow, row); err != nil {
		c.forget(base.Seq)
		c.log.Warn("Failed to project auction event",
			zap.Int64("seq", base.Seq),
			zap.String("type", base.Type),
			zap.Error(err),
		)
		return
	}

	c.log.Info("Auction event projected",
		zap.Int64("seq", base.Seq),
		zap.String("type", base.Type),
		zap.String("auction_id", row.AuctionID.String()),
	)
}

func (c *AuctionConsumer) alreadySeen(seq int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.seen[seq]; ok {
		return true
	}
	c.seen[seq] = struct{}{}
	return false
}

func (c *AuctionConsumer) forget(seq int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.seen, seq)
}

// BackgroundConsumerChan inicia una goroutine para consumir eventos de un canal
// del bus en memoria.
func BackgroundConsumerChan(ctx context.Context, ch <-chan interface{}, consumer *AuctionConsumer) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				consumer.log.Info("AuctionConsumer stopped")
				return
			case msg := <-ch:
				if payload, ok := msg.([]byte); ok {
					consumer.HandleMessage(ctx, "", payload)
				}
			}
		}
	}()
}
