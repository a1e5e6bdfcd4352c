package application

import (
	"context"
	"time"

	"github.com/davicafu/auctionlab/internal/auction/domain"
	sharedDomain "github.com/davicafu/auctionlab/internal/shared/domain"
	sharedCache "github.com/davicafu/auctionlab/internal/shared/infra/platform/cache"
	sharedQuery "github.com/davicafu/auctionlab/internal/shared/infra/platform/query"
	sharedUtils "github.com/davicafu/auctionlab/internal/shared/infra/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuctionService define los casos de uso de subastas. Nunca habla con el bus:
// cada mutación confirma fila + entrada de outbox en una sola transacción y el
// relay se encarga de publicar después.
type AuctionService struct {
	repo  domain.AuctionRepository
	cache sharedCache.Cache
	log   *zap.Logger
}

// NewAuctionService constructor
func NewAuctionService(repo domain.AuctionRepository, cache sharedCache.Cache, log *zap.Logger) *AuctionService {
	return &AuctionService{
		repo:  repo,
		cache: cache,
		log:   log,
	}
}

func newOutboxEntry(aggregateID uuid.UUID, eventType string, payload interface{}) sharedDomain.OutboxEntry {
	now := time.Now().UTC()
	return sharedDomain.OutboxEntry{
		ID:            uuid.New(),
		AggregateType: domain.AuctionTopic,
		AggregateID:   aggregateID.String(),
		EventType:     eventType,
		Payload:       payload,
		CreatedAt:     now,
		Status:        sharedDomain.OutboxPending,
		NextAttemptAt: now,
	}
}

// CreateAuction valida la entrada antes de abrir la transacción (salida barata)
// y persiste subasta + evento AuctionCreated de forma atómica.
func (s *AuctionService) CreateAuction(ctx context.Context, item domain.Item, seller string, reservePrice int64, auctionEnd time.Time) (*domain.Auction, error) {
	auction, err := domain.NewAuction(item, seller, reservePrice, auctionEnd, time.Now())
	if err != nil {
		return nil, err
	}

	entry := newOutboxEntry(auction.ID, domain.EventAuctionCreated, domain.AuctionCreated{
		ID:           auction.ID,
		Seller:       auction.Seller,
		ReservePrice: auction.ReservePrice,
		AuctionEnd:   auction.AuctionEnd,
		Item:         auction.Item,
	})

	if err := s.repo.Create(ctx, auction, entry); err != nil {
		return nil, err
	}

	sharedCache.AsyncCacheSet(ctx, s.cache, domain.CacheKeyByID(auction.ID), auction, 60, s.log)

	return auction, nil
}

// GetAuction obtiene una subasta (primero intenta desde cache).
func (s *AuctionService) GetAuction(ctx context.Context, id uuid.UUID) (*domain.Auction, error) {
	if s.cache != nil {
		var a domain.Auction
		if ok, _ := s.cache.Get(ctx, domain.CacheKeyByID(id), &a); ok {
			return &a, nil
		}
	}

	var auction *domain.Auction
	err := sharedUtils.Retry(ctx, 3, 100*time.Millisecond, func() error {
		var err error
		auction, err = s.repo.GetByID(ctx, id)
		if err == domain.ErrAuctionNotFound {
			return nil // no reintentar un not found
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if auction == nil {
		return nil, domain.ErrAuctionNotFound
	}

	sharedCache.AsyncCacheSet(ctx, s.cache, domain.CacheKeyByID(id), auction, 60, s.log)

	return auction, nil
}

// ListAuctions devuelve subastas ordenadas por make del item (id desempata).
// Si updatedAfter viene informado, restringe a updated_at estrictamente mayor.
func (s *AuctionService) ListAuctions(ctx context.Context, updatedAfter *time.Time) ([]*domain.Auction, error) {
	var criterias []sharedDomain.Criteria
	if updatedAfter != nil {
		criterias = append(criterias, domain.UpdatedAfterCriteria{After: *updatedAfter})
	}

	return s.repo.ListByCriteria(ctx,
		sharedDomain.And(criterias...),
		sharedQuery.OffsetPagination{Limit: 100, Offset: 0},
		sharedQuery.Sort{Field: "make", SecondaryField: "id", Desc: false},
	)
}

// UpdateAuction aplica solo los campos presentes del patch y confirma el
// snapshot resultante junto con su evento AuctionUpdated.
func (s *AuctionService) UpdateAuction(ctx context.Context, id uuid.UUID, patch domain.ItemPatch) (*domain.Auction, error) {
	auction, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	auction.ApplyPatch(patch)

	prevUpdatedAt := auction.UpdatedAt
	auction.UpdatedAt = nextUpdatedAt(prevUpdatedAt)

	entry := newOutboxEntry(auction.ID, domain.EventAuctionUpdated, domain.AuctionUpdated{
		ID:     auction.ID,
		Status: auction.Status,
		Item:   auction.Item,
	})

	if err := s.repo.Update(ctx, auction, prevUpdatedAt, entry); err != nil {
		return nil, err
	}

	sharedCache.AsyncCacheSet(ctx, s.cache, domain.CacheKeyByID(id), auction, 60, s.log)

	return auction, nil
}

// DeleteAuction elimina la fila y registra AuctionDeleted en la misma transacción.
func (s *AuctionService) DeleteAuction(ctx context.Context, id uuid.UUID) error {
	entry := newOutboxEntry(id, domain.EventAuctionDeleted, domain.AuctionDeleted{ID: id})

	if err := s.repo.DeleteByID(ctx, id, entry); err != nil {
		return err
	}

	sharedCache.AsyncCacheDelete(ctx, s.cache, domain.CacheKeyByID(id), s.log)

	return nil
}

// FinishAuction cierra la subasta (live → ended → finished) y emite
// AuctionFinished con el resultado de la puja.
func (s *AuctionService) FinishAuction(ctx context.Context, id uuid.UUID) (*domain.Auction, error) {
	return s.transition(ctx, id, func(a *domain.Auction) (string, interface{}, error) {
		if a.Status == domain.StatusLive {
			if err := a.TransitionTo(domain.StatusEnded); err != nil {
				return "", nil, err
			}
		}
		if err := a.TransitionTo(domain.StatusFinished); err != nil {
			return "", nil, err
		}

		sold := a.CurrentHighBid != nil && *a.CurrentHighBid >= a.ReservePrice
		return domain.EventAuctionFinished, domain.AuctionFinished{
			ID:         a.ID,
			Seller:     a.Seller,
			ItemSold:   sold,
			SoldAmount: a.CurrentHighBid,
		}, nil
	})
}

// CancelAuction retira una subasta live. La autorización del vendedor la
// comprueba la capa de entrada, no este servicio.
func (s *AuctionService) CancelAuction(ctx context.Context, id uuid.UUID) (*domain.Auction, error) {
	return s.transition(ctx, id, func(a *domain.Auction) (string, interface{}, error) {
		if err := a.TransitionTo(domain.StatusCancelled); err != nil {
			return "", nil, err
		}
		return domain.EventAuctionUpdated, domain.AuctionUpdated{
			ID:     a.ID,
			Status: a.Status,
			Item:   a.Item,
		}, nil
	})
}

// transition factoriza el patrón leer → mutar estado → confirmar con evento.
func (s *AuctionService) transition(ctx context.Context, id uuid.UUID, mutate func(*domain.Auction) (string, interface{}, error)) (*domain.Auction, error) {
	auction, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	eventType, payload, err := mutate(auction)
	if err != nil {
		return nil, err
	}

	prevUpdatedAt := auction.UpdatedAt
	auction.UpdatedAt = nextUpdatedAt(prevUpdatedAt)

	entry := newOutboxEntry(auction.ID, eventType, payload)
	if err := s.repo.Update(ctx, auction, prevUpdatedAt, entry); err != nil {
		return nil, err
	}

	sharedCache.AsyncCacheSet(ctx, s.cache, domain.CacheKeyByID(id), auction, 60, s.log)

	return auction, nil
}

// nextUpdatedAt garantiza que updated_at sea estrictamente creciente aunque el
// reloj devuelva el mismo instante que la última mutación.
func nextUpdatedAt(prev time.Time) time.Time {
	now := time.Now().UTC()
	if !now.After(prev) {
		return prev.Add(time.Microsecond)
	}
	return now
}
