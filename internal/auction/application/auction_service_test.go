package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/davicafu/auctionlab/internal/auction/domain"
	"github.com/davicafu/auctionlab/tests/mocks"
)

func fordMustang() domain.Item {
	return domain.Item{
		Make:    "Ford",
		Model:   "Mustang",
		Year:    1968,
		Color:   "Red",
		Mileage: 120000,
	}
}

func newTestService() (*AuctionService, *mocks.InMemoryAuctionRepo) {
	repo := mocks.NewInMemoryAuctionRepo()
	cache := mocks.NewDummyCache()
	service := NewAuctionService(repo, cache, zap.NewNop())
	return service, repo
}

func TestCreateAuction_Success(t *testing.T) {
	service, repo := newTestService()

	auction, err := service.CreateAuction(context.Background(), fordMustang(), "alice", 10000, time.Now().Add(24*time.Hour))
	assert.NoError(t, err)
	assert.NotNil(t, auction)
	assert.Equal(t, domain.StatusLive, auction.Status)

	// Cada mutación deja exactamente una entrada en el outbox.
	assert.Len(t, repo.Outbox, 1)
	assert.Equal(t, domain.EventAuctionCreated, repo.Outbox[0].EventType)
	assert.Equal(t, auction.ID.String(), repo.Outbox[0].AggregateID)
	assert.EqualValues(t, 1, repo.Outbox[0].Seq)
}

func TestCreateAuction_InvalidInput_NoWrites(t *testing.T) {
	service, repo := newTestService()

	_, err := service.CreateAuction(context.Background(), fordMustang(), "alice", -1, time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, domain.ErrInvalidAuction)

	// La validación falla antes de tocar el almacén: ni fila ni entrada.
	assert.Empty(t, repo.Auctions)
	assert.Empty(t, repo.Outbox)
}

func TestCreateAuction_StoreFailure_NothingPersisted(t *testing.T) {
	service, repo := newTestService()
	repo.FailNextWrite = errors.New("disk full")

	_, err := service.CreateAuction(context.Background(), fordMustang(), "alice", 100, time.Now().Add(time.Hour))
	assert.Error(t, err)

	// La transacción se revierte entera: sin subasta y sin entrada huérfana.
	assert.Empty(t, repo.Auctions)
	assert.Empty(t, repo.Outbox)
}

func TestGetAuction_NotFound(t *testing.T) {
	service, _ := newTestService()

	_, err := service.GetAuction(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrAuctionNotFound)
}

func TestGetAuction_CacheHit(t *testing.T) {
	repo := mocks.NewInMemoryAuctionRepo()
	cache := mocks.NewDummyCache()
	service := NewAuctionService(repo, cache, zap.NewNop())

	id := uuid.New()
	cached := &domain.Auction{ID: id, Seller: "alice", Status: domain.StatusLive, Item: fordMustang()}
	cache.SetForTest(domain.CacheKeyByID(id), cached)

	auction, err := service.GetAuction(context.Background(), id)
	assert.NoError(t, err)
	assert.Equal(t, "alice", auction.Seller)
	// El repo está vacío: la respuesta solo pudo venir de la caché.
	assert.Empty(t, repo.Auctions)
}

func TestUpdateAuction_PartialPatch(t *testing.T) {
	service, repo := newTestService()

	auction, _ := service.CreateAuction(context.Background(), fordMustang(), "alice", 100, time.Now().Add(time.Hour))

	color := "Blue"
	updated, err := service.UpdateAuction(context.Background(), auction.ID, domain.ItemPatch{Color: &color})
	assert.NoError(t, err)

	// Solo cambia el color; el resto del item queda intacto.
	assert.Equal(t, "Blue", updated.Item.Color)
	assert.Equal(t, "Ford", updated.Item.Make)
	assert.Equal(t, 1968, updated.Item.Year)
	assert.True(t, updated.UpdatedAt.After(auction.UpdatedAt))

	assert.Len(t, repo.Outbox, 2)
	assert.Equal(t, domain.EventAuctionUpdated, repo.Outbox[1].EventType)
	assert.EqualValues(t, 2, repo.Outbox[1].Seq)
}

func TestUpdateAuction_NotFound(t *testing.T) {
	service, repo := newTestService()

	color := "Blue"
	_, err := service.UpdateAuction(context.Background(), uuid.New(), domain.ItemPatch{Color: &color})
	assert.ErrorIs(t, err, domain.ErrAuctionNotFound)
	assert.Empty(t, repo.Outbox)
}

func TestDeleteAuction_Success(t *testing.T) {
	service, repo := newTestService()

	auction, _ := service.CreateAuction(context.Background(), fordMustang(), "alice", 100, time.Now().Add(time.Hour))

	err := service.DeleteAuction(context.Background(), auction.ID)
	assert.NoError(t, err)

	_, err = repo.GetByID(context.Background(), auction.ID)
	assert.ErrorIs(t, err, domain.ErrAuctionNotFound)

	assert.Len(t, repo.Outbox, 2)
	assert.Equal(t, domain.EventAuctionDeleted, repo.Outbox[1].EventType)
}

func TestDeleteAuction_NotFound_NoOutboxEntry(t *testing.T) {
	service, repo := newTestService()

	err := service.DeleteAuction(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrAuctionNotFound)
	assert.Empty(t, repo.Outbox)
}

func TestListAuctions_OrderedByMake(t *testing.T) {
	service, _ := newTestService()

	end := time.Now().Add(time.Hour)
	_, _ = service.CreateAuction(context.Background(), domain.Item{Make: "Volvo", Model: "XC90"}, "a", 1, end)
	_, _ = service.CreateAuction(context.Background(), domain.Item{Make: "Audi", Model: "A4"}, "b", 1, end)
	_, _ = service.CreateAuction(context.Background(), domain.Item{Make: "Ford", Model: "Focus"}, "c", 1, end)

	auctions, err := service.ListAuctions(context.Background(), nil)
	assert.NoError(t, err)
	assert.Len(t, auctions, 3)
	assert.Equal(t, "Audi", auctions[0].Item.Make)
	assert.Equal(t, "Ford", auctions[1].Item.Make)
	assert.Equal(t, "Volvo", auctions[2].Item.Make)
}

func TestListAuctions_UpdatedAfterFilter(t *testing.T) {
	service, _ := newTestService()

	end := time.Now().Add(time.Hour)
	old, _ := service.CreateAuction(context.Background(), domain.Item{Make: "Audi", Model: "A4"}, "a", 1, end)

	cutoff := old.UpdatedAt

	time.Sleep(2 * time.Millisecond)
	recent, _ := service.CreateAuction(context.Background(), domain.Item{Make: "Volvo", Model: "XC90"}, "b", 1, end)

	auctions, err := service.ListAuctions(context.Background(), &cutoff)
	assert.NoError(t, err)

	// El filtro es estrictamente mayor: la subasta con updated_at == cutoff
	// queda fuera.
	assert.Len(t, auctions, 1)
	assert.Equal(t, recent.ID, auctions[0].ID)
}

func TestFinishAuction_SoldWhenReserveMet(t *testing.T) {
	service, repo := newTestService()

	auction, _ := service.CreateAuction(context.Background(), fordMustang(), "alice", 100, time.Now().Add(time.Hour))

	// Simular una puja ganadora directamente en el almacén.
	stored := repo.Auctions[auction.ID]
	bid := int64(150)
	stored.CurrentHighBid = &bid

	finished, err := service.FinishAuction(context.Background(), auction.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusFinished, finished.Status)

	assert.Len(t, repo.Outbox, 2)
	assert.Equal(t, domain.EventAuctionFinished, repo.Outbox[1].EventType)
}

func TestFinishAuction_NotSoldBelowReserve(t *testing.T) {
	service, repo := newTestService()

	auction, _ := service.CreateAuction(context.Background(), fordMustang(), "alice", 1000, time.Now().Add(time.Hour))

	finished, err := service.FinishAuction(context.Background(), auction.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusFinished, finished.Status)

	payload, ok := repo.Outbox[1].Payload.(domain.AuctionFinished)
	assert.True(t, ok)
	assert.False(t, payload.ItemSold)
	assert.Nil(t, payload.SoldAmount)
}

func TestCancelAuction_FromLive(t *testing.T) {
	service, repo := newTestService()

	auction, _ := service.CreateAuction(context.Background(), fordMustang(), "alice", 100, time.Now().Add(time.Hour))

	cancelled, err := service.CancelAuction(context.Background(), auction.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)

	assert.Len(t, repo.Outbox, 2)
	assert.Equal(t, domain.EventAuctionUpdated, repo.Outbox[1].EventType)
}

func TestCancelAuction_AfterFinish_Rejected(t *testing.T) {
	service, repo := newTestService()

	auction, _ := service.CreateAuction(context.Background(), fordMustang(), "alice", 100, time.Now().Add(time.Hour))
	_, _ = service.FinishAuction(context.Background(), auction.ID)

	_, err := service.CancelAuction(context.Background(), auction.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	// La transición rechazada no genera entrada de outbox.
	assert.Len(t, repo.Outbox, 2)
}
