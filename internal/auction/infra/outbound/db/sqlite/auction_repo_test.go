package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davicafu/auctionlab/internal/auction/domain"
	sharedDomain "github.com/davicafu/auctionlab/internal/shared/domain"
	sharedOutbox "github.com/davicafu/auctionlab/internal/shared/infra/platform/db/sqlite"
	sharedQuery "github.com/davicafu/auctionlab/internal/shared/infra/platform/query"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "auctions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, InitSQLite(db))
	return db
}

func newTestAuction(t *testing.T, seller, make string) *domain.Auction {
	t.Helper()

	auction, err := domain.NewAuction(
		domain.Item{Make: make, Model: "Model-" + make, Year: 2020, Color: "Red", Mileage: 100},
		seller, 1000, time.Now().Add(24*time.Hour), time.Now(),
	)
	require.NoError(t, err)
	return auction
}

func newTestEntry(auction *domain.Auction, eventType string) sharedDomain.OutboxEntry {
	now := time.Now().UTC()
	return sharedDomain.OutboxEntry{
		ID:            uuid.New(),
		AggregateType: domain.AuctionTopic,
		AggregateID:   auction.ID.String(),
		EventType:     eventType,
		Payload:       map[string]interface{}{"id": auction.ID.String()},
		CreatedAt:     now,
		Status:        sharedDomain.OutboxPending,
		NextAttemptAt: now,
	}
}

func TestCreateAndGetByID_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	repo := NewAuctionRepoSQLite(db)
	ctx := context.Background()

	auction := newTestAuction(t, "alice", "Ford")
	require.NoError(t, repo.Create(ctx, auction, newTestEntry(auction, domain.EventAuctionCreated)))

	got, err := repo.GetByID(ctx, auction.ID)
	require.NoError(t, err)
	assert.Equal(t, auction.ID, got.ID)
	assert.Equal(t, "alice", got.Seller)
	assert.Equal(t, "Ford", got.Item.Make)
	assert.Equal(t, domain.StatusLive, got.Status)
	assert.Nil(t, got.CurrentHighBid)

	// La entrada de outbox quedó pending en la misma transacción.
	ledger := sharedOutbox.NewOutboxRepoSQLite(db)
	entries, err := ledger.FetchPendingOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.EventAuctionCreated, entries[0].EventType)
	assert.Equal(t, auction.ID.String(), entries[0].AggregateID)
}

func TestGetByID_NotFound(t *testing.T) {
	db := newTestDB(t)
	repo := NewAuctionRepoSQLite(db)

	_, err := repo.GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrAuctionNotFound)
}

func TestUpdate_OptimisticConcurrency(t *testing.T) {
	db := newTestDB(t)
	repo := NewAuctionRepoSQLite(db)
	ctx := context.Background()

	auction := newTestAuction(t, "alice", "Ford")
	require.NoError(t, repo.Create(ctx, auction, newTestEntry(auction, domain.EventAuctionCreated)))

	stored, err := repo.GetByID(ctx, auction.ID)
	require.NoError(t, err)

	prev := stored.UpdatedAt
	stored.Item.Color = "Blue"
	stored.UpdatedAt = prev.Add(time.Millisecond)

	require.NoError(t, repo.Update(ctx, stored, prev, newTestEntry(stored, domain.EventAuctionUpdated)))

	got, err := repo.GetByID(ctx, auction.ID)
	require.NoError(t, err)
	assert.Equal(t, "Blue", got.Item.Color)

	// Un segundo update con el updated_at viejo pierde la carrera.
	stale := *got
	stale.UpdatedAt = prev.Add(2 * time.Millisecond)
	err = repo.Update(ctx, &stale, prev, newTestEntry(&stale, domain.EventAuctionUpdated))
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestUpdate_NotFound(t *testing.T) {
	db := newTestDB(t)
	repo := NewAuctionRepoSQLite(db)

	auction := newTestAuction(t, "alice", "Ford")
	err := repo.Update(context.Background(), auction, auction.UpdatedAt, newTestEntry(auction, domain.EventAuctionUpdated))
	assert.ErrorIs(t, err, domain.ErrAuctionNotFound)
}

func TestDeleteByID_NotFound(t *testing.T) {
	db := newTestDB(t)
	repo := NewAuctionRepoSQLite(db)

	err := repo.DeleteByID(context.Background(), uuid.New(), sharedDomain.OutboxEntry{ID: uuid.New()})
	assert.ErrorIs(t, err, domain.ErrAuctionNotFound)
}

func TestCreate_RollbackLeavesNothing(t *testing.T) {
	db := newTestDB(t)
	repo := NewAuctionRepoSQLite(db)
	ctx := context.Background()

	first := newTestAuction(t, "alice", "Ford")
	entry := newTestEntry(first, domain.EventAuctionCreated)
	require.NoError(t, repo.Create(ctx, first, entry))

	// Reusar el ID de entrada viola el UNIQUE del outbox: la transacción
	// entera debe abortar, sin dejar la subasta a medias.
	second := newTestAuction(t, "bob", "Audi")
	dupEntry := entry
	dupEntry.AggregateID = second.ID.String()
	err := repo.Create(ctx, second, dupEntry)
	require.Error(t, err)

	_, err = repo.GetByID(ctx, second.ID)
	assert.ErrorIs(t, err, domain.ErrAuctionNotFound)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM outbox`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestListByCriteria_OrderAndFilter(t *testing.T) {
	db := newTestDB(t)
	repo := NewAuctionRepoSQLite(db)
	ctx := context.Background()

	for _, make := range []string{"Volvo", "Audi", "Ford"} {
		a := newTestAuction(t, "alice", make)
		require.NoError(t, repo.Create(ctx, a, newTestEntry(a, domain.EventAuctionCreated)))
		time.Sleep(2 * time.Millisecond)
	}

	all, err := repo.ListByCriteria(ctx, nil,
		sharedQuery.OffsetPagination{Limit: 10},
		sharedQuery.Sort{Field: "make", SecondaryField: "id"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Audi", all[0].Item.Make)
	assert.Equal(t, "Ford", all[1].Item.Make)
	assert.Equal(t, "Volvo", all[2].Item.Make)

	// Filtro estricto por updated_at: la subasta del medio queda fuera si el
	// corte es su propio updated_at.
	cutoff := all[1].UpdatedAt
	var audiOrVolvo []*domain.Auction
	for _, a := range all {
		if a.UpdatedAt.After(cutoff) {
			audiOrVolvo = append(audiOrVolvo, a)
		}
	}

	filtered, err := repo.ListByCriteria(ctx,
		domain.UpdatedAfterCriteria{After: cutoff},
		sharedQuery.OffsetPagination{Limit: 10},
		sharedQuery.Sort{Field: "make", SecondaryField: "id"})
	require.NoError(t, err)
	assert.Len(t, filtered, len(audiOrVolvo))
	for _, a := range filtered {
		assert.True(t, a.UpdatedAt.After(cutoff))
	}
}

// ---------------- Ledger ----------------

func TestFetchPendingOutbox_ClaimsInOrder(t *testing.T) {
	db := newTestDB(t)
	repo := NewAuctionRepoSQLite(db)
	ledger := sharedOutbox.NewOutboxRepoSQLite(db)
	ctx := context.Background()

	a := newTestAuction(t, "alice", "Ford")
	require.NoError(t, repo.Create(ctx, a, newTestEntry(a, domain.EventAuctionCreated)))

	stored, _ := repo.GetByID(ctx, a.ID)
	prev := stored.UpdatedAt
	stored.UpdatedAt = prev.Add(time.Millisecond)
	require.NoError(t, repo.Update(ctx, stored, prev, newTestEntry(stored, domain.EventAuctionUpdated)))

	entries, err := ledger.FetchPendingOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Less(t, entries[0].Seq, entries[1].Seq)
	assert.Equal(t, domain.EventAuctionCreated, entries[0].EventType)

	// Ya reclamadas: una segunda pasada no las ve hasta vencer la visibilidad.
	again, err := ledger.FetchPendingOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestFetchPendingOutbox_VisibilityTimeout(t *testing.T) {
	db := newTestDB(t)
	repo := NewAuctionRepoSQLite(db)
	ledger := sharedOutbox.NewOutboxRepoSQLite(db)
	ledger.Visibility = 10 * time.Millisecond
	ctx := context.Background()

	a := newTestAuction(t, "alice", "Ford")
	require.NoError(t, repo.Create(ctx, a, newTestEntry(a, domain.EventAuctionCreated)))

	first, err := ledger.FetchPendingOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Simula una instancia de relay caída: pasada la visibilidad, la entrada
	// vuelve a ser reclamable.
	time.Sleep(20 * time.Millisecond)

	second, err := ledger.FetchPendingOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].Seq, second[0].Seq)
}

func TestMarkOutboxDelivered_Idempotent(t *testing.T) {
	db := newTestDB(t)
	repo := NewAuctionRepoSQLite(db)
	ledger := sharedOutbox.NewOutboxRepoSQLite(db)
	ctx := context.Background()

	a := newTestAuction(t, "alice", "Ford")
	require.NoError(t, repo.Create(ctx, a, newTestEntry(a, domain.EventAuctionCreated)))

	entries, err := ledger.FetchPendingOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	seq := entries[0].Seq
	assert.NoError(t, ledger.MarkOutboxDelivered(ctx, seq))
	assert.NoError(t, ledger.MarkOutboxDelivered(ctx, seq)) // repetir no es error

	// Una seq inexistente sí lo es.
	assert.Error(t, ledger.MarkOutboxDelivered(ctx, seq+999))
}

func TestMarkOutboxFailed_BackoffBlocksSuccessor(t *testing.T) {
	db := newTestDB(t)
	repo := NewAuctionRepoSQLite(db)
	ledger := sharedOutbox.NewOutboxRepoSQLite(db)
	ledger.Base = time.Minute // backoff largo para que no venza durante el test
	ctx := context.Background()

	a := newTestAuction(t, "alice", "Ford")
	require.NoError(t, repo.Create(ctx, a, newTestEntry(a, domain.EventAuctionCreated)))

	stored, _ := repo.GetByID(ctx, a.ID)
	prev := stored.UpdatedAt
	stored.UpdatedAt = prev.Add(time.Millisecond)
	require.NoError(t, repo.Update(ctx, stored, prev, newTestEntry(stored, domain.EventAuctionUpdated)))

	entries, err := ledger.FetchPendingOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// La primera entrada falla: queda pending con next_attempt_at futuro.
	require.NoError(t, ledger.MarkOutboxFailed(ctx, entries[0].Seq))
	require.NoError(t, ledger.MarkOutboxFailed(ctx, entries[1].Seq))

	// Ninguna es reclamable: la primera por backoff y la segunda porque tiene
	// una anterior del mismo agregado sin entregar.
	claimed, err := ledger.FetchPendingOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	var attempts int
	require.NoError(t, db.QueryRow(`SELECT attempts FROM outbox WHERE seq = ?`, entries[0].Seq).Scan(&attempts))
	assert.Equal(t, 1, attempts)
}

func TestMarkOutboxFailed_DeliveredUntouched(t *testing.T) {
	db := newTestDB(t)
	repo := NewAuctionRepoSQLite(db)
	ledger := sharedOutbox.NewOutboxRepoSQLite(db)
	ctx := context.Background()

	a := newTestAuction(t, "alice", "Ford")
	require.NoError(t, repo.Create(ctx, a, newTestEntry(a, domain.EventAuctionCreated)))

	entries, err := ledger.FetchPendingOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, ledger.MarkOutboxDelivered(ctx, entries[0].Seq))
	require.NoError(t, ledger.MarkOutboxFailed(ctx, entries[0].Seq))

	var status string
	require.NoError(t, db.QueryRow(`SELECT status FROM outbox WHERE seq = ?`, entries[0].Seq).Scan(&status))
	assert.Equal(t, "delivered", status)
}
