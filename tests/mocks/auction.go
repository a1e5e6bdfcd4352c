package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	auctionDomain "github.com/davicafu/auctionlab/internal/auction/domain"
	sharedDomain "github.com/davicafu/auctionlab/internal/shared/domain"
	sharedQuery "github.com/davicafu/auctionlab/internal/shared/infra/platform/query"
)

// InMemoryAuctionRepo simula AuctionRepository con el outbox incluido: cada
// mutación añade fila y entrada de forma atómica, igual que los adapters SQL.
// También implementa OutboxLedger para poder conectarle un relay en tests.
type InMemoryAuctionRepo struct {
	Auctions map[uuid.UUID]*auctionDomain.Auction
	Outbox   []sharedDomain.OutboxEntry

	// FailNextWrite hace que la próxima mutación falle sin escribir nada,
	// simulando un rollback de transacción.
	FailNextWrite error

	nextSeq int64
	mu      sync.Mutex
}

var (
	_ auctionDomain.AuctionRepository = (*InMemoryAuctionRepo)(nil)
	_ sharedDomain.OutboxLedger       = (*InMemoryAuctionRepo)(nil)
)

func NewInMemoryAuctionRepo() *InMemoryAuctionRepo {
	return &InMemoryAuctionRepo{
		Auctions: make(map[uuid.UUID]*auctionDomain.Auction),
		Outbox:   []sharedDomain.OutboxEntry{},
	}
}

func (r *InMemoryAuctionRepo) takeFailure() error {
	err := r.FailNextWrite
	r.FailNextWrite = nil
	return err
}

func (r *InMemoryAuctionRepo) appendOutbox(entry sharedDomain.OutboxEntry) {
	r.nextSeq++
	entry.Seq = r.nextSeq
	r.Outbox = append(r.Outbox, entry)
}

func cloneAuction(a *auctionDomain.Auction) *auctionDomain.Auction {
	c := *a
	if a.CurrentHighBid != nil {
		v := *a.CurrentHighBid
		c.CurrentHighBid = &v
	}
	return &c
}

// --- Implementación de AuctionRepository ---

func (r *InMemoryAuctionRepo) Create(ctx context.Context, a *auctionDomain.Auction, entry sharedDomain.OutboxEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.takeFailure(); err != nil {
		return err
	}

	r.Auctions[a.ID] = cloneAuction(a)
	r.appendOutbox(entry)
	return nil
}

func (r *InMemoryAuctionRepo) GetByID(ctx context.Context, id uuid.UUID) (*auctionDomain.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.Auctions[id]
	if !ok {
		return nil, auctionDomain.ErrAuctionNotFound
	}
	return cloneAuction(a), nil
}

func (r *InMemoryAuctionRepo) Update(ctx context.Context, a *auctionDomain.Auction, expectedUpdatedAt time.Time, entry sharedDomain.OutboxEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.takeFailure(); err != nil {
		return err
	}

	current, ok := r.Auctions[a.ID]
	if !ok {
		return auctionDomain.ErrAuctionNotFound
	}
	if !current.UpdatedAt.Equal(expectedUpdatedAt) {
		return auctionDomain.ErrConflict
	}

	r.Auctions[a.ID] = cloneAuction(a)
	r.appendOutbox(entry)
	return nil
}

func (r *InMemoryAuctionRepo) DeleteByID(ctx context.Context, id uuid.UUID, entry sharedDomain.OutboxEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.takeFailure(); err != nil {
		return err
	}

	if _, ok := r.Auctions[id]; !ok {
		return auctionDomain.ErrAuctionNotFound
	}

	delete(r.Auctions, id)
	r.appendOutbox(entry)
	return nil
}

func (r *InMemoryAuctionRepo) ListByCriteria(
	ctx context.Context,
	criteria sharedDomain.Criteria,
	pagination sharedQuery.Pagination,
	sorts sharedQuery.Sort,
) ([]*auctionDomain.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var list []*auctionDomain.Auction
	for _, a := range r.Auctions {
		if criteria == nil || matchAuction(a, criteria.ToConditions()) {
			list = append(list, cloneAuction(a))
		}
	}

	sort.SliceStable(list, func(i, j int) bool {
		return compareAuctions(list[i], list[j], sorts)
	})

	if p, ok := pagination.(sharedQuery.OffsetPagination); ok {
		start := p.Offset
		if start > len(list) {
			return []*auctionDomain.Auction{}, nil
		}
		end := len(list)
		if p.Limit > 0 && start+p.Limit < end {
			end = start + p.Limit
		}
		return list[start:end], nil
	}

	return list, nil
}

func matchAuction(a *auctionDomain.Auction, conds []sharedDomain.Criterion) bool {
	for _, cond := range conds {
		switch cond.Field {
		case "updated_at":
			t, ok := cond.Value.(time.Time)
			if !ok {
				return false
			}
			if cond.Op == sharedDomain.OpGt && !a.UpdatedAt.After(t) {
				return false
			}
		case "seller":
			if a.Seller != cond.Value.(string) {
				return false
			}
		case "status":
			if string(a.Status) != cond.Value.(string) {
				return false
			}
		case "id":
			if a.ID.String() != cond.Value.(string) {
				return false
			}
		}
	}
	return true
}

func compareAuctions(a, b *auctionDomain.Auction, s sharedQuery.Sort) bool {
	var less bool
	switch s.Field {
	case "make":
		if a.Item.Make != b.Item.Make {
			less = a.Item.Make < b.Item.Make
		} else {
			less = a.ID.String() < b.ID.String() // desempate estable
		}
	case "updated_at":
		less = a.UpdatedAt.Before(b.UpdatedAt)
	default:
		less = a.CreatedAt.Before(b.CreatedAt)
	}
	if s.Desc {
		return !less
	}
	return less
}

// --- Implementación de OutboxLedger ---

// FetchPendingOutbox reclama entradas pending en orden de seq, respetando el
// bloqueo por agregado: nunca devuelve una entrada si una anterior del mismo
// agregado sigue sin entregar y no es reclamable en esta pasada.
func (r *InMemoryAuctionRepo) FetchPendingOutbox(ctx context.Context, limit int) ([]sharedDomain.OutboxEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	blocked := make(map[string]bool)
	var claimed []sharedDomain.OutboxEntry

	for i := range r.Outbox {
		entry := &r.Outbox[i]
		if entry.Status == sharedDomain.OutboxDelivered {
			continue
		}

		claimable := entry.Status == sharedDomain.OutboxPending && !entry.NextAttemptAt.After(now)
		if !claimable || blocked[entry.AggregateID] {
			blocked[entry.AggregateID] = true
			continue
		}
		if len(claimed) >= limit {
			break
		}

		entry.Status = sharedDomain.OutboxInFlight
		t := now
		entry.ClaimedAt = &t
		claimed = append(claimed, *entry)
	}

	return claimed, nil
}

func (r *InMemoryAuctionRepo) MarkOutboxDelivered(ctx context.Context, seq int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.Outbox {
		if r.Outbox[i].Seq == seq {
			r.Outbox[i].Status = sharedDomain.OutboxDelivered
			r.Outbox[i].ClaimedAt = nil
			return nil
		}
	}
	return nil
}

func (r *InMemoryAuctionRepo) MarkOutboxFailed(ctx context.Context, seq int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.Outbox {
		if r.Outbox[i].Seq == seq {
			if r.Outbox[i].Status == sharedDomain.OutboxDelivered {
				return nil
			}
			r.Outbox[i].Attempts++
			r.Outbox[i].Status = sharedDomain.OutboxPending
			r.Outbox[i].NextAttemptAt = time.Now().UTC().Add(10 * time.Millisecond)
			r.Outbox[i].ClaimedAt = nil
			return nil
		}
	}
	return nil
}

// PendingCount cuenta las entradas aún sin entregar.
func (r *InMemoryAuctionRepo) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range r.Outbox {
		if e.Status != sharedDomain.OutboxDelivered {
			n++
		}
	}
	return n
}
