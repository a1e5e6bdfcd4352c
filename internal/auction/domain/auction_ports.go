package domain

import (
	"context"
	"errors"
	"time"

	sharedDomain "github.com/davicafu/auctionlab/internal/shared/domain"
	sharedQuery "github.com/davicafu/auctionlab/internal/shared/infra/platform/query"
	"github.com/google/uuid"
)

// ---------- Errores de dominio ----------
var (
	ErrAuctionNotFound   = errors.New("auction not found")
	ErrInvalidAuction    = errors.New("invalid auction")
	ErrConflict          = errors.New("auction was modified concurrently")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ---------- Interfaces (Ports) ----------

// AuctionRepository define las operaciones persistentes para Auction.
// Cada mutación recibe la entrada de outbox que debe confirmarse en la MISMA
// transacción: si la transacción aborta, ni la fila ni la entrada existen.
type AuctionRepository interface {
	Create(ctx context.Context, a *Auction, entry sharedDomain.OutboxEntry) error

	// Debe devolver ErrAuctionNotFound si no existe.
	GetByID(ctx context.Context, id uuid.UUID) (*Auction, error)

	// Update aplica el snapshot con control optimista sobre updated_at:
	// devuelve ErrConflict si la fila cambió desde expectedUpdatedAt y
	// ErrAuctionNotFound si la subasta no existe.
	Update(ctx context.Context, a *Auction, expectedUpdatedAt time.Time, entry sharedDomain.OutboxEntry) error

	// Debe devolver ErrAuctionNotFound si la subasta no existe.
	DeleteByID(ctx context.Context, id uuid.UUID, entry sharedDomain.OutboxEntry) error

	// ListByCriteria devuelve subastas según criterios neutrales, con orden
	// determinista (campo + desempate por id).
	ListByCriteria(ctx context.Context, criteria sharedDomain.Criteria, pagination sharedQuery.Pagination, sort sharedQuery.Sort) ([]*Auction, error)
}
