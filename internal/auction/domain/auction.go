package domain

import (
	"fmt"
	"time"

	sharedBus "github.com/davicafu/auctionlab/internal/shared/infra/platform/bus"
	"github.com/google/uuid"
)

// Status es el estado del ciclo de vida de una subasta.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusLive      Status = "live"
	StatusEnded     Status = "ended"
	StatusFinished  Status = "finished"
	StatusCancelled Status = "cancelled"
)

// Item es el vehículo subastado, embebido en la subasta.
type Item struct {
	Make     string `json:"make"`
	Model    string `json:"model"`
	Year     int    `json:"year"`
	Color    string `json:"color"`
	Mileage  int    `json:"mileage"`
	ImageURL string `json:"image_url"`
}

// Auction representa una subasta del sistema.
type Auction struct {
	ID             uuid.UUID `json:"id"`
	Seller         string    `json:"seller"`
	ReservePrice   int64     `json:"reserve_price"`
	CurrentHighBid *int64    `json:"current_high_bid,omitempty"`
	AuctionEnd     time.Time `json:"auction_end"`
	Status         Status    `json:"status"`
	Item           Item      `json:"item"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (a *Auction) PartitionKey() string {
	return a.ID.String()
}

// NewAuction valida la entrada y construye una subasta que sale directamente
// en estado live (no hay flujo de publicación de borradores en esta API).
func NewAuction(item Item, seller string, reservePrice int64, auctionEnd time.Time, now time.Time) (*Auction, error) {
	if seller == "" {
		return nil, fmt.Errorf("%w: seller is required", ErrInvalidAuction)
	}
	if reservePrice < 0 {
		return nil, fmt.Errorf("%w: reserve price must not be negative", ErrInvalidAuction)
	}
	if !auctionEnd.After(now) {
		return nil, fmt.Errorf("%w: auction end must be in the future", ErrInvalidAuction)
	}
	if item.Make == "" || item.Model == "" {
		return nil, fmt.Errorf("%w: item make and model are required", ErrInvalidAuction)
	}

	return &Auction{
		ID:           uuid.New(),
		Seller:       seller,
		ReservePrice: reservePrice,
		AuctionEnd:   auctionEnd.UTC(),
		Status:       StatusLive,
		Item:         item,
		CreatedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
	}, nil
}

// ---------------- Máquina de estados ----------------

// draft → live → ended → finished, con live → cancelled como salida
// alternativa. Ningún salto se permite.
var statusTransitions = map[Status][]Status{
	StatusDraft: {StatusLive},
	StatusLive:  {StatusEnded, StatusCancelled},
	StatusEnded: {StatusFinished},
}

// TransitionTo aplica una transición válida de la máquina de estados.
func (a *Auction) TransitionTo(next Status) error {
	for _, allowed := range statusTransitions[a.Status] {
		if allowed == next {
			a.Status = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, next)
}

// ---------------- Actualización parcial ----------------

// ItemPatch transporta los campos opcionales de una actualización parcial.
// Solo los campos no nulos se aplican; el resto queda intacto.
type ItemPatch struct {
	Make    *string `json:"make,omitempty"`
	Model   *string `json:"model,omitempty"`
	Color   *string `json:"color,omitempty"`
	Mileage *int    `json:"mileage,omitempty"`
	Year    *int    `json:"year,omitempty"`
}

// IsEmpty indica si el patch no cambia nada.
func (p ItemPatch) IsEmpty() bool {
	return p.Make == nil && p.Model == nil && p.Color == nil && p.Mileage == nil && p.Year == nil
}

// ApplyPatch aplica los campos presentes del patch sobre el item.
func (a *Auction) ApplyPatch(p ItemPatch) {
	if p.Make != nil {
		a.Item.Make = *p.Make
	}
	if p.Model != nil {
		a.Item.Model = *p.Model
	}
	if p.Color != nil {
		a.Item.Color = *p.Color
	}
	if p.Mileage != nil {
		a.Item.Mileage = *p.Mileage
	}
	if p.Year != nil {
		a.Item.Year = *p.Year
	}
}

// CacheKeyByID forma una key consistente para cache usando ID.
func CacheKeyByID(id uuid.UUID) string {
	return fmt.Sprintf("auction:id:%s", id.String())
}

// Verificación estática para asegurar que Auction implementa la interfaz
var _ sharedBus.Keyer = (*Auction)(nil)
