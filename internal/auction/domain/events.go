package domain

import (
	"time"

	"github.com/google/uuid"
)

// Payloads de los eventos de integración que viajan en el outbox. Son un
// snapshot de la subasta en el momento de la mutación, nunca una referencia.

type AuctionCreated struct {
	ID           uuid.UUID `json:"id"`
	Seller       string    `json:"seller"`
	ReservePrice int64     `json:"reserve_price"`
	AuctionEnd   time.Time `json:"auction_end"`
	Item         Item      `json:"item"`
}

type AuctionUpdated struct {
	ID     uuid.UUID `json:"id"`
	Status Status    `json:"status"`
	Item   Item      `json:"item"`
}

type AuctionDeleted struct {
	ID uuid.UUID `json:"id"`
}

type AuctionFinished struct {
	ID         uuid.UUID `json:"id"`
	Seller     string    `json:"seller"`
	ItemSold   bool      `json:"item_sold"`
	SoldAmount *int64    `json:"sold_amount,omitempty"`
}
