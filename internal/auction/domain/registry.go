package domain

import (
	"reflect"

	sharedEvents "github.com/davicafu/auctionlab/internal/shared/domain/events"
)

// Las constantes de los tipos de evento se definen aquí, como valores string.
const (
	EventAuctionCreated  = "AuctionCreated"
	EventAuctionUpdated  = "AuctionUpdated"
	EventAuctionDeleted  = "AuctionDeleted"
	EventAuctionFinished = "AuctionFinished"
)

const AuctionTopic = "auction"

func NewEventRegistry() map[string]sharedEvents.EventMetadata {
	return map[string]sharedEvents.EventMetadata{
		EventAuctionCreated: {
			Type:  reflect.TypeOf(AuctionCreated{}),
			Topic: AuctionTopic,
		},
		EventAuctionUpdated: {
			Type:  reflect.TypeOf(AuctionUpdated{}),
			Topic: AuctionTopic,
		},
		EventAuctionDeleted: {
			Type:  reflect.TypeOf(AuctionDeleted{}),
			Topic: AuctionTopic,
		},
		EventAuctionFinished: {
			Type:  reflect.TypeOf(AuctionFinished{}),
			Topic: AuctionTopic,
		},
	}
}
