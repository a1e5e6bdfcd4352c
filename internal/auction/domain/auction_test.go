package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validItem() Item {
	return Item{
		Make:     "Ford",
		Model:    "Mustang",
		Year:     1968,
		Color:    "Red",
		Mileage:  120000,
		ImageURL: "https://example.com/mustang.jpg",
	}
}

func TestNewAuction_Success(t *testing.T) {
	now := time.Now()
	auction, err := NewAuction(validItem(), "alice", 10000, now.Add(24*time.Hour), now)

	assert.NoError(t, err)
	assert.NotNil(t, auction)
	assert.Equal(t, StatusLive, auction.Status)
	assert.Equal(t, "alice", auction.Seller)
	assert.Equal(t, auction.CreatedAt, auction.UpdatedAt)
	assert.NotEqual(t, auction.ID.String(), "00000000-0000-0000-0000-000000000000")
}

func TestNewAuction_Validation(t *testing.T) {
	now := time.Now()
	end := now.Add(24 * time.Hour)

	cases := []struct {
		name    string
		item    Item
		seller  string
		reserve int64
		end     time.Time
	}{
		{"missing seller", validItem(), "", 100, end},
		{"negative reserve price", validItem(), "alice", -1, end},
		{"auction end in the past", validItem(), "alice", 100, now.Add(-time.Hour)},
		{"missing make", Item{Model: "Mustang"}, "alice", 100, end},
		{"missing model", Item{Make: "Ford"}, "alice", 100, end},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewAuction(tc.item, tc.seller, tc.reserve, tc.end, now)
			assert.ErrorIs(t, err, ErrInvalidAuction)
		})
	}
}

func TestNewAuction_ZeroReservePriceAllowed(t *testing.T) {
	now := time.Now()
	auction, err := NewAuction(validItem(), "alice", 0, now.Add(time.Hour), now)

	assert.NoError(t, err)
	assert.EqualValues(t, 0, auction.ReservePrice)
}

func TestTransitionTo_ValidPath(t *testing.T) {
	a := &Auction{Status: StatusDraft}

	assert.NoError(t, a.TransitionTo(StatusLive))
	assert.NoError(t, a.TransitionTo(StatusEnded))
	assert.NoError(t, a.TransitionTo(StatusFinished))
	assert.Equal(t, StatusFinished, a.Status)
}

func TestTransitionTo_CancelOnlyFromLive(t *testing.T) {
	a := &Auction{Status: StatusLive}
	assert.NoError(t, a.TransitionTo(StatusCancelled))

	b := &Auction{Status: StatusEnded}
	assert.ErrorIs(t, b.TransitionTo(StatusCancelled), ErrInvalidTransition)
}

func TestTransitionTo_NoSkipping(t *testing.T) {
	a := &Auction{Status: StatusLive}
	err := a.TransitionTo(StatusFinished)

	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusLive, a.Status) // el estado no cambia si la transición falla
}

func TestTransitionTo_TerminalStates(t *testing.T) {
	for _, status := range []Status{StatusFinished, StatusCancelled} {
		a := &Auction{Status: status}
		assert.ErrorIs(t, a.TransitionTo(StatusLive), ErrInvalidTransition)
	}
}

func TestApplyPatch_OnlyPresentFields(t *testing.T) {
	a := &Auction{Item: validItem()}

	color := "Blue"
	a.ApplyPatch(ItemPatch{Color: &color})

	assert.Equal(t, "Blue", a.Item.Color)
	assert.Equal(t, "Ford", a.Item.Make)
	assert.Equal(t, "Mustang", a.Item.Model)
	assert.Equal(t, 1968, a.Item.Year)
	assert.Equal(t, 120000, a.Item.Mileage)
}

func TestApplyPatch_ZeroValuesApply(t *testing.T) {
	a := &Auction{Item: validItem()}

	mileage := 0
	a.ApplyPatch(ItemPatch{Mileage: &mileage})

	// un cero explícito no es lo mismo que un campo ausente
	assert.Equal(t, 0, a.Item.Mileage)
}

func TestItemPatch_IsEmpty(t *testing.T) {
	assert.True(t, ItemPatch{}.IsEmpty())

	make := "Ford"
	assert.False(t, ItemPatch{Make: &make}.IsEmpty())
}
