package domain

import (
	"time"

	sharedDomain "github.com/davicafu/auctionlab/internal/shared/domain"
	"github.com/google/uuid"
)

// UpdatedAfterCriteria restringe a subastas con updated_at estrictamente
// posterior al instante dado (ya normalizado a UTC por el caller).
type UpdatedAfterCriteria struct {
	After time.Time
}

func (c UpdatedAfterCriteria) ToConditions() []sharedDomain.Criterion {
	return []sharedDomain.Criterion{
		{Field: "updated_at", Op: sharedDomain.OpGt, Value: c.After.UTC()},
	}
}

// SellerCriteria filtra por vendedor exacto.
type SellerCriteria struct {
	Seller string
}

func (c SellerCriteria) ToConditions() []sharedDomain.Criterion {
	return []sharedDomain.Criterion{
		{Field: "seller", Op: sharedDomain.OpEq, Value: c.Seller},
	}
}

// StatusCriteria filtra por estado del ciclo de vida.
type StatusCriteria struct {
	Status Status
}

func (c StatusCriteria) ToConditions() []sharedDomain.Criterion {
	return []sharedDomain.Criterion{
		{Field: "status", Op: sharedDomain.OpEq, Value: string(c.Status)},
	}
}

// IDCriteria filtra por ID exacto.
type IDCriteria struct {
	ID uuid.UUID
}

func (c IDCriteria) ToConditions() []sharedDomain.Criterion {
	return []sharedDomain.Criterion{
		{Field: "id", Op: sharedDomain.OpEq, Value: c.ID.String()},
	}
}
