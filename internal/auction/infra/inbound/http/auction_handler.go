package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/davicafu/auctionlab/internal/auction/application"
	"github.com/davicafu/auctionlab/internal/auction/domain"
	"github.com/davicafu/auctionlab/pkg/utils"
)

// AuctionHandler encapsula los endpoints HTTP relacionados con Auction.
type AuctionHandler struct {
	service *application.AuctionService
}

func NewAuctionHandler(service *application.AuctionService) *AuctionHandler {
	return &AuctionHandler{service: service}
}

// Formatos aceptados para el parámetro ?date=. Los instantes sin zona se
// interpretan en hora local y se normalizan a UTC antes de filtrar.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseDateParam(raw string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.New("invalid date format")
}

// sendServiceError traduce errores de dominio a códigos HTTP.
func sendServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrAuctionNotFound):
		utils.SendNotFound(c, "auction not found")
	case errors.Is(err, domain.ErrInvalidAuction):
		utils.SendBadRequest(c, err.Error())
	case errors.Is(err, domain.ErrConflict):
		utils.SendError(c, http.StatusConflict, "auction was modified concurrently, retry")
	case errors.Is(err, domain.ErrInvalidTransition):
		utils.SendError(c, http.StatusConflict, err.Error())
	default:
		utils.SendInternalServerError(c, err.Error())
	}
}

// ---------------- Handlers ----------------

// CreateAuction endpoint POST /api/auctions
func (h *AuctionHandler) CreateAuction(c *gin.Context) {
	var req struct {
		Seller       string `json:"seller" binding:"required"`
		ReservePrice int64  `json:"reserve_price"`
		AuctionEnd   string `json:"auction_end" binding:"required"` // RFC3339
		Make         string `json:"make" binding:"required"`
		Model        string `json:"model" binding:"required"`
		Year         int    `json:"year"`
		Color        string `json:"color"`
		Mileage      int    `json:"mileage"`
		ImageURL     string `json:"image_url"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}

	auctionEnd, err := time.Parse(time.RFC3339, req.AuctionEnd)
	if err != nil {
		utils.SendBadRequest(c, "invalid auction_end format, use RFC3339")
		return
	}

	item := domain.Item{
		Make:     req.Make,
		Model:    req.Model,
		Year:     req.Year,
		Color:    req.Color,
		Mileage:  req.Mileage,
		ImageURL: req.ImageURL,
	}

	auction, err := h.service.CreateAuction(c.Request.Context(), item, req.Seller, req.ReservePrice, auctionEnd)
	if err != nil {
		sendServiceError(c, err)
		return
	}

	utils.SendSuccess(c, http.StatusCreated, auction)
}

// GetAuction endpoint GET /api/auctions/:id
func (h *AuctionHandler) GetAuction(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.SendBadRequest(c, "invalid auction id")
		return
	}

	auction, err := h.service.GetAuction(c.Request.Context(), id)
	if err != nil {
		sendServiceError(c, err)
		return
	}

	utils.SendSuccess(c, http.StatusOK, auction)
}

// ListAuctions endpoint GET /api/auctions?date=...
// Sin parámetro devuelve todas las subastas ordenadas por marca; con ?date=
// solo las actualizadas estrictamente después de ese instante.
func (h *AuctionHandler) ListAuctions(c *gin.Context) {
	var updatedAfter *time.Time
	if raw := c.Query("date"); raw != "" {
		t, err := parseDateParam(raw)
		if err != nil {
			utils.SendBadRequest(c, "invalid date format")
			return
		}
		updatedAfter = &t
	}

	auctions, err := h.service.ListAuctions(c.Request.Context(), updatedAfter)
	if err != nil {
		sendServiceError(c, err)
		return
	}

	if auctions == nil {
		auctions = []*domain.Auction{}
	}
	utils.SendSuccess(c, http.StatusOK, auctions)
}

// UpdateAuction endpoint PUT /api/auctions/:id
// Actualización parcial: solo los campos presentes en el body se modifican.
func (h *AuctionHandler) UpdateAuction(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.SendBadRequest(c, "invalid auction id")
		return
	}

	var req struct {
		Make    *string `json:"make,omitempty"`
		Model   *string `json:"model,omitempty"`
		Color   *string `json:"color,omitempty"`
		Mileage *int    `json:"mileage,omitempty"`
		Year    *int    `json:"year,omitempty"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}

	patch := domain.ItemPatch{
		Make:    req.Make,
		Model:   req.Model,
		Color:   req.Color,
		Mileage: req.Mileage,
		Year:    req.Year,
	}

	auction, err := h.service.UpdateAuction(c.Request.Context(), id, patch)
	if err != nil {
		sendServiceError(c, err)
		return
	}

	utils.SendSuccess(c, http.StatusOK, auction)
}

// DeleteAuction endpoint DELETE /api/auctions/:id
func (h *AuctionHandler) DeleteAuction(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.SendBadRequest(c, "invalid auction id")
		return
	}

	if err := h.service.DeleteAuction(c.Request.Context(), id); err != nil {
		sendServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// FinishAuction endpoint POST /api/auctions/:id/finish
func (h *AuctionHandler) FinishAuction(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.SendBadRequest(c, "invalid auction id")
		return
	}

	auction, err := h.service.FinishAuction(c.Request.Context(), id)
	if err != nil {
		sendServiceError(c, err)
		return
	}

	utils.SendSuccess(c, http.StatusOK, auction)
}

// CancelAuction endpoint POST /api/auctions/:id/cancel
func (h *AuctionHandler) CancelAuction(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.SendBadRequest(c, "invalid auction id")
		return
	}

	auction, err := h.service.CancelAuction(c.Request.Context(), id)
	if err != nil {
		sendServiceError(c, err)
		return
	}

	utils.SendSuccess(c, http.StatusOK, auction)
}
