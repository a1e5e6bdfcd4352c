package http

import "github.com/gin-gonic/gin"

func RegisterAuctionRoutes(r *gin.Engine, handler *AuctionHandler) {
	auctions := r.Group("/api/auctions")
	{
		auctions.POST("", handler.CreateAuction)
		auctions.GET("", handler.ListAuctions)
		auctions.GET("/:id", handler.GetAuction)
		auctions.PUT("/:id", handler.UpdateAuction)
		auctions.DELETE("/:id", handler.DeleteAuction)
		auctions.POST("/:id/finish", handler.FinishAuction)
		auctions.POST("/:id/cancel", handler.CancelAuction)
	}
}
