package approuters

import (
	"tradepost/internal/configuration"
	"tradepost/internal/handler"

	"github.com/gin-gonic/gin"
)

func DealRouters(router *gin.Engine, container *configuration.Container) {
	offerRoute := router.Group("/api/offers")
	offerRoute.Use(handler.AuthMiddleware(container.Authenticator))
	{
		offerRoute.POST("", container.DealHandler.ProposeOffer)
		offerRoute.POST("/:offerId/respond", container.DealHandler.RespondToOffer)
	}

	dealRoute := router.Group("/api/deals")
	dealRoute.Use(handler.AuthMiddleware(container.Authenticator))
	{
		dealRoute.POST("", container.DealHandler.StartDeal)
		dealRoute.POST("/:dealId/advance", container.DealHandler.AdvanceDeal)
	}
}
