package approuters

import (
	"tradepost/internal/configuration"
	"tradepost/internal/handler"

	"github.com/gin-gonic/gin"
)

func ConversationRouters(router *gin.Engine, container *configuration.Container) {
	conversationRoute := router.Group("/api/conversations")
	conversationRoute.Use(handler.AuthMiddleware(container.Authenticator))
	{
		conversationRoute.GET("", container.ConversationHandler.ListConversations)
		conversationRoute.POST("", container.ConversationHandler.OpenConversation)
		conversationRoute.GET("/:conversationId/messages", container.ConversationHandler.GetThread)
		conversationRoute.POST("/:conversationId/messages", container.ConversationHandler.SendMessage)
		conversationRoute.POST("/:conversationId/read", container.ConversationHandler.MarkRead)
	}
}
