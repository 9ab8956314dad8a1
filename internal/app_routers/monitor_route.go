package approuters

import (
	"tradepost/internal/configuration"

	"github.com/gin-gonic/gin"
)

func MonitorRouters(router *gin.Engine, container *configuration.Container) {
	monitorRoute := router.Group("/monitor/api")
	{
		monitorRoute.GET("/stats", container.MonitorHandler.GetStats)
	}
}
