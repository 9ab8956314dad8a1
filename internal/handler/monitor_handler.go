package handler

import (
	"net/http"

	"tradepost/internal/advisory"
	"tradepost/internal/hub"

	"github.com/gin-gonic/gin"
)

type MonitorHandler interface {
	GetStats(c *gin.Context)
}

type monitorHandler struct {
	monitor *hub.MonitorService
	advisor *advisory.Advisor
}

func NewMonitorHandler(monitor *hub.MonitorService, advisor *advisory.Advisor) MonitorHandler {
	return &monitorHandler{
		monitor: monitor,
		advisor: advisor,
	}
}

func (h *monitorHandler) GetStats(c *gin.Context) {
	stats := h.monitor.GetStats()
	if h.advisor != nil {
		stats.Advisory = h.advisor.Stats()
	}

	c.JSON(http.StatusOK, stats)
}
