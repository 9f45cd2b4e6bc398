package http

import (
	"net/http"

	"telecare/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
)

// PresenceStats is implemented by the in-process presence registry.
type PresenceStats interface {
	Stats() (connections int, identities int)
}

// StatsHandler serves operational numbers for the admin dashboard.
type StatsHandler struct {
	presence PresenceStats
	health   *monitoring.HealthChecker
}

func NewStatsHandler(presence PresenceStats, health *monitoring.HealthChecker) *StatsHandler {
	return &StatsHandler{
		presence: presence,
		health:   health,
	}
}

func (h *StatsHandler) SetupRoutes(router *gin.Engine, auth, adminOnly gin.HandlerFunc) {
	api := router.Group("/api/v1/admin")
	api.Use(auth, adminOnly)
	{
		api.GET("/stats", h.GetStats)
	}
}

func (h *StatsHandler) GetStats(c *gin.Context) {
	connections, identities := h.presence.Stats()

	status := h.health.CheckAll(c.Request.Context())

	c.JSON(http.StatusOK, gin.H{
		"connections": connections,
		"identities":  identities,
		"health":      status,
	})
}
