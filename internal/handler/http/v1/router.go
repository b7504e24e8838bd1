package v1

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes регистрирует все маршруты API v1.
// Мутирующие группы закрыты API-ключом, health-check остаётся открытым.
func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	auth := APIKeyAuthMiddleware(h.cfg, h.logger)

	// Маршруты жизненного цикла инцидентов
	incidents := api.Group("/incidents")
	incidents.Use(auth)
	{
		incidents.POST("", h.createIncident)
		incidents.GET("/:id", h.getIncident)
		incidents.POST("/:id/accept", h.acceptIncident)
		incidents.POST("/:id/decline", h.declineIncident)
		incidents.POST("/:id/resolve", h.resolveIncident)
		incidents.POST("/:id/cancel", h.cancelIncident)
		incidents.POST("/:id/position", h.reportPosition)
	}

	// Маршруты справочника ответчиков
	responders := api.Group("/responders")
	responders.Use(auth)
	{
		responders.POST("", h.registerResponder)
		responders.PUT("/:id/availability", h.setAvailability)
		responders.PUT("/:id/location", h.updateLocation)
	}

	// Маршрут Health-check
	api.GET("/system/health", h.healthCheck)
}
