package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthResponse reports liveness and which optional features are wired.
type HealthResponse struct {
	Status      string `json:"status"`
	Persistence bool   `json:"persistence"`
	Chat        bool   `json:"chat"`
}

// Health godoc
// @Summary      Health check
// @Description  Returns the health status of the service and the optional features it runs with
// @Tags         health
// @Produce      json
// @Success      200  {object}  HealthResponse
// @Router       /health [get]
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:      "healthy",
		Persistence: h.profiles != nil,
		Chat:        h.advisor != nil,
	})
}
