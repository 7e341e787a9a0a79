package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// ListProfiles godoc
// @Summary      List persisted token profiles
// @Description  Returns the most recently refreshed profiles from the store
// @Tags         profiles
// @Produce      json
// @Param        limit  query  int  false  "Number of profiles (default 50, max 200)"  default(50)
// @Success      200  {object}  map[string]interface{}
// @Failure      503  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/profiles [get]
func (h *Handler) ListProfiles(c *gin.Context) {
	if h.profiles == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "persistence disabled"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.list-profiles")
	defer span.End()

	limit := 50
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	profiles, err := h.profiles.ListProfiles(ctx, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(profiles), "profiles": profiles})
}

// GetProfile godoc
// @Summary      Get the persisted profile of a symbol
// @Description  Returns the last stored aggregation without calling any provider
// @Tags         profiles
// @Produce      json
// @Param        symbol  path  string  true  "Canonical symbol (e.g. UNI)"
// @Success      200  {object}  domain.AggregatedTokenProfile
// @Failure      404  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/profiles/{symbol} [get]
func (h *Handler) GetProfile(c *gin.Context) {
	if h.profiles == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "persistence disabled"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-profile")
	defer span.End()

	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	p, err := h.profiles.GetProfile(ctx, symbol)
	switch {
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	case p == nil:
		c.JSON(http.StatusNotFound, gin.H{"error": "no stored profile for " + symbol})
	default:
		c.JSON(http.StatusOK, p)
	}
}
