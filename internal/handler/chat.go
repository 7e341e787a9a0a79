package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

type ChatRequest struct {
	ChatID  int64  `json:"chat_id"`
	Message string `json:"message"`
}

type ChatResponse struct {
	Reply string `json:"reply"`
}

// Chat godoc
// @Summary      Ask the research assistant
// @Description  Answers a chat message, embedding profiles for every mentioned $symbol
// @Tags         chat
// @Accept       json
// @Produce      json
// @Param        request  body  ChatRequest  true  "Chat message"
// @Success      200  {object}  ChatResponse
// @Failure      400  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Failure      502  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/chat [post]
func (h *Handler) Chat(c *gin.Context) {
	if h.advisor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "chat unavailable"})
		return
	}

	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.chat")
	defer span.End()
	span.SetAttributes(attribute.Int64("chat_id", req.ChatID))
	h.metrics.RecordChat("http")

	reply, err := h.advisor.Ask(ctx, req.ChatID, req.Message)
	if err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, ChatResponse{Reply: reply})
}
