package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/chat-router/internal/channel"
	"github.com/psds-microservice/chat-router/internal/dispatch"
)

type WebhookHandler struct {
	dispatcher *dispatch.Dispatcher
}

func NewWebhookHandler(dispatcher *dispatch.Dispatcher) *WebhookHandler {
	return &WebhookHandler{dispatcher: dispatcher}
}

// Receive принимает сообщение канала. Приём всегда отвечает 200 быстро:
// канал повторяет доставку при любом другом статусе, а повторы и так
// отсекаются дедупликацией.
func (h *WebhookHandler) Receive(c *gin.Context) {
	var msg channel.InboundMessage
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	h.dispatcher.Ingest(msg)
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}
