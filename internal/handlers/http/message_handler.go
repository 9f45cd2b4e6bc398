package http

import (
	"errors"
	"net/http"

	"telecare/internal/core/domain"
	"telecare/internal/core/ports"
	"telecare/internal/infrastructure/middleware"
	"telecare/pkg/validation"

	"github.com/gin-gonic/gin"
)

// MessageHandler exposes the chat history over REST. The websocket channel
// stays the primary path; these endpoints back the portal's page loads and
// mobile clients catching up after reconnect.
type MessageHandler struct {
	messages ports.MessageService
}

func NewMessageHandler(messages ports.MessageService) *MessageHandler {
	return &MessageHandler{messages: messages}
}

func (h *MessageHandler) SetupRoutes(router *gin.Engine, auth gin.HandlerFunc) {
	api := router.Group("/api/v1")
	api.Use(auth)
	{
		api.GET("/messages/:peerID", h.GetConversation)
		api.POST("/messages", h.SendMessage)
		api.PUT("/messages/:id/seen", h.MarkSeen)
	}
}

func (h *MessageHandler) GetConversation(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	peer := c.Param("peerID")
	if err := validation.ValidateIdentity(peer); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	messages, err := h.messages.Conversation(c.Request.Context(), identity, domain.Identity(peer))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"messages": messages,
		"count":    len(messages),
	})
}

func (h *MessageHandler) SendMessage(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var req struct {
		ReceiverID  string `json:"receiverId" binding:"required,max=100"`
		MessageType string `json:"messageType" binding:"required"`
		Content     string `json:"content" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := validation.ValidateIdentity(req.ReceiverID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.messages.Send(
		c.Request.Context(),
		identity,
		domain.Identity(req.ReceiverID),
		domain.MessageType(req.MessageType),
		req.Content,
	)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrEmptyContent),
			errors.Is(err, domain.ErrInvalidMessageType),
			errors.Is(err, domain.ErrEmptyIdentity):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": msg,
	})
}

func (h *MessageHandler) MarkSeen(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	id := domain.MessageID(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message id required"})
		return
	}

	msg, changed, err := h.messages.MarkSeen(c.Request.Context(), id, identity)
	if err != nil {
		if errors.Is(err, domain.ErrMessageNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
			return
		}
		if errors.Is(err, domain.ErrNotReceiver) {
			c.JSON(http.StatusForbidden, gin.H{"error": "only the receiver can mark a message seen"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": msg,
		"changed": changed,
	})
}
