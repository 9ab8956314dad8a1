package handler

import (
	"net/http"
	"strconv"

	"tradepost/internal/model"
	"tradepost/internal/service"

	"github.com/gin-gonic/gin"
)

type ConversationHandler interface {
	ListConversations(c *gin.Context)
	OpenConversation(c *gin.Context)
	GetThread(c *gin.Context)
	SendMessage(c *gin.Context)
	MarkRead(c *gin.Context)
}

type conversationHandler struct {
	service service.ConversationService
}

func NewConversationHandler(service service.ConversationService) ConversationHandler {
	return &conversationHandler{
		service: service,
	}
}

func (h *conversationHandler) ListConversations(c *gin.Context) {
	summaries, err := h.service.ListConversations(c.Request.Context(), CallerID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversations": summaries,
	})
}

type openConversationRequest struct {
	ListingID string `json:"listingId" binding:"required"`
	SellerID  string `json:"sellerId"`
}

func (h *conversationHandler) OpenConversation(c *gin.Context) {
	var req openConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, model.ErrInvalidArgument)
		return
	}

	conv, err := h.service.OpenConversation(c.Request.Context(), CallerID(c), req.ListingID, req.SellerID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversation": conv,
	})
}

func (h *conversationHandler) GetThread(c *gin.Context) {
	conversationID := c.Param("conversationId")
	cursor := c.Query("cursor")

	limit, err := strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 64)
	if err != nil || limit < 1 {
		respondError(c, model.ErrInvalidArgument)
		return
	}

	msgs, nextCursor, err := h.service.GetThread(c.Request.Context(), CallerID(c), conversationID, cursor, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"messages":   msgs,
		"nextCursor": nextCursor,
	})
}

type sendMessageRequest struct {
	Kind     string `json:"kind" binding:"required"`
	Body     string `json:"body"`
	ImageRef string `json:"imageRef"`
}

func (h *conversationHandler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, model.ErrInvalidArgument)
		return
	}

	msg, err := h.service.SendMessage(c.Request.Context(), CallerID(c), c.Param("conversationId"), req.Kind, req.Body, req.ImageRef)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": msg,
	})
}

func (h *conversationHandler) MarkRead(c *gin.Context) {
	if err := h.service.MarkRead(c.Request.Context(), CallerID(c), c.Param("conversationId")); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
