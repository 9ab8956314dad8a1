package handler

import (
	"net/http"

	"tradepost/internal/model"
	"tradepost/internal/service"

	"github.com/gin-gonic/gin"
)

// DealHandler exposes the negotiation surface: price offers and secure-deal
// escrow actions.
type DealHandler interface {
	ProposeOffer(c *gin.Context)
	RespondToOffer(c *gin.Context)
	StartDeal(c *gin.Context)
	AdvanceDeal(c *gin.Context)
}

type dealHandler struct {
	service service.ConversationService
}

func NewDealHandler(service service.ConversationService) DealHandler {
	return &dealHandler{
		service: service,
	}
}

type proposeOfferRequest struct {
	ConversationID string `json:"conversationId" binding:"required"`
	Price          string `json:"price" binding:"required"`
}

func (h *dealHandler) ProposeOffer(c *gin.Context) {
	var req proposeOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, model.ErrInvalidArgument)
		return
	}

	msg, err := h.service.ProposeOffer(c.Request.Context(), CallerID(c), req.ConversationID, req.Price)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": msg,
	})
}

type respondOfferRequest struct {
	Action string `json:"action" binding:"required"`
}

func (h *dealHandler) RespondToOffer(c *gin.Context) {
	var req respondOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, model.ErrInvalidArgument)
		return
	}

	msg, err := h.service.RespondToOffer(c.Request.Context(), CallerID(c), c.Param("offerId"), req.Action)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": msg,
	})
}

type startDealRequest struct {
	ConversationID string `json:"conversationId" binding:"required"`
}

func (h *dealHandler) StartDeal(c *gin.Context) {
	var req startDealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, model.ErrInvalidArgument)
		return
	}

	msg, err := h.service.StartDeal(c.Request.Context(), CallerID(c), req.ConversationID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": msg,
	})
}

type advanceDealRequest struct {
	Action string `json:"action" binding:"required"`
}

func (h *dealHandler) AdvanceDeal(c *gin.Context) {
	var req advanceDealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, model.ErrInvalidArgument)
		return
	}

	msg, err := h.service.AdvanceDeal(c.Request.Context(), CallerID(c), c.Param("dealId"), req.Action)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": msg,
	})
}
