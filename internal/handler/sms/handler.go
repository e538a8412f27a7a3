// Package sms exposes the inbound SMS webhook the gateway posts replies to.
package sms

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/recoverly/dunning-engine/internal/inbound"
)

type Handler struct {
	inbound *inbound.Handler
}

func NewHandler(inboundHandler *inbound.Handler) *Handler {
	return &Handler{inbound: inboundHandler}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	sms := r.Group("/sms")
	{
		sms.POST("/inbound", h.InboundSMS)
	}
}

type inboundRequest struct {
	From string `json:"from" binding:"required"`
	Body string `json:"body" binding:"required"`
}

func (h *Handler) InboundSMS(c *gin.Context) {
	var req inboundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}

	resp := h.inbound.Handle(c.Request.Context(), req.From, req.Body)
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": resp})
}
