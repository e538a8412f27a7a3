// Package failure exposes the payment-failure webhook and sequence
// reporting endpoints.
package failure

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/recoverly/dunning-engine/internal/service/dunning"
	apperrors "github.com/recoverly/dunning-engine/pkg/errors"
)

type Handler struct {
	service *dunning.Service
}

func NewHandler(service *dunning.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	failures := r.Group("/failures")
	{
		failures.POST("", h.IngestFailure)
		failures.GET("/:id", h.GetFailure)
		failures.POST("/:id/recovered", h.MarkRecovered)
		failures.GET("/:id/status", h.SequenceStatus)
		failures.GET("/:id/progress", h.StageProgress)
		failures.GET("/:id/notifications", h.NotificationHistory)
	}
}

// IngestFailure is the payment-failure webhook. Billing posts one event per
// failed charge; the engine records it and schedules the full sequence.
func (h *Handler) IngestFailure(c *gin.Context) {
	var req dunning.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}

	result, err := h.service.Ingest(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": "success", "data": result})
}

func (h *Handler) GetFailure(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid failure ID"})
		return
	}

	failure, err := h.service.GetFailure(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "data": failure})
}

// MarkRecovered is the external recovery signal: the customer paid or fixed
// their payment method out of band.
func (h *Handler) MarkRecovered(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid failure ID"})
		return
	}

	failure, err := h.service.MarkRecovered(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "data": failure})
}

func (h *Handler) SequenceStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid failure ID"})
		return
	}

	st, err := h.service.SequenceStatus(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "data": st})
}

func (h *Handler) StageProgress(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid failure ID"})
		return
	}

	progress, err := h.service.StageProgress(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "data": progress})
}

func (h *Handler) NotificationHistory(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid failure ID"})
		return
	}

	events, err := h.service.NotificationHistory(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "data": events})
}

func respondError(c *gin.Context, err error) {
	switch {
	case apperrors.IsCode(err, apperrors.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": err.Error()})
	case apperrors.IsCode(err, apperrors.ErrBadRequest), apperrors.IsCode(err, apperrors.ErrUnknownStage):
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
	case apperrors.IsCode(err, apperrors.ErrConflict), apperrors.IsCode(err, apperrors.ErrPrecondition):
		c.JSON(http.StatusConflict, gin.H{"status": "error", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
	}
}
