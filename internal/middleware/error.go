package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	apperrors "github.com/recoverly/dunning-engine/pkg/errors"
)

// ErrorResponse is the error body every middleware and handler returns.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}

// ErrorHandler logs errors attached via c.Error and renders the last one.
// Handlers that respond directly never reach this; it is the backstop for
// bindings and middleware that push onto the gin error list.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		traceID := c.GetString(ContextRequestID)

		for _, e := range c.Errors {
			log.Error().
				Err(e.Err).
				Str("request_id", traceID).
				Str("path", c.Request.URL.Path).
				Str("method", c.Request.Method).
				Msg("request error")
		}

		lastErr := c.Errors.Last()
		status := statusFor(lastErr.Err)

		c.JSON(status, ErrorResponse{
			Code:    status,
			Message: lastErr.Error(),
			TraceID: traceID,
		})
	}
}

func statusFor(err error) int {
	switch {
	case apperrors.IsCode(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case apperrors.IsCode(err, apperrors.ErrBadRequest), apperrors.IsCode(err, apperrors.ErrUnknownStage):
		return http.StatusBadRequest
	case apperrors.IsCode(err, apperrors.ErrConflict), apperrors.IsCode(err, apperrors.ErrPrecondition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
