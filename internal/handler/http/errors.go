package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"emotion-comfort/internal/service"
)

// HandleServiceError maps engine errors onto HTTP statuses:
// validation 400, missing 404, capacity 409, lifecycle 410, the rest
// 500 without leaking internals.
func HandleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		ErrorResponse(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrSessionNotFound):
		ErrorResponse(c, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrSessionFull):
		ErrorResponse(c, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrSessionEnded):
		ErrorResponse(c, http.StatusGone, err.Error())
	case errors.Is(err, service.ErrNotParticipant):
		ErrorResponse(c, http.StatusForbidden, err.Error())
	default:
		logrus.WithError(err).Error("Unhandled internal server error")
		ErrorResponse(c, http.StatusInternalServerError, "An unexpected error occurred")
	}
}
