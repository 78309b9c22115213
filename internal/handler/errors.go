package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
	"github.com/prohmpiriya/ticket-rush/pkg/response"
)

// handleError converts domain errors to HTTP responses
func handleError(c *gin.Context, err error) {
	switch {
	case domain.IsValidationError(err):
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), "")
	case errors.Is(err, domain.ErrInvalidQueueToken),
		errors.Is(err, domain.ErrTokenNotActive),
		errors.Is(err, domain.ErrTokenNotFound):
		response.Error(c, http.StatusForbidden, string(domain.FailureInvalidQueueToken), err.Error(), "")
	case errors.Is(err, domain.ErrSeatNotHeld):
		response.Error(c, http.StatusForbidden, string(domain.FailureSeatNotHeld), err.Error(), "")
	case errors.Is(err, domain.ErrInsufficientBalance):
		response.Error(c, http.StatusPaymentRequired, string(domain.FailureInsufficientBalance), err.Error(), "")
	case errors.Is(err, domain.ErrAlreadyPaid):
		response.Conflict(c, string(domain.FailureAlreadyPaid), err.Error())
	case errors.Is(err, domain.ErrAlreadyProcessed):
		response.Conflict(c, string(domain.FailureAlreadyProcessed), err.Error())
	case errors.Is(err, domain.ErrSeatNotAvailable):
		response.Conflict(c, "SEAT_NOT_AVAILABLE", err.Error())
	case domain.IsConflictError(err):
		response.Conflict(c, "CONCURRENT_REQUEST", err.Error())
	case domain.IsNotFoundError(err):
		response.Error(c, http.StatusNotFound, "NOT_FOUND", err.Error(), "")
	case domain.IsInvalidStateError(err):
		response.Conflict(c, "INVALID_STATE", err.Error())
	case domain.IsInfrastructureError(err):
		response.Error(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "service temporarily unavailable, retry later", "")
	default:
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", "")
	}
}
