package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/prohmpiriya/ticket-rush/internal/dto"
	"github.com/prohmpiriya/ticket-rush/internal/service"
	"github.com/prohmpiriya/ticket-rush/pkg/response"
	"github.com/prohmpiriya/ticket-rush/pkg/telemetry"
)

// ReservationHandler handles seat reservation and payment HTTP requests
type ReservationHandler struct {
	reservations service.ReservationService
	payments     service.PaymentService
	passes       *service.PassSigner
}

// NewReservationHandler creates a new reservation handler
func NewReservationHandler(reservations service.ReservationService, payments service.PaymentService, passes *service.PassSigner) *ReservationHandler {
	return &ReservationHandler{
		reservations: reservations,
		payments:     payments,
		passes:       passes,
	}
}

// ClaimSeat handles POST /reservations
func (h *ReservationHandler) ClaimSeat(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.reservation.claim")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	tokenID, err := queueTokenID(c, h.passes)
	if err != nil {
		span.SetStatus(codes.Error, "invalid queue token")
		handleError(c, err)
		return
	}

	var req dto.ClaimSeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", err.Error())
		return
	}

	span.SetAttributes(
		attribute.String("sale_id", req.SaleID),
		attribute.String("session_id", req.SessionID),
		attribute.String("seat_id", req.SeatID),
	)

	result, err := h.reservations.ClaimSeat(ctx, &service.ClaimSeatRequest{
		TokenID:   tokenID,
		SaleID:    req.SaleID,
		SessionID: req.SessionID,
		SeatID:    req.SeatID,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Created(c, &dto.ReservationResponse{
		ReservationID: result.Reservation.ID,
		PaymentID:     result.PaymentID,
		SeatID:        result.Reservation.SeatID,
		SessionID:     result.Reservation.SaleSessionID,
		Status:        string(result.Reservation.Status),
		Amount:        result.Amount,
		ExpiresAt:     result.Reservation.ExpiresAt,
	})
}

// Settle handles POST /reservations/:id/settle
func (h *ReservationHandler) Settle(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.reservation.settle")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	reservationID := c.Param("id")
	span.SetAttributes(attribute.String("reservation_id", reservationID))

	tokenID, err := queueTokenID(c, h.passes)
	if err != nil {
		span.SetStatus(codes.Error, "invalid queue token")
		handleError(c, err)
		return
	}

	result, err := h.payments.Settle(ctx, &service.SettleRequest{
		TokenID:       tokenID,
		ReservationID: reservationID,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, result)
}
