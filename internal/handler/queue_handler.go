package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
	"github.com/prohmpiriya/ticket-rush/internal/dto"
	"github.com/prohmpiriya/ticket-rush/internal/service"
	"github.com/prohmpiriya/ticket-rush/pkg/logger"
	"github.com/prohmpiriya/ticket-rush/pkg/response"
	"github.com/prohmpiriya/ticket-rush/pkg/telemetry"
)

// QueueHandler handles admission queue HTTP requests
type QueueHandler struct {
	queueService service.QueueService
	passes       *service.PassSigner
}

// NewQueueHandler creates a new queue handler. passes may be nil, then no
// pass is attached to ACTIVE tokens.
func NewQueueHandler(queueService service.QueueService, passes *service.PassSigner) *QueueHandler {
	return &QueueHandler{
		queueService: queueService,
		passes:       passes,
	}
}

// IssueToken handles POST /sales/:saleId/queue/tokens
func (h *QueueHandler) IssueToken(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.queue.issue")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID := c.GetString("user_id")
	if userID == "" {
		span.SetStatus(codes.Error, "unauthorized")
		response.Unauthorized(c, "X-User-ID header is required")
		return
	}
	saleID := c.Param("saleId")

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.String("sale_id", saleID),
	)

	token, err := h.queueService.IssueToken(ctx, userID, saleID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.JSON(http.StatusCreated, response.Response{Success: true, Data: h.withPass(c, token)})
}

// QueueStatus handles GET /sales/:saleId/queue/tokens/:tokenId
func (h *QueueHandler) QueueStatus(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.queue.status")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	saleID := c.Param("saleId")
	tokenID := c.Param("tokenId")
	span.SetAttributes(
		attribute.String("sale_id", saleID),
		attribute.String("token_id", tokenID),
	)

	token, err := h.queueService.QueueStatus(ctx, saleID, tokenID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, h.withPass(c, token))
}

func (h *QueueHandler) withPass(c *gin.Context, token *domain.QueueToken) *dto.TokenResponse {
	resp := dto.NewTokenResponse(token)
	if h.passes == nil || token.Status != domain.TokenStatusActive {
		return resp
	}
	pass, expiresAt, err := h.passes.Sign(token)
	if err != nil {
		// the raw token still works, so a signing failure is not fatal
		logger.Get().WarnContext(c.Request.Context(), "Failed to sign queue pass for token "+token.TokenID, zap.Error(err))
		return resp
	}
	resp.QueuePass = pass
	resp.QueuePassExpiresAt = &expiresAt
	return resp
}
