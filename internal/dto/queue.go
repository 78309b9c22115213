package dto

import (
	"time"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
)

// TokenResponse represents a queue token and, once it is ACTIVE, its pass
type TokenResponse struct {
	TokenID            string             `json:"token_id"`
	SaleID             string             `json:"sale_id"`
	Status             domain.TokenStatus `json:"status"`
	Position           int64              `json:"position"`
	IssuedAt           time.Time          `json:"issued_at"`
	ExpiresAt          time.Time          `json:"expires_at"`
	EnteredAt          *time.Time         `json:"entered_at,omitempty"`
	QueuePass          string             `json:"queue_pass,omitempty"`
	QueuePassExpiresAt *time.Time         `json:"queue_pass_expires_at,omitempty"`
}

// NewTokenResponse converts a queue token
func NewTokenResponse(t *domain.QueueToken) *TokenResponse {
	return &TokenResponse{
		TokenID:   t.TokenID,
		SaleID:    t.SaleID,
		Status:    t.Status,
		Position:  t.Position,
		IssuedAt:  t.IssuedAt,
		ExpiresAt: t.ExpiresAt,
		EnteredAt: t.EnteredAt,
	}
}
