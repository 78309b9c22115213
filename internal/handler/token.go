package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
	"github.com/prohmpiriya/ticket-rush/internal/service"
)

const (
	// QueueTokenHeader carries a raw queue token ID
	QueueTokenHeader = "X-Queue-Token"
	// QueuePassHeader carries a signed admission pass
	QueuePassHeader = "X-Queue-Pass"
	// UserIDHeader identifies the caller
	UserIDHeader = "X-User-ID"
)

// queueTokenID returns the token named by the request. A pass takes
// precedence over a raw token.
func queueTokenID(c *gin.Context, passes *service.PassSigner) (string, error) {
	if pass := c.GetHeader(QueuePassHeader); pass != "" && passes != nil {
		claims, err := passes.Verify(pass)
		if err != nil {
			return "", err
		}
		return claims.TokenID, nil
	}
	if token := c.GetHeader(QueueTokenHeader); token != "" {
		return token, nil
	}
	return "", domain.ErrInvalidQueueToken
}

// UserIDMiddleware extracts user_id from the X-User-ID header
func UserIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID := c.GetHeader(UserIDHeader); userID != "" {
			c.Set("user_id", userID)
		}
		c.Next()
	}
}
