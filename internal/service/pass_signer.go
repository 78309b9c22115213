package service

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
)

const passPurpose = "queue_pass"

// PassClaims are the claims of an admission pass JWT
type PassClaims struct {
	TokenID string `json:"token_id"`
	UserID  string `json:"user_id"`
	SaleID  string `json:"sale_id"`
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// PassSigner issues and verifies admission passes for ACTIVE tokens. The
// queue token in Redis stays authoritative; a pass only names it.
type PassSigner struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewPassSigner creates a new pass signer
func NewPassSigner(secret string, ttl time.Duration, issuer string) (*PassSigner, error) {
	if secret == "" {
		return nil, fmt.Errorf("pass signing secret is required")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if issuer == "" {
		issuer = "ticket-rush"
	}
	return &PassSigner{secret: []byte(secret), ttl: ttl, issuer: issuer, now: time.Now}, nil
}

// Sign issues a pass for an ACTIVE token. The pass never outlives the token.
func (s *PassSigner) Sign(token *domain.QueueToken) (string, time.Time, error) {
	now := s.now()
	if !token.IsActive(now) {
		return "", time.Time{}, domain.ErrTokenNotActive
	}

	expiresAt := now.Add(s.ttl)
	if token.ExpiresAt.Before(expiresAt) {
		expiresAt = token.ExpiresAt
	}

	claims := PassClaims{
		TokenID: token.TokenID,
		UserID:  token.UserID,
		SaleID:  token.SaleID,
		Purpose: passPurpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   token.UserID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign queue pass: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses a pass and returns its claims
func (s *PassSigner) Verify(pass string) (*PassClaims, error) {
	if pass == "" {
		return nil, domain.ErrInvalidQueueToken
	}

	token, err := jwt.ParseWithClaims(pass, &PassClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidQueueToken, err)
	}

	claims, ok := token.Claims.(*PassClaims)
	if !ok || !token.Valid || claims.Purpose != passPurpose || claims.TokenID == "" {
		return nil, domain.ErrInvalidQueueToken
	}
	return claims, nil
}
