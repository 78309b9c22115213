package repository

import (
	"context"
	"time"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
)

// Redis key templates of the admission queue
const (
	activeKeyPrefix   = "queue:active:"
	waitingKeyPrefix  = "queue:waiting:"
	sequenceKeyPrefix = "queue:seq:"
	tokenInfoPrefix   = "token:info:"
	tokenIDPrefix     = "token:id:"
)

// IssueTokenParams contains parameters for issuing a queue token
type IssueTokenParams struct {
	TokenID    string
	UserID     string
	SaleID     string
	Now        time.Time
	MaxActive  int
	ActiveTTL  time.Duration
	WaitingTTL time.Duration
}

// IssueTokenResult represents the result of issuing a queue token
type IssueTokenResult struct {
	// Created is false when the user already held a live token for the sale
	Created   bool
	TokenID   string
	Status    domain.TokenStatus
	Position  int64
	ExpiresAt time.Time
}

// PromoteParams contains parameters for promoting waiting tokens
type PromoteParams struct {
	SaleID    string
	Now       time.Time
	MaxActive int
	ActiveTTL time.Duration
}

// QueueRepository defines the interface for Redis-based admission queue operations
type QueueRepository interface {
	// LoadScripts loads the queue Lua scripts into Redis
	LoadScripts(ctx context.Context) error

	// IssueToken admits the user as ACTIVE when a slot is free, WAITING otherwise.
	// A user with a live token gets that token back.
	IssueToken(ctx context.Context, params IssueTokenParams) (*IssueTokenResult, error)

	// GetToken reads the token info, ErrTokenNotFound when it is gone
	GetToken(ctx context.Context, tokenID string) (*domain.QueueToken, error)

	// WaitingRank returns the 0-based rank of a WAITING token
	WaitingRank(ctx context.Context, saleID, tokenID string) (int64, error)

	// Promote moves WAITING tokens into free ACTIVE slots and returns their ids
	Promote(ctx context.Context, params PromoteParams) ([]string, error)

	// ExpireStale removes expired members of both sets
	ExpireStale(ctx context.Context, saleID string, now time.Time, waitingTTL time.Duration) (*domain.CleanupResult, error)

	// Revoke removes a token entirely. Reports whether anything was removed.
	Revoke(ctx context.Context, tokenID string) (bool, error)

	// ActiveCount counts unexpired ACTIVE tokens of a sale
	ActiveCount(ctx context.Context, saleID string, now time.Time) (int64, error)

	// WaitingCount counts WAITING tokens of a sale
	WaitingCount(ctx context.Context, saleID string) (int64, error)
}

func activeKey(saleID string) string  { return activeKeyPrefix + saleID }
func waitingKey(saleID string) string { return waitingKeyPrefix + saleID }
func tokenInfoKey(tokenID string) string {
	return tokenInfoPrefix + tokenID
}
func tokenIDKey(userID, saleID string) string {
	return tokenIDPrefix + userID + ":" + saleID
}

// waitingScore is the score of a token issued at t, without its sequence digits
func waitingScore(t time.Time) int64 {
	return t.UnixMilli() * 1000
}
