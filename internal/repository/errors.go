package repository

import (
	"fmt"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
)

// infraError marks a store or database failure as retryable infrastructure
func infraError(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %w", domain.ErrInfrastructure, op, err)
}
