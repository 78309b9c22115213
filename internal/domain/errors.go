package domain

import "errors"

// Domain errors
var (
	// Not found errors
	ErrSaleNotFound        = errors.New("sale not found")
	ErrSessionNotFound     = errors.New("sale session not found")
	ErrSeatNotFound        = errors.New("seat not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrAccountNotFound     = errors.New("account not found")
	ErrTokenNotFound       = errors.New("queue token not found")

	// Invalid state errors
	ErrInvalidQueueToken     = errors.New("invalid queue token")
	ErrTokenNotActive        = errors.New("queue token is not active")
	ErrSaleNotOpen           = errors.New("sale is not open yet")
	ErrSessionClosed         = errors.New("sale session booking deadline has passed")
	ErrSeatNotAvailable      = errors.New("seat is not available")
	ErrSeatNotHeld           = errors.New("seat is not held by this user")
	ErrReservationNotPending = errors.New("reservation is not pending")
	ErrReservationExpired    = errors.New("reservation has expired")
	ErrAlreadyProcessed      = errors.New("payment is already being processed")
	ErrAlreadyPaid           = errors.New("payment already completed")

	// Payment errors
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("payment amount must be greater than zero")

	// Concurrency errors
	ErrLockConflict       = errors.New("resource is locked by another request")
	ErrOptimisticConflict = errors.New("concurrent modification detected")

	// ErrInfrastructure wraps store, database and broker failures
	ErrInfrastructure = errors.New("infrastructure unavailable")

	// Validation errors
	ErrInvalidUserID = errors.New("invalid user id")
	ErrInvalidSaleID = errors.New("invalid sale id")
)

// IsNotFoundError checks if the error is a not found error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrSaleNotFound) ||
		errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrSeatNotFound) ||
		errors.Is(err, ErrReservationNotFound) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrTokenNotFound)
}

// IsInvalidStateError checks if the error is a state-machine violation
func IsInvalidStateError(err error) bool {
	return errors.Is(err, ErrInvalidQueueToken) ||
		errors.Is(err, ErrTokenNotActive) ||
		errors.Is(err, ErrSaleNotOpen) ||
		errors.Is(err, ErrSessionClosed) ||
		errors.Is(err, ErrSeatNotAvailable) ||
		errors.Is(err, ErrSeatNotHeld) ||
		errors.Is(err, ErrReservationNotPending) ||
		errors.Is(err, ErrReservationExpired) ||
		errors.Is(err, ErrAlreadyProcessed) ||
		errors.Is(err, ErrAlreadyPaid)
}

// IsConflictError checks if the error came from a lost race
func IsConflictError(err error) bool {
	return errors.Is(err, ErrLockConflict) ||
		errors.Is(err, ErrOptimisticConflict)
}

// IsValidationError checks if the error is a request validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidUserID) ||
		errors.Is(err, ErrInvalidSaleID) ||
		errors.Is(err, ErrInvalidAmount)
}

// IsInfrastructureError checks if the error is a retryable infrastructure failure
func IsInfrastructureError(err error) bool {
	return errors.Is(err, ErrInfrastructure)
}
