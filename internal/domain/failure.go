package domain

import "errors"

// FailureKind classifies why a payment failed
type FailureKind string

// Failures detected before any balance change
const (
	FailureInsufficientBalance FailureKind = "INSUFFICIENT_BALANCE"
	FailureInvalidAmount       FailureKind = "INVALID_PAYMENT_AMOUNT"
	FailureAlreadyPaid         FailureKind = "ALREADY_PAID"
	FailureAlreadyProcessed    FailureKind = "ALREADY_PROCESSED"
	FailureReservationNotFound FailureKind = "RESERVATION_NOT_FOUND"
	FailurePaymentNotFound     FailureKind = "PAYMENT_NOT_FOUND"
	FailureSeatNotFound        FailureKind = "SEAT_NOT_FOUND"
	FailureSeatNotHeld         FailureKind = "SEAT_NOT_HOLD"
	FailureUserNotFound        FailureKind = "USER_NOT_FOUND"
	FailureInvalidQueueToken   FailureKind = "INVALID_QUEUE_TOKEN"
)

// Failures that may have happened after a debit
const (
	FailureSettlement     FailureKind = "SETTLEMENT_FAILED"
	FailureInfrastructure FailureKind = "INFRASTRUCTURE"
	FailureStuck          FailureKind = "PAYMENT_STUCK"
)

// FailureReservationExpired is recorded on payments failed by the expiry sweep
const FailureReservationExpired FailureKind = "RESERVATION_EXPIRED"

var preDebitKinds = map[FailureKind]struct{}{
	FailureInsufficientBalance: {},
	FailureInvalidAmount:       {},
	FailureAlreadyPaid:         {},
	FailureAlreadyProcessed:    {},
	FailureReservationNotFound: {},
	FailurePaymentNotFound:     {},
	FailureSeatNotFound:        {},
	FailureSeatNotHeld:         {},
	FailureUserNotFound:        {},
	FailureInvalidQueueToken:   {},
}

// IsPreDebit reports whether a failure of this kind is guaranteed to have
// happened before the account was debited. Unknown kinds are not.
func IsPreDebit(kind FailureKind) bool {
	_, ok := preDebitKinds[kind]
	return ok
}

// FailureKindOf maps an error to the failure kind reported in events
func FailureKindOf(err error) FailureKind {
	switch {
	case errors.Is(err, ErrInsufficientBalance):
		return FailureInsufficientBalance
	case errors.Is(err, ErrInvalidAmount):
		return FailureInvalidAmount
	case errors.Is(err, ErrAlreadyPaid):
		return FailureAlreadyPaid
	case errors.Is(err, ErrAlreadyProcessed):
		return FailureAlreadyProcessed
	case errors.Is(err, ErrReservationNotFound):
		return FailureReservationNotFound
	case errors.Is(err, ErrPaymentNotFound):
		return FailurePaymentNotFound
	case errors.Is(err, ErrSeatNotFound):
		return FailureSeatNotFound
	case errors.Is(err, ErrSeatNotHeld):
		return FailureSeatNotHeld
	case errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrInvalidUserID):
		return FailureUserNotFound
	case errors.Is(err, ErrInvalidQueueToken), errors.Is(err, ErrTokenNotActive), errors.Is(err, ErrTokenNotFound):
		return FailureInvalidQueueToken
	case errors.Is(err, ErrInfrastructure):
		return FailureInfrastructure
	default:
		return FailureSettlement
	}
}
