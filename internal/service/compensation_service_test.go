package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
	"github.com/prohmpiriya/ticket-rush/pkg/saga"
)

func stepStatus(instance *saga.Instance, name string) saga.StepStatus {
	for _, r := range instance.StepResults {
		if r.StepName == name {
			return r.Status
		}
	}
	return ""
}

func TestCompensationService_PreDebitFailure(t *testing.T) {
	env := newTestEnv(t, 50)
	env.store.addAccount("user-poor", 10000)
	token := env.activeToken(t, "user-poor")
	id := env.claim(t, token, 2).Reservation.ID

	_, err := settle(env, token, id)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	events := env.publisher.ofType(domain.PaymentEventFailure)
	require.Len(t, events, 1)

	instance, err := env.compensation.Compensate(context.Background(), events[0])

	require.NoError(t, err)
	assert.Equal(t, saga.StatusCompleted, instance.Status)
	assert.Equal(t, saga.StepStatusSkipped, stepStatus(instance, StepRefund))
	assert.Equal(t, saga.StepStatusCompleted, stepStatus(instance, StepReleaseSeat))

	payment := env.store.paymentOf(id)
	assert.Equal(t, domain.PaymentStatusFailed, payment.Status)
	assert.Equal(t, string(domain.FailureInsufficientBalance), payment.FailureReason)
	assert.Equal(t, domain.ReservationStatusFailed, env.store.reservation(id).Status)
	assert.Equal(t, domain.SeatStatusAvailable, env.store.seat(seatID(2)).Status)
	assert.Equal(t, envSeats, env.store.session(envSession).AvailableSeatCount)
	assert.Equal(t, int64(10000), env.store.balance("user-poor"))
	assert.False(t, env.isHeld(t, seatID(2), "user-poor"))

	_, err = env.queue.QueueStatus(context.Background(), envSale, token.TokenID)
	assert.ErrorIs(t, err, domain.ErrInvalidQueueToken)
}

func TestCompensationService_PostDebitFailureRefunds(t *testing.T) {
	env := newTestEnv(t, 50)
	token := env.activeToken(t, envUser)
	claimed := env.claim(t, token, 5)
	id := claimed.Reservation.ID
	env.store.debit(id, seatPrice)
	require.Equal(t, int64(50000), env.store.balance(envUser))

	event := domain.NewPaymentFailureEvent(&domain.SettlementContext{
		PaymentID:     claimed.PaymentID,
		UserID:        envUser,
		ReservationID: id,
		SeatID:        seatID(5),
		SaleSessionID: envSession,
		SaleID:        envSale,
		TokenID:       token.TokenID,
		Amount:        seatPrice,
	}, domain.FailureSettlement, nil)

	instance, err := env.compensation.Compensate(context.Background(), event)

	require.NoError(t, err)
	assert.Equal(t, saga.StatusCompleted, instance.Status)
	assert.Equal(t, saga.StepStatusCompleted, stepStatus(instance, StepRefund))
	assert.Equal(t, int64(100000), env.store.balance(envUser))
	assert.Equal(t, int64(0), env.store.paymentOf(id).DebitedAmount)
	assert.Equal(t, domain.SeatStatusAvailable, env.store.seat(seatID(5)).Status)

	t.Run("redelivery changes nothing", func(t *testing.T) {
		again, err := env.compensation.Compensate(context.Background(), event)

		require.NoError(t, err)
		assert.Equal(t, 1, again.Runs)
		assert.Equal(t, int64(100000), env.store.balance(envUser))
		assert.Equal(t, envSeats, env.store.session(envSession).AvailableSeatCount)
	})

	t.Run("a second event for the same payment converges", func(t *testing.T) {
		duplicate := *event
		duplicate.EventID = "another-event"
		duplicate.FailureKind = domain.FailureStuck

		instance, err := env.compensation.Compensate(context.Background(), &duplicate)

		require.NoError(t, err)
		assert.Equal(t, saga.StatusCompleted, instance.Status)
		assert.Equal(t, saga.StepStatusSkipped, stepStatus(instance, StepReleaseSeat))
		assert.Equal(t, int64(100000), env.store.balance(envUser))
		assert.Equal(t, envSeats, env.store.session(envSession).AvailableSeatCount)
	})
}

func TestCompensationService_HaltsOnSuccessfulPayment(t *testing.T) {
	env := newTestEnv(t, 50)
	token := env.activeToken(t, envUser)
	claimed := env.claim(t, token, 1)
	id := claimed.Reservation.ID
	_, err := settle(env, token, id)
	require.NoError(t, err)

	event := domain.NewPaymentFailureEvent(&domain.SettlementContext{
		PaymentID:     claimed.PaymentID,
		UserID:        envUser,
		ReservationID: id,
		SeatID:        seatID(1),
		SaleSessionID: envSession,
		SaleID:        envSale,
		Amount:        seatPrice,
	}, domain.FailureStuck, nil)

	instance, err := env.compensation.Compensate(context.Background(), event)

	require.NoError(t, err)
	assert.Equal(t, saga.StatusHalted, instance.Status)
	assert.Equal(t, domain.PaymentStatusSuccess, env.store.paymentOf(id).Status)
	assert.Equal(t, domain.SeatStatusAssigned, env.store.seat(seatID(1)).Status)
	assert.Equal(t, int64(50000), env.store.balance(envUser))
}

func TestCompensationService_UnknownPaymentHalts(t *testing.T) {
	env := newTestEnv(t, 50)
	event := domain.NewPaymentFailureEvent(&domain.SettlementContext{
		PaymentID:     "missing",
		UserID:        envUser,
		ReservationID: "missing",
		SeatID:        seatID(1),
	}, domain.FailureSettlement, nil)

	instance, err := env.compensation.Compensate(context.Background(), event)

	require.NoError(t, err)
	assert.Equal(t, saga.StatusHalted, instance.Status)
}

func TestCompensationService_RejectsSuccessEvent(t *testing.T) {
	env := newTestEnv(t, 50)
	event := domain.NewPaymentSuccessEvent(testSettlementContext())

	_, err := env.compensation.Compensate(context.Background(), event)

	assert.Error(t, err)
}

func TestCompensationService_KeepsHoldOfNewerReservation(t *testing.T) {
	env := newTestEnv(t, 50)
	env.store.addAccount("user-poor", 10000)
	token := env.activeToken(t, "user-poor")
	id := env.claim(t, token, 2).Reservation.ID

	_, err := settle(env, token, id)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	events := env.publisher.ofType(domain.PaymentEventFailure)
	require.Len(t, events, 1)

	// the same user claimed the seat again before compensation ran
	require.NoError(t, env.holds.Hold(context.Background(), seatID(2), "user-poor", "res-newer", time.Minute))

	instance, err := env.compensation.Compensate(context.Background(), events[0])

	require.NoError(t, err)
	assert.Equal(t, saga.StepStatusCompleted, stepStatus(instance, StepReleaseHold))
	held, err := env.holds.IsHeld(context.Background(), seatID(2), "user-poor", "res-newer")
	require.NoError(t, err)
	assert.True(t, held)
}
