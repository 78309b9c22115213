package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
	"github.com/prohmpiriya/ticket-rush/pkg/database"
	"github.com/prohmpiriya/ticket-rush/pkg/telemetry"
)

// CompleteSettlementParams identifies the rows a settlement commits
type CompleteSettlementParams struct {
	PaymentID     string
	ReservationID string
	SeatID        string
	UserID        string
	Amount        int64
	SettledAt     time.Time
}

// PaymentRepository persists payments and the balance changes they cause
type PaymentRepository interface {
	GetByID(ctx context.Context, paymentID string) (*domain.Payment, error)
	GetByReservationID(ctx context.Context, reservationID string) (*domain.Payment, error)

	// MarkProcessing moves PENDING to PROCESSING and records the queue token
	// that admitted the payer. False means another attempt got there first.
	MarkProcessing(ctx context.Context, paymentID, tokenID string) (bool, error)

	// CompleteSettlement debits the account and finalises payment, reservation
	// and seat in one transaction. Returns the balance after the debit.
	CompleteSettlement(ctx context.Context, params CompleteSettlementParams) (int64, error)

	// MarkFailed sets a payment FAILED unless it already succeeded.
	// Returns the status the payment had before the call.
	MarkFailed(ctx context.Context, paymentID, reason string) (domain.PaymentStatus, error)

	// Refund credits back the debited amount of a payment and zeroes it.
	// Returns the amount refunded, zero when nothing was debited.
	Refund(ctx context.Context, paymentID string) (int64, error)

	// ListStuck returns payments left in PROCESSING since before the given time
	ListStuck(ctx context.Context, before time.Time, limit int) ([]*domain.SettlementContext, error)
}

var _ PaymentRepository = (*PostgresPaymentRepository)(nil)

// PostgresPaymentRepository implements PaymentRepository using PostgreSQL
type PostgresPaymentRepository struct {
	db database.Querier
}

// NewPostgresPaymentRepository creates a new PostgresPaymentRepository
func NewPostgresPaymentRepository(db database.Querier) *PostgresPaymentRepository {
	return &PostgresPaymentRepository{db: db}
}

const paymentColumns = `id, user_id, reservation_id, amount, status, failure_reason, debited_amount, created_at, updated_at`

func (r *PostgresPaymentRepository) GetByID(ctx context.Context, paymentID string) (*domain.Payment, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.payment.get_by_id")
	defer span.End()

	span.SetAttributes(attribute.String("payment_id", paymentID))

	payment, err := scanPayment(r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, paymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "payment not found")
			return nil, domain.ErrPaymentNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, infraError("get payment", err)
	}

	span.SetStatus(codes.Ok, "")
	return payment, nil
}

func (r *PostgresPaymentRepository) GetByReservationID(ctx context.Context, reservationID string) (*domain.Payment, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.payment.get_by_reservation")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", reservationID))

	payment, err := scanPayment(r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE reservation_id = $1`, reservationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "payment not found")
			return nil, domain.ErrPaymentNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, infraError("get payment", err)
	}

	span.SetStatus(codes.Ok, "")
	return payment, nil
}

func (r *PostgresPaymentRepository) MarkProcessing(ctx context.Context, paymentID, tokenID string) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.payment.mark_processing")
	defer span.End()

	span.SetAttributes(attribute.String("payment_id", paymentID))

	tag, err := r.db.Exec(ctx, `
		UPDATE payments SET status = 'PROCESSING', token_id = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'`, paymentID, tokenID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, infraError("mark payment processing", err)
	}

	marked := tag.RowsAffected() == 1
	span.SetAttributes(attribute.Bool("marked", marked))
	span.SetStatus(codes.Ok, "")
	return marked, nil
}

func (r *PostgresPaymentRepository) CompleteSettlement(ctx context.Context, params CompleteSettlementParams) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.payment.complete_settlement")
	defer span.End()

	span.SetAttributes(
		attribute.String("payment_id", params.PaymentID),
		attribute.String("reservation_id", params.ReservationID),
		attribute.Int64("amount", params.Amount),
	)

	var balance int64
	err := database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `SELECT balance FROM accounts WHERE id = $1 FOR UPDATE`, params.UserID).Scan(&balance)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrAccountNotFound
			}
			return infraError("lock account", err)
		}
		if balance < params.Amount {
			return domain.ErrInsufficientBalance
		}

		err = tx.QueryRow(ctx, `
			UPDATE accounts SET balance = balance - $2 WHERE id = $1 RETURNING balance`,
			params.UserID, params.Amount).Scan(&balance)
		if err != nil {
			return infraError("debit account", err)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE payments SET status = 'SUCCESS', debited_amount = $2, updated_at = $3
			WHERE id = $1 AND status = 'PROCESSING'`,
			params.PaymentID, params.Amount, params.SettledAt)
		if err != nil {
			return infraError("complete payment", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: payment %s left PROCESSING", domain.ErrOptimisticConflict, params.PaymentID)
		}

		tag, err = tx.Exec(ctx, `
			UPDATE reservations SET status = 'SUCCESS', updated_at = $2
			WHERE id = $1 AND status = 'PENDING'`,
			params.ReservationID, params.SettledAt)
		if err != nil {
			return infraError("complete reservation", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrReservationNotPending
		}

		tag, err = tx.Exec(ctx, `
			UPDATE seats SET status = 'ASSIGNED', version = version + 1
			WHERE id = $1 AND status = 'RESERVED'`, params.SeatID)
		if err != nil {
			return infraError("assign seat", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrSeatNotAvailable
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	span.SetAttributes(attribute.Int64("balance", balance))
	span.SetStatus(codes.Ok, "")
	return balance, nil
}

func (r *PostgresPaymentRepository) MarkFailed(ctx context.Context, paymentID, reason string) (domain.PaymentStatus, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.payment.mark_failed")
	defer span.End()

	span.SetAttributes(
		attribute.String("payment_id", paymentID),
		attribute.String("reason", reason),
	)

	var previous domain.PaymentStatus
	err := database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM payments WHERE id = $1 FOR UPDATE`, paymentID).Scan(&status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrPaymentNotFound
			}
			return infraError("lock payment", err)
		}
		previous = domain.PaymentStatus(status)
		if previous == domain.PaymentStatusSuccess || previous == domain.PaymentStatusFailed {
			return nil
		}

		if _, err := tx.Exec(ctx, `
			UPDATE payments SET status = 'FAILED', failure_reason = $2, updated_at = NOW()
			WHERE id = $1`, paymentID, reason); err != nil {
			return infraError("fail payment", err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	span.SetAttributes(attribute.String("previous_status", string(previous)))
	span.SetStatus(codes.Ok, "")
	return previous, nil
}

func (r *PostgresPaymentRepository) Refund(ctx context.Context, paymentID string) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.payment.refund")
	defer span.End()

	span.SetAttributes(attribute.String("payment_id", paymentID))

	var refunded int64
	err := database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var userID string
		err := tx.QueryRow(ctx, `
			SELECT user_id, debited_amount FROM payments WHERE id = $1 FOR UPDATE`,
			paymentID).Scan(&userID, &refunded)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrPaymentNotFound
			}
			return infraError("lock payment", err)
		}
		if refunded == 0 {
			return nil
		}

		tag, err := tx.Exec(ctx, `UPDATE accounts SET balance = balance + $2 WHERE id = $1`, userID, refunded)
		if err != nil {
			return infraError("credit account", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrAccountNotFound
		}

		if _, err := tx.Exec(ctx, `UPDATE payments SET debited_amount = 0, updated_at = NOW() WHERE id = $1`, paymentID); err != nil {
			return infraError("clear debited amount", err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	span.SetAttributes(attribute.Int64("refunded", refunded))
	span.SetStatus(codes.Ok, "")
	return refunded, nil
}

func (r *PostgresPaymentRepository) ListStuck(ctx context.Context, before time.Time, limit int) ([]*domain.SettlementContext, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.payment.list_stuck")
	defer span.End()

	rows, err := r.db.Query(ctx, `
		SELECT p.id, p.user_id, p.reservation_id, r.seat_id, r.sale_session_id, ss.sale_id, p.token_id, p.amount
		FROM payments p
		JOIN reservations r ON r.id = p.reservation_id
		JOIN sale_sessions ss ON ss.id = r.sale_session_id
		WHERE p.status = 'PROCESSING' AND p.updated_at < $1
		ORDER BY p.updated_at
		LIMIT $2`, before, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, infraError("list stuck payments", err)
	}
	defer rows.Close()

	var stuck []*domain.SettlementContext
	for rows.Next() {
		sc := &domain.SettlementContext{}
		if err := rows.Scan(&sc.PaymentID, &sc.UserID, &sc.ReservationID, &sc.SeatID, &sc.SaleSessionID, &sc.SaleID, &sc.TokenID, &sc.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan stuck payment: %w", err)
		}
		stuck = append(stuck, sc)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, infraError("iterate stuck payments", err)
	}

	span.SetAttributes(attribute.Int("count", len(stuck)))
	span.SetStatus(codes.Ok, "")
	return stuck, nil
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	p := &domain.Payment{}
	var status string
	err := row.Scan(
		&p.ID, &p.UserID, &p.ReservationID, &p.Amount, &status,
		&p.FailureReason, &p.DebitedAmount, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = domain.PaymentStatus(status)
	return p, nil
}
