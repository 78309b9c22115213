package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
	"github.com/prohmpiriya/ticket-rush/pkg/database"
	"github.com/prohmpiriya/ticket-rush/pkg/telemetry"
)

const pgUniqueViolation = "23505"

// CreateClaimParams contains everything written when a seat is claimed
type CreateClaimParams struct {
	Reservation *domain.Reservation
	Payment     *domain.Payment
	// SeatVersion and SessionVersion are the versions read before the claim
	SeatVersion    int64
	SessionVersion int64
}

// ExpireOutcome describes what an expiry attempt did
type ExpireOutcome string

const (
	ExpireOutcomeExpired ExpireOutcome = "expired"
	// ExpireOutcomeNotDue means the reservation is terminal or not yet expired
	ExpireOutcomeNotDue ExpireOutcome = "not_due"
	// ExpireOutcomePaymentInFlight means settlement or compensation owns the reservation
	ExpireOutcomePaymentInFlight ExpireOutcome = "payment_in_flight"
)

// ExpireResult is returned by ExpireReservation
type ExpireResult struct {
	Outcome      ExpireOutcome
	Reservation  *domain.Reservation
	SeatReleased bool
}

// ReservationRepository persists reservations and the seat and inventory
// changes that go with them
type ReservationRepository interface {
	// CreateClaim reserves the seat, inserts the reservation and its payment and
	// decrements session inventory in one transaction
	CreateClaim(ctx context.Context, params CreateClaimParams) error

	GetByID(ctx context.Context, reservationID string) (*domain.Reservation, error)

	// ListExpired returns ids of PENDING reservations whose expiry is before now
	ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error)

	// ExpireReservation expires one reservation and returns its seat to inventory
	ExpireReservation(ctx context.Context, reservationID string, now time.Time) (*ExpireResult, error)

	// MarkFailed moves a PENDING reservation to FAILED
	MarkFailed(ctx context.Context, reservationID string) (bool, error)

	// ReleaseSeat frees the seat of a FAILED reservation and returns it to inventory
	ReleaseSeat(ctx context.Context, reservationID string) (bool, error)
}

var _ ReservationRepository = (*PostgresReservationRepository)(nil)

// PostgresReservationRepository implements ReservationRepository using PostgreSQL
type PostgresReservationRepository struct {
	db database.Querier
}

// NewPostgresReservationRepository creates a new PostgresReservationRepository
func NewPostgresReservationRepository(db database.Querier) *PostgresReservationRepository {
	return &PostgresReservationRepository{db: db}
}

func (r *PostgresReservationRepository) CreateClaim(ctx context.Context, params CreateClaimParams) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.create_claim")
	defer span.End()

	res, pay := params.Reservation, params.Payment
	span.SetAttributes(
		attribute.String("reservation_id", res.ID),
		attribute.String("seat_id", res.SeatID),
		attribute.String("session_id", res.SaleSessionID),
	)

	err := database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE seats SET status = 'RESERVED', version = version + 1
			WHERE id = $1 AND status = 'AVAILABLE' AND version = $2`,
			res.SeatID, params.SeatVersion)
		if err != nil {
			return infraError("reserve seat", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: seat %s", domain.ErrOptimisticConflict, res.SeatID)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO reservations (id, user_id, seat_id, sale_session_id, status, created_at, expires_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			res.ID, res.UserID, res.SeatID, res.SaleSessionID, string(res.Status),
			res.CreatedAt, res.ExpiresAt, res.UpdatedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
				return domain.ErrSeatNotAvailable
			}
			return infraError("insert reservation", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO payments (id, user_id, reservation_id, amount, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			pay.ID, pay.UserID, pay.ReservationID, pay.Amount, string(pay.Status), pay.CreatedAt, pay.UpdatedAt)
		if err != nil {
			return infraError("insert payment", err)
		}

		tag, err = tx.Exec(ctx, `
			UPDATE sale_sessions SET available_seat_count = available_seat_count - 1, version = version + 1
			WHERE id = $1 AND version = $2 AND available_seat_count > 0`,
			res.SaleSessionID, params.SessionVersion)
		if err != nil {
			return infraError("decrement session inventory", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: session %s", domain.ErrOptimisticConflict, res.SaleSessionID)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

func (r *PostgresReservationRepository) GetByID(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.get_by_id")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", reservationID))

	res, err := scanReservation(r.db.QueryRow(ctx, `
		SELECT id, user_id, seat_id, sale_session_id, status, created_at, expires_at, updated_at
		FROM reservations WHERE id = $1`, reservationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "reservation not found")
			return nil, domain.ErrReservationNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, infraError("get reservation", err)
	}

	span.SetStatus(codes.Ok, "")
	return res, nil
}

func (r *PostgresReservationRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.list_expired")
	defer span.End()

	rows, err := r.db.Query(ctx, `
		SELECT id FROM reservations
		WHERE status = 'PENDING' AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2`, now, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, infraError("list expired reservations", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan reservation id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, infraError("iterate expired reservations", err)
	}

	span.SetAttributes(attribute.Int("count", len(ids)))
	span.SetStatus(codes.Ok, "")
	return ids, nil
}

func (r *PostgresReservationRepository) ExpireReservation(ctx context.Context, reservationID string, now time.Time) (*ExpireResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.expire")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", reservationID))

	result := &ExpireResult{Outcome: ExpireOutcomeNotDue}
	err := database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		res, err := scanReservation(tx.QueryRow(ctx, `
			SELECT id, user_id, seat_id, sale_session_id, status, created_at, expires_at, updated_at
			FROM reservations WHERE id = $1 FOR UPDATE`, reservationID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrReservationNotFound
			}
			return infraError("lock reservation", err)
		}
		result.Reservation = res
		if !res.IsPending() || !res.IsExpired(now) {
			return nil
		}

		var paymentStatus string
		err = tx.QueryRow(ctx, `SELECT status FROM payments WHERE reservation_id = $1 FOR UPDATE`, reservationID).Scan(&paymentStatus)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return infraError("lock payment", err)
		}
		switch domain.PaymentStatus(paymentStatus) {
		case domain.PaymentStatusProcessing, domain.PaymentStatusSuccess:
			result.Outcome = ExpireOutcomePaymentInFlight
			return nil
		}

		if _, err := tx.Exec(ctx, `
			UPDATE reservations SET status = 'EXPIRED', updated_at = $2 WHERE id = $1`,
			reservationID, now); err != nil {
			return infraError("expire reservation", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE payments SET status = 'FAILED', failure_reason = $2, updated_at = $3
			WHERE reservation_id = $1 AND status = 'PENDING'`,
			reservationID, string(domain.FailureReservationExpired), now); err != nil {
			return infraError("fail payment", err)
		}

		released, err := releaseSeatTx(ctx, tx, res.SeatID, res.SaleSessionID, domain.SeatStatusReserved)
		if err != nil {
			return err
		}

		res.Status = domain.ReservationStatusExpired
		res.UpdatedAt = now
		result.Outcome = ExpireOutcomeExpired
		result.SeatReleased = released
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.String("outcome", string(result.Outcome)))
	span.SetStatus(codes.Ok, "")
	return result, nil
}

func (r *PostgresReservationRepository) MarkFailed(ctx context.Context, reservationID string) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.mark_failed")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", reservationID))

	tag, err := r.db.Exec(ctx, `
		UPDATE reservations SET status = 'FAILED', updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'`, reservationID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, infraError("fail reservation", err)
	}

	span.SetStatus(codes.Ok, "")
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresReservationRepository) ReleaseSeat(ctx context.Context, reservationID string) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.release_seat")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", reservationID))

	released := false
	err := database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var seatID, sessionID, status string
		err := tx.QueryRow(ctx, `
			SELECT seat_id, sale_session_id, status FROM reservations WHERE id = $1 FOR UPDATE`,
			reservationID).Scan(&seatID, &sessionID, &status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrReservationNotFound
			}
			return infraError("lock reservation", err)
		}
		if domain.ReservationStatus(status) != domain.ReservationStatusFailed {
			return nil
		}

		var taken bool
		err = tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM reservations
				WHERE seat_id = $1 AND id <> $2 AND status IN ('PENDING', 'SUCCESS'))`,
			seatID, reservationID).Scan(&taken)
		if err != nil {
			return infraError("check seat owner", err)
		}
		if taken {
			return nil
		}

		released, err = releaseSeatTx(ctx, tx, seatID, sessionID, domain.SeatStatusReserved, domain.SeatStatusAssigned)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}

	span.SetAttributes(attribute.Bool("released", released))
	span.SetStatus(codes.Ok, "")
	return released, nil
}

// releaseSeatTx sets the seat AVAILABLE when it is in one of from and returns
// it to session inventory. The increment never exceeds total_seats.
func releaseSeatTx(ctx context.Context, tx pgx.Tx, seatID, sessionID string, from ...domain.SeatStatus) (bool, error) {
	statuses := make([]string, len(from))
	for i, s := range from {
		statuses[i] = string(s)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE seats SET status = 'AVAILABLE', version = version + 1
		WHERE id = $1 AND status = ANY($2)`, seatID, statuses)
	if err != nil {
		return false, infraError("release seat", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := tx.Exec(ctx, `
		UPDATE sale_sessions SET available_seat_count = available_seat_count + 1, version = version + 1
		WHERE id = $1 AND available_seat_count < total_seats`, sessionID); err != nil {
		return false, infraError("increment session inventory", err)
	}
	return true, nil
}

func scanReservation(row pgx.Row) (*domain.Reservation, error) {
	res := &domain.Reservation{}
	var status string
	err := row.Scan(
		&res.ID, &res.UserID, &res.SeatID, &res.SaleSessionID, &status,
		&res.CreatedAt, &res.ExpiresAt, &res.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	res.Status = domain.ReservationStatus(status)
	return res, nil
}
