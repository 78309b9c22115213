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

// SaleCatalog reads sales
type SaleCatalog interface {
	Exists(ctx context.Context, saleID string) (bool, error)
	Get(ctx context.Context, saleID string) (*domain.Sale, error)
	// ListOpen returns sales opened at or before the given time and not sold out
	ListOpen(ctx context.Context, openedBefore time.Time) ([]*domain.Sale, error)
}

// SaleRepository extends SaleCatalog with the sold-out bookkeeping
type SaleRepository interface {
	SaleCatalog

	// RemainingInventory counts seats still available or reserved across all sessions
	RemainingInventory(ctx context.Context, saleID string) (available int64, reserved int64, err error)

	// MarkSoldOut sets sold_out_time once. Returns the stored sale and whether this call set it.
	MarkSoldOut(ctx context.Context, saleID string, at time.Time) (*domain.Sale, bool, error)
}

// SaleSessionCatalog reads sale sessions
type SaleSessionCatalog interface {
	Get(ctx context.Context, sessionID string) (*domain.SaleSession, error)
}

// SeatCatalog reads seats
type SeatCatalog interface {
	Find(ctx context.Context, seatID string) (*domain.Seat, error)
}

// AccountDirectory reads user accounts
type AccountDirectory interface {
	Exists(ctx context.Context, userID string) (bool, error)
	Get(ctx context.Context, userID string) (*domain.Account, error)
}

var (
	_ SaleRepository     = (*PostgresSaleRepository)(nil)
	_ SaleSessionCatalog = (*PostgresSessionRepository)(nil)
	_ SeatCatalog        = (*PostgresSeatRepository)(nil)
	_ AccountDirectory   = (*PostgresAccountRepository)(nil)
)

// PostgresSaleRepository implements SaleRepository using PostgreSQL
type PostgresSaleRepository struct {
	db database.Querier
}

// NewPostgresSaleRepository creates a new PostgresSaleRepository
func NewPostgresSaleRepository(db database.Querier) *PostgresSaleRepository {
	return &PostgresSaleRepository{db: db}
}

func (r *PostgresSaleRepository) Exists(ctx context.Context, saleID string) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.sale.exists")
	defer span.End()

	span.SetAttributes(attribute.String("sale_id", saleID))

	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sales WHERE id = $1)`, saleID).Scan(&exists)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, infraError("check sale", err)
	}

	span.SetStatus(codes.Ok, "")
	return exists, nil
}

func (r *PostgresSaleRepository) Get(ctx context.Context, saleID string) (*domain.Sale, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.sale.get")
	defer span.End()

	span.SetAttributes(attribute.String("sale_id", saleID))

	query := `SELECT id, title, open_time, sold_out_time FROM sales WHERE id = $1`

	sale := &domain.Sale{}
	err := r.db.QueryRow(ctx, query, saleID).Scan(&sale.ID, &sale.Title, &sale.OpenTime, &sale.SoldOutTime)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "sale not found")
			return nil, domain.ErrSaleNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, infraError("get sale", err)
	}

	span.SetStatus(codes.Ok, "")
	return sale, nil
}

func (r *PostgresSaleRepository) ListOpen(ctx context.Context, openedBefore time.Time) ([]*domain.Sale, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.sale.list_open")
	defer span.End()

	query := `
		SELECT id, title, open_time, sold_out_time
		FROM sales
		WHERE open_time <= $1 AND sold_out_time IS NULL
		ORDER BY open_time`

	rows, err := r.db.Query(ctx, query, openedBefore)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, infraError("list open sales", err)
	}
	defer rows.Close()

	var sales []*domain.Sale
	for rows.Next() {
		sale := &domain.Sale{}
		if err := rows.Scan(&sale.ID, &sale.Title, &sale.OpenTime, &sale.SoldOutTime); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan sale: %w", err)
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, infraError("iterate sales", err)
	}

	span.SetAttributes(attribute.Int("count", len(sales)))
	span.SetStatus(codes.Ok, "")
	return sales, nil
}

func (r *PostgresSaleRepository) RemainingInventory(ctx context.Context, saleID string) (int64, int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.sale.remaining_inventory")
	defer span.End()

	span.SetAttributes(attribute.String("sale_id", saleID))

	query := `
		SELECT
			COALESCE((SELECT SUM(available_seat_count) FROM sale_sessions WHERE sale_id = $1), 0),
			(SELECT COUNT(*) FROM seats s
				JOIN sale_sessions ss ON ss.id = s.sale_session_id
				WHERE ss.sale_id = $1 AND s.status = 'RESERVED')`

	var available, reserved int64
	if err := r.db.QueryRow(ctx, query, saleID).Scan(&available, &reserved); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, 0, infraError("count remaining inventory", err)
	}

	span.SetAttributes(
		attribute.Int64("available", available),
		attribute.Int64("reserved", reserved),
	)
	span.SetStatus(codes.Ok, "")
	return available, reserved, nil
}

func (r *PostgresSaleRepository) MarkSoldOut(ctx context.Context, saleID string, at time.Time) (*domain.Sale, bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.sale.mark_sold_out")
	defer span.End()

	span.SetAttributes(attribute.String("sale_id", saleID))

	tag, err := r.db.Exec(ctx, `UPDATE sales SET sold_out_time = $2 WHERE id = $1 AND sold_out_time IS NULL`, saleID, at)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, infraError("mark sale sold out", err)
	}

	sale, err := r.Get(ctx, saleID)
	if err != nil {
		return nil, false, err
	}

	marked := tag.RowsAffected() == 1
	span.SetAttributes(attribute.Bool("marked", marked))
	span.SetStatus(codes.Ok, "")
	return sale, marked, nil
}

// PostgresSessionRepository implements SaleSessionCatalog using PostgreSQL
type PostgresSessionRepository struct {
	db database.Querier
}

// NewPostgresSessionRepository creates a new PostgresSessionRepository
func NewPostgresSessionRepository(db database.Querier) *PostgresSessionRepository {
	return &PostgresSessionRepository{db: db}
}

func (r *PostgresSessionRepository) Get(ctx context.Context, sessionID string) (*domain.SaleSession, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.session.get")
	defer span.End()

	span.SetAttributes(attribute.String("session_id", sessionID))

	query := `
		SELECT id, sale_id, session_date, deadline, total_seats, available_seat_count, version
		FROM sale_sessions WHERE id = $1`

	s := &domain.SaleSession{}
	err := r.db.QueryRow(ctx, query, sessionID).Scan(
		&s.ID, &s.SaleID, &s.Date, &s.Deadline, &s.TotalSeats, &s.AvailableSeatCount, &s.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "session not found")
			return nil, domain.ErrSessionNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, infraError("get sale session", err)
	}

	span.SetStatus(codes.Ok, "")
	return s, nil
}

// PostgresSeatRepository implements SeatCatalog using PostgreSQL
type PostgresSeatRepository struct {
	db database.Querier
}

// NewPostgresSeatRepository creates a new PostgresSeatRepository
func NewPostgresSeatRepository(db database.Querier) *PostgresSeatRepository {
	return &PostgresSeatRepository{db: db}
}

func (r *PostgresSeatRepository) Find(ctx context.Context, seatID string) (*domain.Seat, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.seat.find")
	defer span.End()

	span.SetAttributes(attribute.String("seat_id", seatID))

	query := `SELECT id, sale_session_id, seat_no, price, grade, status, version FROM seats WHERE id = $1`

	seat := &domain.Seat{}
	var status string
	err := r.db.QueryRow(ctx, query, seatID).Scan(
		&seat.ID, &seat.SaleSessionID, &seat.SeatNo, &seat.Price, &seat.Grade, &status, &seat.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "seat not found")
			return nil, domain.ErrSeatNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, infraError("find seat", err)
	}
	seat.Status = domain.SeatStatus(status)

	span.SetStatus(codes.Ok, "")
	return seat, nil
}

// PostgresAccountRepository implements AccountDirectory using PostgreSQL
type PostgresAccountRepository struct {
	db database.Querier
}

// NewPostgresAccountRepository creates a new PostgresAccountRepository
func NewPostgresAccountRepository(db database.Querier) *PostgresAccountRepository {
	return &PostgresAccountRepository{db: db}
}

func (r *PostgresAccountRepository) Exists(ctx context.Context, userID string) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.account.exists")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", userID))

	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, userID).Scan(&exists)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, infraError("check account", err)
	}

	span.SetStatus(codes.Ok, "")
	return exists, nil
}

func (r *PostgresAccountRepository) Get(ctx context.Context, userID string) (*domain.Account, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.account.get")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", userID))

	account := &domain.Account{}
	err := r.db.QueryRow(ctx, `SELECT id, balance FROM accounts WHERE id = $1`, userID).Scan(&account.ID, &account.Balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "account not found")
			return nil, domain.ErrAccountNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, infraError("get account", err)
	}

	span.SetStatus(codes.Ok, "")
	return account, nil
}
