package repository

import (
	"context"
	_ "embed"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
	pkgredis "github.com/prohmpiriya/ticket-rush/pkg/redis"
	"github.com/prohmpiriya/ticket-rush/pkg/telemetry"
)

//go:embed scripts/record_outcome.lua
var recordOutcomeScript string

const (
	scriptRecordOutcome = "record_outcome"

	reportKeyPrefix     = "report:sale:"
	reportSeenKeyPrefix = "report:seen:"

	// reportSeenTTL bounds how long a redelivered event is recognised
	reportSeenTTL = 24 * time.Hour
)

// ReportRepository aggregates payment outcomes per sale
type ReportRepository interface {
	LoadScripts(ctx context.Context) error

	// RecordOutcome counts the event once, keyed by its event id
	RecordOutcome(ctx context.Context, event *domain.PaymentOutcomeEvent) (bool, error)

	// Get reads the counters of a sale
	Get(ctx context.Context, saleID string) (*domain.SaleReport, error)
}

var _ ReportRepository = (*RedisReportRepository)(nil)

// RedisReportRepository implements ReportRepository with one hash per sale
type RedisReportRepository struct {
	client *pkgredis.Client
}

// NewRedisReportRepository creates a new RedisReportRepository
func NewRedisReportRepository(client *pkgredis.Client) *RedisReportRepository {
	return &RedisReportRepository{client: client}
}

func (r *RedisReportRepository) LoadScripts(ctx context.Context) error {
	if _, err := r.client.LoadScript(ctx, scriptRecordOutcome, recordOutcomeScript); err != nil {
		return infraError("load script "+scriptRecordOutcome, err)
	}
	return nil
}

func (r *RedisReportRepository) RecordOutcome(ctx context.Context, event *domain.PaymentOutcomeEvent) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.report.record")
	defer span.End()

	span.SetAttributes(
		attribute.String("sale_id", event.SaleID),
		attribute.String("event_id", event.EventID),
		attribute.String("event_type", string(event.EventType)),
	)

	field := "failed"
	var revenue int64
	if event.EventType == domain.PaymentEventSuccess {
		field = "succeeded"
		revenue = event.Amount
	}

	keys := []string{reportKeyPrefix + event.SaleID, reportSeenKeyPrefix + event.EventID}
	args := []interface{}{field, revenue, reportSeenTTL.Milliseconds()}

	counted, err := r.client.EvalWithFallback(ctx, scriptRecordOutcome, recordOutcomeScript, keys, args...).Int64()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, infraError("execute record_outcome script", err)
	}

	span.SetAttributes(attribute.Bool("counted", counted == 1))
	span.SetStatus(codes.Ok, "")
	return counted == 1, nil
}

func (r *RedisReportRepository) Get(ctx context.Context, saleID string) (*domain.SaleReport, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.report.get")
	defer span.End()

	span.SetAttributes(attribute.String("sale_id", saleID))

	fields, err := r.client.HGetAll(ctx, reportKeyPrefix+saleID).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, infraError("read sale report", err)
	}

	report := &domain.SaleReport{SaleID: saleID}
	report.Succeeded, _ = strconv.ParseInt(fields["succeeded"], 10, 64)
	report.Failed, _ = strconv.ParseInt(fields["failed"], 10, 64)
	report.Revenue, _ = strconv.ParseInt(fields["revenue"], 10, 64)

	span.SetStatus(codes.Ok, "")
	return report, nil
}
