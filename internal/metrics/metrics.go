package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/prohmpiriya/ticket-rush/pkg/telemetry"
)

var (
	// Queue
	TokensIssued   *telemetry.Counter
	TokensPromoted *telemetry.Counter
	TokensExpired  *telemetry.Counter

	// Reservations
	SeatsClaimed        *telemetry.Counter
	ClaimConflicts      *telemetry.Counter
	ReservationsExpired *telemetry.Counter

	// Payments
	PaymentsSettled *telemetry.Counter
	PaymentsFailed  *telemetry.Counter
	SettleDuration  *telemetry.Histogram

	// Compensation
	CompensationsRun   *telemetry.Counter
	CompensationsToDLQ *telemetry.Counter

	PendingReservations *telemetry.UpDownCounter

	initOnce sync.Once
	initErr  error
)

// Init registers all instruments on the global meter provider
func Init() error {
	initOnce.Do(func() {
		initErr = initMetrics()
	})
	return initErr
}

func initMetrics() error {
	counters := []struct {
		target **telemetry.Counter
		opts   telemetry.MetricOpts
	}{
		{&TokensIssued, telemetry.MetricOpts{Name: "queue_tokens_issued_total", Description: "Queue tokens issued by status", Unit: "1"}},
		{&TokensPromoted, telemetry.MetricOpts{Name: "queue_tokens_promoted_total", Description: "Waiting tokens promoted to active", Unit: "1"}},
		{&TokensExpired, telemetry.MetricOpts{Name: "queue_tokens_expired_total", Description: "Stale tokens removed by cleanup", Unit: "1"}},
		{&SeatsClaimed, telemetry.MetricOpts{Name: "reservation_claims_total", Description: "Seats claimed", Unit: "1"}},
		{&ClaimConflicts, telemetry.MetricOpts{Name: "reservation_claim_conflicts_total", Description: "Claims lost to a lock or version conflict", Unit: "1"}},
		{&ReservationsExpired, telemetry.MetricOpts{Name: "reservation_expirations_total", Description: "Reservations expired by the sweep", Unit: "1"}},
		{&PaymentsSettled, telemetry.MetricOpts{Name: "payment_settlements_total", Description: "Payments settled", Unit: "1"}},
		{&PaymentsFailed, telemetry.MetricOpts{Name: "payment_failures_total", Description: "Payment failures by kind", Unit: "1"}},
		{&CompensationsRun, telemetry.MetricOpts{Name: "compensation_runs_total", Description: "Compensation sagas run by status", Unit: "1"}},
		{&CompensationsToDLQ, telemetry.MetricOpts{Name: "compensation_dlq_total", Description: "Failure events routed to the DLQ", Unit: "1"}},
	}
	for _, c := range counters {
		counter, err := telemetry.NewCounter(c.opts)
		if err != nil {
			return err
		}
		*c.target = counter
	}

	var err error
	SettleDuration, err = telemetry.NewHistogram(telemetry.MetricOpts{
		Name:        "payment_settle_duration_seconds",
		Description: "Duration of a settle call",
		Unit:        "s",
		Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})
	if err != nil {
		return err
	}

	PendingReservations, err = telemetry.NewUpDownCounter(telemetry.MetricOpts{
		Name:        "reservation_pending",
		Description: "Reservations waiting for payment",
		Unit:        "1",
	})
	return err
}

// RecordTokenIssued records an issued queue token
func RecordTokenIssued(ctx context.Context, saleID, status string) {
	TokensIssued.Inc(ctx,
		attribute.String("sale_id", saleID),
		attribute.String("status", status),
	)
}

// RecordPromotion records promoted tokens of a sale
func RecordPromotion(ctx context.Context, saleID string, count int) {
	if count == 0 {
		return
	}
	TokensPromoted.Add(ctx, int64(count), attribute.String("sale_id", saleID))
}

// RecordTokensExpired records stale tokens removed from a sale
func RecordTokensExpired(ctx context.Context, saleID string, count int64) {
	if count == 0 {
		return
	}
	TokensExpired.Add(ctx, count, attribute.String("sale_id", saleID))
}

// RecordClaim records a successful seat claim
func RecordClaim(ctx context.Context, sessionID string) {
	SeatsClaimed.Inc(ctx, attribute.String("session_id", sessionID))
	PendingReservations.Add(ctx, 1)
}

// RecordClaimConflict records a claim lost to a concurrent request
func RecordClaimConflict(ctx context.Context, reason string) {
	ClaimConflicts.Inc(ctx, attribute.String("reason", reason))
}

// RecordExpiration records expired reservations
func RecordExpiration(ctx context.Context, count int64) {
	if count == 0 {
		return
	}
	ReservationsExpired.Add(ctx, count)
	PendingReservations.Add(ctx, -count)
}

// RecordSettlement records a settled payment and how long it took
func RecordSettlement(ctx context.Context, saleID string, seconds float64) {
	PaymentsSettled.Inc(ctx, attribute.String("sale_id", saleID))
	SettleDuration.Record(ctx, seconds, attribute.String("sale_id", saleID))
	PendingReservations.Add(ctx, -1)
}

// RecordPaymentFailure records a failed payment
func RecordPaymentFailure(ctx context.Context, kind string) {
	PaymentsFailed.Inc(ctx, attribute.String("kind", kind))
}

// RecordCompensation records a finished compensation saga
func RecordCompensation(ctx context.Context, status string) {
	CompensationsRun.Inc(ctx, attribute.String("status", status))
}

// RecordDLQ records an event routed to the DLQ
func RecordDLQ(ctx context.Context, topic string) {
	CompensationsToDLQ.Inc(ctx, attribute.String("topic", topic))
}
