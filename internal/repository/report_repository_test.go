package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
)

func TestRedisReportRepository(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewRedisReportRepository(client)
	ctx := context.Background()
	require.NoError(t, repo.LoadScripts(ctx))

	success := &domain.PaymentOutcomeEvent{EventID: "e1", EventType: domain.PaymentEventSuccess, SaleID: testSale, Amount: 50000}
	failure := &domain.PaymentOutcomeEvent{EventID: "e2", EventType: domain.PaymentEventFailure, SaleID: testSale, Amount: 50000}

	counted, err := repo.RecordOutcome(ctx, success)
	require.NoError(t, err)
	assert.True(t, counted)

	// redelivery is not counted twice
	counted, err = repo.RecordOutcome(ctx, success)
	require.NoError(t, err)
	assert.False(t, counted)

	_, err = repo.RecordOutcome(ctx, failure)
	require.NoError(t, err)

	report, err := repo.Get(ctx, testSale)
	require.NoError(t, err)
	assert.Equal(t, &domain.SaleReport{SaleID: testSale, Succeeded: 1, Failed: 1, Revenue: 50000}, report)
}

func TestRedisReportRepository_EmptySale(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewRedisReportRepository(client)

	report, err := repo.Get(context.Background(), "none")
	require.NoError(t, err)
	assert.Equal(t, int64(0), report.Succeeded)
	assert.Equal(t, int64(0), report.Revenue)
}
