package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
)

func TestReportService_Record(t *testing.T) {
	reports := new(MockReportRepository)
	svc := NewReportService(reports)
	event := successEvent()
	reports.On("RecordOutcome", mock.Anything, event).Return(true, nil)

	recorded, err := svc.Record(context.Background(), event)

	require.NoError(t, err)
	assert.True(t, recorded)

	noSale := successEvent()
	noSale.SaleID = ""
	_, err = svc.Record(context.Background(), noSale)
	assert.ErrorIs(t, err, domain.ErrInvalidSaleID)
}

func TestReportService_SaleReport(t *testing.T) {
	reports := new(MockReportRepository)
	svc := NewReportService(reports)
	report := &domain.SaleReport{SaleID: "sale-1", Succeeded: 3, Failed: 1, Revenue: 150000}
	reports.On("Get", mock.Anything, "sale-1").Return(report, nil)

	got, err := svc.SaleReport(context.Background(), "sale-1")
	require.NoError(t, err)
	assert.Equal(t, report, got)

	_, err = svc.SaleReport(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrInvalidSaleID)
}
