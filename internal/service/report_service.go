package service

import (
	"context"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
	"github.com/prohmpiriya/ticket-rush/internal/repository"
)

// ReportService aggregates payment outcomes per sale
type ReportService interface {
	// Record counts an outcome event once. Reports whether it was new.
	Record(ctx context.Context, event *domain.PaymentOutcomeEvent) (bool, error)

	SaleReport(ctx context.Context, saleID string) (*domain.SaleReport, error)
}

type reportService struct {
	reports repository.ReportRepository
}

// NewReportService creates a new report service
func NewReportService(reports repository.ReportRepository) ReportService {
	return &reportService{reports: reports}
}

func (s *reportService) Record(ctx context.Context, event *domain.PaymentOutcomeEvent) (bool, error) {
	if event.SaleID == "" {
		return false, domain.ErrInvalidSaleID
	}
	return s.reports.RecordOutcome(ctx, event)
}

func (s *reportService) SaleReport(ctx context.Context, saleID string) (*domain.SaleReport, error) {
	if saleID == "" {
		return nil, domain.ErrInvalidSaleID
	}
	return s.reports.Get(ctx, saleID)
}
