package services

import (
	"context"

	"github.com/aegisshield/ml-workbench/internal/database"
	"github.com/aegisshield/ml-workbench/internal/models"
)

// ReportService reads training reports
type ReportService struct {
	reports *database.ReportRepository
}

func NewReportService(reports *database.ReportRepository) *ReportService {
	return &ReportService{reports: reports}
}

func (s *ReportService) Get(ctx context.Context, userID, id string) (*models.Report, error) {
	return s.reports.Get(ctx, userID, id)
}

func (s *ReportService) List(ctx context.Context, userID string) ([]models.Report, error) {
	return s.reports.List(ctx, userID)
}

func (s *ReportService) ListByDataFrame(ctx context.Context, userID, dataframeID string) ([]models.Report, error) {
	return s.reports.ListByDataFrame(ctx, userID, dataframeID)
}

func (s *ReportService) ListByModel(ctx context.Context, userID, modelID string) ([]models.Report, error) {
	return s.reports.ListByModel(ctx, userID, modelID)
}
