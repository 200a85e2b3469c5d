package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/physioconnect/physioconnect-api/internal/models"
	appErrors "github.com/physioconnect/physioconnect-api/pkg/errors"
	"github.com/physioconnect/physioconnect-api/pkg/export"
)

// Export formats accepted by the admin case export.
const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"
)

type exportCaseLister interface {
	List(ctx context.Context, filter models.CaseFilter) ([]models.Case, int, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportResult is a rendered export ready for download.
type ExportResult struct {
	Filename    string
	ContentType string
	Payload     []byte
}

// ExportService renders the case roster for admin download.
type ExportService struct {
	cases  exportCaseLister
	csv    csvRenderer
	pdf    pdfRenderer
	logger *zap.Logger
}

// NewExportService constructs an ExportService.
func NewExportService(cases exportCaseLister, csv csvRenderer, pdf pdfRenderer, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{cases: cases, csv: csv, pdf: pdf, logger: logger}
}

// ExportCases renders the full case roster in the requested format. Admin
// access is enforced by the caller's route guard.
func (s *ExportService) ExportCases(ctx context.Context, format string, filter models.CaseFilter) (*ExportResult, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format != ExportFormatCSV && format != ExportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}

	// Exports ignore pagination and walk the roster page by page.
	filter.Page = 1
	filter.PageSize = 100
	var all []models.Case
	for {
		page, total, err := s.cases.List(ctx, filter)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load cases for export")
		}
		all = append(all, page...)
		if len(all) >= total || len(page) == 0 {
			break
		}
		filter.Page++
	}

	dataset := buildCaseDataset(all)
	title := fmt.Sprintf("Case Roster %s", time.Now().UTC().Format("2006-01-02"))

	var payload []byte
	var err error
	contentType := "text/csv"
	if format == ExportFormatPDF {
		payload, err = s.pdf.Render(dataset, title)
		contentType = "application/pdf"
	} else {
		payload, err = s.csv.Render(dataset)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	filename := fmt.Sprintf("cases_%s.%s", time.Now().UTC().Format("20060102_150405"), format)
	s.logger.Info("case roster exported", zap.String("format", format), zap.Int("rows", len(all)))
	return &ExportResult{Filename: filename, ContentType: contentType, Payload: payload}, nil
}

func buildCaseDataset(cases []models.Case) export.Dataset {
	rows := make([]map[string]string, 0, len(cases))
	for _, c := range cases {
		physio := ""
		if c.PhysiotherapistID != nil {
			physio = *c.PhysiotherapistID
		}
		rating := ""
		if c.ReviewRating != nil {
			rating = fmt.Sprintf("%d", *c.ReviewRating)
		}
		rows = append(rows, map[string]string{
			"Case ID":          c.ID,
			"Patient ID":       c.PatientID,
			"Physiotherapist":  physio,
			"City":             c.City,
			"Status":           string(c.Status),
			"Review Rating":    rating,
			"Created At":       c.CreatedAt.UTC().Format(time.RFC3339),
			"Last Updated At":  c.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	return export.Dataset{
		Headers: []string{"Case ID", "Patient ID", "Physiotherapist", "City", "Status", "Review Rating", "Created At", "Last Updated At"},
		Rows:    rows,
	}
}
