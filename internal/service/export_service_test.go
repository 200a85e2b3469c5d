package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/physioconnect/physioconnect-api/internal/models"
	appErrors "github.com/physioconnect/physioconnect-api/pkg/errors"
)

type stubExportLister struct {
	cases []models.Case
}

func (s *stubExportLister) List(_ context.Context, filter models.CaseFilter) ([]models.Case, int, error) {
	start := (filter.Page - 1) * filter.PageSize
	if start >= len(s.cases) {
		return nil, len(s.cases), nil
	}
	end := start + filter.PageSize
	if end > len(s.cases) {
		end = len(s.cases)
	}
	return s.cases[start:end], len(s.cases), nil
}

func TestExportServiceCSV(t *testing.T) {
	physioID := "ph1"
	rating := 4
	lister := &stubExportLister{cases: []models.Case{
		{
			ID:                "c1",
			PatientID:         "p1",
			PhysiotherapistID: &physioID,
			City:              "Delhi",
			Status:            models.CaseStatusClosed,
			ReviewRating:      &rating,
			CreatedAt:         time.Now(),
			UpdatedAt:         time.Now(),
		},
		{ID: "c2", PatientID: "p2", City: "Mumbai", Status: models.CaseStatusOpen, CreatedAt: time.Now(), UpdatedAt: time.Now()},
	}}
	svc := NewExportService(lister, nil, nil, nil)

	result, err := svc.ExportCases(context.Background(), "csv", models.CaseFilter{})
	require.NoError(t, err)
	assert.Equal(t, "text/csv", result.ContentType)
	assert.True(t, strings.HasSuffix(result.Filename, ".csv"))

	body := string(result.Payload)
	assert.Contains(t, body, "Case ID")
	assert.Contains(t, body, "c1")
	assert.Contains(t, body, "closed")
	assert.Contains(t, body, "Mumbai")
}

func TestExportServicePDF(t *testing.T) {
	lister := &stubExportLister{cases: []models.Case{
		{ID: "c1", PatientID: "p1", City: "Delhi", Status: models.CaseStatusOpen, CreatedAt: time.Now(), UpdatedAt: time.Now()},
	}}
	svc := NewExportService(lister, nil, nil, nil)

	result, err := svc.ExportCases(context.Background(), "pdf", models.CaseFilter{})
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", result.ContentType)
	assert.True(t, len(result.Payload) > 0)
}

func TestExportServiceRejectsUnknownFormat(t *testing.T) {
	svc := NewExportService(&stubExportLister{}, nil, nil, nil)

	_, err := svc.ExportCases(context.Background(), "xlsx", models.CaseFilter{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
