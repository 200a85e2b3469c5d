package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/physioconnect/physioconnect-api/internal/models"
)

type stubStatsUsers struct {
	patients int
	physios  int
	calls    int
}

func (s *stubStatsUsers) CountByRole(_ context.Context, role models.UserRole) (int, error) {
	s.calls++
	if role == models.RolePatient {
		return s.patients, nil
	}
	return s.physios, nil
}

type stubStatsCases struct {
	total  int
	closed int
}

func (s *stubStatsCases) CountAll(_ context.Context) (int, error) { return s.total, nil }

func (s *stubStatsCases) CountByStatus(_ context.Context, _ models.CaseStatus) (int, error) {
	return s.closed, nil
}

func TestStatsServiceAdminStats(t *testing.T) {
	users := &stubStatsUsers{patients: 120, physios: 15}
	cases := &stubStatsCases{total: 200, closed: 80}
	svc := NewStatsService(users, cases, nil, 0, nil)

	stats, cacheHit, err := svc.AdminStats(context.Background())
	require.NoError(t, err)
	assert.False(t, cacheHit)
	assert.Equal(t, 120, stats.TotalPatients)
	assert.Equal(t, 15, stats.TotalPhysiotherapists)
	assert.Equal(t, 200, stats.TotalCases)
	assert.Equal(t, 120, stats.ActiveCases)
	assert.Equal(t, 80, stats.ClosedCases)
	assert.False(t, stats.GeneratedAt.IsZero())
}
