package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/physioconnect/physioconnect-api/internal/dto"
	"github.com/physioconnect/physioconnect-api/internal/models"
	appErrors "github.com/physioconnect/physioconnect-api/pkg/errors"
)

const statsCacheKey = "stats:admin"

type statsUserCounter interface {
	CountByRole(ctx context.Context, role models.UserRole) (int, error)
}

type statsCaseCounter interface {
	CountAll(ctx context.Context) (int, error)
	CountByStatus(ctx context.Context, status models.CaseStatus) (int, error)
}

// StatsService aggregates platform counts for the admin dashboard, with a
// short-lived cache in front of the count queries.
type StatsService struct {
	users  statsUserCounter
	cases  statsCaseCounter
	cache  *CacheService
	ttl    time.Duration
	logger *zap.Logger
}

// NewStatsService creates a service instance.
func NewStatsService(users statsUserCounter, cases statsCaseCounter, cache *CacheService, ttl time.Duration, logger *zap.Logger) *StatsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &StatsService{users: users, cases: cases, cache: cache, ttl: ttl, logger: logger}
}

// AdminStats returns platform totals and whether they came from cache.
// Cached results may lag writes by up to the configured TTL; case mutations
// invalidate the key eagerly.
func (s *StatsService) AdminStats(ctx context.Context) (*dto.AdminStatsResponse, bool, error) {
	var cached dto.AdminStatsResponse
	if hit, err := s.cache.Get(ctx, statsCacheKey, &cached); err == nil && hit {
		return &cached, true, nil
	}

	patients, err := s.users.CountByRole(ctx, models.RolePatient)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count patients")
	}
	physios, err := s.users.CountByRole(ctx, models.RolePhysiotherapist)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count physiotherapists")
	}
	total, err := s.cases.CountAll(ctx)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count cases")
	}
	closed, err := s.cases.CountByStatus(ctx, models.CaseStatusClosed)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count closed cases")
	}

	stats := &dto.AdminStatsResponse{
		TotalPatients:         patients,
		TotalPhysiotherapists: physios,
		TotalCases:            total,
		ActiveCases:           total - closed,
		ClosedCases:           closed,
		GeneratedAt:           time.Now().UTC(),
	}

	if err := s.cache.Set(ctx, statsCacheKey, stats, s.ttl); err != nil {
		s.logger.Warn("failed to cache admin stats", zap.Error(err))
	}
	return stats, false, nil
}
