package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/physioconnect/physioconnect-api/internal/models"
	appErrors "github.com/physioconnect/physioconnect-api/pkg/errors"
)

const physioDirectoryTTL = 5 * time.Minute

type userRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	ListPhysiotherapistsByCity(ctx context.Context, city string) ([]models.User, error)
	UpdateProfile(ctx context.Context, user *models.User) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// UpdateProfileRequest carries the mutable profile fields. Nil and empty
// slices leave the stored value untouched.
type UpdateProfileRequest struct {
	FullName     string `json:"full_name"`
	MobileNumber string `json:"mobile_number"`
	Gender       string `json:"gender"`

	Degrees         []string `json:"degrees"`
	Specialties     []string `json:"specialties"`
	CitiesAvailable []string `json:"cities_available"`
	ClinicAddresses []string `json:"clinic_addresses"`

	Age  *int   `json:"age"`
	City string `json:"city"`
}

// UserService exposes profile and directory use cases.
type UserService struct {
	repo      userRepository
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService creates a service instance.
func NewUserService(repo userRepository, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *UserService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{repo: repo, cache: cache, validator: validate, logger: logger}
}

// Get returns a user profile. Everyone can look up physiotherapists; other
// profiles are restricted to their owner and admins.
func (s *UserService) Get(ctx context.Context, actor *models.JWTClaims, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if user.Role != models.RolePhysiotherapist && actor.UserID != id && actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "no access to this profile")
	}
	return user, nil
}

// ListPhysiotherapists returns the physiotherapist directory for a city,
// cached briefly since the directory changes far less often than it is read.
func (s *UserService) ListPhysiotherapists(ctx context.Context, city string) ([]models.User, error) {
	if city == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "city query parameter is required")
	}

	cacheKey := fmt.Sprintf("directory:physios:%s", city)
	var cached []models.User
	if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
		return cached, nil
	}

	physios, err := s.repo.ListPhysiotherapistsByCity(ctx, city)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list physiotherapists")
	}

	if err := s.cache.Set(ctx, cacheKey, physios, physioDirectoryTTL); err != nil {
		s.logger.Warn("failed to cache physiotherapist directory", zap.String("city", city), zap.Error(err))
	}
	return physios, nil
}

// ListPatients returns the patient roster. Admin only.
func (s *UserService) ListPatients(ctx context.Context, actor *models.JWTClaims, filter models.UserFilter) ([]models.User, int, error) {
	if actor.Role != models.RoleAdmin {
		return nil, 0, appErrors.Clone(appErrors.ErrForbidden, "only admins can list patients")
	}
	role := models.RolePatient
	filter.Role = &role

	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list patients")
	}
	return users, total, nil
}

// UpdateProfile modifies the caller's own profile.
func (s *UserService) UpdateProfile(ctx context.Context, actor *models.JWTClaims, req UpdateProfileRequest) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	if req.FullName != "" {
		user.FullName = req.FullName
	}
	if req.MobileNumber != "" {
		user.MobileNumber = req.MobileNumber
	}
	if req.Gender != "" {
		user.Gender = req.Gender
	}

	switch user.Role {
	case models.RolePhysiotherapist:
		if req.Degrees != nil {
			user.Degrees = req.Degrees
		}
		if req.Specialties != nil {
			user.Specialties = req.Specialties
		}
		if req.CitiesAvailable != nil {
			if len(req.CitiesAvailable) == 0 {
				return nil, appErrors.Clone(appErrors.ErrValidation, "at least one serviceable city is required")
			}
			user.CitiesAvailable = req.CitiesAvailable
		}
		if req.ClinicAddresses != nil {
			user.ClinicAddresses = req.ClinicAddresses
		}
	case models.RolePatient:
		if req.Age != nil {
			user.Age = req.Age
		}
		if req.City != "" {
			user.City = req.City
		}
	}

	if err := s.repo.UpdateProfile(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update profile")
	}

	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &user.ID,
		Action:     models.AuditActionProfileUpdate,
		Resource:   "user",
		ResourceID: &user.ID,
	}); err != nil {
		s.logger.Warn("failed to record profile update audit log", zap.Error(err))
	}

	if user.Role == models.RolePhysiotherapist {
		if err := s.cache.Invalidate(ctx, "directory:physios:*"); err != nil {
			s.logger.Warn("failed to invalidate directory cache", zap.Error(err))
		}
	}
	return user, nil
}
