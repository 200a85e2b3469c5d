package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/physioconnect/physioconnect-api/internal/models"
	appErrors "github.com/physioconnect/physioconnect-api/pkg/errors"
)

type stubAuthRepo struct {
	usersByEmail map[string]*models.User
	usersByID    map[string]*models.User
	tokens       map[string]*models.RefreshToken
	audits       []models.AuditLog
}

func newStubAuthRepo() *stubAuthRepo {
	return &stubAuthRepo{
		usersByEmail: map[string]*models.User{},
		usersByID:    map[string]*models.User{},
		tokens:       map[string]*models.RefreshToken{},
	}
}

func (s *stubAuthRepo) FindByEmail(_ context.Context, email string) (*models.User, error) {
	user, ok := s.usersByEmail[strings.ToLower(email)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func (s *stubAuthRepo) FindByID(_ context.Context, id string) (*models.User, error) {
	user, ok := s.usersByID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func (s *stubAuthRepo) Create(_ context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = "u-" + user.Email
	}
	s.usersByEmail[strings.ToLower(user.Email)] = user
	s.usersByID[user.ID] = user
	return nil
}

func (s *stubAuthRepo) UpdateLastLogin(_ context.Context, id string, ts time.Time) error {
	if user, ok := s.usersByID[id]; ok {
		user.LastLogin = &ts
	}
	return nil
}

func (s *stubAuthRepo) UpdatePassword(_ context.Context, id, hash string, _ time.Time) error {
	if user, ok := s.usersByID[id]; ok {
		user.PasswordHash = hash
	}
	return nil
}

func (s *stubAuthRepo) RevokeUserRefreshTokens(_ context.Context, userID string) error {
	for _, token := range s.tokens {
		if token.UserID == userID {
			token.Revoked = true
		}
	}
	return nil
}

func (s *stubAuthRepo) CreateRefreshToken(_ context.Context, token *models.RefreshToken) error {
	s.tokens[token.Token] = token
	return nil
}

func (s *stubAuthRepo) FindRefreshToken(_ context.Context, token string) (*models.RefreshToken, error) {
	stored, ok := s.tokens[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return stored, nil
}

func (s *stubAuthRepo) RevokeRefreshToken(_ context.Context, id string, revokedAt time.Time) error {
	for _, token := range s.tokens {
		if token.ID == id {
			token.Revoked = true
			token.RevokedAt = &revokedAt
		}
	}
	return nil
}

func (s *stubAuthRepo) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	s.audits = append(s.audits, *log)
	return nil
}

func newAuthService(repo *stubAuthRepo) *AuthService {
	return NewAuthService(repo, nil, nil, AuthConfig{
		AccessTokenSecret:  "test-secret",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: 24 * time.Hour,
		Issuer:             "physioconnect-test",
		AdminSignupCode:    "letmein",
		ServiceableCities:  []string{"Delhi", "Mumbai"},
	})
}

func patientSignup() models.SignupRequest {
	return models.SignupRequest{
		FullName: "Asha Rao",
		Email:    "asha@example.com",
		Password: "secret123",
		Role:     models.RolePatient,
		Age:      34,
		City:     "Delhi",
	}
}

func TestAuthServiceSignupAndLogin(t *testing.T) {
	repo := newStubAuthRepo()
	svc := newAuthService(repo)

	session, err := svc.Signup(context.Background(), patientSignup())
	require.NoError(t, err)
	assert.NotEmpty(t, session.AccessToken)
	assert.NotEmpty(t, session.RefreshToken)
	assert.Equal(t, models.RolePatient, session.User.Role)

	login, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "asha@example.com",
		Password: "secret123",
	})
	require.NoError(t, err)

	claims, err := svc.ValidateToken(login.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, claims.UserID)
	assert.Equal(t, models.RolePatient, claims.Role)
}

func TestAuthServiceSignupDuplicateEmail(t *testing.T) {
	repo := newStubAuthRepo()
	svc := newAuthService(repo)

	_, err := svc.Signup(context.Background(), patientSignup())
	require.NoError(t, err)

	_, err = svc.Signup(context.Background(), patientSignup())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceSignupAdminRequiresCode(t *testing.T) {
	svc := newAuthService(newStubAuthRepo())

	req := models.SignupRequest{
		FullName:   "Root",
		Email:      "root@example.com",
		Password:   "secret123",
		Role:       models.RoleAdmin,
		SecretCode: "wrong",
	}
	_, err := svc.Signup(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	req.SecretCode = "letmein"
	_, err = svc.Signup(context.Background(), req)
	require.NoError(t, err)
}

func TestAuthServiceSignupPhysioValidatesCities(t *testing.T) {
	svc := newAuthService(newStubAuthRepo())

	req := models.SignupRequest{
		FullName:        "Dr. Mehta",
		Email:           "mehta@example.com",
		Password:        "secret123",
		Role:            models.RolePhysiotherapist,
		CitiesAvailable: []string{"Atlantis"},
	}
	_, err := svc.Signup(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	req.CitiesAvailable = []string{"Mumbai"}
	_, err = svc.Signup(context.Background(), req)
	require.NoError(t, err)
}

func TestAuthServiceLoginWrongPassword(t *testing.T) {
	repo := newStubAuthRepo()
	svc := newAuthService(repo)

	_, err := svc.Signup(context.Background(), patientSignup())
	require.NoError(t, err)

	_, err = svc.Login(context.Background(), models.LoginRequest{
		Email:    "asha@example.com",
		Password: "not-it",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceRefreshRotatesToken(t *testing.T) {
	repo := newStubAuthRepo()
	svc := newAuthService(repo)

	session, err := svc.Signup(context.Background(), patientSignup())
	require.NoError(t, err)

	refreshed, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{
		RefreshToken: session.RefreshToken,
	})
	require.NoError(t, err)
	assert.NotEqual(t, session.RefreshToken, refreshed.RefreshToken)

	// The used token is revoked, so a second exchange fails.
	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{
		RefreshToken: session.RefreshToken,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceChangePasswordRevokesSessions(t *testing.T) {
	repo := newStubAuthRepo()
	svc := newAuthService(repo)

	session, err := svc.Signup(context.Background(), patientSignup())
	require.NoError(t, err)

	err = svc.ChangePassword(context.Background(), session.User.ID, models.ChangePasswordRequest{
		OldPassword: "secret123",
		NewPassword: "evenbetter",
	})
	require.NoError(t, err)

	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{
		RefreshToken: session.RefreshToken,
	})
	require.Error(t, err)

	_, err = svc.Login(context.Background(), models.LoginRequest{
		Email:    "asha@example.com",
		Password: "evenbetter",
	})
	require.NoError(t, err)
}
