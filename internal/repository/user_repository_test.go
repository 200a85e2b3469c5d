package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/physioconnect/physioconnect-api/internal/models"
)

var userTestColumns = []string{
	"id", "email", "password_hash", "full_name", "role", "gender", "mobile_number", "active", "last_login",
	"date_of_birth", "practicing_since", "degrees", "specialties", "cities_available", "clinic_addresses", "age", "city",
	"created_at", "updated_at",
}

func newUserRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func physioRow(id, email string) []driver.Value {
	now := time.Now()
	return []driver.Value{
		id, email, "hash", "Physio " + id, string(models.RolePhysiotherapist), "female", "", true, nil,
		nil, nil, "{}", "{}", "{Delhi}", "{}", nil, "",
		now, now,
	}
}

func TestUserRepositoryFindByEmail(t *testing.T) {
	db, mock, cleanup := newUserRepoMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	rows := sqlmock.NewRows(userTestColumns).AddRow(physioRow("ph1", "physio@example.com")...)
	mock.ExpectQuery("FROM users WHERE email = \\$1 LIMIT 1").
		WithArgs("physio@example.com").
		WillReturnRows(rows)

	user, err := repo.FindByEmail(context.Background(), "Physio@Example.COM")
	require.NoError(t, err)
	assert.Equal(t, "ph1", user.ID)
	assert.Equal(t, models.RolePhysiotherapist, user.Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newUserRepoMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery("FROM users WHERE id = \\$1 LIMIT 1").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryListPhysiotherapistsByCity(t *testing.T) {
	db, mock, cleanup := newUserRepoMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	rows := sqlmock.NewRows(userTestColumns).
		AddRow(physioRow("ph1", "a@example.com")...).
		AddRow(physioRow("ph2", "b@example.com")...)
	mock.ExpectQuery("FROM users WHERE role = \\$1 AND active = TRUE AND \\$2 = ANY\\(cities_available\\) ORDER BY id").
		WithArgs(string(models.RolePhysiotherapist), "Delhi").
		WillReturnRows(rows)

	users, err := repo.ListPhysiotherapistsByCity(context.Background(), "Delhi")
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "ph1", users[0].ID)
	assert.Equal(t, "ph2", users[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryCreateLowercasesEmail(t *testing.T) {
	db, mock, cleanup := newUserRepoMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec("INSERT INTO users").
		WillReturnResult(sqlmock.NewResult(1, 1))

	user := &models.User{Email: "New@Example.COM", FullName: "New User", Role: models.RolePatient, Active: true}
	require.NoError(t, repo.Create(context.Background(), user))
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "new@example.com", user.Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryCountByRole(t *testing.T) {
	db, mock, cleanup := newUserRepoMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM users WHERE role = $1 AND active = TRUE")).
		WithArgs(string(models.RolePatient)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	count, err := repo.CountByRole(context.Background(), models.RolePatient)
	require.NoError(t, err)
	assert.Equal(t, 42, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
