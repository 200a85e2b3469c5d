package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/physioconnect/physioconnect-api/internal/models"
)

func newCaseRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestCaseRepositoryCreateDefaultsStatus(t *testing.T) {
	db, mock, cleanup := newCaseRepoMock(t)
	defer cleanup()
	repo := NewCaseRepository(db)

	mock.ExpectExec("INSERT INTO cases").
		WillReturnResult(sqlmock.NewResult(1, 1))

	c := &models.Case{PatientID: "p1", IssueDetails: "knee pain", City: "Delhi"}
	require.NoError(t, repo.Create(context.Background(), c))
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, models.CaseStatusOpen, c.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCaseRepositoryAssignIfUnassigned(t *testing.T) {
	db, mock, cleanup := newCaseRepoMock(t)
	defer cleanup()
	repo := NewCaseRepository(db)

	mock.ExpectExec("UPDATE cases SET physiotherapist_id").
		WithArgs("c1", "ph1", string(models.CaseStatusInProgress), sqlmock.AnyArg(),
			string(models.CaseStatusOpen), string(models.CaseStatusInProgress)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.AssignIfUnassigned(context.Background(), "c1", "ph1", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCaseRepositoryAssignIfUnassignedLosesRace(t *testing.T) {
	db, mock, cleanup := newCaseRepoMock(t)
	defer cleanup()
	repo := NewCaseRepository(db)

	// Another assignment already set physiotherapist_id, so the guarded
	// update matches zero rows.
	mock.ExpectExec("UPDATE cases SET physiotherapist_id").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.AssignIfUnassigned(context.Background(), "c1", "ph2", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCaseRepositoryMarkPendingClosure(t *testing.T) {
	db, mock, cleanup := newCaseRepoMock(t)
	defer cleanup()
	repo := NewCaseRepository(db)

	mock.ExpectExec("UPDATE cases SET status").
		WithArgs("c1", string(models.CaseStatusPendingClosure), "ph1", sqlmock.AnyArg(),
			string(models.CaseStatusOpen), string(models.CaseStatusInProgress)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.MarkPendingClosure(context.Background(), "c1", "ph1", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCaseRepositoryCloseWithReviewRequiresPendingClosure(t *testing.T) {
	db, mock, cleanup := newCaseRepoMock(t)
	defer cleanup()
	repo := NewCaseRepository(db)

	mock.ExpectExec("UPDATE cases SET status").
		WithArgs("c1", string(models.CaseStatusClosed), 5, "great recovery", sqlmock.AnyArg(),
			string(models.CaseStatusPendingClosure)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.CloseWithReview(context.Background(), "c1", 5, "great recovery", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCaseRepositoryAppendComment(t *testing.T) {
	db, mock, cleanup := newCaseRepoMock(t)
	defer cleanup()
	repo := NewCaseRepository(db)

	mock.ExpectExec("INSERT INTO case_comments").
		WillReturnResult(sqlmock.NewResult(1, 1))

	comment := &models.CaseComment{
		CaseID:     "c1",
		AuthorID:   "p1",
		AuthorName: "Patient One",
		AuthorRole: models.RolePatient,
		Message:    "feeling better today",
	}
	require.NoError(t, repo.AppendComment(context.Background(), comment))
	assert.NotEmpty(t, comment.ID)
	assert.False(t, comment.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCaseRepositoryCountActiveByPhysiotherapist(t *testing.T) {
	db, mock, cleanup := newCaseRepoMock(t)
	defer cleanup()
	repo := NewCaseRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM cases WHERE physiotherapist_id = $1 AND status = ANY($2)")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := repo.CountActiveByPhysiotherapist(context.Background(), "ph1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCaseRepositoryListUnmapped(t *testing.T) {
	db, mock, cleanup := newCaseRepoMock(t)
	defer cleanup()
	repo := NewCaseRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "patient_id", "physiotherapist_id", "issue_details", "city", "preferred_gender", "can_travel", "status",
		"closure_requested_by", "closure_requested_at", "review_rating", "review_comment", "closed_at", "created_at", "updated_at",
	}).AddRow("c1", "p1", nil, "back pain", "Pune", nil, false, string(models.CaseStatusOpen), nil, nil, nil, nil, nil, now, now)

	mock.ExpectQuery("FROM cases WHERE status = \\$1 AND physiotherapist_id IS NULL AND city = ANY\\(\\$2\\)").
		WillReturnRows(rows)

	cases, err := repo.ListUnmapped(context.Background(), []string{"Pune"})
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, "Pune", cases[0].City)
	assert.False(t, cases[0].Assigned())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCaseRepositoryList(t *testing.T) {
	db, mock, cleanup := newCaseRepoMock(t)
	defer cleanup()
	repo := NewCaseRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "patient_id", "physiotherapist_id", "issue_details", "city", "preferred_gender", "can_travel", "status",
		"closure_requested_by", "closure_requested_at", "review_rating", "review_comment", "closed_at", "created_at", "updated_at",
	}).AddRow("c1", "p1", "ph1", "knee pain", "Delhi", nil, true, string(models.CaseStatusInProgress), nil, nil, nil, nil, nil, now, now)

	mock.ExpectQuery("FROM cases WHERE 1=1 AND patient_id = \\$1 ORDER BY created_at DESC LIMIT 20 OFFSET 0").
		WithArgs("p1").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM cases WHERE 1=1 AND patient_id = $1")).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	cases, total, err := repo.List(context.Background(), models.CaseFilter{PatientID: "p1"})
	require.NoError(t, err)
	assert.Len(t, cases, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}
