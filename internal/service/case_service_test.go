package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/physioconnect/physioconnect-api/internal/models"
	appErrors "github.com/physioconnect/physioconnect-api/pkg/errors"
)

type stubCaseRepo struct {
	cases    map[string]*models.Case
	comments []models.CaseComment

	assignOK  bool
	pendingOK bool
	closeOK   bool

	assignedPhysio string
	closureBy      string
	closedRating   int
}

func (s *stubCaseRepo) Create(_ context.Context, c *models.Case) error {
	if c.ID == "" {
		c.ID = "case-new"
	}
	if s.cases == nil {
		s.cases = map[string]*models.Case{}
	}
	s.cases[c.ID] = c
	return nil
}

func (s *stubCaseRepo) FindByID(_ context.Context, id string) (*models.Case, error) {
	c, ok := s.cases[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *c
	return &clone, nil
}

func (s *stubCaseRepo) List(_ context.Context, filter models.CaseFilter) ([]models.Case, int, error) {
	var out []models.Case
	for _, c := range s.cases {
		if filter.PatientID != "" && c.PatientID != filter.PatientID {
			continue
		}
		if filter.PhysiotherapistID != "" && (c.PhysiotherapistID == nil || *c.PhysiotherapistID != filter.PhysiotherapistID) {
			continue
		}
		out = append(out, *c)
	}
	return out, len(out), nil
}

func (s *stubCaseRepo) ListUnmapped(_ context.Context, _ []string) ([]models.Case, error) {
	var out []models.Case
	for _, c := range s.cases {
		if c.Status == models.CaseStatusOpen && !c.Assigned() {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *stubCaseRepo) AssignIfUnassigned(_ context.Context, _, physioID string, _ time.Time) (bool, error) {
	if s.assignOK {
		s.assignedPhysio = physioID
	}
	return s.assignOK, nil
}

func (s *stubCaseRepo) MarkPendingClosure(_ context.Context, _, requestedBy string, _ time.Time) (bool, error) {
	if s.pendingOK {
		s.closureBy = requestedBy
	}
	return s.pendingOK, nil
}

func (s *stubCaseRepo) CloseWithReview(_ context.Context, _ string, rating int, _ string, _ time.Time) (bool, error) {
	if s.closeOK {
		s.closedRating = rating
	}
	return s.closeOK, nil
}

func (s *stubCaseRepo) AppendComment(_ context.Context, comment *models.CaseComment) error {
	comment.ID = "cm1"
	s.comments = append(s.comments, *comment)
	return nil
}

func (s *stubCaseRepo) ListComments(_ context.Context, caseID string) ([]models.CaseComment, error) {
	var out []models.CaseComment
	for _, cm := range s.comments {
		if cm.CaseID == caseID {
			out = append(out, cm)
		}
	}
	return out, nil
}

type stubEngine struct {
	decision AssignmentDecision
	err      error
}

func (s *stubEngine) Decide(_ context.Context, _ *models.Case, preferredID string) (*AssignmentDecision, error) {
	if s.err != nil {
		return nil, s.err
	}
	if preferredID != "" {
		return &AssignmentDecision{PhysiotherapistID: preferredID}, nil
	}
	d := s.decision
	return &d, nil
}

func patientClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RolePatient, FullName: "Patient " + id}
}

func physioClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RolePhysiotherapist, FullName: "Physio " + id}
}

func adminClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "admin1", Role: models.RoleAdmin, FullName: "Admin"}
}

func TestCaseServiceCreateAssignsAutomatically(t *testing.T) {
	repo := &stubCaseRepo{assignOK: true}
	engine := &stubEngine{decision: AssignmentDecision{PhysiotherapistID: "ph1"}}
	svc := NewCaseService(repo, engine, nil, nil, nil, nil, true)

	c, warning, err := svc.Create(context.Background(), patientClaims("p1"), CreateCaseRequest{
		IssueDetails: "lower back pain",
		City:         "Delhi",
	})
	require.NoError(t, err)
	assert.Empty(t, warning)
	require.NotNil(t, c.PhysiotherapistID)
	assert.Equal(t, "ph1", *c.PhysiotherapistID)
	assert.Equal(t, models.CaseStatusInProgress, c.Status)
	assert.Equal(t, "ph1", repo.assignedPhysio)
}

func TestCaseServiceCreateKeepsCaseOpenOnGenderMiss(t *testing.T) {
	repo := &stubCaseRepo{}
	engine := &stubEngine{decision: AssignmentDecision{Warning: "no female physiotherapist available in Pune"}}
	svc := NewCaseService(repo, engine, nil, nil, nil, nil, true)

	c, warning, err := svc.Create(context.Background(), patientClaims("p1"), CreateCaseRequest{
		IssueDetails: "shoulder stiffness",
		City:         "Pune",
	})
	require.NoError(t, err)
	assert.Contains(t, warning, "female")
	assert.Equal(t, models.CaseStatusOpen, c.Status)
	assert.False(t, c.Assigned())
}

func TestCaseServiceCreateRejectsNonPatients(t *testing.T) {
	svc := NewCaseService(&stubCaseRepo{}, &stubEngine{}, nil, nil, nil, nil, true)

	_, _, err := svc.Create(context.Background(), physioClaims("ph1"), CreateCaseRequest{
		IssueDetails: "x", City: "Delhi",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestCaseServiceCreateRejectedPreferenceLeavesNothingBehind(t *testing.T) {
	repo := &stubCaseRepo{}
	engine := &stubEngine{err: appErrors.Clone(appErrors.ErrCityMismatch, "physiotherapist does not serve Delhi")}
	svc := NewCaseService(repo, engine, nil, nil, nil, nil, true)

	_, _, err := svc.Create(context.Background(), patientClaims("p1"), CreateCaseRequest{
		IssueDetails: "shoulder stiffness", City: "Delhi", PhysiotherapistID: "ph9",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrCityMismatch.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.cases)
}

func TestCaseServiceAssignAlreadyAssigned(t *testing.T) {
	physioID := "ph1"
	repo := &stubCaseRepo{cases: map[string]*models.Case{
		"c1": {ID: "c1", PatientID: "p1", PhysiotherapistID: &physioID, Status: models.CaseStatusInProgress},
	}}
	svc := NewCaseService(repo, &stubEngine{}, nil, nil, nil, nil, true)

	_, _, err := svc.Assign(context.Background(), adminClaims(), "c1", AssignCaseRequest{PhysiotherapistID: "ph2"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAlreadyAssigned.Code, appErrors.FromError(err).Code)
}

func TestCaseServiceAssignPhysioSelfOnly(t *testing.T) {
	repo := &stubCaseRepo{
		cases:    map[string]*models.Case{"c1": {ID: "c1", PatientID: "p1", City: "Delhi", Status: models.CaseStatusOpen}},
		assignOK: true,
	}
	svc := NewCaseService(repo, &stubEngine{}, nil, nil, nil, nil, true)

	_, _, err := svc.Assign(context.Background(), physioClaims("ph1"), "c1", AssignCaseRequest{PhysiotherapistID: "ph2"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	c, _, err := svc.Assign(context.Background(), physioClaims("ph1"), "c1", AssignCaseRequest{})
	require.NoError(t, err)
	assert.True(t, c.Assigned())
	assert.Equal(t, "ph1", *c.PhysiotherapistID)
}

func TestCaseServiceAssignLosingRaceReportsAlreadyAssigned(t *testing.T) {
	repo := &stubCaseRepo{
		cases:    map[string]*models.Case{"c1": {ID: "c1", PatientID: "p1", Status: models.CaseStatusOpen}},
		assignOK: false,
	}
	engine := &stubEngine{decision: AssignmentDecision{PhysiotherapistID: "ph1"}}
	svc := NewCaseService(repo, engine, nil, nil, nil, nil, true)

	_, _, err := svc.Assign(context.Background(), adminClaims(), "c1", AssignCaseRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAlreadyAssigned.Code, appErrors.FromError(err).Code)
}

func TestCaseServiceRequestClosureByAssignedPhysio(t *testing.T) {
	physioID := "ph1"
	repo := &stubCaseRepo{
		cases: map[string]*models.Case{
			"c1": {ID: "c1", PatientID: "p1", PhysiotherapistID: &physioID, Status: models.CaseStatusInProgress},
		},
		pendingOK: true,
	}
	svc := NewCaseService(repo, &stubEngine{}, nil, nil, nil, nil, true)

	c, err := svc.RequestClosure(context.Background(), physioClaims("ph1"), "c1")
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusPendingClosure, c.Status)
	assert.Equal(t, "ph1", repo.closureBy)
}

func TestCaseServiceRequestClosureForbiddenForOtherPhysio(t *testing.T) {
	physioID := "ph1"
	repo := &stubCaseRepo{cases: map[string]*models.Case{
		"c1": {ID: "c1", PatientID: "p1", PhysiotherapistID: &physioID, Status: models.CaseStatusInProgress},
	}}
	svc := NewCaseService(repo, &stubEngine{}, nil, nil, nil, nil, true)

	_, err := svc.RequestClosure(context.Background(), physioClaims("ph2"), "c1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestCaseServiceCloseRequiresPendingClosure(t *testing.T) {
	repo := &stubCaseRepo{
		cases:   map[string]*models.Case{"c1": {ID: "c1", PatientID: "p1", Status: models.CaseStatusInProgress}},
		closeOK: false,
	}
	svc := NewCaseService(repo, &stubEngine{}, nil, nil, nil, nil, true)

	_, err := svc.Close(context.Background(), patientClaims("p1"), "c1", models.Review{Rating: 4, Comment: "good"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestCaseServiceCloseStoresReview(t *testing.T) {
	repo := &stubCaseRepo{
		cases:   map[string]*models.Case{"c1": {ID: "c1", PatientID: "p1", Status: models.CaseStatusPendingClosure}},
		closeOK: true,
	}
	svc := NewCaseService(repo, &stubEngine{}, nil, nil, nil, nil, true)

	c, err := svc.Close(context.Background(), patientClaims("p1"), "c1", models.Review{Rating: 5, Comment: "fully recovered"})
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusClosed, c.Status)
	require.NotNil(t, c.Review())
	assert.Equal(t, 5, c.Review().Rating)
	assert.Equal(t, 5, repo.closedRating)
}

func TestCaseServiceCloseRejectsInvalidReview(t *testing.T) {
	repo := &stubCaseRepo{cases: map[string]*models.Case{
		"c1": {ID: "c1", PatientID: "p1", Status: models.CaseStatusPendingClosure},
	}}
	svc := NewCaseService(repo, &stubEngine{}, nil, nil, nil, nil, true)

	for _, review := range []models.Review{
		{Rating: 0, Comment: "missing rating"},
		{Rating: 6, Comment: "too high"},
		{Rating: 3, Comment: ""},
	} {
		_, err := svc.Close(context.Background(), patientClaims("p1"), "c1", review)
		require.Error(t, err)
		assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	}
}

func TestCaseServiceAddCommentOnClosedCase(t *testing.T) {
	repo := &stubCaseRepo{cases: map[string]*models.Case{
		"c1": {ID: "c1", PatientID: "p1", Status: models.CaseStatusClosed},
	}}
	svc := NewCaseService(repo, &stubEngine{}, nil, nil, nil, nil, true)

	_, err := svc.AddComment(context.Background(), patientClaims("p1"), "c1", AddCommentRequest{Message: "hello"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestCaseServiceAddCommentDenormalisesAuthor(t *testing.T) {
	repo := &stubCaseRepo{cases: map[string]*models.Case{
		"c1": {ID: "c1", PatientID: "p1", Status: models.CaseStatusInProgress},
	}}
	svc := NewCaseService(repo, &stubEngine{}, nil, nil, nil, nil, true)

	comment, err := svc.AddComment(context.Background(), patientClaims("p1"), "c1", AddCommentRequest{Message: "first session done"})
	require.NoError(t, err)
	assert.Equal(t, "p1", comment.AuthorID)
	assert.Equal(t, "Patient p1", comment.AuthorName)
	assert.Equal(t, models.RolePatient, comment.AuthorRole)
}

func TestCaseServiceListScopesByRole(t *testing.T) {
	physioID := "ph1"
	repo := &stubCaseRepo{cases: map[string]*models.Case{
		"c1": {ID: "c1", PatientID: "p1", Status: models.CaseStatusOpen},
		"c2": {ID: "c2", PatientID: "p2", PhysiotherapistID: &physioID, Status: models.CaseStatusInProgress},
	}}
	svc := NewCaseService(repo, &stubEngine{}, nil, nil, nil, nil, true)

	mine, _, err := svc.List(context.Background(), patientClaims("p1"), models.CaseFilter{})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "c1", mine[0].ID)

	assigned, _, err := svc.List(context.Background(), physioClaims("ph1"), models.CaseFilter{})
	require.NoError(t, err)
	require.Len(t, assigned, 1)
	assert.Equal(t, "c2", assigned[0].ID)

	all, total, err := svc.List(context.Background(), adminClaims(), models.CaseFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, 2, total)
}

func TestCaseServiceGetForbiddenForStranger(t *testing.T) {
	repo := &stubCaseRepo{cases: map[string]*models.Case{
		"c1": {ID: "c1", PatientID: "p1", Status: models.CaseStatusOpen},
	}}
	svc := NewCaseService(repo, &stubEngine{}, nil, nil, nil, nil, true)

	_, err := svc.Get(context.Background(), patientClaims("p2"), "c1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}
