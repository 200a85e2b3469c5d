package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/physioconnect/physioconnect-api/internal/models"
	appErrors "github.com/physioconnect/physioconnect-api/pkg/errors"
)

type caseRepository interface {
	Create(ctx context.Context, c *models.Case) error
	FindByID(ctx context.Context, id string) (*models.Case, error)
	List(ctx context.Context, filter models.CaseFilter) ([]models.Case, int, error)
	ListUnmapped(ctx context.Context, cities []string) ([]models.Case, error)
	AssignIfUnassigned(ctx context.Context, caseID, physioID string, now time.Time) (bool, error)
	MarkPendingClosure(ctx context.Context, caseID, requestedBy string, now time.Time) (bool, error)
	CloseWithReview(ctx context.Context, caseID string, rating int, comment string, now time.Time) (bool, error)
	AppendComment(ctx context.Context, comment *models.CaseComment) error
	ListComments(ctx context.Context, caseID string) ([]models.CaseComment, error)
}

type assignmentDecider interface {
	Decide(ctx context.Context, c *models.Case, preferredID string) (*AssignmentDecision, error)
}

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type cacheInvalidator interface {
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CreateCaseRequest opens a new treatment case for the calling patient.
type CreateCaseRequest struct {
	IssueDetails      string  `json:"issue_details" validate:"required"`
	City              string  `json:"city" validate:"required"`
	CanTravel         bool    `json:"can_travel"`
	PreferredGender   *string `json:"preferred_gender"`
	PhysiotherapistID string  `json:"physiotherapist_id"`
}

// AssignCaseRequest triggers assignment of an open case. An empty
// PhysiotherapistID asks for automatic matching.
type AssignCaseRequest struct {
	PhysiotherapistID string `json:"physiotherapist_id"`
}

// AddCommentRequest appends a discussion entry to a case.
type AddCommentRequest struct {
	Message string `json:"message" validate:"required"`
}

// CaseService owns the case lifecycle: creation, physiotherapist
// assignment, the closure flow and the comment thread.
type CaseService struct {
	cases      caseRepository
	engine     assignmentDecider
	audit      auditWriter
	cache      cacheInvalidator
	validator  *validator.Validate
	logger     *zap.Logger
	autoAssign bool
}

// NewCaseService creates a service instance.
func NewCaseService(
	cases caseRepository,
	engine assignmentDecider,
	audit auditWriter,
	cache cacheInvalidator,
	validate *validator.Validate,
	logger *zap.Logger,
	autoAssign bool,
) *CaseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CaseService{
		cases:      cases,
		engine:     engine,
		audit:      audit,
		cache:      cache,
		validator:  validate,
		logger:     logger,
		autoAssign: autoAssign,
	}
}

// Create opens a case for the calling patient and immediately attempts
// assignment. The returned warning is non-empty when the patient's stated
// preference could not be satisfied and the case stayed open.
func (s *CaseService) Create(ctx context.Context, actor *models.JWTClaims, req CreateCaseRequest) (*models.Case, string, error) {
	if actor.Role != models.RolePatient {
		return nil, "", appErrors.Clone(appErrors.ErrForbidden, "only patients can open cases")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid case payload")
	}

	c := &models.Case{
		PatientID:       actor.UserID,
		IssueDetails:    req.IssueDetails,
		City:            req.City,
		CanTravel:       req.CanTravel,
		PreferredGender: req.PreferredGender,
		Status:          models.CaseStatusOpen,
	}

	// Selection runs before the insert so a rejected explicit preference
	// leaves no half-created case behind.
	var decision *AssignmentDecision
	if req.PhysiotherapistID != "" || s.autoAssign {
		var err error
		decision, err = s.engine.Decide(ctx, c, req.PhysiotherapistID)
		if err != nil {
			return nil, "", err
		}
	}

	if err := s.cases.Create(ctx, c); err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create case")
	}
	s.writeAudit(ctx, actor, models.AuditActionCaseCreate, c.ID)

	warning := ""
	if decision != nil {
		warning = decision.Warning
		if decision.PhysiotherapistID != "" {
			if err := s.applyAssignment(ctx, actor, c, decision.PhysiotherapistID); err != nil {
				return nil, "", err
			}
		}
	}

	s.invalidateStats(ctx)
	return c, warning, nil
}

// Assign attaches a physiotherapist to an open case. Admins may pick any
// physiotherapist or let the engine choose; physiotherapists may only
// assign themselves.
func (s *CaseService) Assign(ctx context.Context, actor *models.JWTClaims, caseID string, req AssignCaseRequest) (*models.Case, string, error) {
	c, err := s.loadCase(ctx, caseID)
	if err != nil {
		return nil, "", err
	}
	switch actor.Role {
	case models.RoleAdmin:
	case models.RolePhysiotherapist:
		if req.PhysiotherapistID != "" && req.PhysiotherapistID != actor.UserID {
			return nil, "", appErrors.Clone(appErrors.ErrForbidden, "physiotherapists can only assign themselves")
		}
		req.PhysiotherapistID = actor.UserID
	default:
		return nil, "", appErrors.Clone(appErrors.ErrForbidden, "patients cannot assign cases")
	}
	if c.Assigned() {
		return nil, "", appErrors.Clone(appErrors.ErrAlreadyAssigned, "case already has a physiotherapist")
	}
	if c.Status == models.CaseStatusPendingClosure || c.Status == models.CaseStatusClosed {
		return nil, "", appErrors.Clone(appErrors.ErrInvalidTransition, "case is no longer assignable")
	}

	decision, err := s.engine.Decide(ctx, c, req.PhysiotherapistID)
	if err != nil {
		return nil, "", err
	}
	if decision.PhysiotherapistID == "" {
		return c, decision.Warning, nil
	}
	if err := s.applyAssignment(ctx, actor, c, decision.PhysiotherapistID); err != nil {
		return nil, "", err
	}
	s.invalidateStats(ctx)
	return c, decision.Warning, nil
}

// Get returns a case with its comment thread. Patients see their own cases,
// physiotherapists the ones assigned to them, admins everything.
func (s *CaseService) Get(ctx context.Context, actor *models.JWTClaims, caseID string) (*models.Case, error) {
	c, err := s.loadCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if !s.canView(actor, c) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "no access to this case")
	}
	comments, err := s.cases.ListComments(ctx, caseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load comments")
	}
	c.Comments = comments
	return c, nil
}

// List returns cases visible to the actor. Admins may filter freely, other
// roles are pinned to their own cases.
func (s *CaseService) List(ctx context.Context, actor *models.JWTClaims, filter models.CaseFilter) ([]models.Case, int, error) {
	switch actor.Role {
	case models.RoleAdmin:
		// Filter stays as requested.
	case models.RolePatient:
		filter.PatientID = actor.UserID
		filter.PhysiotherapistID = ""
	case models.RolePhysiotherapist:
		filter.PhysiotherapistID = actor.UserID
		filter.PatientID = ""
	default:
		return nil, 0, appErrors.Clone(appErrors.ErrForbidden, "no access to cases")
	}

	cases, total, err := s.cases.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list cases")
	}
	return cases, total, nil
}

// ListUnmapped returns open unassigned cases, optionally narrowed to the
// given cities. Physiotherapists use it to find work in their coverage area.
func (s *CaseService) ListUnmapped(ctx context.Context, actor *models.JWTClaims, cities []string) ([]models.Case, error) {
	if actor.Role != models.RolePhysiotherapist && actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "no access to unmapped cases")
	}
	cases, err := s.cases.ListUnmapped(ctx, cities)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list unmapped cases")
	}
	return cases, nil
}

// ClaimCase lets a physiotherapist take an open unassigned case in one of
// their cities. The guarded update keeps double claims out.
func (s *CaseService) ClaimCase(ctx context.Context, actor *models.JWTClaims, caseID string) (*models.Case, error) {
	if actor.Role != models.RolePhysiotherapist {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only physiotherapists can claim cases")
	}
	c, err := s.loadCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Assigned() {
		return nil, appErrors.Clone(appErrors.ErrAlreadyAssigned, "case already has a physiotherapist")
	}

	decision, err := s.engine.Decide(ctx, c, actor.UserID)
	if err != nil {
		return nil, err
	}
	if err := s.applyAssignment(ctx, actor, c, decision.PhysiotherapistID); err != nil {
		return nil, err
	}
	s.invalidateStats(ctx)
	return c, nil
}

// RequestClosure moves a case to pending_closure. Allowed for the assigned
// physiotherapist and admins.
func (s *CaseService) RequestClosure(ctx context.Context, actor *models.JWTClaims, caseID string) (*models.Case, error) {
	c, err := s.loadCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if !s.isAssignedPhysio(actor, c) && actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the assigned physiotherapist can request closure")
	}

	now := time.Now().UTC()
	ok, err := s.cases.MarkPendingClosure(ctx, caseID, actor.UserID, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to request closure")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "case cannot move to pending closure from its current status")
	}

	c.Status = models.CaseStatusPendingClosure
	c.ClosureRequestedBy = &actor.UserID
	c.ClosureRequestedAt = &now
	c.UpdatedAt = now
	s.writeAudit(ctx, actor, models.AuditActionCaseClosureReq, caseID)
	s.invalidateStats(ctx)
	return c, nil
}

// Close finalizes a pending-closure case with the patient's review. Allowed
// for the case patient and admins.
func (s *CaseService) Close(ctx context.Context, actor *models.JWTClaims, caseID string, review models.Review) (*models.Case, error) {
	if err := s.validator.Struct(review); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "a rating between 1 and 5 and a comment are required")
	}

	c, err := s.loadCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.PatientID != actor.UserID && actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the case patient can close the case")
	}

	now := time.Now().UTC()
	ok, err := s.cases.CloseWithReview(ctx, caseID, review.Rating, review.Comment, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to close case")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "only cases pending closure can be closed")
	}

	c.Status = models.CaseStatusClosed
	c.ReviewRating = &review.Rating
	c.ReviewComment = &review.Comment
	c.ClosedAt = &now
	c.UpdatedAt = now
	s.writeAudit(ctx, actor, models.AuditActionCaseClose, caseID)
	s.invalidateStats(ctx)
	return c, nil
}

// AddComment appends a comment to the case thread. Allowed for the case
// patient, the assigned physiotherapist and admins, as long as the case is
// not closed.
func (s *CaseService) AddComment(ctx context.Context, actor *models.JWTClaims, caseID string, req AddCommentRequest) (*models.CaseComment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "comment message is required")
	}

	c, err := s.loadCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if !s.canView(actor, c) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "no access to this case")
	}
	if c.Status == models.CaseStatusClosed {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "closed cases do not accept comments")
	}

	comment := &models.CaseComment{
		CaseID:     caseID,
		AuthorID:   actor.UserID,
		AuthorName: actor.FullName,
		AuthorRole: actor.Role,
		Message:    req.Message,
	}
	if err := s.cases.AppendComment(ctx, comment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to add comment")
	}
	return comment, nil
}

func (s *CaseService) loadCase(ctx context.Context, caseID string) (*models.Case, error) {
	c, err := s.cases.FindByID(ctx, caseID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "case not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load case")
	}
	return c, nil
}

// applyAssignment performs the guarded status update and reflects the
// result on the in-memory case.
func (s *CaseService) applyAssignment(ctx context.Context, actor *models.JWTClaims, c *models.Case, physioID string) error {
	now := time.Now().UTC()
	ok, err := s.cases.AssignIfUnassigned(ctx, c.ID, physioID, now)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign case")
	}
	if !ok {
		return appErrors.Clone(appErrors.ErrAlreadyAssigned, "case was assigned concurrently")
	}
	c.PhysiotherapistID = &physioID
	c.Status = models.CaseStatusInProgress
	c.UpdatedAt = now
	s.writeAudit(ctx, actor, models.AuditActionCaseAssign, c.ID)
	s.logger.Info("case assigned",
		zap.String("case_id", c.ID),
		zap.String("physiotherapist_id", physioID))
	return nil
}

func (s *CaseService) canView(actor *models.JWTClaims, c *models.Case) bool {
	if actor.Role == models.RoleAdmin {
		return true
	}
	if c.PatientID == actor.UserID {
		return true
	}
	return s.isAssignedPhysio(actor, c)
}

func (s *CaseService) isAssignedPhysio(actor *models.JWTClaims, c *models.Case) bool {
	return actor.Role == models.RolePhysiotherapist && c.PhysiotherapistID != nil && *c.PhysiotherapistID == actor.UserID
}

func (s *CaseService) writeAudit(ctx context.Context, actor *models.JWTClaims, action, resourceID string) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     action,
		Resource:   "case",
		ResourceID: &resourceID,
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("audit log write failed", zap.String("action", action), zap.Error(err))
	}
}

func (s *CaseService) invalidateStats(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, "stats:*"); err != nil {
		s.logger.Warn("stats cache invalidation failed", zap.Error(err))
	}
}
