package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/physioconnect/physioconnect-api/internal/models"
)

const caseColumns = `id, patient_id, physiotherapist_id, issue_details, city, preferred_gender, can_travel, status,
	closure_requested_by, closure_requested_at, review_rating, review_comment, closed_at, created_at, updated_at`

// CaseRepository provides database access for cases, their comments and
// caseload aggregates. State transitions are expressed as conditional
// updates: the WHERE clause carries the expected current state, so a
// concurrent writer that got there first makes the update match zero rows.
type CaseRepository struct {
	db *sqlx.DB
}

// NewCaseRepository creates a new instance of CaseRepository.
func NewCaseRepository(db *sqlx.DB) *CaseRepository {
	return &CaseRepository{db: db}
}

// Create inserts a new case record.
func (r *CaseRepository) Create(ctx context.Context, c *models.Case) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = models.CaseStatusOpen
	}

	const query = `INSERT INTO cases (id, patient_id, physiotherapist_id, issue_details, city, preferred_gender, can_travel, status,
			closure_requested_by, closure_requested_at, review_rating, review_comment, closed_at, created_at, updated_at)
		VALUES (:id, :patient_id, :physiotherapist_id, :issue_details, :city, :preferred_gender, :can_travel, :status,
			:closure_requested_by, :closure_requested_at, :review_rating, :review_comment, :closed_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, c); err != nil {
		return fmt.Errorf("create case: %w", err)
	}
	return nil
}

// FindByID returns a case by identifier.
func (r *CaseRepository) FindByID(ctx context.Context, id string) (*models.Case, error) {
	query := fmt.Sprintf(`SELECT %s FROM cases WHERE id = $1 LIMIT 1`, caseColumns)
	var c models.Case
	if err := r.db.GetContext(ctx, &c, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find case by id: %w", err)
	}
	return &c, nil
}

// List returns cases matching the filter with total count, newest first.
func (r *CaseRepository) List(ctx context.Context, filter models.CaseFilter) ([]models.Case, int, error) {
	baseQuery := `FROM cases WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.PatientID != "" {
		conditions = append(conditions, fmt.Sprintf("patient_id = $%d", len(args)+1))
		args = append(args, filter.PatientID)
	}
	if filter.PhysiotherapistID != "" {
		conditions = append(conditions, fmt.Sprintf("physiotherapist_id = $%d", len(args)+1))
		args = append(args, filter.PhysiotherapistID)
	}
	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if len(filter.Cities) > 0 {
		conditions = append(conditions, fmt.Sprintf("city = ANY($%d)", len(args)+1))
		args = append(args, pq.Array(filter.Cities))
	}
	if filter.Unassigned {
		conditions = append(conditions, "physiotherapist_id IS NULL")
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	query := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", caseColumns, baseQuery, pageSize, offset)
	var cases []models.Case
	if err := r.db.SelectContext(ctx, &cases, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list cases: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count cases: %w", err)
	}

	return cases, total, nil
}

// ListUnmapped returns open cases with no physiotherapist in the given
// cities. An empty city list means all cities.
func (r *CaseRepository) ListUnmapped(ctx context.Context, cities []string) ([]models.Case, error) {
	query := fmt.Sprintf(`SELECT %s FROM cases WHERE status = $1 AND physiotherapist_id IS NULL`, caseColumns)
	args := []interface{}{models.CaseStatusOpen}
	if len(cities) > 0 {
		query += " AND city = ANY($2)"
		args = append(args, pq.Array(cities))
	}
	query += " ORDER BY created_at DESC"

	var cases []models.Case
	if err := r.db.SelectContext(ctx, &cases, query, args...); err != nil {
		return nil, fmt.Errorf("list unmapped cases: %w", err)
	}
	return cases, nil
}

// AssignIfUnassigned attaches a physiotherapist and moves the case to
// in_progress, but only when the case still has no physiotherapist. Returns
// false when another assignment won the race or the case left the
// assignable states.
func (r *CaseRepository) AssignIfUnassigned(ctx context.Context, caseID, physioID string, now time.Time) (bool, error) {
	const query = `UPDATE cases SET physiotherapist_id = $2, status = $3, updated_at = $4
		WHERE id = $1 AND physiotherapist_id IS NULL AND status IN ($5, $6)`
	res, err := r.db.ExecContext(ctx, query, caseID, physioID, models.CaseStatusInProgress, now,
		models.CaseStatusOpen, models.CaseStatusInProgress)
	if err != nil {
		return false, fmt.Errorf("assign case: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("assign case rows affected: %w", err)
	}
	return rows == 1, nil
}

// MarkPendingClosure records a closure request and moves the case to
// pending_closure. Returns false when the case is not in a state that can
// request closure.
func (r *CaseRepository) MarkPendingClosure(ctx context.Context, caseID, requestedBy string, now time.Time) (bool, error) {
	const query = `UPDATE cases SET status = $2, closure_requested_by = $3, closure_requested_at = $4, updated_at = $4
		WHERE id = $1 AND status IN ($5, $6)`
	res, err := r.db.ExecContext(ctx, query, caseID, models.CaseStatusPendingClosure, requestedBy, now,
		models.CaseStatusOpen, models.CaseStatusInProgress)
	if err != nil {
		return false, fmt.Errorf("mark pending closure: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark pending closure rows affected: %w", err)
	}
	return rows == 1, nil
}

// CloseWithReview finalizes a case that is pending closure, storing the
// review. Returns false when the case is not pending closure.
func (r *CaseRepository) CloseWithReview(ctx context.Context, caseID string, rating int, comment string, now time.Time) (bool, error) {
	const query = `UPDATE cases SET status = $2, review_rating = $3, review_comment = $4, closed_at = $5, updated_at = $5
		WHERE id = $1 AND status = $6`
	res, err := r.db.ExecContext(ctx, query, caseID, models.CaseStatusClosed, rating, comment, now,
		models.CaseStatusPendingClosure)
	if err != nil {
		return false, fmt.Errorf("close case: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("close case rows affected: %w", err)
	}
	return rows == 1, nil
}

// AppendComment inserts a new comment row for a case. Each comment is its
// own row, so concurrent appends never overwrite one another.
func (r *CaseRepository) AppendComment(ctx context.Context, comment *models.CaseComment) error {
	if comment.ID == "" {
		comment.ID = uuid.NewString()
	}
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO case_comments (id, case_id, author_id, author_name, author_role, message, created_at)
		VALUES (:id, :case_id, :author_id, :author_name, :author_role, :message, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, comment); err != nil {
		return fmt.Errorf("append case comment: %w", err)
	}
	return nil
}

// ListComments returns all comments of a case in insertion order.
func (r *CaseRepository) ListComments(ctx context.Context, caseID string) ([]models.CaseComment, error) {
	const query = `SELECT id, case_id, author_id, author_name, author_role, message, created_at
		FROM case_comments WHERE case_id = $1 ORDER BY created_at, id`
	var comments []models.CaseComment
	if err := r.db.SelectContext(ctx, &comments, query, caseID); err != nil {
		return nil, fmt.Errorf("list case comments: %w", err)
	}
	return comments, nil
}

// CountActiveByPhysiotherapist returns the number of not-yet-closed cases
// handled by a physiotherapist.
func (r *CaseRepository) CountActiveByPhysiotherapist(ctx context.Context, physioID string) (int, error) {
	const query = `SELECT COUNT(*) FROM cases WHERE physiotherapist_id = $1 AND status = ANY($2)`
	var count int
	statuses := make([]string, len(models.ActiveCaseStatuses))
	for i, s := range models.ActiveCaseStatuses {
		statuses[i] = string(s)
	}
	if err := r.db.GetContext(ctx, &count, query, physioID, pq.Array(statuses)); err != nil {
		return 0, fmt.Errorf("count active cases: %w", err)
	}
	return count, nil
}

// CountAll returns the total number of cases.
func (r *CaseRepository) CountAll(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM cases`
	var count int
	if err := r.db.GetContext(ctx, &count, query); err != nil {
		return 0, fmt.Errorf("count cases: %w", err)
	}
	return count, nil
}

// CountByStatus returns the number of cases in the given status.
func (r *CaseRepository) CountByStatus(ctx context.Context, status models.CaseStatus) (int, error) {
	const query = `SELECT COUNT(*) FROM cases WHERE status = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, status); err != nil {
		return 0, fmt.Errorf("count cases by status: %w", err)
	}
	return count, nil
}
