package models

import "time"

// CaseStatus is the lifecycle state of a treatment case. Transitions only
// move forward: open → in_progress → pending_closure → closed.
type CaseStatus string

const (
	CaseStatusOpen           CaseStatus = "open"
	CaseStatusInProgress     CaseStatus = "in_progress"
	CaseStatusPendingClosure CaseStatus = "pending_closure"
	CaseStatusClosed         CaseStatus = "closed"
)

// GenderNoPreference marks the absence of a gender preference on a case.
const GenderNoPreference = "no-preference"

// ActiveCaseStatuses are the statuses counted towards a physiotherapist's
// active caseload.
var ActiveCaseStatuses = []CaseStatus{CaseStatusOpen, CaseStatusInProgress, CaseStatusPendingClosure}

// Case is a single treatment engagement between one patient and at most one
// physiotherapist.
type Case struct {
	ID                 string     `db:"id" json:"id"`
	PatientID          string     `db:"patient_id" json:"patient_id"`
	PhysiotherapistID  *string    `db:"physiotherapist_id" json:"physiotherapist_id,omitempty"`
	IssueDetails       string     `db:"issue_details" json:"issue_details"`
	City               string     `db:"city" json:"city"`
	CanTravel          bool       `db:"can_travel" json:"can_travel"`
	PreferredGender    *string    `db:"preferred_gender" json:"preferred_gender,omitempty"`
	Status             CaseStatus `db:"status" json:"status"`
	ClosureRequestedBy *string    `db:"closure_requested_by" json:"closure_requested_by,omitempty"`
	ClosureRequestedAt *time.Time `db:"closure_requested_at" json:"closure_requested_at,omitempty"`
	ReviewRating       *int       `db:"review_rating" json:"-"`
	ReviewComment      *string    `db:"review_comment" json:"-"`
	ClosedAt           *time.Time `db:"closed_at" json:"closed_at,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`

	Comments []CaseComment `db:"-" json:"comments,omitempty"`
}

// Assigned reports whether the case has a physiotherapist.
func (c *Case) Assigned() bool {
	return c.PhysiotherapistID != nil && *c.PhysiotherapistID != ""
}

// Review returns the closing review when present.
func (c *Case) Review() *Review {
	if c.ReviewRating == nil || c.ReviewComment == nil {
		return nil
	}
	return &Review{Rating: *c.ReviewRating, Comment: *c.ReviewComment}
}

// Review is the patient's closing feedback, set exactly once when the case
// transitions to closed.
type Review struct {
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
	Comment string `json:"comment" validate:"required"`
}

// CaseView shapes a case for API responses, inlining the review.
type CaseView struct {
	Case
	ReviewView *Review `json:"review,omitempty"`
}

// View builds the response shape for a case.
func (c *Case) View() CaseView {
	return CaseView{Case: *c, ReviewView: c.Review()}
}

// CaseComment is an append-only discussion entry on a case. The author name
// and role are denormalised at write time so history survives profile edits.
type CaseComment struct {
	ID         string    `db:"id" json:"id"`
	CaseID     string    `db:"case_id" json:"case_id"`
	AuthorID   string    `db:"author_id" json:"author_id"`
	AuthorName string    `db:"author_name" json:"author_name"`
	AuthorRole UserRole  `db:"author_role" json:"author_role"`
	Message    string    `db:"message" json:"message"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// CaseFilter captures filtering criteria for listing cases.
type CaseFilter struct {
	PatientID         string
	PhysiotherapistID string
	Status            *CaseStatus
	Cities            []string
	Unassigned        bool
	Page              int
	PageSize          int
}

// PhysiotherapistCaseload pairs a physiotherapist with their count of active
// cases, used by the assignment engine's workload tie-break.
type PhysiotherapistCaseload struct {
	PhysiotherapistID string `db:"physiotherapist_id"`
	ActiveCases       int    `db:"active_cases"`
}
