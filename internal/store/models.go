package store

import (
	"errors"
	"time"
)

const (
	SubmissionPending  = "pending"
	SubmissionApproved = "approved"
	SubmissionRejected = "rejected"
)

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
)

// ErrNotPending is returned when a conditional submission update finds the row
// already decided.
var ErrNotPending = errors.New("submission is not pending")

// Script is the base content for one literal step name.
type Script struct {
	StepName  string
	Content   string
	UpdatedBy string
	UpdatedAt time.Time
}

// Alternative is a globally visible wording for a step. Alternatives promoted from
// a submission carry its id and there is at most one per submission.
type Alternative struct {
	ID                 string
	StepName           string
	Text               string
	Order              int
	SourceSubmissionID *string
	CreatedBy          string
	CreatedAt          time.Time
}

type Submission struct {
	ID          string
	StepName    string
	Text        string
	Order       int
	SubmittedBy string
	Status      string
	Reason      *string
	// ApprovedBy and ApprovedAt record whoever decided the submission, either way.
	ApprovedBy *string
	ApprovedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type RoleMember struct {
	UserID    string
	Role      string
	CreatedAt time.Time
}
