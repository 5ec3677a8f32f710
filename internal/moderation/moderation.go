// Package moderation runs the pending -> approved | rejected lifecycle of
// agent-submitted wordings. Approval promotes the text into the global
// alternatives for the step.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"callscript/internal/observability"
	"callscript/internal/rbac"
	"callscript/internal/store"
)

type Status string

const (
	StatusPending  Status = store.SubmissionPending
	StatusApproved Status = store.SubmissionApproved
	StatusRejected Status = store.SubmissionRejected
)

var (
	ErrForbidden         = errors.New("moderator role required")
	ErrInvalidTransition = errors.New("submission is no longer pending")
	// ErrQueueHidden is returned instead of ErrForbidden for the queue itself so
	// callers can answer as if it did not exist.
	ErrQueueHidden = errors.New("moderation queue not found")
	ErrNotAuthor   = errors.New("only the author can edit a submission")
)

var transitions = map[Status]map[Status]bool{
	StatusPending:  {StatusApproved: true, StatusRejected: true},
	StatusApproved: {},
	StatusRejected: {},
}

func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

func (s Status) Terminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

type Repository interface {
	GetSubmission(ctx context.Context, id string) (store.Submission, error)
	PromoteSubmission(ctx context.Context, id, moderatorID string, at time.Time) (store.Submission, store.Alternative, error)
	RejectSubmission(ctx context.Context, id, moderatorID, reason string, at time.Time) (store.Submission, error)
	ListPendingSubmissions(ctx context.Context) ([]store.Submission, error)
}

type RoleResolver interface {
	Resolve(ctx context.Context, userID string) (rbac.Role, error)
}

type Approval struct {
	Submission  store.Submission
	Alternative store.Alternative
}

type Service struct {
	repo    Repository
	roles   RoleResolver
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

func NewService(repo Repository, roles RoleResolver, logger *slog.Logger, metrics *observability.Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, roles: roles, logger: logger, metrics: metrics, now: time.Now}
}

// Approve promotes a pending submission. The role check happens before any read.
// If the alternative cannot be written the submission stays pending and the call
// can be retried.
func (s *Service) Approve(ctx context.Context, submissionID, moderatorID string) (Approval, error) {
	if err := s.requireModerator(ctx, moderatorID, "approve"); err != nil {
		return Approval{}, err
	}
	sub, err := s.repo.GetSubmission(ctx, submissionID)
	if err != nil {
		return Approval{}, err
	}
	if !CanTransition(Status(sub.Status), StatusApproved) {
		return Approval{}, ErrInvalidTransition
	}

	updated, alt, err := s.repo.PromoteSubmission(ctx, submissionID, moderatorID, s.now().UTC())
	if errors.Is(err, store.ErrNotPending) {
		return Approval{}, ErrInvalidTransition
	}
	if err != nil {
		return Approval{}, fmt.Errorf("promote submission: %w", err)
	}

	s.metrics.RecordDecision(ctx, string(StatusApproved), s.now().Sub(sub.CreatedAt))
	s.logger.Info("submission approved", "submission_id", submissionID, "step", sub.StepName, "moderator_id", moderatorID)
	return Approval{Submission: updated, Alternative: alt}, nil
}

// Reject closes a pending submission with an optional reason. Alternatives are
// not touched.
func (s *Service) Reject(ctx context.Context, submissionID, moderatorID, reason string) (store.Submission, error) {
	if err := s.requireModerator(ctx, moderatorID, "reject"); err != nil {
		return store.Submission{}, err
	}
	sub, err := s.repo.GetSubmission(ctx, submissionID)
	if err != nil {
		return store.Submission{}, err
	}
	if !CanTransition(Status(sub.Status), StatusRejected) {
		return store.Submission{}, ErrInvalidTransition
	}

	updated, err := s.repo.RejectSubmission(ctx, submissionID, moderatorID, strings.TrimSpace(reason), s.now().UTC())
	if errors.Is(err, store.ErrNotPending) {
		return store.Submission{}, ErrInvalidTransition
	}
	if err != nil {
		return store.Submission{}, fmt.Errorf("reject submission: %w", err)
	}

	s.metrics.RecordDecision(ctx, string(StatusRejected), s.now().Sub(sub.CreatedAt))
	s.logger.Info("submission rejected", "submission_id", submissionID, "step", sub.StepName, "moderator_id", moderatorID)
	return updated, nil
}

// Queue lists pending submissions, oldest first. Non-moderators get ErrQueueHidden.
func (s *Service) Queue(ctx context.Context, moderatorID string) ([]store.Submission, error) {
	if err := s.requireModerator(ctx, moderatorID, "queue"); err != nil {
		if errors.Is(err, ErrForbidden) {
			return nil, ErrQueueHidden
		}
		return nil, err
	}
	items, err := s.repo.ListPendingSubmissions(ctx)
	if err != nil {
		return nil, err
	}
	pending := make([]store.Submission, 0, len(items))
	for _, item := range items {
		if Status(item.Status) == StatusPending {
			pending = append(pending, item)
		}
	}
	return pending, nil
}

// CheckEditable allows an author to change their own submission while it is pending.
// Rejection is final for that submission; a new wording is a new submission.
func CheckEditable(sub store.Submission, userID string) error {
	if sub.SubmittedBy != userID {
		return ErrNotAuthor
	}
	if Status(sub.Status) != StatusPending {
		return ErrInvalidTransition
	}
	return nil
}

func (s *Service) requireModerator(ctx context.Context, userID, action string) error {
	role, err := s.roles.Resolve(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolve moderator role: %w", err)
	}
	if !rbac.Can(role, rbac.ActionModerate) {
		s.logger.Warn("moderation denied", "user_id", userID, "action", action, "role", role)
		return ErrForbidden
	}
	return nil
}
