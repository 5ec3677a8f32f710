package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"callscript/internal/history"
	"callscript/internal/lead"
	"callscript/internal/moderation"
	"callscript/internal/rbac"
	"callscript/internal/search"
	"callscript/internal/store"
)

const maxScriptTextLength = 4000

type SubmissionInput struct {
	Text  string `json:"text"`
	Order int    `json:"order"`
}

type ScriptInput struct {
	Content string `json:"content"`
	Message string `json:"message"`
}

type AlternativeInput struct {
	Text  string `json:"text"`
	Order int    `json:"order"`
}

// Submit records a new pending wording on behalf of the agent. It is filed under
// the script key the agent's view of the step resolves to for this lead.
func (s *Service) Submit(ctx context.Context, session Session, step, rawQuery string, input SubmissionInput) (map[string]any, error) {
	step = strings.TrimSpace(step)
	text, err := validateText(input.Text)
	if err != nil {
		return nil, err
	}
	if step == "" {
		return nil, validationError("step is required")
	}
	if !s.limiter.Allow(session.UserID) {
		return nil, domainError(http.StatusTooManyRequests, "RATE_LIMITED", "Too many submissions, try again shortly", nil)
	}
	key, _, err := s.resolveScriptKey(ctx, step, lead.Parse(rawQuery))
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	created, err := s.store.CreateSubmission(ctx, store.Submission{
		ID:          uuid.NewString(),
		StepName:    key,
		Text:        text,
		Order:       input.Order,
		SubmittedBy: session.UserID,
		Status:      store.SubmissionPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return nil, fmt.Errorf("create submission: %w", err)
	}
	s.metrics.RecordSubmission(ctx)
	s.logger.Info("submission created", "submission_id", created.ID, "step", key, "user_id", session.UserID)
	return map[string]any{"submission": submissionPayload(created)}, nil
}

// EditSubmission lets an author change their own submission while it is pending.
func (s *Service) EditSubmission(ctx context.Context, session Session, submissionID string, input SubmissionInput) (map[string]any, error) {
	text, err := validateText(input.Text)
	if err != nil {
		return nil, err
	}
	sub, err := s.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if err := moderation.CheckEditable(sub, session.UserID); err != nil {
		return nil, err
	}
	updated, err := s.store.UpdateSubmissionText(ctx, submissionID, session.UserID, text, input.Order)
	if errors.Is(err, store.ErrNotPending) {
		return nil, moderation.ErrInvalidTransition
	}
	if err != nil {
		return nil, fmt.Errorf("update submission: %w", err)
	}
	return map[string]any{"submission": submissionPayload(updated)}, nil
}

func (s *Service) ModerationQueue(ctx context.Context, session Session) (map[string]any, error) {
	items, err := s.moderation.Queue(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, submissionPayload(item))
	}
	return map[string]any{"submissions": payload}, nil
}

func (s *Service) Approve(ctx context.Context, session Session, submissionID string) (map[string]any, error) {
	approval, err := s.moderation.Approve(ctx, submissionID, session.UserID)
	if err != nil {
		return nil, err
	}
	alt := approval.Alternative
	s.search.IndexAlternative(alt.ID, alt.StepName, alt.Text)
	return map[string]any{
		"submission":  submissionPayload(approval.Submission),
		"alternative": alternativePayload(alt),
	}, nil
}

func (s *Service) Reject(ctx context.Context, session Session, submissionID, reason string) (map[string]any, error) {
	rejected, err := s.moderation.Reject(ctx, submissionID, session.UserID, reason)
	if err != nil {
		return nil, err
	}
	return map[string]any{"submission": submissionPayload(rejected)}, nil
}

// SaveScript replaces the base content of a literal step and records a revision.
func (s *Service) SaveScript(ctx context.Context, session Session, step string, input ScriptInput) (map[string]any, error) {
	step = strings.TrimSpace(step)
	if step == "" {
		return nil, validationError("step is required")
	}
	if len(input.Content) > maxScriptTextLength {
		return nil, validationError(fmt.Sprintf("content must be at most %d characters", maxScriptTextLength))
	}
	if err := s.requireAction(ctx, session.UserID, rbac.ActionEditScript); err != nil {
		return nil, err
	}

	saved, err := s.store.UpsertScript(ctx, store.Script{
		StepName:  step,
		Content:   input.Content,
		UpdatedBy: session.UserID,
		UpdatedAt: s.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("save script: %w", err)
	}

	payload := map[string]any{"script": scriptPayload(saved)}
	revision, err := s.history.Record(step, input.Content, firstNonBlank(session.UserName, session.UserID), input.Message)
	if err != nil {
		s.logger.Warn("record script revision failed", "step", step, "error", err)
	} else {
		payload["revision"] = revision
	}
	s.search.IndexScript(step, input.Content)
	return payload, nil
}

// AddAlternative files a wording under the script key the step resolves to for
// the lead, next to the alternatives the view lists.
func (s *Service) AddAlternative(ctx context.Context, session Session, step, rawQuery string, input AlternativeInput) (map[string]any, error) {
	step = strings.TrimSpace(step)
	text, err := validateText(input.Text)
	if err != nil {
		return nil, err
	}
	if step == "" {
		return nil, validationError("step is required")
	}
	if err := s.requireAction(ctx, session.UserID, rbac.ActionEditScript); err != nil {
		return nil, err
	}
	key, _, err := s.resolveScriptKey(ctx, step, lead.Parse(rawQuery))
	if err != nil {
		return nil, err
	}

	created, err := s.store.InsertAlternative(ctx, store.Alternative{
		ID:        uuid.NewString(),
		StepName:  key,
		Text:      text,
		Order:     input.Order,
		CreatedBy: session.UserID,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("add alternative: %w", err)
	}
	s.search.IndexAlternative(created.ID, created.StepName, created.Text)
	return map[string]any{"alternative": alternativePayload(created)}, nil
}

func (s *Service) DeleteAlternative(ctx context.Context, session Session, step, rawQuery, alternativeID string) error {
	if err := s.requireAction(ctx, session.UserID, rbac.ActionEditScript); err != nil {
		return err
	}
	key, _, err := s.resolveScriptKey(ctx, strings.TrimSpace(step), lead.Parse(rawQuery))
	if err != nil {
		return err
	}
	if err := s.store.DeleteAlternative(ctx, key, alternativeID); err != nil {
		return err
	}
	s.search.DeleteAlternative(alternativeID)
	return nil
}

func (s *Service) ScriptHistory(_ context.Context, step string, limit int) (map[string]any, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	revisions, err := s.history.List(step, limit)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	return map[string]any{"step": step, "revisions": revisions}, nil
}

func (s *Service) ScriptRevision(_ context.Context, step, hash string) (map[string]any, error) {
	snapshot, err := s.history.At(step, hash)
	if err != nil {
		// an unknown hash is as missing as an unknown step
		s.logger.Debug("read revision failed", "step", step, "hash", hash, "error", err, "no_history", errors.Is(err, history.ErrNoHistory))
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Revision not found", map[string]any{"hash": hash})
	}
	return map[string]any{"step": snapshot.Step, "hash": hash, "content": snapshot.Content}, nil
}

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	if q.Limit <= 0 || q.Limit > 50 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return s.search.Search(ctx, q)
}

func validateText(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", validationError("text is required")
	}
	if len(text) > maxScriptTextLength {
		return "", validationError(fmt.Sprintf("text must be at most %d characters", maxScriptTextLength))
	}
	return text, nil
}

func submissionPayload(sub store.Submission) map[string]any {
	payload := map[string]any{
		"id":          sub.ID,
		"step":        sub.StepName,
		"text":        sub.Text,
		"order":       sub.Order,
		"submittedBy": sub.SubmittedBy,
		"status":      sub.Status,
		"createdAt":   sub.CreatedAt.UTC().Format(time.RFC3339),
	}
	if sub.Reason != nil {
		payload["reason"] = *sub.Reason
	}
	if sub.ApprovedBy != nil {
		payload["decidedBy"] = *sub.ApprovedBy
	}
	if sub.ApprovedAt != nil {
		payload["decidedAt"] = sub.ApprovedAt.UTC().Format(time.RFC3339)
	}
	return payload
}

func alternativePayload(alt store.Alternative) map[string]any {
	payload := map[string]any{
		"id":        alt.ID,
		"step":      alt.StepName,
		"text":      alt.Text,
		"order":     alt.Order,
		"createdBy": alt.CreatedBy,
	}
	if alt.SourceSubmissionID != nil {
		payload["sourceSubmissionId"] = *alt.SourceSubmissionID
	}
	return payload
}

func scriptPayload(script store.Script) map[string]any {
	return map[string]any{
		"step":      script.StepName,
		"content":   script.Content,
		"updatedBy": script.UpdatedBy,
		"updatedAt": script.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
