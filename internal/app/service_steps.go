package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"callscript/internal/candidates"
	"callscript/internal/export"
	"callscript/internal/lead"
	"callscript/internal/rbac"
	"callscript/internal/selection"
	"callscript/internal/stepkey"
	"callscript/internal/store"
)

const emptyStepMessage = "No script is configured for this step."

type ViewCandidate struct {
	candidates.Candidate
	Rendered string `json:"rendered"`
}

// StepView is what an agent sees for one step of a call.
type StepView struct {
	Step        string             `json:"step"`
	ScriptKey   string             `json:"scriptKey"`
	BaseStep    string             `json:"baseStep"`
	Candidates  []ViewCandidate    `json:"candidates"`
	Index       int                `json:"index"`
	Text        string             `json:"text"`
	Message     string             `json:"message,omitempty"`
	Selection   selection.Restored `json:"selection"`
	Role        rbac.Role          `json:"role"`
	CanModerate bool               `json:"canModerate"`
	CanEdit     bool               `json:"canEdit"`
}

// stepData is a freshly built candidate list for one step and lead.
type stepData struct {
	step      string
	scriptKey string
	lead      lead.Context
	list      []candidates.Candidate
}

// StepView returns the initial view of a step: the stored default, if any, wins.
func (s *Service) StepView(ctx context.Context, session Session, step, rawQuery string) (StepView, error) {
	data, err := s.loadStep(ctx, session.UserID, step, rawQuery)
	if err != nil {
		return StepView{}, err
	}
	restored, err := s.agentSession(session.UserID).Load(ctx, data.scriptKey, len(data.list))
	if err != nil {
		// the list is still usable; show the first candidate
		s.logger.Warn("restore selection failed", "user_id", session.UserID, "step", data.scriptKey, "error", err)
	}
	return s.composeView(session, data, restored), nil
}

func (s *Service) Cycle(ctx context.Context, session Session, step, rawQuery string) (StepView, error) {
	data, err := s.loadStep(ctx, session.UserID, step, rawQuery)
	if err != nil {
		return StepView{}, err
	}
	if len(data.list) == 0 {
		return s.composeView(session, data, selection.Restored{Source: selection.SourceNone}), nil
	}
	next := s.agentSession(session.UserID).Cycle(ctx, data.scriptKey, len(data.list))
	return s.composeView(session, data, selection.Restored{
		Index:   next,
		Length:  len(data.list),
		Source:  selection.SourceLocal,
		Guarded: true,
	}), nil
}

func (s *Service) Select(ctx context.Context, session Session, step, rawQuery string, index int) (StepView, error) {
	return s.choose(ctx, session, step, rawQuery, index, false)
}

func (s *Service) SetDefault(ctx context.Context, session Session, step, rawQuery string, index int) (StepView, error) {
	return s.choose(ctx, session, step, rawQuery, index, true)
}

func (s *Service) choose(ctx context.Context, session Session, step, rawQuery string, index int, pin bool) (StepView, error) {
	data, err := s.loadStep(ctx, session.UserID, step, rawQuery)
	if err != nil {
		return StepView{}, err
	}
	sess := s.agentSession(session.UserID)
	if pin {
		err = sess.SetDefault(data.scriptKey, index, len(data.list))
	} else {
		err = sess.Select(data.scriptKey, index, len(data.list))
	}
	if err != nil {
		return StepView{}, err
	}
	return s.composeView(session, data, selection.Restored{
		Index:  index,
		Length: len(data.list),
		Source: selection.SourceLocal,
	}), nil
}

// resolveScriptKey picks the literal script name serving step for the lead: a list
// override when one is stored, else the step itself. base is the chosen script's
// content, empty when none exists.
func (s *Service) resolveScriptKey(ctx context.Context, step string, leadCtx lead.Context) (key, base string, err error) {
	variants := stepkey.Variants(step, leadCtx.Value("list_id"))
	scripts := make([]*store.Script, len(variants))
	g, gctx := errgroup.WithContext(ctx)
	for i, variant := range variants {
		i, variant := i, variant
		g.Go(func() error {
			script, err := s.store.GetScript(gctx, variant)
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("get script %s: %w", variant, err)
			}
			scripts[i] = &script
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", "", err
	}
	for i, script := range scripts {
		if script != nil {
			return variants[i], script.Content, nil
		}
	}
	return variants[len(variants)-1], "", nil
}

// loadStep resolves the script key for the lead and builds its candidate list.
func (s *Service) loadStep(ctx context.Context, userID, step, rawQuery string) (stepData, error) {
	step = strings.TrimSpace(step)
	if step == "" {
		return stepData{}, validationError("step is required")
	}
	leadCtx := lead.Parse(rawQuery)
	key, base, err := s.resolveScriptKey(ctx, step, leadCtx)
	if err != nil {
		return stepData{}, err
	}
	data := stepData{step: step, scriptKey: key, lead: leadCtx}

	var (
		alts     []store.Alternative
		approved []store.Submission
		own      []store.Submission
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		alts, err = s.store.ListAlternatives(gctx, data.scriptKey)
		return err
	})
	g.Go(func() error {
		var err error
		approved, err = s.store.ListApprovedSubmissions(gctx, data.scriptKey)
		return err
	})
	g.Go(func() error {
		var err error
		own, err = s.store.ListUserSubmissions(gctx, data.scriptKey, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return stepData{}, fmt.Errorf("load step %s: %w", data.scriptKey, err)
	}

	data.list = candidates.Build(candidates.Input{
		Base:         base,
		Alternatives: toCandidateAlternatives(alts),
		Approved:     toCandidateSubmissions(approved),
		Own:          toCandidateSubmissions(own),
	})
	return data, nil
}

func (s *Service) composeView(session Session, data stepData, restored selection.Restored) StepView {
	role := s.DisplayRole(session.UserID)
	view := StepView{
		Step:        data.step,
		ScriptKey:   data.scriptKey,
		BaseStep:    stepkey.Base(data.scriptKey),
		Candidates:  make([]ViewCandidate, 0, len(data.list)),
		Selection:   restored,
		Role:        role,
		CanModerate: rbac.Can(role, rbac.ActionModerate),
		CanEdit:     rbac.Can(role, rbac.ActionEditScript),
	}
	for _, c := range data.list {
		view.Candidates = append(view.Candidates, ViewCandidate{
			Candidate: c,
			Rendered:  s.engine.Render(c.Text, data.lead),
		})
	}
	if len(view.Candidates) == 0 {
		view.Message = emptyStepMessage
		return view
	}
	view.Index = candidates.Clamp(restored.Index, len(view.Candidates))
	view.Text = view.Candidates[view.Index].Rendered
	return view
}

type ExportInput struct {
	Steps  []string `json:"steps"`
	Query  string   `json:"query"`
	Format string   `json:"format"`
	Title  string   `json:"title"`
}

// Export renders the agent's current wording for each step into a sheet. With no
// steps given every configured script is included.
func (s *Service) Export(ctx context.Context, session Session, input ExportInput) (*export.Result, error) {
	format, err := export.ParseFormat(strings.ToLower(strings.TrimSpace(input.Format)))
	if err != nil {
		return nil, err
	}

	steps := input.Steps
	if len(steps) == 0 {
		scripts, err := s.store.ListScripts(ctx)
		if err != nil {
			return nil, fmt.Errorf("list scripts: %w", err)
		}
		for _, script := range scripts {
			if !stepkey.HasListID(script.StepName) {
				steps = append(steps, script.StepName)
			}
		}
		sort.Strings(steps)
	}

	sheet := export.Sheet{
		Title:       firstNonBlank(strings.TrimSpace(input.Title), "Call script"),
		Agent:       session.UserName,
		GeneratedAt: s.now(),
		Steps:       make([]export.SheetStep, 0, len(steps)),
	}
	for _, step := range steps {
		view, err := s.StepView(ctx, session, step, input.Query)
		if err != nil {
			return nil, err
		}
		item := export.SheetStep{Step: view.ScriptKey, Text: firstNonBlank(view.Text, view.Message)}
		if len(view.Candidates) > 0 {
			item.Origin = string(view.Candidates[view.Index].Origin)
			item.Alternatives = len(view.Candidates) - 1
		}
		sheet.Steps = append(sheet.Steps, item)
	}
	return s.exporter.Export(ctx, sheet, format)
}

func toCandidateAlternatives(items []store.Alternative) []candidates.Alternative {
	out := make([]candidates.Alternative, 0, len(items))
	for _, item := range items {
		out = append(out, candidates.Alternative{ID: item.ID, Text: item.Text, Order: item.Order})
	}
	return out
}

func toCandidateSubmissions(items []store.Submission) []candidates.Submission {
	out := make([]candidates.Submission, 0, len(items))
	for _, item := range items {
		out = append(out, candidates.Submission{
			ID:          item.ID,
			Text:        item.Text,
			Order:       item.Order,
			SubmittedBy: item.SubmittedBy,
			Status:      item.Status,
		})
	}
	return out
}
