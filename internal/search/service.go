package search

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"callscript/internal/stepkey"
)

// Meilisearch document ids allow only this alphabet.
var unsafeID = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

func NewScriptRecord(stepName, content string) ScriptRecord {
	return ScriptRecord{
		ID:       "script-" + unsafeID.ReplaceAllString(stepName, "_"),
		StepName: stepName,
		BaseStep: stepkey.Base(stepName),
		Content:  content,
	}
}

func NewAlternativeRecord(id, stepName, text string) AlternativeRecord {
	return AlternativeRecord{
		ID:       unsafeID.ReplaceAllString(id, "_"),
		StepName: stepName,
		BaseStep: stepkey.Base(stepName),
		Text:     text,
	}
}

// indexer is the write side of Meili.
type indexer interface {
	Searcher
	IndexScripts(records []ScriptRecord) error
	IndexAlternatives(records []AlternativeRecord) error
	DeleteAlternative(id string) error
}

type recordLoader interface {
	LoadAllRecords(ctx context.Context) ([]ScriptRecord, []AlternativeRecord, error)
}

// Service tries Meilisearch first and falls back to Postgres full-text search.
type Service struct {
	primary  indexer
	fallback Searcher
	logger   *slog.Logger
}

// NewService creates a search service. meili may be nil when Meilisearch is not
// configured; pgfts may be nil for tests.
func NewService(meili *Meili, pgfts *PgFTS, logger *slog.Logger) *Service {
	s := &Service{logger: logger}
	if meili != nil {
		s.primary = meili
	}
	if pgfts != nil {
		s.fallback = pgfts
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	q.Text = strings.TrimSpace(q.Text)
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch error, falling back to pgfts", "error", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("pgfts search failed", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexScript pushes a base script to Meilisearch in the background.
func (s *Service) IndexScript(stepName, content string) {
	if s.primary == nil || !s.primary.Healthy() {
		return
	}
	go func() {
		if err := s.primary.IndexScripts([]ScriptRecord{NewScriptRecord(stepName, content)}); err != nil {
			s.logger.Warn("index script", "step", stepName, "error", err)
		}
	}()
}

func (s *Service) IndexAlternative(id, stepName, text string) {
	if s.primary == nil || !s.primary.Healthy() {
		return
	}
	go func() {
		if err := s.primary.IndexAlternatives([]AlternativeRecord{NewAlternativeRecord(id, stepName, text)}); err != nil {
			s.logger.Warn("index alternative", "alternative_id", id, "error", err)
		}
	}()
}

func (s *Service) DeleteAlternative(id string) {
	if s.primary == nil || !s.primary.Healthy() {
		return
	}
	go func() {
		if err := s.primary.DeleteAlternative(unsafeID.ReplaceAllString(id, "_")); err != nil {
			s.logger.Warn("delete alternative from index", "alternative_id", id, "error", err)
		}
	}()
}

// ReindexAllFromPG pushes every script and alternative from Postgres to Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	loader, ok := s.fallback.(recordLoader)
	if s.primary == nil || !s.primary.Healthy() || !ok {
		return
	}
	scripts, alternatives, err := loader.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Warn("reindex load failed", "error", err)
		return
	}
	if err := s.primary.IndexScripts(scripts); err != nil {
		s.logger.Warn("reindex scripts", "error", err)
	}
	if err := s.primary.IndexAlternatives(alternatives); err != nil {
		s.logger.Warn("reindex alternatives", "error", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
