package search

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callscript/internal/observability"
)

type fakeIndexer struct {
	mu       sync.Mutex
	healthy  bool
	searchFn func(q Query) ([]Result, int, error)
	scripts  []ScriptRecord
	alts     []AlternativeRecord
	deleted  []string
	indexed  chan struct{}
}

func (f *fakeIndexer) Healthy() bool { return f.healthy }

func (f *fakeIndexer) Search(_ context.Context, q Query) ([]Result, int, error) {
	return f.searchFn(q)
}

func (f *fakeIndexer) IndexScripts(records []ScriptRecord) error {
	f.mu.Lock()
	f.scripts = append(f.scripts, records...)
	f.mu.Unlock()
	f.signal()
	return nil
}

func (f *fakeIndexer) IndexAlternatives(records []AlternativeRecord) error {
	f.mu.Lock()
	f.alts = append(f.alts, records...)
	f.mu.Unlock()
	f.signal()
	return nil
}

func (f *fakeIndexer) DeleteAlternative(id string) error {
	f.mu.Lock()
	f.deleted = append(f.deleted, id)
	f.mu.Unlock()
	f.signal()
	return nil
}

func (f *fakeIndexer) signal() {
	if f.indexed != nil {
		f.indexed <- struct{}{}
	}
}

type fakeFallback struct {
	calls   int
	results []Result
	err     error
	scripts []ScriptRecord
	alts    []AlternativeRecord
}

func (f *fakeFallback) Healthy() bool { return true }

func (f *fakeFallback) Search(context.Context, Query) ([]Result, int, error) {
	f.calls++
	return f.results, len(f.results), f.err
}

func (f *fakeFallback) LoadAllRecords(context.Context) ([]ScriptRecord, []AlternativeRecord, error) {
	return f.scripts, f.alts, nil
}

func TestSearchPrefersHealthyPrimary(t *testing.T) {
	primary := &fakeIndexer{healthy: true, searchFn: func(q Query) ([]Result, int, error) {
		assert.Equal(t, "pricing", q.Text)
		return []Result{{Type: ResultScript, ID: "script-intro"}}, 1, nil
	}}
	fallback := &fakeFallback{}
	svc := &Service{primary: primary, fallback: fallback, logger: observability.Discard()}

	resp := svc.Search(context.Background(), Query{Text: "  pricing "})
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "pricing", resp.Query)
	assert.Equal(t, 0, fallback.calls)
}

func TestSearchFallsBackOnPrimaryError(t *testing.T) {
	primary := &fakeIndexer{healthy: true, searchFn: func(Query) ([]Result, int, error) {
		return nil, 0, errors.New("boom")
	}}
	fallback := &fakeFallback{results: []Result{{Type: ResultAlternative, ID: "a1"}}}
	svc := &Service{primary: primary, fallback: fallback, logger: observability.Discard()}

	resp := svc.Search(context.Background(), Query{Text: "hello"})
	assert.Equal(t, 1, fallback.calls)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "a1", resp.Results[0].ID)
}

func TestSearchWithoutBackendsReturnsEmptyResults(t *testing.T) {
	svc := NewService(nil, nil, observability.Discard())
	resp := svc.Search(context.Background(), Query{Text: "hello"})
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
}

func TestSearchFallbackErrorReturnsEmptyResults(t *testing.T) {
	fallback := &fakeFallback{err: errors.New("db down")}
	svc := &Service{fallback: fallback, logger: observability.Discard()}
	resp := svc.Search(context.Background(), Query{Text: "hello"})
	assert.Empty(t, resp.Results)
	assert.Zero(t, resp.Total)
}

func TestIndexingSkipsUnhealthyPrimary(t *testing.T) {
	primary := &fakeIndexer{healthy: false}
	svc := &Service{primary: primary, logger: observability.Discard()}
	svc.IndexScript("intro", "Hello")
	svc.IndexAlternative("a1", "intro", "Hi")
	svc.DeleteAlternative("a1")
	assert.Empty(t, primary.scripts)
	assert.Empty(t, primary.alts)
	assert.Empty(t, primary.deleted)
}

func TestIndexScriptRunsInBackground(t *testing.T) {
	primary := &fakeIndexer{healthy: true, indexed: make(chan struct{}, 1)}
	svc := &Service{primary: primary, logger: observability.Discard()}

	svc.IndexScript("listid_42_intro", "Hello [First Name]")
	<-primary.indexed

	primary.mu.Lock()
	defer primary.mu.Unlock()
	require.Len(t, primary.scripts, 1)
	assert.Equal(t, "script-listid_42_intro", primary.scripts[0].ID)
	assert.Equal(t, "intro", primary.scripts[0].BaseStep)
}

func TestReindexAllFromPG(t *testing.T) {
	primary := &fakeIndexer{healthy: true}
	fallback := &fakeFallback{
		scripts: []ScriptRecord{NewScriptRecord("intro", "Hello")},
		alts:    []AlternativeRecord{NewAlternativeRecord("a1", "intro", "Hi")},
	}
	svc := &Service{primary: primary, fallback: fallback, logger: observability.Discard()}

	svc.ReindexAllFromPG(context.Background())
	assert.Len(t, primary.scripts, 1)
	assert.Len(t, primary.alts, 1)
}

func TestNewAlternativeRecordSanitizesID(t *testing.T) {
	rec := NewAlternativeRecord("sub:1.2", "outbound_close", "text")
	assert.Equal(t, "sub_1_2", rec.ID)
	assert.Equal(t, "close", rec.BaseStep)
}

func TestHitToResultPrefersFormattedSnippet(t *testing.T) {
	hit := meili.Hit{
		"id":         json.RawMessage(`"a1"`),
		"stepName":   json.RawMessage(`"intro"`),
		"baseStep":   json.RawMessage(`"intro"`),
		"text":       json.RawMessage(`"plain text"`),
		"_formatted": json.RawMessage(`{"text":"<mark>plain</mark> text"}`),
	}
	r := hitToResult(hit, ResultAlternative)
	assert.Equal(t, "a1", r.ID)
	assert.Equal(t, "<mark>plain</mark> text", r.Snippet)

	delete(hit, "_formatted")
	r = hitToResult(hit, ResultAlternative)
	assert.Equal(t, "plain text", r.Snippet)
}
