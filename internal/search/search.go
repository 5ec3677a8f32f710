package search

import "context"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultScript      ResultType = "script"
	ResultAlternative ResultType = "alternative"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type     ResultType `json:"type"`
	ID       string     `json:"id"`
	StepName string     `json:"stepName"`
	BaseStep string     `json:"baseStep"`
	Snippet  string     `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	FilterStep string     // literal step name
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// ScriptRecord is the data we index for a base script.
type ScriptRecord struct {
	ID       string `json:"id"`
	StepName string `json:"stepName"`
	BaseStep string `json:"baseStep"`
	Content  string `json:"content"`
}

// AlternativeRecord is the data we index for an alternative wording.
type AlternativeRecord struct {
	ID       string `json:"id"`
	StepName string `json:"stepName"`
	BaseStep string `json:"baseStep"`
	Text     string `json:"text"`
}
