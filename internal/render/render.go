// Package render substitutes lead fields into bracketed script placeholders.
package render

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"

	"callscript/internal/lead"
)

var (
	daypartToken = regexp.MustCompile(`(?i)\[\s*time\s+of\s+day\s*\]`)
	labelToken   = regexp.MustCompile(`\[([^\[\]\r\n]{1,64})\]`)
)

type Option func(*Engine)

// WithLocation sets the reference timezone for daypart tokens. Defaults to UTC.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLabels replaces the static label table.
func WithLabels(labels []Label) Option {
	return func(e *Engine) {
		e.labels = indexLabels(labels)
	}
}

// Engine renders script templates. It is safe for concurrent use.
type Engine struct {
	loc    *time.Location
	now    func() time.Time
	labels map[string]labelEntry
}

type labelEntry struct {
	priority int
	label    Label
}

func New(opts ...Option) *Engine {
	e := &Engine{
		loc:    time.UTC,
		now:    time.Now,
		labels: indexLabels(DefaultLabels),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func indexLabels(labels []Label) map[string]labelEntry {
	out := make(map[string]labelEntry, len(labels))
	for i, l := range labels {
		for _, name := range l.Names {
			key := normalize(name)
			if _, exists := out[key]; exists {
				continue
			}
			out[key] = labelEntry{priority: i, label: l}
		}
	}
	return out
}

// Daypart names the part of the day for t in t's own location.
func Daypart(t time.Time) string {
	switch h := t.Hour(); {
	case h >= 5 && h < 12:
		return "morning"
	case h >= 12 && h < 17:
		return "afternoon"
	default:
		return "evening"
	}
}

// Render replaces the daypart token and every resolvable [Label] token. Tokens that
// cannot be resolved are left exactly as written.
func (e *Engine) Render(template string, ctx lead.Context) string {
	if template == "" {
		return ""
	}
	out := daypartToken.ReplaceAllString(template, Daypart(e.now().In(e.loc)))
	return labelToken.ReplaceAllStringFunc(out, func(token string) string {
		if value, ok := e.Resolve(token[1:len(token)-1], ctx); ok {
			return value
		}
		return token
	})
}

// Resolve looks up a single label (without brackets) against the lead context.
func (e *Engine) Resolve(label string, ctx lead.Context) (string, bool) {
	norm := normalize(label)
	if norm == "" {
		return "", false
	}
	if entry, ok := e.labels[norm]; ok {
		if v, ok := fromFields(entry.label, ctx); ok {
			return v, true
		}
	}

	keys := ctx.Keys()
	for _, key := range keys {
		if normalize(key) == norm {
			return ctx.Value(key), true
		}
	}
	for _, key := range keys {
		if strings.Contains(normalize(key), norm) {
			return ctx.Value(key), true
		}
	}

	if norm == customerNameLabel {
		for _, field := range customerNameFallback {
			if v, ok := ctx.Get(field); ok {
				return v, true
			}
		}
	}
	return "", false
}

func fromFields(l Label, ctx lead.Context) (string, bool) {
	if !l.Join {
		for _, field := range l.Fields {
			if v, ok := ctx.Get(field); ok {
				return v, true
			}
		}
		return "", false
	}
	parts := make([]string, 0, len(l.Fields))
	for _, field := range l.Fields {
		if v, ok := ctx.Get(field); ok {
			parts = append(parts, v)
		}
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, l.Sep), true
}

// normalize folds case and collapses every run of non-alphanumerics to "_",
// so "First Name" and "first-name" both become "first_name".
func normalize(s string) string {
	folded := cases.Fold().String(strings.TrimSpace(s))
	var b strings.Builder
	b.Grow(len(folded))
	pendingSep := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return b.String()
}
