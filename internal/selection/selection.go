// Package selection persists which candidate each agent last chose, or pinned as
// default, for every script step, and restores it across step naming contexts.
package selection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"callscript/internal/candidates"
	"callscript/internal/stepkey"
)

var ErrInvalidIndex = errors.New("selection index out of range")

// Selection is one agent's stored choice for one literal step name.
type Selection struct {
	SelectedIndex     int       `json:"selectedIndex"`
	DefaultIndex      *int      `json:"defaultIndex,omitempty"`
	TotalAlternatives int       `json:"totalAlternatives"`
	LastUpdated       time.Time `json:"lastUpdated"`
}

// HasDefault reports whether the agent pinned a default for the step.
func (s Selection) HasDefault() bool {
	return s.DefaultIndex != nil
}

// Effective returns the index to show for a list of the given length and whether
// any stored index had to be clamped. Both stored indices are clamped first, then
// the default wins over the last selection.
func (s Selection) Effective(length int) (int, bool) {
	if length <= 0 {
		return 0, false
	}
	clamped, changed := s.ClampTo(length)
	if clamped.HasDefault() {
		return *clamped.DefaultIndex, changed
	}
	return clamped.SelectedIndex, changed
}

// ClampTo pins both indices into [0, length-1].
func (s Selection) ClampTo(length int) (Selection, bool) {
	if length <= 0 {
		return s, false
	}
	out := s
	changed := false
	if c := candidates.Clamp(s.SelectedIndex, length); c != s.SelectedIndex {
		out.SelectedIndex = c
		changed = true
	}
	if s.DefaultIndex != nil {
		if c := candidates.Clamp(*s.DefaultIndex, length); c != *s.DefaultIndex {
			out.DefaultIndex = &c
			changed = true
		}
	}
	if changed {
		out.TotalAlternatives = length
	}
	return out, changed
}

// Store is a selection backend. Save overwrites the entry for the literal step name.
type Store interface {
	Load(ctx context.Context, userID string) (map[string]Selection, error)
	Save(ctx context.Context, userID, stepName string, sel Selection) error
}

// Lookup finds the entry for stepName in a user's stored selections. An exact key
// wins; otherwise the compatible key updated most recently is used, with ties going
// to the lexicographically smallest key. The matched key is returned.
func Lookup(all map[string]Selection, stepName string) (Selection, string, bool) {
	if sel, ok := all[stepName]; ok {
		return sel, stepName, true
	}
	keys := make([]string, 0, len(all))
	for key := range all {
		if stepkey.Compatible(key, stepName) {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return Selection{}, "", false
	}
	sort.Strings(keys)
	best := keys[0]
	for _, key := range keys[1:] {
		if all[key].LastUpdated.After(all[best].LastUpdated) {
			best = key
		}
	}
	return all[best], best, true
}

type Manager struct {
	store Store
	now   func() time.Time
}

type ManagerOption func(*Manager)

func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

func NewManager(store Store, opts ...ManagerOption) *Manager {
	m := &Manager{store: store, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Get(ctx context.Context, userID, stepName string) (Selection, bool, error) {
	all, err := m.store.Load(ctx, userID)
	if err != nil {
		return Selection{}, false, fmt.Errorf("get selection: %w", err)
	}
	sel, _, ok := Lookup(all, stepName)
	return sel, ok, nil
}

// SetSelected records index as the agent's current choice, keeping any default
// found through the cross-context lookup.
func (m *Manager) SetSelected(ctx context.Context, userID, stepName string, index, total int) (Selection, error) {
	if err := checkIndex(index, total); err != nil {
		return Selection{}, err
	}
	prev, found, err := m.Get(ctx, userID, stepName)
	if err != nil {
		return Selection{}, err
	}
	sel := Selection{SelectedIndex: index, TotalAlternatives: total, LastUpdated: m.now().UTC()}
	if found && prev.DefaultIndex != nil {
		d := *prev.DefaultIndex
		sel.DefaultIndex = &d
	}
	if err := m.store.Save(ctx, userID, stepName, sel); err != nil {
		return Selection{}, fmt.Errorf("persist selection: %w", err)
	}
	return sel, nil
}

// SetDefault pins index as the agent's default, keeping the previous selection or
// starting it at the default when there was none.
func (m *Manager) SetDefault(ctx context.Context, userID, stepName string, index, total int) (Selection, error) {
	if err := checkIndex(index, total); err != nil {
		return Selection{}, err
	}
	prev, found, err := m.Get(ctx, userID, stepName)
	if err != nil {
		return Selection{}, err
	}
	d := index
	sel := Selection{SelectedIndex: index, DefaultIndex: &d, TotalAlternatives: total, LastUpdated: m.now().UTC()}
	if found {
		sel.SelectedIndex = prev.SelectedIndex
	}
	if err := m.store.Save(ctx, userID, stepName, sel); err != nil {
		return Selection{}, fmt.Errorf("persist selection: %w", err)
	}
	return sel, nil
}

// Clamp corrects a stored selection that points past the end of a list of the
// given length and persists the correction under the literal step name. It reports
// whether a write happened.
func (m *Manager) Clamp(ctx context.Context, userID, stepName string, length int) (Selection, bool, error) {
	prev, found, err := m.Get(ctx, userID, stepName)
	if err != nil || !found {
		return prev, false, err
	}
	sel, changed := prev.ClampTo(length)
	if !changed {
		return prev, false, nil
	}
	sel.LastUpdated = m.now().UTC()
	if err := m.store.Save(ctx, userID, stepName, sel); err != nil {
		return prev, false, fmt.Errorf("persist selection: %w", err)
	}
	return sel, true, nil
}

func checkIndex(index, total int) error {
	if index < 0 || (total > 0 && index >= total) {
		return fmt.Errorf("%w: %d of %d", ErrInvalidIndex, index, total)
	}
	return nil
}
