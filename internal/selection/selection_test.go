package selection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	loadFn func(ctx context.Context, userID string) (map[string]Selection, error)
	saveFn func(ctx context.Context, userID, stepName string, sel Selection) error
}

func (f *fakeStore) Load(ctx context.Context, userID string) (map[string]Selection, error) {
	if f.loadFn != nil {
		return f.loadFn(ctx, userID)
	}
	return map[string]Selection{}, nil
}

func (f *fakeStore) Save(ctx context.Context, userID, stepName string, sel Selection) error {
	if f.saveFn != nil {
		return f.saveFn(ctx, userID, stepName, sel)
	}
	return nil
}

type tickClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *tickClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestManager(store Store) *Manager {
	clock := &tickClock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	return NewManager(store, WithClock(clock.now))
}

func intPtr(v int) *int { return &v }

func TestSetDefaultThenGet(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(NewMemoryStore())

	_, err := m.SetDefault(ctx, "007", "greeting", 2, 5)
	require.NoError(t, err)

	sel, ok, err := m.Get(ctx, "007", "greeting")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, sel.HasDefault())
	assert.Equal(t, 2, *sel.DefaultIndex)
	assert.Equal(t, 2, sel.SelectedIndex)
	assert.Equal(t, 5, sel.TotalAlternatives)
}

func TestCrossContextLookup(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m := newTestManager(store)

	_, err := m.SetSelected(ctx, "007", "outbound_greeting", 1, 3)
	require.NoError(t, err)

	sel, ok, err := m.Get(ctx, "007", "greeting")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, sel.SelectedIndex)

	_, ok, err = m.Get(ctx, "007", "closing")
	require.NoError(t, err)
	assert.False(t, ok)

	// reads never rename the stored key
	all, _ := store.Load(ctx, "007")
	assert.Len(t, all, 1)
	assert.Contains(t, all, "outbound_greeting")
}

func TestSetSelectedKeepsDefaultFromOtherContext(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m := newTestManager(store)

	_, err := m.SetDefault(ctx, "007", "listid_5_greeting", 2, 4)
	require.NoError(t, err)
	sel, err := m.SetSelected(ctx, "007", "greeting", 3, 4)
	require.NoError(t, err)
	require.NotNil(t, sel.DefaultIndex)
	assert.Equal(t, 2, *sel.DefaultIndex)
	assert.Equal(t, 3, sel.SelectedIndex)

	all, _ := store.Load(ctx, "007")
	assert.Len(t, all, 2)
	assert.Equal(t, 2, all["listid_5_greeting"].SelectedIndex)
}

func TestSetDefaultKeepsSelected(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(NewMemoryStore())

	_, err := m.SetSelected(ctx, "007", "greeting", 3, 5)
	require.NoError(t, err)
	sel, err := m.SetDefault(ctx, "007", "greeting", 1, 5)
	require.NoError(t, err)
	assert.Equal(t, 3, sel.SelectedIndex)
	assert.Equal(t, 1, *sel.DefaultIndex)
}

func TestLookupPrefersLatestThenSmallestKey(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	all := map[string]Selection{
		"outbound_greeting":   {SelectedIndex: 1, LastUpdated: t0},
		"listid_9_greeting":   {SelectedIndex: 2, LastUpdated: t0.Add(time.Minute)},
		"listid_1_greeting":   {SelectedIndex: 3, LastUpdated: t0.Add(time.Minute)},
		"outbound_objections": {SelectedIndex: 4, LastUpdated: t0.Add(time.Hour)},
	}
	sel, key, ok := Lookup(all, "greeting")
	require.True(t, ok)
	assert.Equal(t, "listid_1_greeting", key)
	assert.Equal(t, 3, sel.SelectedIndex)

	sel, key, ok = Lookup(all, "outbound_greeting")
	require.True(t, ok)
	assert.Equal(t, "outbound_greeting", key)
	assert.Equal(t, 1, sel.SelectedIndex)

	_, _, ok = Lookup(all, "inbound_greeting")
	assert.False(t, ok, "other call types share no base key")
}

func TestClampPersistsCorrection(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m := newTestManager(store)

	_, err := m.SetDefault(ctx, "007", "greeting", 2, 5)
	require.NoError(t, err)

	sel, changed, err := m.Clamp(ctx, "007", "greeting", 2)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 1, sel.SelectedIndex)
	assert.Equal(t, 1, *sel.DefaultIndex)
	assert.Equal(t, 2, sel.TotalAlternatives)

	stored, _, _ := m.Get(ctx, "007", "greeting")
	assert.Equal(t, 1, *stored.DefaultIndex)

	_, changed, err = m.Clamp(ctx, "007", "greeting", 2)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestInvalidIndex(t *testing.T) {
	m := newTestManager(NewMemoryStore())
	_, err := m.SetSelected(context.Background(), "007", "greeting", 3, 3)
	assert.ErrorIs(t, err, ErrInvalidIndex)
	_, err = m.SetDefault(context.Background(), "007", "greeting", -1, 3)
	assert.ErrorIs(t, err, ErrInvalidIndex)
}

func TestManagerWrapsStoreErrors(t *testing.T) {
	boom := errors.New("store down")
	m := newTestManager(&fakeStore{loadFn: func(context.Context, string) (map[string]Selection, error) {
		return nil, boom
	}})
	_, _, err := m.Get(context.Background(), "007", "greeting")
	assert.ErrorIs(t, err, boom)
}

func TestEffective(t *testing.T) {
	idx, changed := Selection{SelectedIndex: 3, DefaultIndex: intPtr(1)}.Effective(5)
	assert.Equal(t, 1, idx)
	assert.False(t, changed)

	idx, changed = Selection{SelectedIndex: 4}.Effective(2)
	assert.Equal(t, 1, idx)
	assert.True(t, changed)

	idx, changed = Selection{SelectedIndex: 0, DefaultIndex: intPtr(6)}.Effective(3)
	assert.Equal(t, 2, idx)
	assert.True(t, changed)

	idx, changed = Selection{SelectedIndex: 4}.Effective(0)
	assert.Equal(t, 0, idx)
	assert.False(t, changed)
}
