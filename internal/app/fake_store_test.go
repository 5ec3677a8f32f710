package app

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"testing"
	"time"

	"callscript/internal/config"
	"callscript/internal/history"
	"callscript/internal/observability"
	"callscript/internal/selection"
	"callscript/internal/store"
)

// fakeStore is an in-memory dataStore. Fn hooks override individual methods.
type fakeStore struct {
	mu           sync.Mutex
	scripts      map[string]store.Script
	alternatives map[string][]store.Alternative
	submissions  map[string]store.Submission
	roles        map[string][]string

	pingFn      func(context.Context) error
	userRolesFn func(context.Context, string) ([]string, error)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		scripts:      map[string]store.Script{},
		alternatives: map[string][]store.Alternative{},
		submissions:  map[string]store.Submission{},
		roles:        map[string][]string{},
	}
}

func (f *fakeStore) GetScript(_ context.Context, step string) (store.Script, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	script, ok := f.scripts[step]
	if !ok {
		return store.Script{}, sql.ErrNoRows
	}
	return script, nil
}

func (f *fakeStore) ListScripts(context.Context) ([]store.Script, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Script, 0, len(f.scripts))
	for _, script := range f.scripts {
		out = append(out, script)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepName < out[j].StepName })
	return out, nil
}

func (f *fakeStore) UpsertScript(_ context.Context, item store.Script) (store.Script, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[item.StepName] = item
	return item, nil
}

func (f *fakeStore) ListAlternatives(_ context.Context, step string) ([]store.Alternative, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Alternative(nil), f.alternatives[step]...), nil
}

func (f *fakeStore) InsertAlternative(_ context.Context, item store.Alternative) (store.Alternative, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alternatives[item.StepName] = append(f.alternatives[item.StepName], item)
	return item, nil
}

func (f *fakeStore) DeleteAlternative(_ context.Context, step, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.alternatives[step]
	for i, alt := range list {
		if alt.ID == id {
			f.alternatives[step] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) CreateSubmission(_ context.Context, item store.Submission) (store.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submissions[item.ID] = item
	return item, nil
}

func (f *fakeStore) GetSubmission(_ context.Context, id string) (store.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.submissions[id]
	if !ok {
		return store.Submission{}, sql.ErrNoRows
	}
	return sub, nil
}

func (f *fakeStore) filterSubmissions(keep func(store.Submission) bool) []store.Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Submission, 0)
	for _, sub := range f.submissions {
		if keep(sub) {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (f *fakeStore) ListApprovedSubmissions(_ context.Context, step string) ([]store.Submission, error) {
	return f.filterSubmissions(func(s store.Submission) bool {
		return s.StepName == step && s.Status == store.SubmissionApproved
	}), nil
}

func (f *fakeStore) ListUserSubmissions(_ context.Context, step, userID string) ([]store.Submission, error) {
	return f.filterSubmissions(func(s store.Submission) bool {
		return s.StepName == step && s.SubmittedBy == userID
	}), nil
}

func (f *fakeStore) ListPendingSubmissions(context.Context) ([]store.Submission, error) {
	return f.filterSubmissions(func(s store.Submission) bool {
		return s.Status == store.SubmissionPending
	}), nil
}

func (f *fakeStore) UpdateSubmissionText(_ context.Context, id, userID, text string, order int) (store.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.submissions[id]
	if !ok || sub.SubmittedBy != userID {
		return store.Submission{}, sql.ErrNoRows
	}
	if sub.Status != store.SubmissionPending {
		return store.Submission{}, store.ErrNotPending
	}
	sub.Text = text
	sub.Order = order
	f.submissions[id] = sub
	return sub, nil
}

func (f *fakeStore) PromoteSubmission(_ context.Context, id, moderatorID string, at time.Time) (store.Submission, store.Alternative, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.submissions[id]
	if !ok {
		return store.Submission{}, store.Alternative{}, sql.ErrNoRows
	}
	if sub.Status != store.SubmissionPending {
		return store.Submission{}, store.Alternative{}, store.ErrNotPending
	}
	source := sub.ID
	alt := store.Alternative{
		ID:                 sub.ID,
		StepName:           sub.StepName,
		Text:               sub.Text,
		Order:              sub.Order,
		SourceSubmissionID: &source,
		CreatedBy:          moderatorID,
		CreatedAt:          at,
	}
	f.alternatives[sub.StepName] = append(f.alternatives[sub.StepName], alt)
	sub.Status = store.SubmissionApproved
	sub.ApprovedBy = &moderatorID
	sub.ApprovedAt = &at
	f.submissions[id] = sub
	return sub, alt, nil
}

func (f *fakeStore) RejectSubmission(_ context.Context, id, moderatorID, reason string, at time.Time) (store.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.submissions[id]
	if !ok {
		return store.Submission{}, sql.ErrNoRows
	}
	if sub.Status != store.SubmissionPending {
		return store.Submission{}, store.ErrNotPending
	}
	sub.Status = store.SubmissionRejected
	if reason != "" {
		sub.Reason = &reason
	}
	sub.ApprovedBy = &moderatorID
	sub.ApprovedAt = &at
	f.submissions[id] = sub
	return sub, nil
}

func (f *fakeStore) UserRoles(ctx context.Context, userID string) ([]string, error) {
	if f.userRolesFn != nil {
		return f.userRolesFn(ctx, userID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.roles[userID]...), nil
}

func (f *fakeStore) ListRoleMembers(context.Context) (map[string][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string][]string{}
	for userID, roles := range f.roles {
		for _, role := range roles {
			out[role] = append(out[role], userID)
		}
	}
	return out, nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func testConfig() config.Config {
	return config.Config{
		TokenSecret:        "test-secret",
		AccessTTL:          time.Hour,
		Timezone:           "UTC",
		SentinelAdmin:      "root",
		SentinelManager:    "lead-manager",
		RoleCacheTTL:       time.Minute,
		CorrectionDebounce: 10 * time.Millisecond,
		CycleGuard:         time.Second,
		SessionTTL:         time.Hour,
		SubmissionRate:     60,
		SubmissionBurst:    3,
	}
}

func newTestService(t *testing.T, fs *fakeStore) *Service {
	t.Helper()
	svc, err := New(testConfig(), Deps{
		Store:      fs,
		Selections: selection.NewMemoryStore(),
		History:    history.New(t.TempDir()),
		Logger:     observability.Discard(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	svc.now = func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) }
	t.Cleanup(svc.Close)
	return svc
}
