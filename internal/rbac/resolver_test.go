package rbac

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeSource struct {
	userRolesFn       func(ctx context.Context, userID string) ([]string, error)
	listRoleMembersFn func(ctx context.Context) (map[string][]string, error)
}

func (f *fakeSource) UserRoles(ctx context.Context, userID string) ([]string, error) {
	if f.userRolesFn != nil {
		return f.userRolesFn(ctx, userID)
	}
	return nil, nil
}

func (f *fakeSource) ListRoleMembers(ctx context.Context) (map[string][]string, error) {
	if f.listRoleMembersFn != nil {
		return f.listRoleMembersFn(ctx)
	}
	return map[string][]string{}, nil
}

var testSentinels = Sentinels{Admin: "admin", Manager: "manager"}

func TestResolverOrder(t *testing.T) {
	members := map[string][]string{
		"kim":     {"manager"},
		"lee":     {"admin"},
		"manager": {"admin"},
	}
	lookups := 0
	src := &fakeSource{userRolesFn: func(_ context.Context, userID string) ([]string, error) {
		lookups++
		return members[userID], nil
	}}
	r := NewResolver(testSentinels, src)

	cases := []struct {
		userID string
		want   Role
	}{
		{"admin", RoleAdmin},
		{"manager", RoleAdmin},
		{"kim", RoleManager},
		{"lee", RoleAdmin},
		{"007", RoleStandard},
		{"", RoleStandard},
	}
	for _, tc := range cases {
		got, err := r.Resolve(context.Background(), tc.userID)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", tc.userID, err)
		}
		if got != tc.want {
			t.Fatalf("Resolve(%q) = %q, want %q", tc.userID, got, tc.want)
		}
	}
	if lookups != 4 {
		t.Fatalf("expected 4 member lookups, got %d", lookups)
	}
}

func TestResolverSeesMembershipChangesImmediately(t *testing.T) {
	roles := []string{}
	r := NewResolver(testSentinels, &fakeSource{userRolesFn: func(context.Context, string) ([]string, error) {
		return roles, nil
	}})
	if got, _ := r.Resolve(context.Background(), "kim"); got != RoleStandard {
		t.Fatalf("expected standard before grant, got %q", got)
	}
	roles = []string{"manager"}
	if got, _ := r.Resolve(context.Background(), "kim"); got != RoleManager {
		t.Fatalf("expected manager after grant, got %q", got)
	}
}

func TestResolverLookupFailure(t *testing.T) {
	boom := errors.New("store down")
	r := NewResolver(testSentinels, &fakeSource{userRolesFn: func(context.Context, string) ([]string, error) {
		return nil, boom
	}})

	got, err := r.Resolve(context.Background(), "kim")
	if !errors.Is(err, boom) || got != RoleStandard {
		t.Fatalf("expected standard with error, got %q, %v", got, err)
	}
	got, err = r.Resolve(context.Background(), "admin")
	if err != nil || got != RoleAdmin {
		t.Fatalf("sentinel admin must not need a lookup, got %q, %v", got, err)
	}
}

func TestCachePeekAndStaleness(t *testing.T) {
	src := &fakeSource{listRoleMembersFn: func(context.Context) (map[string][]string, error) {
		return map[string][]string{"kim": {"manager"}}, nil
	}}
	c := NewCache(testSentinels, src, time.Minute)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	if !c.Stale(now) {
		t.Fatalf("expected stale before first refresh")
	}
	if got := c.Peek("kim"); got != RoleStandard {
		t.Fatalf("Peek before refresh = %q, want standard", got)
	}
	if got := c.Peek("manager"); got != RoleManager {
		t.Fatalf("sentinel manager Peek = %q", got)
	}

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := c.Peek("kim"); got != RoleManager {
		t.Fatalf("Peek after refresh = %q, want manager", got)
	}
	if c.Stale(now.Add(30 * time.Second)) {
		t.Fatalf("expected fresh within ttl")
	}
	if !c.Stale(now.Add(2 * time.Minute)) {
		t.Fatalf("expected stale after ttl")
	}
	if !c.RefreshedAt().Equal(now) {
		t.Fatalf("RefreshedAt = %v", c.RefreshedAt())
	}
}

func TestCacheRefreshFailureKeepsSnapshot(t *testing.T) {
	fail := false
	src := &fakeSource{listRoleMembersFn: func(context.Context) (map[string][]string, error) {
		if fail {
			return nil, errors.New("store down")
		}
		return map[string][]string{"kim": {"admin"}}, nil
	}}
	c := NewCache(testSentinels, src, time.Minute)
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	fail = true
	if err := c.Refresh(context.Background()); err == nil {
		t.Fatalf("expected refresh error")
	}
	if got := c.Peek("kim"); got != RoleAdmin {
		t.Fatalf("expected previous snapshot, got %q", got)
	}
}
