package rbac

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemberSource reads the externally configured admin and manager lists.
type MemberSource interface {
	UserRoles(ctx context.Context, userID string) ([]string, error)
	ListRoleMembers(ctx context.Context) (map[string][]string, error)
}

// Sentinels are fixed identities whose role never depends on the member lists.
type Sentinels struct {
	Admin   string
	Manager string
}

func (s Sentinels) role(userID string) Role {
	userID = strings.TrimSpace(userID)
	switch {
	case userID == "":
		return RoleStandard
	case s.Admin != "" && userID == s.Admin:
		return RoleAdmin
	case s.Manager != "" && userID == s.Manager:
		return RoleManager
	default:
		return RoleStandard
	}
}

// Resolver is the authorization boundary: every call reads the member lists fresh.
type Resolver struct {
	sentinels Sentinels
	source    MemberSource
}

func NewResolver(sentinels Sentinels, source MemberSource) *Resolver {
	return &Resolver{sentinels: sentinels, source: source}
}

func (r *Resolver) Resolve(ctx context.Context, userID string) (Role, error) {
	base := r.sentinels.role(userID)
	if base == RoleAdmin || strings.TrimSpace(userID) == "" || r.source == nil {
		return base, nil
	}
	roles, err := r.source.UserRoles(ctx, userID)
	if err != nil {
		return base, fmt.Errorf("resolve role: %w", err)
	}
	return Highest(append(toRoles(roles), base)...), nil
}

func toRoles(raw []string) []Role {
	out := make([]Role, 0, len(raw))
	for _, r := range raw {
		out = append(out, Normalize(r))
	}
	return out
}

// Cache is a snapshot of the member lists for synchronous UI gating. Peek may be
// stale by up to the refresh interval and must never authorize an action; use
// Resolver for that.
type Cache struct {
	sentinels Sentinels
	source    MemberSource
	ttl       time.Duration
	now       func() time.Time

	mu          sync.RWMutex
	members     map[string]Role
	refreshedAt time.Time
}

func NewCache(sentinels Sentinels, source MemberSource, ttl time.Duration) *Cache {
	return &Cache{
		sentinels: sentinels,
		source:    source,
		ttl:       ttl,
		now:       time.Now,
		members:   map[string]Role{},
	}
}

// Refresh replaces the snapshot. On error the previous snapshot is kept.
func (c *Cache) Refresh(ctx context.Context) error {
	if c.source == nil {
		return nil
	}
	raw, err := c.source.ListRoleMembers(ctx)
	if err != nil {
		return fmt.Errorf("refresh role cache: %w", err)
	}
	members := make(map[string]Role, len(raw))
	for userID, roles := range raw {
		members[userID] = Highest(toRoles(roles)...)
	}
	c.mu.Lock()
	c.members = members
	c.refreshedAt = c.now()
	c.mu.Unlock()
	return nil
}

func (c *Cache) RefreshedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshedAt
}

// Stale reports whether the snapshot was never loaded or is older than the TTL.
func (c *Cache) Stale(now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.refreshedAt.IsZero() {
		return true
	}
	return c.ttl > 0 && now.Sub(c.refreshedAt) > c.ttl
}

// Peek answers from the sentinels and the last snapshot without blocking.
func (c *Cache) Peek(userID string) Role {
	base := c.sentinels.role(userID)
	if base == RoleAdmin {
		return base
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Highest(base, c.members[strings.TrimSpace(userID)])
}
