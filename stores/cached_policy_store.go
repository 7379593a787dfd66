package stores

import (
	"context"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/oarkflow/entguard"
)

// CachedPolicyStore is a read-through decorator over a PolicyStore using
// ristretto. The engine itself never caches, so TTL staleness is bounded
// here, at the storage edge, where the operator chose it.
type CachedPolicyStore struct {
	base  entguard.PolicyStore
	cache *ristretto.Cache
	ttl   time.Duration
}

func NewCachedPolicyStore(base entguard.PolicyStore, numCounters, maxCost, bufferItems int64, ttl time.Duration) (*CachedPolicyStore, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: bufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &CachedPolicyStore{base: base, cache: cache, ttl: ttl}, nil
}

func (s *CachedPolicyStore) Close() {
	s.cache.Close()
}

// Invalidate drops the whole cache. Call after policy writes.
func (s *CachedPolicyStore) Invalidate() {
	s.cache.Clear()
}

func (s *CachedPolicyStore) GetMembership(ctx context.Context, organizationID, userID string) (*entguard.Membership, error) {
	key := "mem:" + organizationID + ":" + userID
	if v, ok := s.cache.Get(key); ok {
		m, _ := v.(*entguard.Membership)
		return m, nil
	}
	m, err := s.base.GetMembership(ctx, organizationID, userID)
	if err != nil {
		return nil, err
	}
	s.cache.SetWithTTL(key, m, 1, s.ttl)
	return m, nil
}

func (s *CachedPolicyStore) ListRoleAssignments(ctx context.Context, organizationID, userID string) ([]*entguard.RoleAssignment, error) {
	// assignments expire on their own clock, skip the cache
	return s.base.ListRoleAssignments(ctx, organizationID, userID)
}

func (s *CachedPolicyStore) GetRole(ctx context.Context, roleID string) (*entguard.Role, error) {
	key := "role:" + roleID
	if v, ok := s.cache.Get(key); ok {
		r, _ := v.(*entguard.Role)
		return r, nil
	}
	r, err := s.base.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	s.cache.SetWithTTL(key, r, 1, s.ttl)
	return r, nil
}

func (s *CachedPolicyStore) GetSystemRole(ctx context.Context, organizationID, environment string) (*entguard.Role, error) {
	key := "sysrole:" + organizationID + ":" + environment
	if v, ok := s.cache.Get(key); ok {
		r, _ := v.(*entguard.Role)
		return r, nil
	}
	r, err := s.base.GetSystemRole(ctx, organizationID, environment)
	if err != nil {
		return nil, err
	}
	s.cache.SetWithTTL(key, r, 1, s.ttl)
	return r, nil
}

func (s *CachedPolicyStore) ListPolicies(ctx context.Context, organizationID string, roleIDs []string) ([]*entguard.Policy, error) {
	key := "pol:" + organizationID + ":" + strings.Join(roleIDs, ",")
	if v, ok := s.cache.Get(key); ok {
		ps, _ := v.([]*entguard.Policy)
		return ps, nil
	}
	ps, err := s.base.ListPolicies(ctx, organizationID, roleIDs)
	if err != nil {
		return nil, err
	}
	s.cache.SetWithTTL(key, ps, int64(len(ps)+1), s.ttl)
	return ps, nil
}

func (s *CachedPolicyStore) ListScopeRules(ctx context.Context, policyID string) ([]*entguard.ScopeRule, error) {
	key := "scope:" + policyID
	if v, ok := s.cache.Get(key); ok {
		rs, _ := v.([]*entguard.ScopeRule)
		return rs, nil
	}
	rs, err := s.base.ListScopeRules(ctx, policyID)
	if err != nil {
		return nil, err
	}
	s.cache.SetWithTTL(key, rs, int64(len(rs)+1), s.ttl)
	return rs, nil
}

func (s *CachedPolicyStore) ListFieldMasks(ctx context.Context, policyID string) ([]*entguard.FieldMask, error) {
	key := "mask:" + policyID
	if v, ok := s.cache.Get(key); ok {
		ms, _ := v.([]*entguard.FieldMask)
		return ms, nil
	}
	ms, err := s.base.ListFieldMasks(ctx, policyID)
	if err != nil {
		return nil, err
	}
	s.cache.SetWithTTL(key, ms, int64(len(ms)+1), s.ttl)
	return ms, nil
}
