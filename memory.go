package entguard

import (
	"context"
	"sync"
	"time"
)

// ============================================================================
// IN-MEMORY STORES (fixtures and small deployments)
// ============================================================================

// MemoryStore implements PolicyStore, EntityStore and ToolAccessStore on
// plain maps. The stores package carries the production-grade SQL, Redis
// and cached implementations.
type MemoryStore struct {
	mu          sync.RWMutex
	memberships map[string]*Membership
	roles       map[string]*Role
	assignments map[string][]*RoleAssignment
	policies    map[string]*Policy
	scopeRules  map[string][]*ScopeRule
	fieldMasks  map[string][]*FieldMask
	entityTypes []*EntityType
	entities    []*memoryEntity
	relations   []*memoryRelation
	toolAccess  map[string]*ToolAccess
}

type memoryEntity struct {
	id             string
	organizationID string
	entityTypeID   string
	record         Record
	deleted        bool
}

type memoryRelation struct {
	organizationID string
	fromEntityID   string
	toEntityID     string
	relationType   string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		memberships: make(map[string]*Membership),
		roles:       make(map[string]*Role),
		assignments: make(map[string][]*RoleAssignment),
		policies:    make(map[string]*Policy),
		scopeRules:  make(map[string][]*ScopeRule),
		fieldMasks:  make(map[string][]*FieldMask),
		toolAccess:  make(map[string]*ToolAccess),
	}
}

func memberKey(organizationID, userID string) string { return organizationID + "|" + userID }

func toolKey(organizationID, agentID, toolName string) string {
	return organizationID + "|" + agentID + "|" + toolName
}

// --- seeding -------------------------------------------------------------

func (s *MemoryStore) AddMembership(m *Membership) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberships[memberKey(m.OrganizationID, m.UserID)] = m
}

func (s *MemoryStore) AddRole(r *Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	s.roles[r.ID] = r
}

func (s *MemoryStore) AddAssignment(a *RoleAssignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments[a.UserID] = append(s.assignments[a.UserID], a)
}

func (s *MemoryStore) AddPolicy(p *Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
		p.UpdatedAt = p.CreatedAt
	}
	s.policies[p.ID] = p
}

func (s *MemoryStore) AddScopeRule(r *ScopeRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scopeRules[r.PolicyID] = append(s.scopeRules[r.PolicyID], r)
}

func (s *MemoryStore) AddFieldMask(m *FieldMask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fieldMasks[m.PolicyID] = append(s.fieldMasks[m.PolicyID], m)
}

func (s *MemoryStore) AddEntityType(et *EntityType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entityTypes = append(s.entityTypes, et)
}

// AddEntity registers an entity record. The record should carry its id
// under "_id" or "id" and its payload under "data".
func (s *MemoryStore) AddEntity(organizationID, entityTypeID string, record Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, _ := recordID(record)
	s.entities = append(s.entities, &memoryEntity{
		id:             id,
		organizationID: organizationID,
		entityTypeID:   entityTypeID,
		record:         record,
	})
}

func (s *MemoryStore) SoftDeleteEntity(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entities {
		if e.id == id {
			e.deleted = true
		}
	}
}

func (s *MemoryStore) AddRelation(organizationID, fromEntityID, toEntityID, relationType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relations = append(s.relations, &memoryRelation{
		organizationID: organizationID,
		fromEntityID:   fromEntityID,
		toEntityID:     toEntityID,
		relationType:   relationType,
	})
}

func (s *MemoryStore) AddToolAccess(t *ToolAccess) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolAccess[toolKey(t.OrganizationID, t.AgentID, t.ToolName)] = t
}

// --- ConfigTarget --------------------------------------------------------

func (s *MemoryStore) CreateMembership(_ context.Context, m *Membership) error {
	s.AddMembership(m)
	return nil
}

func (s *MemoryStore) CreateRole(_ context.Context, r *Role) error {
	s.AddRole(r)
	return nil
}

func (s *MemoryStore) CreateAssignment(_ context.Context, a *RoleAssignment) error {
	s.AddAssignment(a)
	return nil
}

func (s *MemoryStore) CreatePolicy(_ context.Context, p *Policy) error {
	s.AddPolicy(p)
	return nil
}

func (s *MemoryStore) CreateScopeRule(_ context.Context, r *ScopeRule) error {
	s.AddScopeRule(r)
	return nil
}

func (s *MemoryStore) CreateFieldMask(_ context.Context, m *FieldMask) error {
	s.AddFieldMask(m)
	return nil
}

func (s *MemoryStore) CreateEntityType(_ context.Context, et *EntityType) error {
	s.AddEntityType(et)
	return nil
}

func (s *MemoryStore) CreateToolAccess(_ context.Context, t *ToolAccess) error {
	s.AddToolAccess(t)
	return nil
}

// --- PolicyStore ---------------------------------------------------------

func (s *MemoryStore) GetMembership(_ context.Context, organizationID, userID string) (*Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.memberships[memberKey(organizationID, userID)], nil
}

func (s *MemoryStore) ListRoleAssignments(_ context.Context, _ string, userID string) ([]*RoleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*RoleAssignment(nil), s.assignments[userID]...), nil
}

func (s *MemoryStore) GetRole(_ context.Context, roleID string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roles[roleID], nil
}

func (s *MemoryStore) GetSystemRole(_ context.Context, organizationID, environment string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.roles {
		if r.IsSystem && r.OrganizationID == organizationID && r.Environment == environment {
			return r, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) ListPolicies(_ context.Context, organizationID string, roleIDs []string) ([]*Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	roleSet := make(map[string]bool, len(roleIDs))
	for _, id := range roleIDs {
		roleSet[id] = true
	}
	out := make([]*Policy, 0)
	for _, p := range s.policies {
		if p.OrganizationID == organizationID && roleSet[p.RoleID] {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListScopeRules(_ context.Context, policyID string) ([]*ScopeRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*ScopeRule(nil), s.scopeRules[policyID]...), nil
}

func (s *MemoryStore) ListFieldMasks(_ context.Context, policyID string) ([]*FieldMask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*FieldMask(nil), s.fieldMasks[policyID]...), nil
}

// --- EntityStore ---------------------------------------------------------

func (s *MemoryStore) GetEntityTypeByBoundRole(_ context.Context, organizationID, roleName string) (*EntityType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, et := range s.entityTypes {
		if et.OrganizationID == organizationID && et.BoundToRole == roleName {
			return et, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) FindBoundEntity(_ context.Context, organizationID, entityTypeID, userIDField, userID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entities {
		if e.deleted || e.organizationID != organizationID || e.entityTypeID != entityTypeID {
			continue
		}
		if data, ok := e.record["data"].(map[string]any); ok {
			if v, ok := data[userIDField].(string); ok && v == userID {
				return e.record, nil
			}
		}
	}
	return nil, nil
}

func (s *MemoryStore) ListRelatedEntityIDs(_ context.Context, organizationID, entityID, relationType string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0)
	for _, r := range s.relations {
		if r.organizationID == organizationID && r.fromEntityID == entityID && r.relationType == relationType {
			out = append(out, r.toEntityID)
		}
	}
	return out, nil
}

// --- ToolAccessStore -----------------------------------------------------

func (s *MemoryStore) GetToolAccess(_ context.Context, organizationID, agentID, toolName string) (*ToolAccess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.toolAccess[toolKey(organizationID, agentID, toolName)], nil
}

// ============================================================================
// IN-MEMORY AUDIT STORE
// ============================================================================

type MemoryAuditStore struct {
	mu      sync.RWMutex
	entries []*AuditEntry
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{entries: make([]*AuditEntry, 0)}
}

func (s *MemoryAuditStore) LogDenial(_ context.Context, entry *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemoryAuditStore) ListDenials(_ context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*AuditEntry, 0)
	for _, entry := range s.entries {
		if filter.OrganizationID != "" && entry.OrganizationID != filter.OrganizationID {
			continue
		}
		if filter.ActorID != "" && entry.ActorID != filter.ActorID {
			continue
		}
		if filter.Resource != "" && entry.Resource != filter.Resource {
			continue
		}
		if filter.Action != "" && entry.Action != filter.Action {
			continue
		}
		if !filter.StartTime.IsZero() && entry.Timestamp.Before(filter.StartTime) {
			continue
		}
		if !filter.EndTime.IsZero() && entry.Timestamp.After(filter.EndTime) {
			continue
		}
		out = append(out, entry)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}
