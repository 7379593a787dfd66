package entguard

import (
	"context"
	"time"
)

// ============================================================================
// DOMAIN OBJECTS
// ============================================================================

// ActorType classifies who is requesting access
type ActorType string

const (
	ActorUser    ActorType = "user"
	ActorAgent   ActorType = "agent"
	ActorSystem  ActorType = "system"
	ActorWebhook ActorType = "webhook"
)

// ActorContext is the fully resolved identity an operation runs under.
// It is computed fresh for every logical operation and never persisted.
type ActorContext struct {
	OrganizationID string    `json:"organization_id" yaml:"organization_id"`
	ActorType      ActorType `json:"actor_type" yaml:"actor_type"`
	ActorID        string    `json:"actor_id" yaml:"actor_id"`
	RoleIDs        []string  `json:"role_ids" yaml:"role_ids"`
	IsOrgAdmin     bool      `json:"is_org_admin" yaml:"is_org_admin"`
	Environment    string    `json:"environment" yaml:"environment"`
}

// Clone returns a copy of the context with its own role slice.
func (a *ActorContext) Clone() *ActorContext {
	dup := *a
	dup.RoleIDs = append([]string(nil), a.RoleIDs...)
	return &dup
}

// Membership records a user's direct standing inside an organization.
// MemberRole owner/admin grants the org-admin bypass.
type Membership struct {
	OrganizationID string `json:"organization_id" yaml:"organization_id"`
	UserID         string `json:"user_id" yaml:"user_id"`
	MemberRole     string `json:"member_role" yaml:"member_role"` // owner, admin, member
}

// IsAdmin reports whether the membership grants organization-admin access.
func (m *Membership) IsAdmin() bool {
	return m != nil && (m.MemberRole == "owner" || m.MemberRole == "admin")
}

// Role is an environment-scoped permission bundle
type Role struct {
	ID             string    `json:"id" yaml:"id"`
	OrganizationID string    `json:"organization_id" yaml:"organization_id"`
	Name           string    `json:"name" yaml:"name"`
	Environment    string    `json:"environment" yaml:"environment"`
	IsSystem       bool      `json:"is_system" yaml:"is_system"`
	CreatedAt      time.Time `json:"created_at" yaml:"created_at"`
}

// RoleAssignment attaches a role to a user, optionally until ExpiresAt
type RoleAssignment struct {
	UserID    string    `json:"user_id" yaml:"user_id"`
	RoleID    string    `json:"role_id" yaml:"role_id"`
	ExpiresAt time.Time `json:"expires_at" yaml:"expires_at"` // zero = no expiry
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// IsExpired checks if the assignment has lapsed
func (a *RoleAssignment) IsExpired() bool {
	return !a.ExpiresAt.IsZero() && time.Now().After(a.ExpiresAt)
}

// Effect represents the outcome a policy mandates
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Wildcard matches any concrete resource or action value.
const Wildcard = "*"

// Policy is a role-scoped grant or denial of an action on a resource.
// Resource and Action may be the literal wildcard "*".
//
// Priority is persisted for compatibility with stored data but is not
// consulted during evaluation: a matching deny always wins.
type Policy struct {
	ID             string    `json:"id" yaml:"id"`
	OrganizationID string    `json:"organization_id" yaml:"organization_id"`
	RoleID         string    `json:"role_id" yaml:"role_id"`
	Resource       string    `json:"resource" yaml:"resource"`
	Action         string    `json:"action" yaml:"action"`
	Effect         Effect    `json:"effect" yaml:"effect"`
	Priority       int       `json:"priority" yaml:"priority"`
	CreatedAt      time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" yaml:"updated_at"`
}

// ScopeRuleType distinguishes row-predicate rules from relation-path rules
type ScopeRuleType string

const (
	ScopeRuleField    ScopeRuleType = "field"
	ScopeRuleRelation ScopeRuleType = "relation"
)

// ScopeOperator is the comparison applied by a scope filter
type ScopeOperator string

const (
	OpEq       ScopeOperator = "eq"
	OpNeq      ScopeOperator = "neq"
	OpIn       ScopeOperator = "in"
	OpContains ScopeOperator = "contains"
)

// ScopeRule is a row-level predicate attached to an allow policy. Value is
// parsed into its tagged form once, when the rule is loaded from storage.
type ScopeRule struct {
	ID           string        `json:"id" yaml:"id"`
	PolicyID     string        `json:"policy_id" yaml:"policy_id"`
	Type         ScopeRuleType `json:"type" yaml:"type"`
	Field        string        `json:"field" yaml:"field"`
	Operator     ScopeOperator `json:"operator" yaml:"operator"`
	Value        ScopeValue    `json:"value" yaml:"value"`
	RelationPath string        `json:"relation_path,omitempty" yaml:"relation_path,omitempty"`
}

// MaskType is how a masked field is treated
type MaskType string

const (
	MaskHide   MaskType = "hide"
	MaskRedact MaskType = "redact"
)

// FieldMask is a column-level restriction attached to an allow policy
type FieldMask struct {
	ID         string         `json:"id" yaml:"id"`
	PolicyID   string         `json:"policy_id" yaml:"policy_id"`
	FieldPath  string         `json:"field_path" yaml:"field_path"`
	MaskType   MaskType       `json:"mask_type" yaml:"mask_type"`
	MaskConfig map[string]any `json:"mask_config,omitempty" yaml:"mask_config,omitempty"`
}

// EntityType describes a class of records in the external entity store.
// BoundToRole + UserIDField let the engine find the record representing a
// role-holding actor (e.g. a guardian or teacher profile).
type EntityType struct {
	ID             string `json:"id" yaml:"id"`
	OrganizationID string `json:"organization_id" yaml:"organization_id"`
	Slug           string `json:"slug" yaml:"slug"`
	BoundToRole    string `json:"bound_to_role,omitempty" yaml:"bound_to_role,omitempty"`
	UserIDField    string `json:"user_id_field,omitempty" yaml:"user_id_field,omitempty"`
}

// Record is a loosely typed entity record handed to the engine for
// filtering and masking. The engine never fetches records itself.
type Record = map[string]any

// Decision represents the authorization decision
type Decision struct {
	Allowed           bool      `json:"allowed" yaml:"allowed"`
	Reason            string    `json:"reason" yaml:"reason"`
	MatchedPolicy     string    `json:"matched_policy,omitempty" yaml:"matched_policy,omitempty"`
	EvaluatedPolicies int       `json:"evaluated_policies" yaml:"evaluated_policies"`
	Trace             []string  `json:"trace,omitempty" yaml:"trace,omitempty"`
	Timestamp         time.Time `json:"timestamp" yaml:"timestamp"`
}

// ============================================================================
// STORAGE PORTS
// ============================================================================

// PolicyStore is the read-only port the engine evaluates against. Lookups
// that can legitimately find nothing (membership, system role) return
// (nil, nil) rather than an error.
type PolicyStore interface {
	GetMembership(ctx context.Context, organizationID, userID string) (*Membership, error)
	ListRoleAssignments(ctx context.Context, organizationID, userID string) ([]*RoleAssignment, error)
	GetRole(ctx context.Context, roleID string) (*Role, error)
	GetSystemRole(ctx context.Context, organizationID, environment string) (*Role, error)
	ListPolicies(ctx context.Context, organizationID string, roleIDs []string) ([]*Policy, error)
	ListScopeRules(ctx context.Context, policyID string) ([]*ScopeRule, error)
	ListFieldMasks(ctx context.Context, policyID string) ([]*FieldMask, error)
}

// EntityStore resolves actor-bound entities and their relation edges.
// Implementations must exclude soft-deleted records.
type EntityStore interface {
	GetEntityTypeByBoundRole(ctx context.Context, organizationID, roleName string) (*EntityType, error)
	FindBoundEntity(ctx context.Context, organizationID, entityTypeID, userIDField, userID string) (Record, error)
	ListRelatedEntityIDs(ctx context.Context, organizationID, entityID, relationType string) ([]string, error)
}

// ToolAccessStore holds per-(agent, tool) invocation configuration.
// A missing record means default allow with inherited identity.
type ToolAccessStore interface {
	GetToolAccess(ctx context.Context, organizationID, agentID, toolName string) (*ToolAccess, error)
}

// AuditStore receives every denial as a structured record
type AuditStore interface {
	LogDenial(ctx context.Context, entry *AuditEntry) error
	ListDenials(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error)
}

// AuditEntry is one recorded denial
type AuditEntry struct {
	ID             string    `json:"id" yaml:"id"`
	Timestamp      time.Time `json:"timestamp" yaml:"timestamp"`
	OrganizationID string    `json:"organization_id" yaml:"organization_id"`
	ActorID        string    `json:"actor_id" yaml:"actor_id"`
	ActorType      ActorType `json:"actor_type" yaml:"actor_type"`
	RoleIDs        []string  `json:"role_ids" yaml:"role_ids"`
	Action         string    `json:"action" yaml:"action"`
	Resource       string    `json:"resource" yaml:"resource"`
	Reason         string    `json:"reason" yaml:"reason"`
	TraceID        string    `json:"trace_id,omitempty" yaml:"trace_id,omitempty"`
}

// AuditFilter narrows denial queries
type AuditFilter struct {
	OrganizationID string
	ActorID        string
	Resource       string
	Action         string
	StartTime      time.Time
	EndTime        time.Time
	Limit          int
}
