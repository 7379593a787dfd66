package entguard

import (
	"context"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Config is the declarative provisioning format for roles, policies and
// tool access. It is how pack-style setup data reaches the stores; the
// engine itself only ever reads.
type Config struct {
	Version       int                   `json:"version" yaml:"version"`
	Organizations []*OrganizationConfig `json:"organizations,omitempty" yaml:"organizations,omitempty"`
	Roles         []*Role               `json:"roles,omitempty" yaml:"roles,omitempty"`
	Memberships   []*Membership         `json:"memberships,omitempty" yaml:"memberships,omitempty"`
	Assignments   []*RoleAssignment     `json:"assignments,omitempty" yaml:"assignments,omitempty"`
	Policies      []*PolicyConfig       `json:"policies,omitempty" yaml:"policies,omitempty"`
	EntityTypes   []*EntityType         `json:"entity_types,omitempty" yaml:"entity_types,omitempty"`
	ToolAccess    []*ToolAccess         `json:"tool_access,omitempty" yaml:"tool_access,omitempty"`
}

// OrganizationConfig names a tenant; the engine never stores organizations
// itself, but configs carry them for validation and bookkeeping.
type OrganizationConfig struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// PolicyConfig is a policy with its scope rules and field masks inline.
type PolicyConfig struct {
	Policy     `yaml:",inline"`
	ScopeRules []*ScopeRule `json:"scope_rules,omitempty" yaml:"scope_rules,omitempty"`
	FieldMasks []*FieldMask `json:"field_masks,omitempty" yaml:"field_masks,omitempty"`
}

// ConfigTarget is anything config data can be seeded into. The SQL and
// in-memory stores implement it.
type ConfigTarget interface {
	CreateMembership(ctx context.Context, m *Membership) error
	CreateRole(ctx context.Context, r *Role) error
	CreateAssignment(ctx context.Context, a *RoleAssignment) error
	CreatePolicy(ctx context.Context, p *Policy) error
	CreateScopeRule(ctx context.Context, r *ScopeRule) error
	CreateFieldMask(ctx context.Context, m *FieldMask) error
	CreateEntityType(ctx context.Context, et *EntityType) error
	CreateToolAccess(ctx context.Context, t *ToolAccess) error
}

// ConfigLoader loads configuration from YAML or JSON
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader { return &ConfigLoader{} }

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ToYAML exports config to YAML
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ToJSON exports config to JSON
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Validate checks structural consistency. Violations of the tool identity
// contract are *ConfigError, matching what the resolver would raise later.
func (c *Config) Validate() error {
	roleIDs := make(map[string]bool, len(c.Roles))
	for _, r := range c.Roles {
		if r.ID == "" || r.OrganizationID == "" {
			return fmt.Errorf("role %q: id and organization_id are required", r.Name)
		}
		if roleIDs[r.ID] {
			return fmt.Errorf("duplicate role id %s", r.ID)
		}
		roleIDs[r.ID] = true
	}
	for _, a := range c.Assignments {
		if a.UserID == "" || a.RoleID == "" {
			return fmt.Errorf("assignment: user_id and role_id are required")
		}
	}
	for _, p := range c.Policies {
		if p.ID == "" || p.OrganizationID == "" || p.RoleID == "" {
			return fmt.Errorf("policy %q: id, organization_id and role_id are required", p.ID)
		}
		if p.Effect != EffectAllow && p.Effect != EffectDeny {
			return fmt.Errorf("policy %s: unknown effect %q", p.ID, p.Effect)
		}
		if p.Resource == "" || p.Action == "" {
			return fmt.Errorf("policy %s: resource and action are required", p.ID)
		}
		for _, rule := range p.ScopeRules {
			switch rule.Operator {
			case OpEq, OpNeq, OpIn, OpContains:
			default:
				return fmt.Errorf("policy %s: unknown scope operator %q", p.ID, rule.Operator)
			}
		}
		for _, m := range p.FieldMasks {
			if m.MaskType != MaskHide && m.MaskType != MaskRedact {
				return fmt.Errorf("policy %s: unknown mask type %q", p.ID, m.MaskType)
			}
		}
	}
	for _, t := range c.ToolAccess {
		switch t.IdentityMode {
		case IdentityInherit, IdentitySystem, IdentityConfigured, "":
		default:
			return &ConfigError{
				Subject: "tool " + t.ToolName + " for agent " + t.AgentID,
				Detail:  "unknown identity mode " + string(t.IdentityMode),
			}
		}
		if t.IdentityMode == IdentityConfigured && t.ConfiguredRoleID == "" {
			return &ConfigError{
				Subject: "tool " + t.ToolName + " for agent " + t.AgentID,
				Detail:  "identity mode is configured but no configured role id is set",
			}
		}
	}
	return nil
}

// Apply seeds the configuration into a target store. Scope rules and field
// masks inherit their policy's id.
func (c *Config) Apply(ctx context.Context, target ConfigTarget) error {
	for _, r := range c.Roles {
		if err := target.CreateRole(ctx, r); err != nil {
			return fmt.Errorf("create role %s: %w", r.ID, err)
		}
	}
	for _, m := range c.Memberships {
		if err := target.CreateMembership(ctx, m); err != nil {
			return fmt.Errorf("create membership %s/%s: %w", m.OrganizationID, m.UserID, err)
		}
	}
	for _, a := range c.Assignments {
		if err := target.CreateAssignment(ctx, a); err != nil {
			return fmt.Errorf("assign role %s to %s: %w", a.RoleID, a.UserID, err)
		}
	}
	for _, p := range c.Policies {
		if err := target.CreatePolicy(ctx, &p.Policy); err != nil {
			return fmt.Errorf("create policy %s: %w", p.ID, err)
		}
		for _, rule := range p.ScopeRules {
			if rule.PolicyID == "" {
				rule.PolicyID = p.ID
			}
			if err := target.CreateScopeRule(ctx, rule); err != nil {
				return fmt.Errorf("create scope rule for policy %s: %w", p.ID, err)
			}
		}
		for _, m := range p.FieldMasks {
			if m.PolicyID == "" {
				m.PolicyID = p.ID
			}
			if err := target.CreateFieldMask(ctx, m); err != nil {
				return fmt.Errorf("create field mask for policy %s: %w", p.ID, err)
			}
		}
	}
	for _, et := range c.EntityTypes {
		if err := target.CreateEntityType(ctx, et); err != nil {
			return fmt.Errorf("create entity type %s: %w", et.Slug, err)
		}
	}
	for _, t := range c.ToolAccess {
		if err := target.CreateToolAccess(ctx, t); err != nil {
			return fmt.Errorf("create tool access %s/%s: %w", t.AgentID, t.ToolName, err)
		}
	}
	return nil
}

// Stats summarizes a config for the CLI
type ConfigStats struct {
	Organizations int
	Roles         int
	Memberships   int
	Assignments   int
	Policies      int
	ScopeRules    int
	FieldMasks    int
	EntityTypes   int
	ToolAccess    int
}

func (c *Config) Stats() ConfigStats {
	st := ConfigStats{
		Organizations: len(c.Organizations),
		Roles:         len(c.Roles),
		Memberships:   len(c.Memberships),
		Assignments:   len(c.Assignments),
		Policies:      len(c.Policies),
		EntityTypes:   len(c.EntityTypes),
		ToolAccess:    len(c.ToolAccess),
	}
	for _, p := range c.Policies {
		st.ScopeRules += len(p.ScopeRules)
		st.FieldMasks += len(p.FieldMasks)
	}
	return st
}
