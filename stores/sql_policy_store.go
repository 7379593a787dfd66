package stores

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oarkflow/entguard"
	"github.com/oarkflow/squealx"
)

// SQLPolicyStore persists memberships, roles, assignments, policies, scope
// rules and field masks in SQL (squealx). It implements both the engine's
// read-only PolicyStore port and the write side used by config seeding.
type SQLPolicyStore struct {
	db *squealx.DB
}

func NewSQLPolicyStore(db *squealx.DB) *SQLPolicyStore {
	return &SQLPolicyStore{db: db}
}

// --- reads ---------------------------------------------------------------

func (s *SQLPolicyStore) GetMembership(ctx context.Context, organizationID, userID string) (*entguard.Membership, error) {
	q := `SELECT organization_id, user_id, member_role FROM memberships WHERE organization_id = :organization_id AND user_id = :user_id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"organization_id": organizationID, "user_id": userID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, nil
	}
	m := &entguard.Membership{}
	if err := r.Scan(&m.OrganizationID, &m.UserID, &m.MemberRole); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *SQLPolicyStore) ListRoleAssignments(ctx context.Context, _ string, userID string) ([]*entguard.RoleAssignment, error) {
	q := `SELECT user_id, role_id, expires_at, created_at FROM role_assignments WHERE user_id = :user_id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"user_id": userID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*entguard.RoleAssignment, 0)
	for r.Next() {
		a := &entguard.RoleAssignment{}
		var expiresRaw, createdRaw any
		if err := r.Scan(&a.UserID, &a.RoleID, &expiresRaw, &createdRaw); err != nil {
			return nil, err
		}
		if expiresRaw != nil {
			a.ExpiresAt = scanTime(expiresRaw)
		}
		if createdRaw != nil {
			a.CreatedAt = scanTime(createdRaw)
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *SQLPolicyStore) GetRole(ctx context.Context, roleID string) (*entguard.Role, error) {
	q := `SELECT id, organization_id, name, environment, is_system, created_at FROM roles WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": roleID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, nil
	}
	return scanRole(r)
}

func (s *SQLPolicyStore) GetSystemRole(ctx context.Context, organizationID, environment string) (*entguard.Role, error) {
	q := `SELECT id, organization_id, name, environment, is_system, created_at FROM roles WHERE organization_id = :organization_id AND environment = :environment AND is_system = 1 LIMIT 1`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"organization_id": organizationID, "environment": environment})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, nil
	}
	return scanRole(r)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRole(r rowScanner) (*entguard.Role, error) {
	role := &entguard.Role{}
	var isSystem int
	var createdRaw any
	if err := r.Scan(&role.ID, &role.OrganizationID, &role.Name, &role.Environment, &isSystem, &createdRaw); err != nil {
		return nil, err
	}
	role.IsSystem = isSystem != 0
	if createdRaw != nil {
		role.CreatedAt = scanTime(createdRaw)
	}
	return role, nil
}

func (s *SQLPolicyStore) ListPolicies(ctx context.Context, organizationID string, roleIDs []string) ([]*entguard.Policy, error) {
	out := make([]*entguard.Policy, 0)
	q := `SELECT id, organization_id, role_id, resource, action, effect, priority, created_at, updated_at FROM policies WHERE organization_id = :organization_id AND role_id = :role_id`
	for _, roleID := range roleIDs {
		r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"organization_id": organizationID, "role_id": roleID})
		if err != nil {
			return nil, err
		}
		for r.Next() {
			p := &entguard.Policy{}
			var effect string
			var createdRaw, updatedRaw any
			if err := r.Scan(&p.ID, &p.OrganizationID, &p.RoleID, &p.Resource, &p.Action, &effect, &p.Priority, &createdRaw, &updatedRaw); err != nil {
				r.Close()
				return nil, err
			}
			p.Effect = entguard.Effect(effect)
			if createdRaw != nil {
				p.CreatedAt = scanTime(createdRaw)
			}
			if updatedRaw != nil {
				p.UpdatedAt = scanTime(updatedRaw)
			}
			out = append(out, p)
		}
		r.Close()
	}
	return out, nil
}

func (s *SQLPolicyStore) ListScopeRules(ctx context.Context, policyID string) ([]*entguard.ScopeRule, error) {
	q := `SELECT id, policy_id, type, field, operator, value, relation_path FROM scope_rules WHERE policy_id = :policy_id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"policy_id": policyID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*entguard.ScopeRule, 0)
	for r.Next() {
		rule := &entguard.ScopeRule{}
		var typ, field, operator, value, relationPath *string
		if err := r.Scan(&rule.ID, &rule.PolicyID, &typ, &field, &operator, &value, &relationPath); err != nil {
			return nil, err
		}
		if typ != nil {
			rule.Type = entguard.ScopeRuleType(*typ)
		}
		if field != nil {
			rule.Field = *field
		}
		if operator != nil {
			rule.Operator = entguard.ScopeOperator(*operator)
		}
		if value != nil {
			// templates parse once, at load time
			rule.Value = entguard.ParseScopeValue(*value)
		}
		if relationPath != nil {
			rule.RelationPath = *relationPath
		}
		out = append(out, rule)
	}
	return out, nil
}

func (s *SQLPolicyStore) ListFieldMasks(ctx context.Context, policyID string) ([]*entguard.FieldMask, error) {
	q := `SELECT id, policy_id, field_path, mask_type, mask_config_json FROM field_masks WHERE policy_id = :policy_id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"policy_id": policyID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*entguard.FieldMask, 0)
	for r.Next() {
		m := &entguard.FieldMask{}
		var maskType string
		var configJSON *string
		if err := r.Scan(&m.ID, &m.PolicyID, &m.FieldPath, &maskType, &configJSON); err != nil {
			return nil, err
		}
		m.MaskType = entguard.MaskType(maskType)
		if configJSON != nil && *configJSON != "" {
			_ = json.Unmarshal([]byte(*configJSON), &m.MaskConfig)
		}
		out = append(out, m)
	}
	return out, nil
}

// --- writes (config seeding) ---------------------------------------------

func (s *SQLPolicyStore) CreateMembership(ctx context.Context, m *entguard.Membership) error {
	q := `INSERT OR REPLACE INTO memberships(organization_id, user_id, member_role) VALUES(:organization_id, :user_id, :member_role)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"organization_id": m.OrganizationID,
		"user_id":         m.UserID,
		"member_role":     m.MemberRole,
	})
	return err
}

func (s *SQLPolicyStore) CreateRole(ctx context.Context, role *entguard.Role) error {
	if role.CreatedAt.IsZero() {
		role.CreatedAt = time.Now()
	}
	q := `INSERT OR REPLACE INTO roles(id, organization_id, name, environment, is_system, created_at) VALUES(:id, :organization_id, :name, :environment, :is_system, :created_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":              role.ID,
		"organization_id": role.OrganizationID,
		"name":            role.Name,
		"environment":     role.Environment,
		"is_system":       boolToInt(role.IsSystem),
		"created_at":      role.CreatedAt,
	})
	return err
}

func (s *SQLPolicyStore) CreateAssignment(ctx context.Context, a *entguard.RoleAssignment) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	q := `INSERT OR REPLACE INTO role_assignments(user_id, role_id, expires_at, created_at) VALUES(:user_id, :role_id, :expires_at, :created_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"user_id":    a.UserID,
		"role_id":    a.RoleID,
		"expires_at": sqlNullTimeOrNil(a.ExpiresAt),
		"created_at": a.CreatedAt,
	})
	return err
}

func (s *SQLPolicyStore) CreatePolicy(ctx context.Context, p *entguard.Policy) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
		p.UpdatedAt = p.CreatedAt
	}
	q := `INSERT OR REPLACE INTO policies(id, organization_id, role_id, resource, action, effect, priority, created_at, updated_at) VALUES(:id, :organization_id, :role_id, :resource, :action, :effect, :priority, :created_at, :updated_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":              p.ID,
		"organization_id": p.OrganizationID,
		"role_id":         p.RoleID,
		"resource":        p.Resource,
		"action":          p.Action,
		"effect":          string(p.Effect),
		"priority":        p.Priority,
		"created_at":      p.CreatedAt,
		"updated_at":      p.UpdatedAt,
	})
	return err
}

func (s *SQLPolicyStore) CreateScopeRule(ctx context.Context, rule *entguard.ScopeRule) error {
	q := `INSERT OR REPLACE INTO scope_rules(id, policy_id, type, field, operator, value, relation_path) VALUES(:id, :policy_id, :type, :field, :operator, :value, :relation_path)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":            rule.ID,
		"policy_id":     rule.PolicyID,
		"type":          string(rule.Type),
		"field":         rule.Field,
		"operator":      string(rule.Operator),
		"value":         rule.Value.String(),
		"relation_path": rule.RelationPath,
	})
	return err
}

func (s *SQLPolicyStore) CreateFieldMask(ctx context.Context, m *entguard.FieldMask) error {
	configJSON := ""
	if m.MaskConfig != nil {
		b, _ := json.Marshal(m.MaskConfig)
		configJSON = string(b)
	}
	q := `INSERT OR REPLACE INTO field_masks(id, policy_id, field_path, mask_type, mask_config_json) VALUES(:id, :policy_id, :field_path, :mask_type, :mask_config_json)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":               m.ID,
		"policy_id":        m.PolicyID,
		"field_path":       m.FieldPath,
		"mask_type":        string(m.MaskType),
		"mask_config_json": configJSON,
	})
	return err
}
