package stores

import (
	"context"

	"github.com/oarkflow/entguard"
	"github.com/oarkflow/squealx"
)

// SQLToolAccessStore persists per-agent tool grants.
type SQLToolAccessStore struct {
	db *squealx.DB
}

func NewSQLToolAccessStore(db *squealx.DB) *SQLToolAccessStore {
	return &SQLToolAccessStore{db: db}
}

func (s *SQLToolAccessStore) GetToolAccess(ctx context.Context, organizationID, agentID, toolName string) (*entguard.ToolAccess, error) {
	q := `SELECT id, organization_id, agent_id, tool_name, allowed, identity_mode, configured_role_id FROM tool_access WHERE organization_id = :organization_id AND agent_id = :agent_id AND tool_name = :tool_name`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{
		"organization_id": organizationID,
		"agent_id":        agentID,
		"tool_name":       toolName,
	})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, nil
	}
	t := &entguard.ToolAccess{}
	var allowed int
	var mode string
	var configuredRoleID *string
	if err := r.Scan(&t.ID, &t.OrganizationID, &t.AgentID, &t.ToolName, &allowed, &mode, &configuredRoleID); err != nil {
		return nil, err
	}
	t.Allowed = allowed != 0
	t.IdentityMode = entguard.IdentityMode(mode)
	if configuredRoleID != nil {
		t.ConfiguredRoleID = *configuredRoleID
	}
	return t, nil
}

func (s *SQLToolAccessStore) CreateToolAccess(ctx context.Context, t *entguard.ToolAccess) error {
	q := `INSERT OR REPLACE INTO tool_access(id, organization_id, agent_id, tool_name, allowed, identity_mode, configured_role_id) VALUES(:id, :organization_id, :agent_id, :tool_name, :allowed, :identity_mode, :configured_role_id)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":                 t.ID,
		"organization_id":    t.OrganizationID,
		"agent_id":           t.AgentID,
		"tool_name":          t.ToolName,
		"allowed":            boolToInt(t.Allowed),
		"identity_mode":      string(t.IdentityMode),
		"configured_role_id": t.ConfiguredRoleID,
	})
	return err
}
