package entguard

import (
	"context"
)

// IdentityMode selects the ActorContext a tool invocation's downstream
// reads and writes run under.
type IdentityMode string

const (
	// IdentityInherit runs the tool as the invoking conversation's actor.
	IdentityInherit IdentityMode = "inherit"
	// IdentitySystem runs the tool as a synthesized system actor with the
	// organization's system role.
	IdentitySystem IdentityMode = "system"
	// IdentityConfigured runs the tool with exactly the configured role,
	// replacing the caller's roles.
	IdentityConfigured IdentityMode = "configured"
)

// ToolAccess is the per-(agent, tool) configuration record. Absence of a
// record means default allow with inherited identity.
type ToolAccess struct {
	ID               string       `json:"id" yaml:"id"`
	OrganizationID   string       `json:"organization_id" yaml:"organization_id"`
	AgentID          string       `json:"agent_id" yaml:"agent_id"`
	ToolName         string       `json:"tool_name" yaml:"tool_name"`
	Allowed          bool         `json:"allowed" yaml:"allowed"`
	IdentityMode     IdentityMode `json:"identity_mode" yaml:"identity_mode"`
	ConfiguredRoleID string       `json:"configured_role_id,omitempty" yaml:"configured_role_id,omitempty"`
}

// ToolDecision is the outcome of CanUseTool.
type ToolDecision struct {
	Allowed          bool         `json:"allowed" yaml:"allowed"`
	IdentityMode     IdentityMode `json:"identity_mode" yaml:"identity_mode"`
	ConfiguredRoleID string       `json:"configured_role_id,omitempty" yaml:"configured_role_id,omitempty"`
	Reason           string       `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// CanUseTool decides whether the actor's agent may invoke the named tool.
// System actors are always allowed regardless of configuration.
func (e *Engine) CanUseTool(ctx context.Context, actor *ActorContext, agentID, toolName string) (*ToolDecision, error) {
	cfg, err := e.toolStore.GetToolAccess(ctx, actor.OrganizationID, agentID, toolName)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return &ToolDecision{Allowed: true, IdentityMode: IdentityInherit, Reason: "no tool configuration, default allow"}, nil
	}
	mode := cfg.IdentityMode
	if mode == "" {
		mode = IdentityInherit
	}
	if actor.ActorType == ActorSystem {
		return &ToolDecision{Allowed: true, IdentityMode: mode, ConfiguredRoleID: cfg.ConfiguredRoleID, Reason: "system actor"}, nil
	}
	dec := &ToolDecision{Allowed: cfg.Allowed, IdentityMode: mode, ConfiguredRoleID: cfg.ConfiguredRoleID}
	if !cfg.Allowed {
		dec.Reason = "tool disabled for agent"
		e.auditDenial(ctx, actor, "invoke:"+toolName, "agent:"+agentID, dec.Reason)
	}
	return dec, nil
}

// GetToolIdentity computes the effective ActorContext the tool executes
// under. A configured mode with no role id is a *ConfigError, not a denial.
func (e *Engine) GetToolIdentity(ctx context.Context, actor *ActorContext, agentID, toolName string) (*ActorContext, error) {
	cfg, err := e.toolStore.GetToolAccess(ctx, actor.OrganizationID, agentID, toolName)
	if err != nil {
		return nil, err
	}
	mode := IdentityInherit
	if cfg != nil && cfg.IdentityMode != "" {
		mode = cfg.IdentityMode
	}

	switch mode {
	case IdentityInherit:
		return actor, nil

	case IdentitySystem:
		roleIDs := []string{}
		sysRole, err := e.policyStore.GetSystemRole(ctx, actor.OrganizationID, actor.Environment)
		if err != nil {
			return nil, err
		}
		if sysRole != nil {
			roleIDs = append(roleIDs, sysRole.ID)
		}
		return &ActorContext{
			OrganizationID: actor.OrganizationID,
			ActorType:      ActorSystem,
			ActorID:        actor.ActorID,
			RoleIDs:        roleIDs,
			IsOrgAdmin:     true,
			Environment:    actor.Environment,
		}, nil

	case IdentityConfigured:
		if cfg == nil || cfg.ConfiguredRoleID == "" {
			return nil, &ConfigError{
				Subject: "tool " + toolName + " for agent " + agentID,
				Detail:  "identity mode is configured but no configured role id is set",
			}
		}
		delegated := actor.Clone()
		delegated.RoleIDs = []string{cfg.ConfiguredRoleID}
		return delegated, nil

	default:
		return nil, &ConfigError{
			Subject: "tool " + toolName + " for agent " + agentID,
			Detail:  "unknown identity mode " + string(mode),
		}
	}
}
