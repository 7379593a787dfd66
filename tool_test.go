package entguard

import (
	"context"
	"testing"
)

func TestToolDefaultAllowWhenUnconfigured(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	defer eng.Close()

	actor := &ActorContext{OrganizationID: "org-1", ActorType: ActorAgent, ActorID: "agent-1", RoleIDs: []string{"role-1"}}
	dec, err := eng.CanUseTool(context.Background(), actor, "agent-1", "search_notes")
	if err != nil {
		t.Fatalf("can use tool: %v", err)
	}
	if !dec.Allowed || dec.IdentityMode != IdentityInherit {
		t.Fatalf("unconfigured tool must default to allow+inherit, got %+v", dec)
	}
}

func TestToolDisabledIsDeniedAndAudited(t *testing.T) {
	eng, store, audit := newTestEngine(t)

	store.AddToolAccess(&ToolAccess{
		ID: "ta-1", OrganizationID: "org-1", AgentID: "agent-1", ToolName: "send_email",
		Allowed: false, IdentityMode: IdentityInherit,
	})

	actor := &ActorContext{OrganizationID: "org-1", ActorType: ActorAgent, ActorID: "agent-1"}
	dec, err := eng.CanUseTool(context.Background(), actor, "agent-1", "send_email")
	if err != nil {
		t.Fatalf("can use tool: %v", err)
	}
	if dec.Allowed {
		t.Fatal("disabled tool must be denied")
	}

	eng.Close()
	entries, _ := audit.ListDenials(context.Background(), AuditFilter{Action: "invoke:send_email"})
	if len(entries) != 1 {
		t.Fatalf("tool denial must be audited, got %d entries", len(entries))
	}
	if entries[0].Resource != "agent:agent-1" {
		t.Fatalf("unexpected audit resource %q", entries[0].Resource)
	}
}

func TestToolSystemActorAlwaysAllowed(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	defer eng.Close()

	store.AddToolAccess(&ToolAccess{
		ID: "ta-1", OrganizationID: "org-1", AgentID: "agent-1", ToolName: "send_email",
		Allowed: false, IdentityMode: IdentityInherit,
	})

	actor := &ActorContext{OrganizationID: "org-1", ActorType: ActorSystem, ActorID: "sys"}
	dec, err := eng.CanUseTool(context.Background(), actor, "agent-1", "send_email")
	if err != nil {
		t.Fatalf("can use tool: %v", err)
	}
	if !dec.Allowed {
		t.Fatal("system actor must bypass tool denial")
	}
}

func TestToolIdentityInheritReturnsCaller(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	defer eng.Close()

	actor := &ActorContext{OrganizationID: "org-1", ActorType: ActorUser, ActorID: "user-1", RoleIDs: []string{"role-1"}}
	identity, err := eng.GetToolIdentity(context.Background(), actor, "agent-1", "search_notes")
	if err != nil {
		t.Fatalf("get tool identity: %v", err)
	}
	if identity != actor {
		t.Fatal("inherit mode must return the caller's context unchanged")
	}
}

func TestToolIdentitySystemMode(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	defer eng.Close()

	store.AddRole(&Role{ID: "role-sys", OrganizationID: "org-1", Name: "system", Environment: "live", IsSystem: true})
	store.AddToolAccess(&ToolAccess{
		ID: "ta-1", OrganizationID: "org-1", AgentID: "agent-1", ToolName: "provision",
		Allowed: true, IdentityMode: IdentitySystem,
	})

	actor := &ActorContext{OrganizationID: "org-1", ActorType: ActorUser, ActorID: "user-1", RoleIDs: []string{"role-x"}, Environment: "live"}
	identity, err := eng.GetToolIdentity(context.Background(), actor, "agent-1", "provision")
	if err != nil {
		t.Fatalf("get tool identity: %v", err)
	}
	if identity.ActorType != ActorSystem || !identity.IsOrgAdmin {
		t.Fatalf("system mode must synthesize a system admin context, got %+v", identity)
	}
	if len(identity.RoleIDs) != 1 || identity.RoleIDs[0] != "role-sys" {
		t.Fatalf("system role not attached: %v", identity.RoleIDs)
	}
	if identity.ActorID != "user-1" {
		t.Fatalf("actor id must be preserved for attribution, got %q", identity.ActorID)
	}
}

func TestToolIdentityConfiguredModeReplacesRoles(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	defer eng.Close()

	store.AddToolAccess(&ToolAccess{
		ID: "ta-1", OrganizationID: "org-1", AgentID: "agent-1", ToolName: "grade_homework",
		Allowed: true, IdentityMode: IdentityConfigured, ConfiguredRoleID: "role-grader",
	})

	actor := &ActorContext{OrganizationID: "org-1", ActorType: ActorUser, ActorID: "user-1", RoleIDs: []string{"role-a", "role-b"}}
	identity, err := eng.GetToolIdentity(context.Background(), actor, "agent-1", "grade_homework")
	if err != nil {
		t.Fatalf("get tool identity: %v", err)
	}
	if len(identity.RoleIDs) != 1 || identity.RoleIDs[0] != "role-grader" {
		t.Fatalf("configured mode must replace roles, got %v", identity.RoleIDs)
	}
	if identity == actor || len(actor.RoleIDs) != 2 {
		t.Fatal("caller context must not be mutated")
	}
	if identity.ActorID != "user-1" || identity.OrganizationID != "org-1" {
		t.Fatalf("identity must stay the caller's apart from roles: %+v", identity)
	}
}

func TestToolIdentityConfiguredWithoutRoleIsConfigError(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	defer eng.Close()

	store.AddToolAccess(&ToolAccess{
		ID: "ta-1", OrganizationID: "org-1", AgentID: "agent-1", ToolName: "grade_homework",
		Allowed: true, IdentityMode: IdentityConfigured,
	})

	actor := &ActorContext{OrganizationID: "org-1", ActorType: ActorUser, ActorID: "user-1"}
	_, err := eng.GetToolIdentity(context.Background(), actor, "agent-1", "grade_homework")
	if err == nil {
		t.Fatal("expected config error")
	}
	if _, ok := err.(*ConfigError); !ok {
		t.Fatalf("expected *ConfigError, got %T: %v", err, err)
	}
}

func TestToolIdentityUnknownModeIsConfigError(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	defer eng.Close()

	store.AddToolAccess(&ToolAccess{
		ID: "ta-1", OrganizationID: "org-1", AgentID: "agent-1", ToolName: "grade_homework",
		Allowed: true, IdentityMode: IdentityMode("impersonate"),
	})

	actor := &ActorContext{OrganizationID: "org-1", ActorType: ActorUser, ActorID: "user-1"}
	_, err := eng.GetToolIdentity(context.Background(), actor, "agent-1", "grade_homework")
	if err == nil {
		t.Fatal("expected config error for unknown mode")
	}
	if _, ok := err.(*ConfigError); !ok {
		t.Fatalf("expected *ConfigError, got %T: %v", err, err)
	}
}
