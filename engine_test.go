package entguard

import (
	"context"
	"testing"
	"time"
)

func TestBuildActorContextAdminMembership(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	defer eng.Close()

	store.AddMembership(&Membership{OrganizationID: "org-1", UserID: "user-1", MemberRole: "admin"})

	actor, err := eng.BuildActorContext(context.Background(), "org-1", ActorUser, "user-1", "live")
	if err != nil {
		t.Fatalf("build actor: %v", err)
	}
	if !actor.IsOrgAdmin {
		t.Fatal("admin membership must set IsOrgAdmin")
	}

	// plain members and unknown users are not admins
	store.AddMembership(&Membership{OrganizationID: "org-1", UserID: "user-2", MemberRole: "member"})
	actor, _ = eng.BuildActorContext(context.Background(), "org-1", ActorUser, "user-2", "live")
	if actor.IsOrgAdmin {
		t.Fatal("member must not be org admin")
	}
	actor, _ = eng.BuildActorContext(context.Background(), "org-1", ActorUser, "ghost", "live")
	if actor.IsOrgAdmin {
		t.Fatal("missing membership must not grant admin")
	}
}

func TestBuildActorContextSystemActor(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	defer eng.Close()

	store.AddRole(&Role{ID: "role-sys", OrganizationID: "org-1", Name: "system", Environment: "live", IsSystem: true})

	actor, err := eng.BuildActorContext(context.Background(), "org-1", ActorSystem, "scheduler", "live")
	if err != nil {
		t.Fatalf("build actor: %v", err)
	}
	if !actor.IsOrgAdmin || actor.ActorType != ActorSystem {
		t.Fatalf("unexpected system context: %+v", actor)
	}
	if len(actor.RoleIDs) != 1 || actor.RoleIDs[0] != "role-sys" {
		t.Fatalf("system role not attached: %v", actor.RoleIDs)
	}

	// no system role registered for this environment
	actor, err = eng.BuildActorContext(context.Background(), "org-1", ActorSystem, "scheduler", "sandbox")
	if err != nil {
		t.Fatalf("build actor: %v", err)
	}
	if len(actor.RoleIDs) != 0 || !actor.IsOrgAdmin {
		t.Fatalf("system actor without system role keeps implicit access: %+v", actor)
	}
}

func TestBuildActorContextFiltersAssignments(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	defer eng.Close()

	store.AddRole(&Role{ID: "role-live", OrganizationID: "org-1", Name: "teacher", Environment: "live"})
	store.AddRole(&Role{ID: "role-sandbox", OrganizationID: "org-1", Name: "teacher", Environment: "sandbox"})
	store.AddRole(&Role{ID: "role-foreign", OrganizationID: "org-2", Name: "teacher", Environment: "live"})

	store.AddAssignment(&RoleAssignment{UserID: "user-1", RoleID: "role-live"})
	store.AddAssignment(&RoleAssignment{UserID: "user-1", RoleID: "role-sandbox"})
	store.AddAssignment(&RoleAssignment{UserID: "user-1", RoleID: "role-foreign"})
	store.AddAssignment(&RoleAssignment{UserID: "user-1", RoleID: "role-live", ExpiresAt: time.Now().Add(-time.Hour)})
	store.AddAssignment(&RoleAssignment{UserID: "user-1", RoleID: "role-missing"})

	actor, err := eng.BuildActorContext(context.Background(), "org-1", ActorUser, "user-1", "live")
	if err != nil {
		t.Fatalf("build actor: %v", err)
	}
	// only the unexpired, same-org, same-environment assignment survives;
	// the expired duplicate of role-live is filtered independently
	count := 0
	for _, id := range actor.RoleIDs {
		if id == "role-live" {
			count++
		}
		if id == "role-sandbox" || id == "role-foreign" || id == "role-missing" {
			t.Fatalf("invalid role leaked into context: %v", actor.RoleIDs)
		}
	}
	if count == 0 {
		t.Fatalf("valid role missing from context: %v", actor.RoleIDs)
	}
}

func TestFilterRecordsEndToEnd(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	defer eng.Close()

	store.AddRole(&Role{ID: "role-teacher", OrganizationID: "org-1", Name: "teacher", Environment: "live"})
	store.AddEntityType(&EntityType{ID: "et-teacher", OrganizationID: "org-1", Slug: "teacher", BoundToRole: "teacher", UserIDField: "userId"})
	store.AddEntity("org-1", "et-teacher", Record{"_id": "teacher-ent-1", "data": map[string]any{"userId": "user-1"}})

	p := seedRolePolicy(store, "role-teacher", "session", "list", EffectAllow)
	store.AddScopeRule(&ScopeRule{ID: "sr-1", PolicyID: p.ID, Type: ScopeRuleField, Field: "teacherId", Operator: OpEq, Value: ParseScopeValue("actor.entityId")})
	store.AddFieldMask(&FieldMask{ID: "fm-1", PolicyID: p.ID, FieldPath: "notes", MaskType: MaskHide})

	actor := &ActorContext{OrganizationID: "org-1", ActorType: ActorUser, ActorID: "user-1", RoleIDs: []string{"role-teacher"}, Environment: "live"}
	records := []Record{
		{"_id": "s-1", "teacherId": "teacher-ent-1", "notes": "private", "topic": "algebra"},
		{"_id": "s-2", "teacherId": "teacher-ent-2", "notes": "other", "topic": "biology"},
	}

	out, err := eng.FilterRecords(context.Background(), actor, "list", "session", records)
	if err != nil {
		t.Fatalf("filter records: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 visible record, got %d", len(out))
	}
	if out[0]["_id"] != "s-1" || out[0]["topic"] != "algebra" {
		t.Fatalf("wrong record survived: %v", out[0])
	}
	if _, ok := out[0]["notes"]; ok {
		t.Fatal("masked field leaked through the pipeline")
	}
}

func TestFilterRecordsDenialReturnsEmptyBatch(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	defer eng.Close()

	actor := &ActorContext{OrganizationID: "org-1", ActorType: ActorUser, ActorID: "user-1", RoleIDs: []string{"role-1"}}
	out, err := eng.FilterRecords(context.Background(), actor, "list", "session", []Record{{"_id": "s-1"}})
	if err != nil {
		t.Fatalf("denial must be soft on the read path: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("denied actor must see an empty batch, got %v", out)
	}
}

func TestEngineCloseIsIdempotent(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	eng.Close()
	eng.Close()
}

func TestTraceIDPropagatesToAudit(t *testing.T) {
	store := NewMemoryStore()
	audit := NewMemoryAuditStore()
	eng, err := NewEngine(store, store, store, audit, WithTraceIDFunc(func() string { return "trace-fixed" }))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	actor := &ActorContext{OrganizationID: "org-1", ActorType: ActorUser, ActorID: "user-1"}
	if _, err := eng.CanPerform(context.Background(), actor, "read", "session"); err != nil {
		t.Fatalf("can perform: %v", err)
	}
	eng.Close()

	entries, _ := audit.ListDenials(context.Background(), AuditFilter{ActorID: "user-1"})
	if len(entries) != 1 || entries[0].TraceID != "trace-fixed" {
		t.Fatalf("trace id missing from audit entry: %+v", entries)
	}
}
