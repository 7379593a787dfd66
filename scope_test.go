package entguard

import (
	"context"
	"testing"
)

func TestParseScopeValue(t *testing.T) {
	cases := []struct {
		in       string
		kind     ScopeValueKind
		literal  string
		relation string
	}{
		{"actor.userId", ValueActorUserID, "", ""},
		{"actor.organizationId", ValueActorOrgID, "", ""},
		{"actor.entityId", ValueActorEntityID, "", ""},
		{"actor.relatedIds:teaches", ValueActorRelated, "", "teaches"},
		{"literal:active", ValueLiteral, "active", ""},
		{"plain-value", ValueRaw, "plain-value", ""},
	}
	for _, c := range cases {
		v := ParseScopeValue(c.in)
		if v.Kind != c.kind || v.Literal != c.literal || v.RelationType != c.relation {
			t.Fatalf("parse %q: got %+v", c.in, v)
		}
		if v.Raw != c.in {
			t.Fatalf("parse %q: raw form not preserved: %q", c.in, v.Raw)
		}
	}
}

func TestScopeFiltersSkippedForPrivilegedActors(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	defer eng.Close()

	p := seedRolePolicy(store, "role-1", "session", "list", EffectAllow)
	store.AddScopeRule(&ScopeRule{ID: "sr-1", PolicyID: p.ID, Type: ScopeRuleField, Field: "ownerId", Operator: OpEq, Value: ParseScopeValue("actor.userId")})

	ctx := context.Background()
	admin := &ActorContext{OrganizationID: "org-1", ActorType: ActorUser, ActorID: "admin", IsOrgAdmin: true, RoleIDs: []string{"role-1"}}
	filters, err := eng.GetScopeFilters(ctx, admin, "session")
	if err != nil || len(filters) != 0 {
		t.Fatalf("admin must get no filters, got %v %v", filters, err)
	}

	system := &ActorContext{OrganizationID: "org-1", ActorType: ActorSystem, ActorID: "sys", RoleIDs: []string{"role-1"}}
	filters, err = eng.GetScopeFilters(ctx, system, "session")
	if err != nil || len(filters) != 0 {
		t.Fatalf("system actor must get no filters, got %v %v", filters, err)
	}
}

func TestScopeFilterActorUserID(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	defer eng.Close()

	p := seedRolePolicy(store, "role-1", "session", "list", EffectAllow)
	store.AddScopeRule(&ScopeRule{ID: "sr-1", PolicyID: p.ID, Type: ScopeRuleField, Field: "ownerId", Operator: OpEq, Value: ParseScopeValue("actor.userId")})

	actor := &ActorContext{OrganizationID: "org-1", ActorType: ActorUser, ActorID: "user-1", RoleIDs: []string{"role-1"}}
	filters, err := eng.GetScopeFilters(context.Background(), actor, "session")
	if err != nil {
		t.Fatalf("get filters: %v", err)
	}
	if len(filters) != 1 {
		t.Fatalf("expected 1 filter, got %d", len(filters))
	}

	records := []Record{
		{"_id": "s-1", "ownerId": "user-1"},
		{"_id": "s-2", "ownerId": "user-2"},
		{"_id": "s-3", "data": map[string]any{"ownerId": "user-1"}},
	}
	visible := ApplyScopeFilters(records, filters)
	if len(visible) != 2 {
		t.Fatalf("expected 2 visible records, got %d", len(visible))
	}
	if visible[0]["_id"] != "s-1" || visible[1]["_id"] != "s-3" {
		t.Fatalf("wrong records survived: %v", visible)
	}
}

func TestScopeFiltersCombineWithOR(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	defer eng.Close()

	// two allow policies, each granting its own slice of rows
	p1 := seedRolePolicy(store, "role-1", "session", "list", EffectAllow)
	store.AddScopeRule(&ScopeRule{ID: "sr-1", PolicyID: p1.ID, Type: ScopeRuleField, Field: "ownerId", Operator: OpEq, Value: ParseScopeValue("actor.userId")})
	p2 := seedRolePolicy(store, "role-2", "session", "read", EffectAllow)
	store.AddScopeRule(&ScopeRule{ID: "sr-2", PolicyID: p2.ID, Type: ScopeRuleField, Field: "status", Operator: OpEq, Value: ParseScopeValue("literal:public")})

	actor := &ActorContext{OrganizationID: "org-1", ActorType: ActorUser, ActorID: "user-1", RoleIDs: []string{"role-1", "role-2"}}
	filters, err := eng.GetScopeFilters(context.Background(), actor, "session")
	if err != nil {
		t.Fatalf("get filters: %v", err)
	}
	if len(filters) != 2 {
		t.Fatalf("expected 2 filters, got %d", len(filters))
	}

	records := []Record{
		{"_id": "s-1", "ownerId": "user-1", "status": "private"},
		{"_id": "s-2", "ownerId": "user-2", "status": "public"},
		{"_id": "s-3", "ownerId": "user-2", "status": "private"},
	}
	visible := ApplyScopeFilters(records, filters)
	if len(visible) != 2 {
		t.Fatalf("OR combination should keep 2 records, got %d: %v", len(visible), visible)
	}
}

func TestScopeFilterOperators(t *testing.T) {
	rec := Record{"status": "in-progress", "ownerId": "u-1"}

	eq := ScopeFilter{Field: "status", Operator: OpEq, Resolved: "in-progress"}
	if !eq.Matches(rec) {
		t.Fatal("eq should match")
	}
	neq := ScopeFilter{Field: "status", Operator: OpNeq, Resolved: "done"}
	if !neq.Matches(rec) {
		t.Fatal("neq should match differing value")
	}
	// neq also matches when the field is missing
	if !(&ScopeFilter{Field: "ghost", Operator: OpNeq, Resolved: "x"}).Matches(rec) {
		t.Fatal("neq should match missing field")
	}
	in := ScopeFilter{Field: "ownerId", Operator: OpIn, Resolved: []string{"u-2", "u-1"}}
	if !in.Matches(rec) {
		t.Fatal("in should match membership")
	}
	notIn := ScopeFilter{Field: "ownerId", Operator: OpIn, Resolved: []string{"u-2", "u-3"}}
	if notIn.Matches(rec) {
		t.Fatal("in should reject non-member")
	}
	contains := ScopeFilter{Field: "status", Operator: OpContains, Resolved: "progress"}
	if !contains.Matches(rec) {
		t.Fatal("contains should match substring")
	}
	none := ScopeFilter{Field: "status", Operator: OpEq, Resolved: "in-progress", MatchNone: true}
	if none.Matches(rec) {
		t.Fatal("match-none filter must reject everything")
	}
}

func TestBoundEntityResolution(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	defer eng.Close()

	store.AddRole(&Role{ID: "role-teacher", OrganizationID: "org-1", Name: "teacher", Environment: "live"})
	store.AddEntityType(&EntityType{ID: "et-teacher", OrganizationID: "org-1", Slug: "teacher", BoundToRole: "teacher", UserIDField: "userId"})
	store.AddEntity("org-1", "et-teacher", Record{"_id": "teacher-ent-1", "data": map[string]any{"userId": "user-1"}})

	p := seedRolePolicy(store, "role-teacher", "session", "list", EffectAllow)
	store.AddScopeRule(&ScopeRule{ID: "sr-1", PolicyID: p.ID, Type: ScopeRuleField, Field: "teacherId", Operator: OpEq, Value: ParseScopeValue("actor.entityId")})

	actor := &ActorContext{OrganizationID: "org-1", ActorType: ActorUser, ActorID: "user-1", RoleIDs: []string{"role-teacher"}, Environment: "live"}
	filters, err := eng.GetScopeFilters(context.Background(), actor, "session")
	if err != nil {
		t.Fatalf("get filters: %v", err)
	}
	if len(filters) != 1 || filters[0].MatchNone {
		t.Fatalf("expected resolved filter, got %+v", filters)
	}
	if filters[0].Resolved != "teacher-ent-1" {
		t.Fatalf("expected bound entity id, got %v", filters[0].Resolved)
	}
}

func TestUnresolvableBoundEntityMatchesNothing(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	defer eng.Close()

	// role exists but no entity record is bound to this user
	store.AddRole(&Role{ID: "role-guardian", OrganizationID: "org-1", Name: "guardian", Environment: "live"})
	store.AddEntityType(&EntityType{ID: "et-guardian", OrganizationID: "org-1", Slug: "guardian", BoundToRole: "guardian", UserIDField: "userId"})

	p := seedRolePolicy(store, "role-guardian", "student", "list", EffectAllow)
	store.AddScopeRule(&ScopeRule{ID: "sr-1", PolicyID: p.ID, Type: ScopeRuleField, Field: "guardianId", Operator: OpEq, Value: ParseScopeValue("actor.entityId")})

	actor := &ActorContext{OrganizationID: "org-1", ActorType: ActorUser, ActorID: "user-without-profile", RoleIDs: []string{"role-guardian"}}
	filters, err := eng.GetScopeFilters(context.Background(), actor, "student")
	if err != nil {
		t.Fatalf("unresolvable placeholder must not error: %v", err)
	}
	if len(filters) != 1 || !filters[0].MatchNone {
		t.Fatalf("expected match-none filter, got %+v", filters)
	}

	records := []Record{{"_id": "st-1", "guardianId": "anything"}}
	if visible := ApplyScopeFilters(records, filters); len(visible) != 0 {
		t.Fatalf("match-none filter leaked records: %v", visible)
	}
}

func TestRelatedIDsResolution(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	defer eng.Close()

	store.AddRole(&Role{ID: "role-teacher", OrganizationID: "org-1", Name: "teacher", Environment: "live"})
	store.AddEntityType(&EntityType{ID: "et-teacher", OrganizationID: "org-1", Slug: "teacher", BoundToRole: "teacher", UserIDField: "userId"})
	store.AddEntity("org-1", "et-teacher", Record{"_id": "teacher-ent-1", "data": map[string]any{"userId": "user-1"}})
	store.AddRelation("org-1", "teacher-ent-1", "student-1", "teaches")
	store.AddRelation("org-1", "teacher-ent-1", "student-2", "teaches")

	p := seedRolePolicy(store, "role-teacher", "student", "list", EffectAllow)
	store.AddScopeRule(&ScopeRule{ID: "sr-1", PolicyID: p.ID, Type: ScopeRuleField, Field: "_id", Operator: OpIn, Value: ParseScopeValue("actor.relatedIds:teaches")})

	actor := &ActorContext{OrganizationID: "org-1", ActorType: ActorUser, ActorID: "user-1", RoleIDs: []string{"role-teacher"}}
	filters, err := eng.GetScopeFilters(context.Background(), actor, "student")
	if err != nil {
		t.Fatalf("get filters: %v", err)
	}
	if len(filters) != 1 {
		t.Fatalf("expected 1 filter, got %d", len(filters))
	}

	records := []Record{
		{"_id": "student-1"},
		{"_id": "student-2"},
		{"_id": "student-3"},
	}
	visible := ApplyScopeFilters(records, filters)
	if len(visible) != 2 {
		t.Fatalf("expected 2 related students, got %d", len(visible))
	}
}

func TestRelatedIDsWithoutBoundEntityYieldEmptySet(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	defer eng.Close()

	store.AddRole(&Role{ID: "role-teacher", OrganizationID: "org-1", Name: "teacher", Environment: "live"})
	p := seedRolePolicy(store, "role-teacher", "student", "list", EffectAllow)
	store.AddScopeRule(&ScopeRule{ID: "sr-1", PolicyID: p.ID, Type: ScopeRuleField, Field: "_id", Operator: OpIn, Value: ParseScopeValue("actor.relatedIds:teaches")})

	actor := &ActorContext{OrganizationID: "org-1", ActorType: ActorUser, ActorID: "user-1", RoleIDs: []string{"role-teacher"}}
	filters, err := eng.GetScopeFilters(context.Background(), actor, "student")
	if err != nil {
		t.Fatalf("get filters: %v", err)
	}
	records := []Record{{"_id": "student-1"}}
	if visible := ApplyScopeFilters(records, filters); len(visible) != 0 {
		t.Fatalf("empty related set must match nothing, got %v", visible)
	}
}

func TestScopeRulesOnDenyPoliciesAreIgnored(t *testing.T) {
	eng, store, _ := newTestEngine(t)
	defer eng.Close()

	p := seedRolePolicy(store, "role-1", "session", "list", EffectDeny)
	store.AddScopeRule(&ScopeRule{ID: "sr-1", PolicyID: p.ID, Type: ScopeRuleField, Field: "ownerId", Operator: OpEq, Value: ParseScopeValue("actor.userId")})

	actor := &ActorContext{OrganizationID: "org-1", ActorType: ActorUser, ActorID: "user-1", RoleIDs: []string{"role-1"}}
	filters, err := eng.GetScopeFilters(context.Background(), actor, "session")
	if err != nil {
		t.Fatalf("get filters: %v", err)
	}
	if len(filters) != 0 {
		t.Fatalf("deny policies must not contribute filters, got %v", filters)
	}
}
