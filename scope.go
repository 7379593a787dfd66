package entguard

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ============================================================================
// SCOPE VALUE TEMPLATES
// ============================================================================

// ScopeValueKind tags the parsed form of a scope rule's value template
type ScopeValueKind uint8

const (
	ValueRaw ScopeValueKind = iota
	ValueLiteral
	ValueActorUserID
	ValueActorOrgID
	ValueActorEntityID
	ValueActorRelated
)

// ScopeValue is a scope rule value parsed once at load time, so evaluation
// never re-dispatches on string prefixes.
type ScopeValue struct {
	Kind         ScopeValueKind
	Raw          string // original stored string
	Literal      string // payload for ValueLiteral / ValueRaw
	RelationType string // payload for ValueActorRelated
}

const (
	tmplActorUserID = "actor.userId"
	tmplActorOrgID  = "actor.organizationId"
	tmplActorEntity = "actor.entityId"
	tmplRelatedIDs  = "actor.relatedIds:"
	tmplLiteralPfx  = "literal:"
)

// ParseScopeValue classifies a stored value template. Unknown strings keep
// their raw form and compare as-is.
func ParseScopeValue(s string) ScopeValue {
	switch {
	case s == tmplActorUserID:
		return ScopeValue{Kind: ValueActorUserID, Raw: s}
	case s == tmplActorOrgID:
		return ScopeValue{Kind: ValueActorOrgID, Raw: s}
	case s == tmplActorEntity:
		return ScopeValue{Kind: ValueActorEntityID, Raw: s}
	case strings.HasPrefix(s, tmplRelatedIDs):
		return ScopeValue{Kind: ValueActorRelated, Raw: s, RelationType: s[len(tmplRelatedIDs):]}
	case strings.HasPrefix(s, tmplLiteralPfx):
		return ScopeValue{Kind: ValueLiteral, Raw: s, Literal: s[len(tmplLiteralPfx):]}
	default:
		return ScopeValue{Kind: ValueRaw, Raw: s, Literal: s}
	}
}

func (v ScopeValue) String() string { return v.Raw }

// MarshalText stores the raw template form
func (v ScopeValue) MarshalText() ([]byte, error) { return []byte(v.Raw), nil }

// UnmarshalText re-parses the template, keeping JSON round-trips cheap
func (v *ScopeValue) UnmarshalText(b []byte) error {
	*v = ParseScopeValue(string(b))
	return nil
}

// MarshalYAML stores the raw template form
func (v ScopeValue) MarshalYAML() (any, error) { return v.Raw, nil }

// UnmarshalYAML re-parses the template
func (v *ScopeValue) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	*v = ParseScopeValue(s)
	return nil
}

// ============================================================================
// SCOPE FILTERS
// ============================================================================

// ScopeFilter is one resolved row-level predicate. Resolved holds a string
// for scalar comparisons or a []string for membership tests. A filter whose
// placeholder could not be resolved (no bound entity) matches no record.
type ScopeFilter struct {
	Field     string        `json:"field"`
	Operator  ScopeOperator `json:"operator"`
	Resolved  any           `json:"resolved"`
	MatchNone bool          `json:"match_none"`
	PolicyID  string        `json:"policy_id"`
}

// GetScopeFilters resolves the row-level predicates restricting which
// records of resource the actor may see. Admins, system actors and actors
// without roles get an empty list: scope filtering only narrows within a
// resource the separate all-or-nothing gate already granted.
func (e *Engine) GetScopeFilters(ctx context.Context, actor *ActorContext, resource string) ([]ScopeFilter, error) {
	if actor.IsOrgAdmin || actor.ActorType == ActorSystem || len(actor.RoleIDs) == 0 {
		return nil, nil
	}

	policies, err := e.applicablePolicies(ctx, actor, anyAction, resource)
	if err != nil {
		return nil, err
	}

	res := newScopeResolution(e, actor)
	filters := make([]ScopeFilter, 0)
	for _, p := range policies {
		if p.Effect != EffectAllow {
			continue
		}
		rules, err := e.policyStore.ListScopeRules(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		for _, rule := range rules {
			if rule.Type != ScopeRuleField {
				continue
			}
			resolved, ok, err := res.resolve(ctx, rule.Value)
			if err != nil {
				return nil, err
			}
			filters = append(filters, ScopeFilter{
				Field:     rule.Field,
				Operator:  rule.Operator,
				Resolved:  resolved,
				MatchNone: !ok,
				PolicyID:  p.ID,
			})
		}
	}
	return filters, nil
}

// ApplyScopeFilters keeps every record matching at least one filter. Filters
// combine with OR across all applicable policies; an empty filter list keeps
// everything. The OR combination is deliberate: each allow policy grants its
// own slice of rows.
func ApplyScopeFilters(records []Record, filters []ScopeFilter) []Record {
	if len(filters) == 0 {
		return records
	}
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		for i := range filters {
			if filters[i].Matches(rec) {
				out = append(out, rec)
				break
			}
		}
	}
	return out
}

// Matches evaluates the filter against a single record. The field is read
// from the record's top level first, then from its nested data object.
func (f *ScopeFilter) Matches(rec Record) bool {
	if f.MatchNone {
		return false
	}
	val, ok := recordField(rec, f.Field)
	switch f.Operator {
	case OpEq:
		return ok && equalValues(val, f.Resolved)
	case OpNeq:
		return !ok || !equalValues(val, f.Resolved)
	case OpIn:
		if !ok {
			return false
		}
		set, isSet := f.Resolved.([]string)
		if !isSet {
			return equalValues(val, f.Resolved)
		}
		for _, s := range set {
			if equalValues(val, s) {
				return true
			}
		}
		return false
	case OpContains:
		vs, isStr := val.(string)
		rs, resStr := f.Resolved.(string)
		return ok && isStr && resStr && strings.Contains(vs, rs)
	default:
		return false
	}
}

func recordField(rec Record, field string) (any, bool) {
	if v, ok := rec[field]; ok {
		return v, true
	}
	if data, ok := rec["data"].(map[string]any); ok {
		if v, ok := data[field]; ok {
			return v, true
		}
	}
	return nil, false
}

func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return as == bs
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// ============================================================================
// PLACEHOLDER RESOLUTION
// ============================================================================

// scopeResolution resolves actor-relative placeholders lazily and caches
// results for the duration of one GetScopeFilters call. Bound-entity and
// relation lookups are sequential dependent round-trips (role -> entity
// type -> entity -> edges), so they run at most once per call.
type scopeResolution struct {
	e     *Engine
	actor *ActorContext

	boundResolved bool
	boundEntityID string
	boundFound    bool

	related map[string][]string
}

func newScopeResolution(e *Engine, actor *ActorContext) *scopeResolution {
	return &scopeResolution{e: e, actor: actor}
}

// resolve returns the concrete value for a parsed template. ok=false means
// the placeholder resolved to nothing and the filter must match no record;
// unresolvable placeholders are a safe degradation, never an error.
func (r *scopeResolution) resolve(ctx context.Context, v ScopeValue) (any, bool, error) {
	switch v.Kind {
	case ValueActorUserID:
		return r.actor.ActorID, true, nil
	case ValueActorOrgID:
		return r.actor.OrganizationID, true, nil
	case ValueActorEntityID:
		id, found, err := r.boundEntity(ctx)
		if err != nil {
			return nil, false, err
		}
		return id, found, nil
	case ValueActorRelated:
		ids, err := r.relatedIDs(ctx, v.RelationType)
		if err != nil {
			return nil, false, err
		}
		return ids, true, nil
	case ValueLiteral, ValueRaw:
		return v.Literal, true, nil
	default:
		return v.Raw, true, nil
	}
}

// boundEntity finds the entity record representing the acting user: an
// entity type bound to one of the actor's role names whose data[userIdField]
// equals the actor id. Depth is fixed at one hop per lookup.
func (r *scopeResolution) boundEntity(ctx context.Context) (string, bool, error) {
	if r.boundResolved {
		return r.boundEntityID, r.boundFound, nil
	}
	r.boundResolved = true

	for _, roleID := range r.actor.RoleIDs {
		role, err := r.e.policyStore.GetRole(ctx, roleID)
		if err != nil || role == nil {
			continue
		}
		et, err := r.e.entityStore.GetEntityTypeByBoundRole(ctx, r.actor.OrganizationID, role.Name)
		if err != nil {
			return "", false, err
		}
		if et == nil || et.UserIDField == "" {
			continue
		}
		rec, err := r.e.entityStore.FindBoundEntity(ctx, r.actor.OrganizationID, et.ID, et.UserIDField, r.actor.ActorID)
		if err != nil {
			return "", false, err
		}
		if rec == nil {
			continue
		}
		if id, ok := recordID(rec); ok {
			r.boundEntityID = id
			r.boundFound = true
			return id, true, nil
		}
	}
	return "", false, nil
}

// relatedIDs collects target ids of relation edges of the given type
// originating from the bound entity. No bound entity yields an empty set.
func (r *scopeResolution) relatedIDs(ctx context.Context, relationType string) ([]string, error) {
	if r.related == nil {
		r.related = make(map[string][]string)
	}
	if ids, ok := r.related[relationType]; ok {
		return ids, nil
	}
	entityID, found, err := r.boundEntity(ctx)
	if err != nil {
		return nil, err
	}
	if !found {
		r.related[relationType] = []string{}
		return []string{}, nil
	}
	ids, err := r.e.entityStore.ListRelatedEntityIDs(ctx, r.actor.OrganizationID, entityID, relationType)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	r.related[relationType] = ids
	return ids, nil
}

func recordID(rec Record) (string, bool) {
	for _, key := range []string{"_id", "id"} {
		if v, ok := rec[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}
