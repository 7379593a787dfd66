package entguard

import (
	"context"
	"fmt"
	"time"

	"github.com/oarkflow/entguard/utils"
)

// Denial reasons surfaced in decisions and audit entries.
const (
	ReasonOrgAdmin       = "organization admin"
	ReasonSystemImplicit = "system actor has implicit access"
	ReasonNoRoles        = "actor has no roles assigned"
	ReasonExplicitDeny   = "explicit deny policy"
	ReasonPolicyAllow    = "policy allow"
	ReasonNoPolicy       = "no policy grants action on resource"
)

// anyAction relaxes the action dimension when collecting the applicable
// set for scope filters and field masks.
const anyAction = ""

// CanPerform decides whether the actor may perform action on resource.
// It never returns a non-nil error for a denial; denials are soft and
// carried in the Decision so read paths cannot leak record existence.
func (e *Engine) CanPerform(ctx context.Context, actor *ActorContext, action, resource string) (*Decision, error) {
	return e.canPerform(ctx, actor, action, resource, false)
}

// Explain is CanPerform with a step-by-step trace attached to the decision.
func (e *Engine) Explain(ctx context.Context, actor *ActorContext, action, resource string) (*Decision, error) {
	return e.canPerform(ctx, actor, action, resource, true)
}

func (e *Engine) canPerform(ctx context.Context, actor *ActorContext, action, resource string, includeTrace bool) (*Decision, error) {
	decision := &Decision{Timestamp: time.Now()}
	trace := func(format string, args ...any) {
		if includeTrace {
			decision.Trace = append(decision.Trace, fmt.Sprintf(format, args...))
		}
	}

	// 1. Org admins bypass policy evaluation entirely.
	if actor.IsOrgAdmin {
		decision.Allowed = true
		decision.Reason = ReasonOrgAdmin
		trace("ALLOW: actor is organization admin")
		return decision, nil
	}

	// 2. No roles: system actors have implicit access, everyone else has none.
	if len(actor.RoleIDs) == 0 {
		if actor.ActorType == ActorSystem {
			decision.Allowed = true
			decision.Reason = ReasonSystemImplicit
			trace("ALLOW: system actor without roles")
			return decision, nil
		}
		decision.Reason = ReasonNoRoles
		trace("DENY: no valid role assignments")
		e.auditDenial(ctx, actor, action, resource, decision.Reason)
		return decision, nil
	}

	// 3. Applicable set: org-partitioned policies of the actor's roles whose
	// resource and action match the target (exact or wildcard).
	applicable, err := e.applicablePolicies(ctx, actor, action, resource)
	if err != nil {
		return nil, err
	}
	decision.EvaluatedPolicies = len(applicable)
	trace("evaluating %d applicable policies", len(applicable))

	// 4. A matching deny wins over any allow, in any order. Priority is
	// stored on policies but not consulted.
	var allow *Policy
	for _, p := range applicable {
		if p.Effect == EffectDeny {
			decision.Reason = ReasonExplicitDeny
			decision.MatchedPolicy = p.ID
			trace("DENY: policy %s", p.ID)
			e.auditDenial(ctx, actor, action, resource, decision.Reason)
			return decision, nil
		}
		if allow == nil && p.Effect == EffectAllow {
			allow = p
		}
	}
	if allow != nil {
		decision.Allowed = true
		decision.Reason = ReasonPolicyAllow
		decision.MatchedPolicy = allow.ID
		trace("ALLOW: policy %s", allow.ID)
		return decision, nil
	}

	decision.Reason = ReasonNoPolicy
	trace("DENY: no policy grants %s on %s", action, resource)
	e.auditDenial(ctx, actor, action, resource, decision.Reason)
	return decision, nil
}

// AssertCanPerform is the hard-denial form used on mutation paths: it
// returns a *PermissionError when the decision is a denial.
func (e *Engine) AssertCanPerform(ctx context.Context, actor *ActorContext, action, resource string) error {
	decision, err := e.CanPerform(ctx, actor, action, resource)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return &PermissionError{
			OrganizationID: actor.OrganizationID,
			ActorID:        actor.ActorID,
			ActorType:      actor.ActorType,
			Action:         action,
			Resource:       resource,
			Reason:         decision.Reason,
		}
	}
	return nil
}

// applicablePolicies loads the actor's org+role partitioned policies and
// keeps those matching the target resource and action. action==anyAction
// skips the action dimension (scope filter / field mask collection).
func (e *Engine) applicablePolicies(ctx context.Context, actor *ActorContext, action, resource string) ([]*Policy, error) {
	policies, err := e.policyStore.ListPolicies(ctx, actor.OrganizationID, actor.RoleIDs)
	if err != nil {
		return nil, err
	}
	out := make([]*Policy, 0, len(policies))
	for _, p := range policies {
		if p.OrganizationID != actor.OrganizationID {
			continue
		}
		if !utils.MatchWildcard(p.Resource, resource) {
			continue
		}
		if action != anyAction && !utils.MatchWildcard(p.Action, action) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// AccessRequest is one item of a batch decision.
type AccessRequest struct {
	Actor    *ActorContext
	Action   string
	Resource string
}

// BatchCanPerform evaluates several requests sequentially and returns the
// decisions in order. A store failure aborts the batch.
func (e *Engine) BatchCanPerform(ctx context.Context, requests []AccessRequest) ([]*Decision, error) {
	out := make([]*Decision, len(requests))
	for i, req := range requests {
		d, err := e.CanPerform(ctx, req.Actor, req.Action, req.Resource)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

// ListAllowedActions returns the subset of candidate actions the actor may
// perform on resource.
func (e *Engine) ListAllowedActions(ctx context.Context, actor *ActorContext, resource string, candidates []string) ([]string, error) {
	allowed := make([]string, 0, len(candidates))
	for _, action := range candidates {
		d, err := e.CanPerform(ctx, actor, action, resource)
		if err != nil {
			return nil, err
		}
		if d.Allowed {
			allowed = append(allowed, action)
		}
	}
	return allowed, nil
}
