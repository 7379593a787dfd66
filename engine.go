package entguard

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oarkflow/entguard/logger"
)

// ============================================================================
// ENGINE
// ============================================================================

// Engine is the authorization decision core. It is stateless across calls:
// every logical operation resolves its ActorContext and re-reads policies
// from the backing stores, so concurrent requests are fully independent.
type Engine struct {
	policyStore PolicyStore
	entityStore EntityStore
	toolStore   ToolAccessStore
	auditStore  AuditStore

	logger      logger.Logger
	traceIDFunc logger.TraceIDFunc

	auditCh   chan AuditEntry
	auditWG   sync.WaitGroup
	closeOnce sync.Once
	seq       atomic.Uint64
}

// EngineOption customizes engine construction
type EngineOption func(*Engine) error

// WithLogger installs a Logger on the Engine
func WithLogger(l logger.Logger) EngineOption {
	return func(e *Engine) error {
		e.logger = l
		return nil
	}
}

// WithTraceIDFunc installs a custom trace ID generator on the engine.
func WithTraceIDFunc(f logger.TraceIDFunc) EngineOption {
	return func(e *Engine) error {
		e.traceIDFunc = f
		return nil
	}
}

// WithAuditBuffer sets the capacity of the asynchronous denial queue.
func WithAuditBuffer(n int) EngineOption {
	return func(e *Engine) error {
		if n > 0 {
			e.auditCh = make(chan AuditEntry, n)
		}
		return nil
	}
}

// NewEngine wires the engine to its backing stores. auditStore may be nil
// when no denial record is wanted; logging still happens.
func NewEngine(policyStore PolicyStore, entityStore EntityStore, toolStore ToolAccessStore, auditStore AuditStore, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		policyStore: policyStore,
		entityStore: entityStore,
		toolStore:   toolStore,
		auditStore:  auditStore,
		logger:      logger.NewNullLogger(),
		auditCh:     make(chan AuditEntry, 1024),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	e.auditWG.Add(1)
	go func() {
		defer e.auditWG.Done()
		bg := context.Background()
		for entry := range e.auditCh {
			if e.auditStore == nil {
				continue
			}
			if err := e.auditStore.LogDenial(bg, &entry); err != nil {
				e.logger.Error("audit write failed", "error", err.Error(), "actor", entry.ActorID)
			}
		}
	}()
	return e, nil
}

// Close drains the audit queue and stops the worker. The engine must not be
// used after Close.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.auditCh)
		e.auditWG.Wait()
	})
}

// auditDenial queues a structured denial record and logs it. Auditing is
// advisory: a full queue drops the entry rather than stalling the decision.
func (e *Engine) auditDenial(_ context.Context, actor *ActorContext, action, resource, reason string) {
	traceID := ""
	if e.traceIDFunc != nil {
		traceID = e.traceIDFunc()
	}
	e.logger.Debug("access denied",
		"organization", actor.OrganizationID,
		"actor", actor.ActorID,
		"actor_type", string(actor.ActorType),
		"action", action,
		"resource", resource,
		"reason", reason,
	)
	entry := AuditEntry{
		ID:             "den-" + strconv.FormatUint(e.seq.Add(1), 10),
		Timestamp:      time.Now(),
		OrganizationID: actor.OrganizationID,
		ActorID:        actor.ActorID,
		ActorType:      actor.ActorType,
		RoleIDs:        append([]string(nil), actor.RoleIDs...),
		Action:         action,
		Resource:       resource,
		Reason:         reason,
		TraceID:        traceID,
	}
	select {
	case e.auditCh <- entry:
	default:
		e.logger.Error("audit queue full, denial dropped", "actor", actor.ActorID, "resource", resource)
	}
}

// ============================================================================
// ACTOR CONTEXT BUILDER
// ============================================================================

// BuildActorContext resolves a raw (organization, actor type, actor id,
// environment) tuple into a fully qualified ActorContext. Missing
// memberships or assignments are not errors; they yield a minimally
// privileged context.
func (e *Engine) BuildActorContext(ctx context.Context, organizationID string, actorType ActorType, actorID, environment string) (*ActorContext, error) {
	actor := &ActorContext{
		OrganizationID: organizationID,
		ActorType:      actorType,
		ActorID:        actorID,
		RoleIDs:        []string{},
		Environment:    environment,
	}

	if actorType == ActorSystem {
		actor.IsOrgAdmin = true
		sysRole, err := e.policyStore.GetSystemRole(ctx, organizationID, environment)
		if err != nil {
			return nil, err
		}
		if sysRole != nil {
			actor.RoleIDs = []string{sysRole.ID}
		}
		return actor, nil
	}

	if actorType == ActorUser {
		membership, err := e.policyStore.GetMembership(ctx, organizationID, actorID)
		if err != nil {
			return nil, err
		}
		actor.IsOrgAdmin = membership.IsAdmin()
	}

	roleIDs, err := e.validRoleIDs(ctx, organizationID, actorID, environment)
	if err != nil {
		return nil, err
	}
	actor.RoleIDs = roleIDs
	return actor, nil
}

// validRoleIDs keeps only unexpired assignments whose role belongs to the
// same organization and environment. Validity filtering happens here, not
// during evaluation.
func (e *Engine) validRoleIDs(ctx context.Context, organizationID, actorID, environment string) ([]string, error) {
	assignments, err := e.policyStore.ListRoleAssignments(ctx, organizationID, actorID)
	if err != nil {
		return nil, err
	}
	roleIDs := make([]string, 0, len(assignments))
	for _, a := range assignments {
		if a.IsExpired() {
			continue
		}
		role, err := e.policyStore.GetRole(ctx, a.RoleID)
		if err != nil {
			return nil, err
		}
		if role == nil || role.OrganizationID != organizationID || role.Environment != environment {
			continue
		}
		roleIDs = append(roleIDs, role.ID)
	}
	return roleIDs, nil
}

// ============================================================================
// LIST PIPELINE
// ============================================================================

// FilterRecords runs the full read pipeline for a batch of records: the
// all-or-nothing gate, then row-level scope filtering, then field masking.
// A denial returns an empty batch, not an error.
func (e *Engine) FilterRecords(ctx context.Context, actor *ActorContext, action, resource string, records []Record) ([]Record, error) {
	decision, err := e.CanPerform(ctx, actor, action, resource)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return []Record{}, nil
	}

	filters, err := e.GetScopeFilters(ctx, actor, resource)
	if err != nil {
		return nil, err
	}
	visible := ApplyScopeFilters(records, filters)

	mask, err := e.GetFieldMask(ctx, actor, resource)
	if err != nil {
		return nil, err
	}
	if mask.IsWildcard {
		return visible, nil
	}
	out := make([]Record, 0, len(visible))
	for _, rec := range visible {
		out = append(out, ApplyFieldMask(rec, mask))
	}
	return out, nil
}
