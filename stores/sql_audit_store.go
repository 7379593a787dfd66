package stores

import (
	"context"
	"encoding/json"

	"github.com/oarkflow/entguard"
	"github.com/oarkflow/squealx"
)

// SQLAuditStore persists denial entries in SQL
type SQLAuditStore struct {
	db *squealx.DB
}

func NewSQLAuditStore(db *squealx.DB) (*SQLAuditStore, error) {
	return &SQLAuditStore{db: db}, nil
}

func (s *SQLAuditStore) LogDenial(ctx context.Context, entry *entguard.AuditEntry) error {
	roleIDs, _ := json.Marshal(entry.RoleIDs)
	q := `INSERT INTO audit_denials(id, timestamp, organization_id, actor_id, actor_type, role_ids_json, action, resource, reason, trace_id) VALUES(:id, :timestamp, :organization_id, :actor_id, :actor_type, :role_ids_json, :action, :resource, :reason, :trace_id)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":              entry.ID,
		"timestamp":       entry.Timestamp,
		"organization_id": entry.OrganizationID,
		"actor_id":        entry.ActorID,
		"actor_type":      string(entry.ActorType),
		"role_ids_json":   string(roleIDs),
		"action":          entry.Action,
		"resource":        entry.Resource,
		"reason":          entry.Reason,
		"trace_id":        entry.TraceID,
	})
	return err
}

func (s *SQLAuditStore) ListDenials(ctx context.Context, filter entguard.AuditFilter) ([]*entguard.AuditEntry, error) {
	q := `SELECT id, timestamp, organization_id, actor_id, actor_type, role_ids_json, action, resource, reason, trace_id FROM audit_denials WHERE 1=1`
	params := map[string]any{}
	if filter.OrganizationID != "" {
		q += " AND organization_id = :organization_id"
		params["organization_id"] = filter.OrganizationID
	}
	if filter.ActorID != "" {
		q += " AND actor_id = :actor_id"
		params["actor_id"] = filter.ActorID
	}
	if filter.Resource != "" {
		q += " AND resource = :resource"
		params["resource"] = filter.Resource
	}
	if filter.Action != "" {
		q += " AND action = :action"
		params["action"] = filter.Action
	}
	if !filter.StartTime.IsZero() {
		q += " AND timestamp >= :start"
		params["start"] = filter.StartTime
	}
	if !filter.EndTime.IsZero() {
		q += " AND timestamp <= :end"
		params["end"] = filter.EndTime
	}
	if filter.Limit > 0 {
		q += " LIMIT :limit"
		params["limit"] = filter.Limit
	} else {
		q += " LIMIT 100"
	}
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*entguard.AuditEntry, 0)
	for r.Next() {
		var id, org, actorID, actorType, roleIDsJSON, action, resource, reason, traceID string
		var timestampRaw any
		if err := r.Scan(&id, &timestampRaw, &org, &actorID, &actorType, &roleIDsJSON, &action, &resource, &reason, &traceID); err != nil {
			return nil, err
		}
		entry := &entguard.AuditEntry{
			ID:             id,
			OrganizationID: org,
			ActorID:        actorID,
			ActorType:      entguard.ActorType(actorType),
			Action:         action,
			Resource:       resource,
			Reason:         reason,
			TraceID:        traceID,
		}
		if timestampRaw != nil {
			entry.Timestamp = scanTime(timestampRaw)
		}
		_ = json.Unmarshal([]byte(roleIDsJSON), &entry.RoleIDs)
		out = append(out, entry)
	}
	return out, nil
}
