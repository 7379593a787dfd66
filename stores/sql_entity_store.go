package stores

import (
	"context"
	"encoding/json"

	"github.com/oarkflow/entguard"
	"github.com/oarkflow/squealx"
)

// SQLEntityStore persists entity types, entity records and their relations.
// Entity payloads are stored as JSON blobs; scope resolution only ever
// inspects a handful of fields so there is no need to project them out.
type SQLEntityStore struct {
	db *squealx.DB
}

func NewSQLEntityStore(db *squealx.DB) *SQLEntityStore {
	return &SQLEntityStore{db: db}
}

func (s *SQLEntityStore) GetEntityTypeByBoundRole(ctx context.Context, organizationID, roleName string) (*entguard.EntityType, error) {
	q := `SELECT id, organization_id, slug, bound_to_role, user_id_field FROM entity_types WHERE organization_id = :organization_id AND bound_to_role = :bound_to_role LIMIT 1`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"organization_id": organizationID, "bound_to_role": roleName})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, nil
	}
	et := &entguard.EntityType{}
	var boundToRole, userIDField *string
	if err := r.Scan(&et.ID, &et.OrganizationID, &et.Slug, &boundToRole, &userIDField); err != nil {
		return nil, err
	}
	if boundToRole != nil {
		et.BoundToRole = *boundToRole
	}
	if userIDField != nil {
		et.UserIDField = *userIDField
	}
	return et, nil
}

func (s *SQLEntityStore) FindBoundEntity(ctx context.Context, organizationID, entityTypeID, userIDField, userID string) (entguard.Record, error) {
	// SQLite JSON1 and Postgres both accept json_extract-style paths;
	// the path itself comes from entity type config, not user input.
	q := `SELECT id, data_json FROM entities WHERE organization_id = :organization_id AND entity_type_id = :entity_type_id AND deleted_at IS NULL AND json_extract(data_json, :path) = :user_id LIMIT 1`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{
		"organization_id": organizationID,
		"entity_type_id":  entityTypeID,
		"path":            "$." + userIDField,
		"user_id":         userID,
	})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, nil
	}
	var id, dataJSON string
	if err := r.Scan(&id, &dataJSON); err != nil {
		return nil, err
	}
	data := map[string]any{}
	_ = json.Unmarshal([]byte(dataJSON), &data)
	return entguard.Record{"_id": id, "data": data}, nil
}

func (s *SQLEntityStore) ListRelatedEntityIDs(ctx context.Context, organizationID, entityID, relationType string) ([]string, error) {
	q := `SELECT to_entity_id FROM entity_relations WHERE organization_id = :organization_id AND from_entity_id = :from_entity_id AND relation_type = :relation_type`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{
		"organization_id": organizationID,
		"from_entity_id":  entityID,
		"relation_type":   relationType,
	})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]string, 0)
	for r.Next() {
		var id string
		if err := r.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// --- writes (config seeding) ---------------------------------------------

func (s *SQLEntityStore) CreateEntityType(ctx context.Context, et *entguard.EntityType) error {
	q := `INSERT OR REPLACE INTO entity_types(id, organization_id, slug, bound_to_role, user_id_field) VALUES(:id, :organization_id, :slug, :bound_to_role, :user_id_field)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":              et.ID,
		"organization_id": et.OrganizationID,
		"slug":            et.Slug,
		"bound_to_role":   et.BoundToRole,
		"user_id_field":   et.UserIDField,
	})
	return err
}

func (s *SQLEntityStore) CreateEntity(ctx context.Context, organizationID, entityTypeID, id string, data map[string]any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	q := `INSERT OR REPLACE INTO entities(id, organization_id, entity_type_id, data_json) VALUES(:id, :organization_id, :entity_type_id, :data_json)`
	_, err = s.db.NamedExecContext(ctx, q, map[string]any{
		"id":              id,
		"organization_id": organizationID,
		"entity_type_id":  entityTypeID,
		"data_json":       string(b),
	})
	return err
}

func (s *SQLEntityStore) CreateRelation(ctx context.Context, id, organizationID, fromEntityID, toEntityID, relationType string) error {
	q := `INSERT OR REPLACE INTO entity_relations(id, organization_id, from_entity_id, to_entity_id, relation_type) VALUES(:id, :organization_id, :from_entity_id, :to_entity_id, :relation_type)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":              id,
		"organization_id": organizationID,
		"from_entity_id":  fromEntityID,
		"to_entity_id":    toEntityID,
		"relation_type":   relationType,
	})
	return err
}

// SoftDeleteEntity marks a record deleted; scope resolution stops seeing it.
func (s *SQLEntityStore) SoftDeleteEntity(ctx context.Context, id string) error {
	q := `UPDATE entities SET deleted_at = CURRENT_TIMESTAMP WHERE id = :id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": id})
	return err
}
