package stores

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oarkflow/entguard"
	"github.com/redis/go-redis/v9"
)

// RedisAssignmentStore keeps user->role assignments in Redis hashes
// (key: assign:{organizationID}:{userID}, field: roleID, value: JSON).
// Expiry is carried in the payload, not via Redis TTLs, so expired
// assignments stay listable for audit until explicitly revoked.
type RedisAssignmentStore struct {
	client *redis.Client
	keyFmt string // format string, e.g. "assign:%s:%s"
}

func NewRedisAssignmentStore(client *redis.Client) *RedisAssignmentStore {
	return &RedisAssignmentStore{client: client, keyFmt: "assign:%s:%s"}
}

func (r *RedisAssignmentStore) key(organizationID, userID string) string {
	return fmt.Sprintf(r.keyFmt, organizationID, userID)
}

func (r *RedisAssignmentStore) Assign(ctx context.Context, organizationID string, a *entguard.RoleAssignment) error {
	b, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return r.client.HSet(ctx, r.key(organizationID, a.UserID), a.RoleID, string(b)).Err()
}

func (r *RedisAssignmentStore) Revoke(ctx context.Context, organizationID, userID, roleID string) error {
	return r.client.HDel(ctx, r.key(organizationID, userID), roleID).Err()
}

func (r *RedisAssignmentStore) ListRoleAssignments(ctx context.Context, organizationID, userID string) ([]*entguard.RoleAssignment, error) {
	res, err := r.client.HGetAll(ctx, r.key(organizationID, userID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*entguard.RoleAssignment, 0, len(res))
	for roleID, raw := range res {
		a := &entguard.RoleAssignment{}
		if err := json.Unmarshal([]byte(raw), a); err != nil {
			a = &entguard.RoleAssignment{UserID: userID, RoleID: roleID}
		}
		out = append(out, a)
	}
	return out, nil
}

// AssignmentOverlay composes a base PolicyStore with a RedisAssignmentStore:
// role assignments come from Redis, everything else from the base. Useful
// when assignment churn is high but policies live in SQL.
type AssignmentOverlay struct {
	entguard.PolicyStore
	assignments *RedisAssignmentStore
}

func NewAssignmentOverlay(base entguard.PolicyStore, assignments *RedisAssignmentStore) *AssignmentOverlay {
	return &AssignmentOverlay{PolicyStore: base, assignments: assignments}
}

func (o *AssignmentOverlay) ListRoleAssignments(ctx context.Context, organizationID, userID string) ([]*entguard.RoleAssignment, error) {
	return o.assignments.ListRoleAssignments(ctx, organizationID, userID)
}
