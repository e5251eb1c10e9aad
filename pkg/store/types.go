package store

import (
	"context"
	"time"

	"github.com/meridianerp/entitlements/pkg/rights"
	"github.com/meridianerp/entitlements/pkg/tenant"
)

// User is the repository-owned identity record. The membership cache holds
// read-only copies.
type User struct {
	ID          int64     `json:"id"`
	Tenant      tenant.ID `json:"tenant,omitempty"`
	DisplayName string    `json:"display_name"`
	Deleted     bool      `json:"deleted"`
	Deactivated bool      `json:"deactivated"`
}

// Group is a named set of member users. Certain group names are reserved and
// drive precomputed special-group sets in the membership snapshot.
type Group struct {
	ID        int64     `json:"id"`
	Tenant    tenant.ID `json:"tenant,omitempty"`
	Name      string    `json:"name"`
	MemberIDs []int64   `json:"member_ids"`
}

// Assignment is one persisted right value for one user. A nil Value means the
// value was nulled out: the right is known but not configured, which is not
// the same as denied.
type Assignment struct {
	ID        int64         `json:"id"`
	Tenant    tenant.ID     `json:"tenant,omitempty"`
	UserID    int64         `json:"user_id"`
	RightID   rights.ID     `json:"right_id"`
	Value     *rights.Value `json:"value,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// HasValue reports whether the assignment carries a configured value.
func (a *Assignment) HasValue() bool { return a.Value != nil }

// UserRepository loads identity records in bulk.
type UserRepository interface {
	ListUsers(ctx context.Context, t tenant.ID) ([]User, error)
}

// GroupRepository loads groups with their member sets in bulk.
type GroupRepository interface {
	ListGroups(ctx context.Context, t tenant.ID) ([]Group, error)
}

// AssignmentRepository persists right assignment rows.
type AssignmentRepository interface {
	// ListAssignments returns every assignment row of the tenant. Rows come
	// back ordered by user id for determinism; consumers must not depend on
	// the ordering for correctness.
	ListAssignments(ctx context.Context, t tenant.ID) ([]Assignment, error)

	// ListUserAssignments returns the persisted rows of one user.
	ListUserAssignments(ctx context.Context, t tenant.ID, userID int64) ([]Assignment, error)

	// Upsert creates the row or overwrites its value.
	Upsert(ctx context.Context, a *Assignment) error

	// NullValue clears the stored value of an existing row, keeping the row.
	NullValue(ctx context.Context, a *Assignment) error
}

// Repositories bundles the read/write boundary the engine consumes.
type Repositories struct {
	Users       UserRepository
	Groups      GroupRepository
	Assignments AssignmentRepository
}
