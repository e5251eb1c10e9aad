package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/meridianerp/entitlements/pkg/rights"
	"github.com/meridianerp/entitlements/pkg/tenant"
)

// SQLStore implements the repository boundary on database/sql. Production
// runs it against PostgreSQL; tests run it against in-memory SQLite.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a store over an open database handle.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// DB exposes the underlying handle for health checks.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Repositories returns the store wired as the engine's repository bundle.
func (s *SQLStore) Repositories() Repositories {
	return Repositories{Users: s, Groups: s, Assignments: s}
}

// ListUsers loads every user of the tenant, including deleted and
// deactivated ones; the flags travel with the record.
func (s *SQLStore) ListUsers(ctx context.Context, t tenant.ID) ([]User, error) {
	query := `
		SELECT id, tenant, display_name, deleted, deactivated
		FROM users
		WHERE tenant = $1
		ORDER BY id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, string(t))
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		var tn string
		if err := rows.Scan(&u.ID, &tn, &u.DisplayName, &u.Deleted, &u.Deactivated); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.Tenant = tenant.ID(tn)
		users = append(users, u)
	}
	return users, rows.Err()
}

// ListGroups loads every group of the tenant with its member id set.
func (s *SQLStore) ListGroups(ctx context.Context, t tenant.ID) ([]Group, error) {
	query := `
		SELECT id, tenant, name
		FROM groups
		WHERE tenant = $1
		ORDER BY id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, string(t))
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []Group
	index := make(map[int64]int)
	for rows.Next() {
		var g Group
		var tn string
		if err := rows.Scan(&g.ID, &tn, &g.Name); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		g.Tenant = tenant.ID(tn)
		index[g.ID] = len(groups)
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	memberQuery := `
		SELECT gm.group_id, gm.user_id
		FROM group_members gm
		JOIN groups g ON g.id = gm.group_id
		WHERE g.tenant = $1
		ORDER BY gm.group_id ASC, gm.user_id ASC
	`
	memberRows, err := s.db.QueryContext(ctx, memberQuery, string(t))
	if err != nil {
		return nil, fmt.Errorf("failed to list group members: %w", err)
	}
	defer memberRows.Close()

	for memberRows.Next() {
		var groupID, userID int64
		if err := memberRows.Scan(&groupID, &userID); err != nil {
			return nil, fmt.Errorf("failed to scan group member: %w", err)
		}
		if i, ok := index[groupID]; ok {
			groups[i].MemberIDs = append(groups[i].MemberIDs, userID)
		}
	}
	return groups, memberRows.Err()
}

// ListAssignments loads every assignment row of the tenant, ordered by user
// id for determinism.
func (s *SQLStore) ListAssignments(ctx context.Context, t tenant.ID) ([]Assignment, error) {
	query := `
		SELECT id, tenant, user_id, right_id, value, updated_at
		FROM right_assignments
		WHERE tenant = $1
		ORDER BY user_id ASC, right_id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, string(t))
	if err != nil {
		return nil, fmt.Errorf("failed to list right assignments: %w", err)
	}
	defer rows.Close()
	return scanAssignments(rows)
}

// ListUserAssignments loads the persisted rows of one user.
func (s *SQLStore) ListUserAssignments(ctx context.Context, t tenant.ID, userID int64) ([]Assignment, error) {
	query := `
		SELECT id, tenant, user_id, right_id, value, updated_at
		FROM right_assignments
		WHERE tenant = $1 AND user_id = $2
		ORDER BY right_id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, string(t), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user right assignments: %w", err)
	}
	defer rows.Close()
	return scanAssignments(rows)
}

// Upsert creates the assignment row or overwrites its value.
func (s *SQLStore) Upsert(ctx context.Context, a *Assignment) error {
	var value sql.NullString
	if a.Value != nil {
		value = sql.NullString{String: a.Value.String(), Valid: true}
	}

	query := `
		INSERT INTO right_assignments (tenant, user_id, right_id, value, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant, user_id, right_id)
		DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`
	a.UpdatedAt = time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, query,
		string(a.Tenant), a.UserID, string(a.RightID), value, a.UpdatedAt,
	); err != nil {
		return fmt.Errorf("failed to upsert right assignment: %w", err)
	}
	return nil
}

// NullValue clears the stored value of an existing row.
func (s *SQLStore) NullValue(ctx context.Context, a *Assignment) error {
	query := `
		UPDATE right_assignments
		SET value = NULL, updated_at = $1
		WHERE tenant = $2 AND user_id = $3 AND right_id = $4
	`
	a.UpdatedAt = time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, query,
		a.UpdatedAt, string(a.Tenant), a.UserID, string(a.RightID),
	); err != nil {
		return fmt.Errorf("failed to null right assignment value: %w", err)
	}
	a.Value = nil
	return nil
}

func scanAssignments(rows *sql.Rows) ([]Assignment, error) {
	var assignments []Assignment
	for rows.Next() {
		var a Assignment
		var tn, rightID string
		var value sql.NullString
		if err := rows.Scan(&a.ID, &tn, &a.UserID, &rightID, &value, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan right assignment: %w", err)
		}
		a.Tenant = tenant.ID(tn)
		a.RightID = rights.ID(rightID)
		if value.Valid {
			v, err := rights.ParseValue(value.String)
			if err != nil {
				return nil, fmt.Errorf("corrupt right assignment %d: %w", a.ID, err)
			}
			a.Value = &v
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}
