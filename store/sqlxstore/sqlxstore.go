// Package sqlxstore implements RoleRepository with raw SQL over jmoiron/sqlx,
// following the NamedExecContext / GetContext / SelectContext conventions
// the teacher's shared/repository.BaseRepository used for its own CRUD
// helpers, adapted here from user-profile tables to the auth core's role
// table and from %w-wrapped bare errors to the autherr taxonomy.
package sqlxstore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/aussie-gateway/auth-core/internal/authcore/autherr"
	"github.com/aussie-gateway/auth-core/internal/authcore/repository"
)

const (
	insertRoleQuery = `
		INSERT INTO roles (id, display_name, description, permissions, created_at, updated_at)
		VALUES (:id, :display_name, :description, :permissions, :created_at, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			description = EXCLUDED.description,
			permissions = EXCLUDED.permissions,
			updated_at = EXCLUDED.updated_at`

	selectRoleByIDQuery = `
		SELECT id, display_name, description, permissions, created_at, updated_at
		FROM roles WHERE id = $1`

	selectAllRolesQuery = `
		SELECT id, display_name, description, permissions, created_at, updated_at
		FROM roles`

	deleteRoleQuery = `DELETE FROM roles WHERE id = $1`
)

// roleRow is the sqlx scan target; permissions are stored comma-joined.
type roleRow struct {
	ID          string    `db:"id"`
	DisplayName string    `db:"display_name"`
	Description string    `db:"description"`
	Permissions string    `db:"permissions"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r roleRow) toRole() repository.Role {
	var perms []string
	if r.Permissions != "" {
		perms = strings.Split(r.Permissions, ",")
	}
	return repository.Role{
		ID: r.ID, DisplayName: r.DisplayName, Description: r.Description,
		Permissions: perms, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

func fromRole(role repository.Role) roleRow {
	return roleRow{
		ID: role.ID, DisplayName: role.DisplayName, Description: role.Description,
		Permissions: strings.Join(role.Permissions, ","),
		CreatedAt:   role.CreatedAt, UpdatedAt: role.UpdatedAt,
	}
}

// RoleStore implements repository.RoleRepository over a *sqlx.DB.
type RoleStore struct {
	db *sqlx.DB
}

func NewRoleStore(db *sqlx.DB) *RoleStore {
	return &RoleStore{db: db}
}

func (s *RoleStore) Store(ctx context.Context, role repository.Role) error {
	if _, err := s.db.NamedExecContext(ctx, insertRoleQuery, fromRole(role)); err != nil {
		return autherr.Wrap(autherr.Transient, "upsert role", err)
	}
	return nil
}

func (s *RoleStore) FindByID(ctx context.Context, id string) (*repository.Role, error) {
	var row roleRow
	err := s.db.GetContext(ctx, &row, selectRoleByIDQuery, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, autherr.Wrap(autherr.Transient, "get role by id", err)
	}
	role := row.toRole()
	return &role, nil
}

func (s *RoleStore) FindAll(ctx context.Context) ([]repository.Role, error) {
	var rows []roleRow
	if err := s.db.SelectContext(ctx, &rows, selectAllRolesQuery); err != nil {
		return nil, autherr.Wrap(autherr.Transient, "list roles", err)
	}
	out := make([]repository.Role, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toRole())
	}
	return out, nil
}

func (s *RoleStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, deleteRoleQuery, id); err != nil {
		return autherr.Wrap(autherr.Transient, "delete role", err)
	}
	return nil
}
