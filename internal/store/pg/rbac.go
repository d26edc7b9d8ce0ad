package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/ids"
)

const (
	roleColumns          = `id, name, description, deleted, created_at, updated_at`
	roleColumnsQualified = `r.id, r.name, r.description, r.deleted, r.created_at, r.updated_at`
	permissionColumns    = `id, subject, action, attributes, expiration_date, user_id, role_id, created_at`
)

type roleStore struct {
	db *sql.DB
}

func scanRole(row scanner) (auth.Role, error) {
	var r auth.Role
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.Deleted, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func collectRoles(rows *sql.Rows) ([]auth.Role, error) {
	defer rows.Close()
	out := []auth.Role{}
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (rs roleStore) Create(ctx context.Context, r *auth.Role) error {
	if r.ID == "" {
		r.ID = ids.NewEntity()
	}
	err := rs.db.QueryRowContext(ctx, `
		insert into roles (id, name, description)
		values ($1, $2, $3)
		returning created_at, updated_at
	`, r.ID, r.Name, r.Description).Scan(&r.CreatedAt, &r.UpdatedAt)
	return translate(err)
}

func (rs roleStore) withPermissions(ctx context.Context, r auth.Role) (*auth.Role, error) {
	perms, err := permissionStore{rs.db}.ForRole(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	r.Permissions = perms
	return &r, nil
}

func (rs roleStore) Find(ctx context.Context, id string) (*auth.Role, error) {
	return rs.findOne(ctx, notDeleted("").eq("id", id))
}

func (rs roleStore) FindByName(ctx context.Context, name string) (*auth.Role, error) {
	return rs.findOne(ctx, notDeleted("").eq("name", name))
}

func (rs roleStore) findOne(ctx context.Context, sc *scope) (*auth.Role, error) {
	r, err := scanRole(rs.db.QueryRowContext(ctx,
		`select `+roleColumns+` from roles where `+sc.where(), sc.args...))
	if err != nil {
		return nil, translate(err)
	}
	return rs.withPermissions(ctx, r)
}

func (rs roleStore) FindMany(ctx context.Context, idList []string) ([]auth.Role, error) {
	var out []auth.Role
	for _, id := range idList {
		r, err := rs.Find(ctx, id)
		if errors.Is(err, auth.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, nil
}

func (rs roleStore) List(ctx context.Context, q auth.Query) ([]auth.Role, int, error) {
	q = q.Normalize()
	sc := notDeleted("").search(q.Search, "name", "description")
	var total int
	if err := rs.db.QueryRowContext(ctx, `select count(*) from roles where `+sc.where(), sc.args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit, args := sc.page(q)
	query := fmt.Sprintf(`select %s from roles where %s order by name %s %s`,
		roleColumns, sc.where(), orderDirection(q.Desc), limit)
	rows, err := rs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	roles, err := collectRoles(rows)
	if err != nil {
		return nil, 0, err
	}
	for i := range roles {
		r, err := rs.withPermissions(ctx, roles[i])
		if err != nil {
			return nil, 0, err
		}
		roles[i] = *r
	}
	return roles, total, nil
}

func (rs roleStore) Save(ctx context.Context, r *auth.Role) error {
	sc := notDeleted("").eq("id", r.ID)
	err := rs.db.QueryRowContext(ctx, `
		update roles set name = $2, description = $3, deleted = $4, updated_at = now()
		where `+sc.where()+`
		returning updated_at
	`, append(sc.args, r.Name, r.Description, r.Deleted)...).Scan(&r.UpdatedAt)
	return translate(err)
}

type permissionStore struct {
	db *sql.DB
}

func scanPermission(row scanner) (auth.Permission, error) {
	var (
		p       auth.Permission
		attrs   sql.NullString
		expires sql.NullTime
		userID  sql.NullString
		roleID  sql.NullString
	)
	if err := row.Scan(&p.ID, &p.Subject, &p.Action, &attrs, &expires, &userID, &roleID, &p.CreatedAt); err != nil {
		return auth.Permission{}, err
	}
	if attrs.Valid {
		p.SetStoredAttributes(attrs.String)
	}
	if expires.Valid {
		e := expires.Time
		p.ExpirationDate = &e
	}
	p.UserID = userID.String
	p.RoleID = roleID.String
	return p, nil
}

func (ps permissionStore) list(ctx context.Context, column, ownerID string) ([]auth.Permission, error) {
	rows, err := ps.db.QueryContext(ctx,
		`select `+permissionColumns+` from permissions where `+column+` = $1 order by seq`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []auth.Permission{}
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (ps permissionStore) ForUser(ctx context.Context, userID string) ([]auth.Permission, error) {
	return ps.list(ctx, "user_id", userID)
}

func (ps permissionStore) ForRole(ctx context.Context, roleID string) ([]auth.Permission, error) {
	return ps.list(ctx, "role_id", roleID)
}

func (ps permissionStore) ReplaceForUser(ctx context.Context, userID string, perms []auth.Permission) ([]auth.Permission, error) {
	return ps.replace(ctx, "users", "user_id", userID, perms)
}

func (ps permissionStore) ReplaceForRole(ctx context.Context, roleID string, perms []auth.Permission) ([]auth.Permission, error) {
	return ps.replace(ctx, "roles", "role_id", roleID, perms)
}

// replace swaps the owner's permission set in one transaction. The identity
// column seq keeps the caller's ordering.
func (ps permissionStore) replace(ctx context.Context, ownerTable, ownerColumn, ownerID string, perms []auth.Permission) ([]auth.Permission, error) {
	tx, err := ps.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := liveRow(ctx, tx, ownerTable, ownerID); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `delete from permissions where `+ownerColumn+` = $1`, ownerID); err != nil {
		return nil, err
	}

	out := make([]auth.Permission, 0, len(perms))
	for _, p := range perms {
		p.ID = ids.NewEntity()
		p.UserID, p.RoleID = "", ""
		if ownerColumn == "user_id" {
			p.UserID = ownerID
		} else {
			p.RoleID = ownerID
		}
		attrs, ok := p.StoredAttributes()
		stored := sql.NullString{String: attrs, Valid: ok}
		err := tx.QueryRowContext(ctx, `
			insert into permissions (id, subject, action, attributes, expiration_date, user_id, role_id)
			values ($1, $2, $3, $4, $5, $6, $7)
			returning created_at
		`, p.ID, string(p.Subject), string(p.Action), stored, nullTime(p.ExpirationDate),
			nullIfEmpty(p.UserID), nullIfEmpty(p.RoleID)).Scan(&p.CreatedAt)
		if err != nil {
			return nil, translate(err)
		}
		out = append(out, p)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}
