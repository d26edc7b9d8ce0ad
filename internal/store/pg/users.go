package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/ids"
)

const userColumns = `id, username, password_hash, email, fullname, phone, address, avatar, gender,
	birthday, type, active, deleted, tokens, version, created_at, updated_at`

type userStore struct {
	db *sql.DB
}

func scanUser(row scanner) (*auth.User, error) {
	var (
		u        auth.User
		birthday sql.NullTime
		tokens   []byte
	)
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Email, &u.Fullname, &u.Phone, &u.Address,
		&u.Avatar, &u.Gender, &birthday, &u.Type, &u.Active, &u.Deleted, &tokens, &u.Version,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if birthday.Valid {
		b := birthday.Time
		u.Birthday = &b
	}
	if len(tokens) > 0 {
		if err := json.Unmarshal(tokens, &u.Tokens); err != nil {
			return nil, fmt.Errorf("decode tokens: %w", err)
		}
	}
	return &u, nil
}

func encodeTokens(tokens []string) ([]byte, error) {
	if tokens == nil {
		tokens = []string{}
	}
	return json.Marshal(tokens)
}

func (us userStore) Create(ctx context.Context, u *auth.User) error {
	if u.ID == "" {
		u.ID = ids.NewEntity()
	}
	if u.Type == "" {
		u.Type = auth.UserTypePeople
	}
	tokens, err := encodeTokens(u.Tokens)
	if err != nil {
		return err
	}
	err = us.db.QueryRowContext(ctx, `
		insert into users (id, username, password_hash, email, fullname, phone, address, avatar, gender,
			birthday, type, active, tokens, version)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1)
		returning version, created_at, updated_at
	`, u.ID, u.Username, u.PasswordHash, u.Email, u.Fullname, u.Phone, u.Address, u.Avatar, u.Gender,
		nullTime(u.Birthday), u.Type, u.Active, tokens).Scan(&u.Version, &u.CreatedAt, &u.UpdatedAt)
	return translate(err)
}

func (us userStore) Find(ctx context.Context, id string) (*auth.User, error) {
	return us.findOne(ctx, notDeleted("").eq("id", id))
}

func (us userStore) findOne(ctx context.Context, sc *scope) (*auth.User, error) {
	u, err := scanUser(us.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where `+sc.where()+` limit 1`, sc.args...))
	if err != nil {
		return nil, translate(err)
	}
	return u, nil
}

func (us userStore) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	return us.findOne(ctx, notDeleted("").eq("username", username))
}

func (us userStore) FindByToken(ctx context.Context, token string) (*auth.User, error) {
	needle, err := json.Marshal([]string{token})
	if err != nil {
		return nil, err
	}
	return us.findOne(ctx, notDeleted("").cond("tokens @> $%d::jsonb", needle))
}

func (us userStore) FindWithAccess(ctx context.Context, id string) (*auth.User, error) {
	u, err := us.Find(ctx, id)
	if err != nil {
		return nil, err
	}

	sc := notDeleted("r").eq("ur.user_id", id)
	rows, err := us.db.QueryContext(ctx, `
		select `+roleColumnsQualified+`
		from roles r
		join user_roles ur on ur.role_id = r.id
		where `+sc.where()+`
		order by r.name
	`, sc.args...)
	if err != nil {
		return nil, err
	}
	roles, err := collectRoles(rows)
	if err != nil {
		return nil, err
	}
	perms := permissionStore{us.db}
	for i := range roles {
		if roles[i].Permissions, err = perms.ForRole(ctx, roles[i].ID); err != nil {
			return nil, err
		}
	}
	u.Roles = roles

	sc = notDeleted("d").eq("ud.user_id", id)
	rows, err = us.db.QueryContext(ctx, `
		select `+departmentColumnsQualified+`
		from departments d
		join user_departments ud on ud.department_id = d.id
		where `+sc.where()+`
		order by d.name
	`, sc.args...)
	if err != nil {
		return nil, err
	}
	if u.Departments, err = collectDepartments(rows); err != nil {
		return nil, err
	}

	if u.Permissions, err = perms.ForUser(ctx, id); err != nil {
		return nil, err
	}
	return u, nil
}

func (us userStore) List(ctx context.Context, q auth.Query) ([]auth.User, int, error) {
	q = q.Normalize()
	sc := notDeleted("").search(q.Search, "username", "email", "fullname")

	var total int
	if err := us.db.QueryRowContext(ctx, `select count(*) from users where `+sc.where(), sc.args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit, args := sc.page(q)
	query := fmt.Sprintf(`select %s from users where %s order by username %s %s`,
		userColumns, sc.where(), orderDirection(q.Desc), limit)
	rows, err := us.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []auth.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (us userStore) Save(ctx context.Context, u *auth.User) error {
	tokens, err := encodeTokens(u.Tokens)
	if err != nil {
		return err
	}
	sc := notDeleted("").eq("id", u.ID).eq("version", u.Version)
	err = us.db.QueryRowContext(ctx, `
		update users set
			username = $3, password_hash = $4, email = $5, fullname = $6, phone = $7, address = $8,
			avatar = $9, gender = $10, birthday = $11, type = $12, active = $13, deleted = $14,
			tokens = $15, version = version + 1, updated_at = now()
		where `+sc.where()+`
		returning version, updated_at
	`, append(sc.args, u.Username, u.PasswordHash, u.Email, u.Fullname, u.Phone, u.Address,
		u.Avatar, u.Gender, nullTime(u.Birthday), u.Type, u.Active, u.Deleted, tokens)...,
	).Scan(&u.Version, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// distinguish a stale version from a missing row
		if err := liveRow(ctx, us.db, "users", u.ID); err != nil {
			return err
		}
		return auth.ErrConflict
	}
	return translate(err)
}

func (us userStore) SetRoles(ctx context.Context, userID string, roleIDs []string) error {
	return replaceLinks(ctx, us.db, userID, "user_roles", "role_id", roleIDs)
}

func (us userStore) SetDepartments(ctx context.Context, userID string, departmentIDs []string) error {
	return replaceLinks(ctx, us.db, userID, "user_departments", "department_id", departmentIDs)
}

func replaceLinks(ctx context.Context, db *sql.DB, userID, table, column string, targets []string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := liveRow(ctx, tx, "users", userID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from `+table+` where user_id = $1`, userID); err != nil {
		return err
	}
	for _, id := range targets {
		if _, err := tx.ExecContext(ctx,
			`insert into `+table+` (user_id, `+column+`) values ($1, $2) on conflict do nothing`,
			userID, id); err != nil {
			return translate(err)
		}
	}
	return tx.Commit()
}

func (us userStore) IDsWithRole(ctx context.Context, roleID string) ([]string, error) {
	sc := notDeleted("u").eq("ur.role_id", roleID)
	rows, err := us.db.QueryContext(ctx, `
		select ur.user_id
		from user_roles ur
		join users u on u.id = ur.user_id
		where `+sc.where()+`
		order by ur.user_id
	`, sc.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
