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
	departmentColumns          = `id, name, description, parent_id, deleted, created_at, updated_at`
	departmentColumnsQualified = `d.id, d.name, d.description, d.parent_id, d.deleted, d.created_at, d.updated_at`
)

type departmentStore struct {
	db *sql.DB
}

func scanDepartment(row scanner) (auth.Department, error) {
	var (
		d      auth.Department
		parent sql.NullString
	)
	err := row.Scan(&d.ID, &d.Name, &d.Description, &parent, &d.Deleted, &d.CreatedAt, &d.UpdatedAt)
	d.ParentID = parent.String
	return d, err
}

func collectDepartments(rows *sql.Rows) ([]auth.Department, error) {
	defer rows.Close()
	out := []auth.Department{}
	for rows.Next() {
		d, err := scanDepartment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (ds departmentStore) Create(ctx context.Context, d *auth.Department) error {
	if d.ID == "" {
		d.ID = ids.NewEntity()
	}
	err := ds.db.QueryRowContext(ctx, `
		insert into departments (id, name, description, parent_id)
		values ($1, $2, $3, $4)
		returning created_at, updated_at
	`, d.ID, d.Name, d.Description, nullIfEmpty(d.ParentID)).Scan(&d.CreatedAt, &d.UpdatedAt)
	return translate(err)
}

func (ds departmentStore) findOne(ctx context.Context, sc *scope) (auth.Department, error) {
	d, err := scanDepartment(ds.db.QueryRowContext(ctx,
		`select `+departmentColumns+` from departments where `+sc.where(), sc.args...))
	return d, translate(err)
}

func (ds departmentStore) Find(ctx context.Context, id string) (*auth.Department, error) {
	d, err := ds.findOne(ctx, notDeleted("").eq("id", id))
	if err != nil {
		return nil, err
	}
	sc := notDeleted("").eq("parent_id", id)
	rows, err := ds.db.QueryContext(ctx,
		`select `+departmentColumns+` from departments where `+sc.where()+` order by name`, sc.args...)
	if err != nil {
		return nil, err
	}
	if d.Children, err = collectDepartments(rows); err != nil {
		return nil, err
	}
	return &d, nil
}

func (ds departmentStore) FindByName(ctx context.Context, name string) (*auth.Department, error) {
	d, err := ds.findOne(ctx, notDeleted("").eq("name", name))
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (ds departmentStore) FindMany(ctx context.Context, idList []string) ([]auth.Department, error) {
	var out []auth.Department
	for _, id := range idList {
		d, err := ds.findOne(ctx, notDeleted("").eq("id", id))
		if errors.Is(err, auth.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (ds departmentStore) List(ctx context.Context, q auth.Query) ([]auth.Department, int, error) {
	q = q.Normalize()
	sc := notDeleted("").search(q.Search, "name", "description")
	var total int
	if err := ds.db.QueryRowContext(ctx, `select count(*) from departments where `+sc.where(), sc.args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit, args := sc.page(q)
	query := fmt.Sprintf(`select %s from departments where %s order by name %s %s`,
		departmentColumns, sc.where(), orderDirection(q.Desc), limit)
	rows, err := ds.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	out, err := collectDepartments(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (ds departmentStore) All(ctx context.Context) ([]auth.Department, error) {
	sc := notDeleted("")
	rows, err := ds.db.QueryContext(ctx,
		`select `+departmentColumns+` from departments where `+sc.where()+` order by name`, sc.args...)
	if err != nil {
		return nil, err
	}
	return collectDepartments(rows)
}

func (ds departmentStore) Save(ctx context.Context, d *auth.Department) error {
	sc := notDeleted("").eq("id", d.ID)
	err := ds.db.QueryRowContext(ctx, `
		update departments set name = $2, description = $3, parent_id = $4, deleted = $5, updated_at = now()
		where `+sc.where()+`
		returning updated_at
	`, append(sc.args, d.Name, d.Description, nullIfEmpty(d.ParentID), d.Deleted)...).Scan(&d.UpdatedAt)
	return translate(err)
}

func (ds departmentStore) SetChildren(ctx context.Context, parentID string, childIDs []string) error {
	tx, err := ds.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := liveRow(ctx, tx, "departments", parentID); err != nil {
		return err
	}
	detach := notDeleted("").eq("parent_id", parentID)
	if _, err := tx.ExecContext(ctx, `
		update departments set parent_id = null, updated_at = now()
		where `+detach.where(), detach.args...); err != nil {
		return err
	}
	for _, id := range childIDs {
		sc := notDeleted("").eq("id", id)
		if _, err := tx.ExecContext(ctx, `
			update departments set parent_id = $2, updated_at = now()
			where `+sc.where(), append(sc.args, parentID)...); err != nil {
			return translate(err)
		}
	}
	return tx.Commit()
}
