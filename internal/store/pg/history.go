package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/ids"
)

type historyStore struct {
	db *sql.DB
}

func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func (hs historyStore) Append(ctx context.Context, h *auth.History) error {
	if h.ID == "" {
		h.ID = ids.New()
	}
	err := hs.db.QueryRowContext(ctx, `
		insert into histories (id, subject, action, subject_id, user_id, before, after)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning created_at
	`, h.ID, h.Subject, h.Action, h.SubjectID, nullIfEmpty(h.UserID), nullJSON(h.Before), nullJSON(h.After)).Scan(&h.CreatedAt)
	return translate(err)
}

func (hs historyStore) List(ctx context.Context, q auth.HistoryQuery) ([]auth.History, int, error) {
	q.Query = q.Query.Normalize()
	if q.UserID != "" && !ids.IsEntity(q.UserID) {
		// user_id is a uuid column; nothing can match
		return []auth.History{}, 0, nil
	}
	var (
		clauses []string
		args    []any
		idx     = 1
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, idx))
		args = append(args, value)
		idx++
	}
	add("subject", q.Subject)
	add("subject_id", q.SubjectID)
	add("user_id", q.UserID)

	where := ""
	if len(clauses) > 0 {
		where = " where " + strings.Join(clauses, " and ")
	}

	var total int
	if err := hs.db.QueryRowContext(ctx, `select count(*) from histories`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		select id, subject, action, subject_id, user_id, before, after, created_at
		from histories%s
		order by created_at desc, id desc
		limit $%d offset $%d`, where, idx, idx+1)
	rows, err := hs.db.QueryContext(ctx, query, append(args, q.Limit, q.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []auth.History{}
	for rows.Next() {
		var (
			h             auth.History
			userID        sql.NullString
			before, after []byte
		)
		if err := rows.Scan(&h.ID, &h.Subject, &h.Action, &h.SubjectID, &userID, &before, &after, &h.CreatedAt); err != nil {
			return nil, 0, err
		}
		h.UserID = userID.String
		h.Before, h.After = before, after
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
