package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"gatehouse.org/internal/auth"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"

	// a malformed uuid literal; no row can carry such an id
	pgErrInvalidText = "22P02"
)

// Store is the PostgreSQL implementation of auth.Store. Every query on a
// soft-deletable table is built from the notDeleted scope.
type Store struct {
	db *sql.DB
}

var _ auth.Store = (*Store)(nil)

// Pool tunes the connection pool; zero fields keep the driver defaults.
type Pool struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func Open(dsn string, pool Pool) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Users(context.Context) auth.UserStore             { return userStore{s.db} }
func (s *Store) Roles(context.Context) auth.RoleStore             { return roleStore{s.db} }
func (s *Store) Departments(context.Context) auth.DepartmentStore { return departmentStore{s.db} }
func (s *Store) Permissions(context.Context) auth.PermissionStore { return permissionStore{s.db} }
func (s *Store) History(context.Context) auth.HistoryStore        { return historyStore{s.db} }

type scanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// translate maps driver errors onto the auth sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrNotFound
	}
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return auth.ErrAlreadyExists
		case pgErrForeignKeyViolation, pgErrInvalidText:
			return auth.ErrNotFound
		}
	}
	return err
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func likePattern(search string) string {
	search = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(search)
	return "%" + search + "%"
}

func orderDirection(desc bool) string {
	if desc {
		return "desc"
	}
	return "asc"
}

// liveRow reports whether table holds a non-deleted row with id.
func liveRow(ctx context.Context, q queryer, table, id string) error {
	var one int
	sc := notDeleted("").eq("id", id)
	err := q.QueryRowContext(ctx, `select 1 from `+table+` where `+sc.where(), sc.args...).Scan(&one)
	return translate(err)
}
