package pg

import (
	"fmt"
	"strings"

	"gatehouse.org/internal/auth"
)

// scope builds a where clause for a soft-deletable table. Its first term is
// always the notDeleted predicate; conditions compose after it and number
// their placeholders in order.
type scope struct {
	terms []string
	args  []any
}

// notDeleted starts a scope on the table aliased as alias ("" when the query
// names a single table).
func notDeleted(alias string) *scope {
	col := "deleted"
	if alias != "" {
		col = alias + ".deleted"
	}
	return &scope{terms: []string{col + " = false"}}
}

// cond adds a term whose single %d verb becomes the value's placeholder.
func (s *scope) cond(format string, value any) *scope {
	s.args = append(s.args, value)
	s.terms = append(s.terms, fmt.Sprintf(format, len(s.args)))
	return s
}

func (s *scope) eq(column string, value any) *scope {
	return s.cond(column+" = $%d", value)
}

// search matches term case-insensitively against any of columns. An empty term adds nothing.
func (s *scope) search(term string, columns ...string) *scope {
	if term == "" {
		return s
	}
	s.args = append(s.args, likePattern(term))
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = fmt.Sprintf("%s ilike $%d", c, len(s.args))
	}
	s.terms = append(s.terms, "("+strings.Join(parts, " or ")+")")
	return s
}

func (s *scope) where() string { return strings.Join(s.terms, " and ") }

// page appends limit and offset placeholders for q.
func (s *scope) page(q auth.Query) (string, []any) {
	n := len(s.args)
	args := append(append([]any(nil), s.args...), q.Limit, q.Offset())
	return fmt.Sprintf("limit $%d offset $%d", n+1, n+2), args
}
