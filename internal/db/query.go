package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// where builds a WHERE clause with numbered placeholders.
type where struct {
	clauses []string
	args    []any
}

// add appends a condition; format holds one %d for the placeholder index.
func (w *where) add(format string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(format, len(w.args)))
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// queryDocs scans the single doc column of every row into T.
func queryDocs[T any](ctx context.Context, q querier, sql string, args ...any) ([]T, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, dbError("query", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (T, error) {
		var doc T
		err := row.Scan(&doc)
		return doc, err
	})
	if err != nil {
		return nil, dbError("scan rows", err)
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}
