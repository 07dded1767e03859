package postgres

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/jakechorley/volunteer-hub/pkg/db"
)

// Rows travel as jsonb: reads select to_jsonb(t) and writes go through
// jsonb_populate_record so column types come from the table itself.

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// where renders filter as t."col" = $n starting at argument offset+1
func where(filter db.Filter, offset int) (string, []any) {
	if len(filter) == 0 {
		return "", nil
	}

	clauses := make([]string, len(filter))
	args := make([]any, 0, len(filter))
	for i, cond := range filter {
		if cond.Value == nil {
			clauses[i] = fmt.Sprintf("t.%s IS NULL", ident(cond.Column))
			continue
		}
		args = append(args, argValue(cond.Value))
		clauses[i] = fmt.Sprintf("t.%s = $%d", ident(cond.Column), offset+len(args))
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func argValue(v any) any {
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	return v
}

func orderBy(order []db.Order) string {
	if len(order) == 0 {
		return ""
	}
	parts := make([]string, len(order))
	for i, o := range order {
		dir := "ASC"
		if o.Descending {
			dir = "DESC"
		}
		parts[i] = fmt.Sprintf("t.%s %s", ident(o.Column), dir)
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

func selectQuery(collection string, filter db.Filter, order []db.Order, limit int) (string, []any) {
	cond, args := where(filter, 0)
	sql := fmt.Sprintf("SELECT to_jsonb(t) FROM %s AS t%s%s", ident(collection), cond, orderBy(order))
	if limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", limit)
	}
	return sql, args
}

func columnList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = ident(c)
	}
	return strings.Join(quoted, ", ")
}

// insertQuery inserts the columns present in the records; absent ones take their defaults.
// many selects jsonb_populate_recordset over a JSON array instead of a single object.
func insertQuery(collection string, cols []string, many bool) string {
	table := ident(collection)
	list := columnList(cols)
	source := "jsonb_populate_record"
	if many {
		source = "jsonb_populate_recordset"
	}
	return fmt.Sprintf("INSERT INTO %s AS t (%s) SELECT %s FROM %s(NULL::%s, $1::jsonb) RETURNING to_jsonb(t)",
		table, list, list, source, table)
}

// updateQuery sets the patch's columns from $1 and filters from $2 on
func updateQuery(collection string, cols []string, filter db.Filter) (string, []any) {
	table := ident(collection)
	list := columnList(cols)
	target := list
	if len(cols) > 1 {
		target = "(" + list + ")"
	}
	cond, args := where(filter, 1)
	sql := fmt.Sprintf("UPDATE %s AS t SET %s = (SELECT %s FROM jsonb_populate_record(NULL::%s, $1::jsonb))%s RETURNING to_jsonb(t)",
		table, target, list, table, cond)
	return sql, args
}

func deleteQuery(collection string, filter db.Filter) (string, []any) {
	cond, args := where(filter, 0)
	return fmt.Sprintf("DELETE FROM %s AS t%s", ident(collection), cond), args
}

// writableColumns drops keys the caller cannot set
func writableColumns(rec db.Record, keepID bool) []string {
	cols := db.Columns(rec)
	out := cols[:0]
	for _, c := range cols {
		if c == "id" && !keepID {
			continue
		}
		out = append(out, c)
	}
	return out
}
