package postgrest

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/jakechorley/volunteer-hub/pkg/db"
)

// selectQuery builds ?select=*&col=eq.val&order=col.asc
func selectQuery(filter db.Filter, order []db.Order) url.Values {
	query := filterQuery(filter)
	query.Set("select", "*")

	if len(order) > 0 {
		parts := make([]string, len(order))
		for i, o := range order {
			dir := "asc"
			if o.Descending {
				dir = "desc"
			}
			parts[i] = o.Column + "." + dir
		}
		query.Set("order", strings.Join(parts, ","))
	}
	return query
}

func filterQuery(filter db.Filter) url.Values {
	query := url.Values{}
	for _, cond := range filter {
		query.Add(cond.Column, operand(cond.Value))
	}
	return query
}

// operand renders a filter value in PostgREST's operator syntax
func operand(value any) string {
	switch v := value.(type) {
	case nil:
		return "is.null"
	case bool:
		return fmt.Sprintf("is.%t", v)
	case string:
		return "eq." + v
	case fmt.Stringer:
		return "eq." + v.String()
	default:
		return fmt.Sprintf("eq.%v", v)
	}
}
