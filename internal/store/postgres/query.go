package postgres

import (
	"fmt"
	"strings"

	"github.com/suhyunle/coin-trader/internal/domain"
)

// listQuery appends the time window, newest-first order and paging from
// opts to base, which must end in a WHERE clause.
func listQuery(base, timeCol string, opts domain.ListOpts) (string, []any) {
	var b strings.Builder
	b.WriteString(base)
	args := []any{}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if opts.Since != nil {
		fmt.Fprintf(&b, " AND %s >= %s", timeCol, next(*opts.Since))
	}
	if opts.Until != nil {
		fmt.Fprintf(&b, " AND %s <= %s", timeCol, next(*opts.Until))
	}
	fmt.Fprintf(&b, " ORDER BY %s DESC, id DESC", timeCol)
	if opts.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %s", next(opts.Limit))
	}
	if opts.Offset > 0 {
		fmt.Fprintf(&b, " OFFSET %s", next(opts.Offset))
	}
	return b.String(), args
}
