package postgres

import (
	"fmt"
	"strings"
)

// maxBindParams is the PostgreSQL limit on parameters in one statement.
const maxBindParams = 65535

// multiRowInsert builds "INSERT INTO table (cols) VALUES ($1, $2), ($3, $4)"
// for n rows.
func multiRowInsert(table string, columns []string, n int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", table, strings.Join(columns, ", "))

	param := 1
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", param)
			param++
		}
		b.WriteByte(')')
	}
	return b.String()
}

// rowsPerStatement caps a chunk so one statement stays under the bind
// parameter limit.
func rowsPerStatement(requested, columns int) int {
	limit := maxBindParams / columns
	if requested <= 0 || requested > limit {
		return limit
	}
	return requested
}
