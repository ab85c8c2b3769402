package storage

import (
	"context"
	"fmt"
	"strings"
)

// Placeholders returns "$from, $from+1, ..." for n arguments.
func Placeholders(from, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", from+i)
	}
	return b.String()
}

// CollectStrings runs a query selecting a single text column and returns
// every value. The rows are closed before returning so the transaction is
// free for further statements.
func CollectStrings(ctx context.Context, q Queryer, sql string, args ...any) ([]string, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Close()
}

// PartitionName is the table holding treeID's rows of parent.
func PartitionName(parent string, treeID int64) string {
	return fmt.Sprintf("%s_t%d", parent, treeID)
}
