package sqlite

import (
	"fmt"
	"strings"
)

// Dialect is the SQLite storage.Dialect.
type Dialect struct{}

func (Dialect) Name() string { return "sqlite" }

func (Dialect) TimestampType() string { return "TIMESTAMP" }

func (Dialect) TempTable(name, columns string) string {
	return fmt.Sprintf("CREATE TEMP TABLE %s (%s)", name, columns)
}

// ForUpdate is empty: BEGIN IMMEDIATE already holds the write lock.
func (Dialect) ForUpdate(bool) string { return "" }

func (Dialect) CreatePartition(string, int64) string { return "" }

func (Dialect) DropPartition(string, int64) string { return "" }

// Rebind rewrites $N placeholders to SQLite's ?N form. Quoted literals and
// identifiers are left untouched.
func Rebind(query string) string {
	if !strings.Contains(query, "$") {
		return query
	}

	var b strings.Builder
	b.Grow(len(query))
	var quote byte
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '$' && i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9':
			c = '?'
		}
		b.WriteByte(c)
	}
	return b.String()
}
