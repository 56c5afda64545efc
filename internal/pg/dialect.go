package pg

import (
	"fmt"
	"strconv"

	"realmdb/internal/schema"
	"realmdb/internal/sqlstore"
)

// Dialect - PostgreSQL.
type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

func (Dialect) Name() string { return "pgx" }

func (Dialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (Dialect) ColumnType(c *schema.Column) string {
	switch c.Kind {
	case schema.KindInt:
		return "bigint"
	case schema.KindFloat:
		return "double precision"
	case schema.KindBool:
		return "boolean"
	case schema.KindTime:
		return "timestamp with time zone"
	case schema.KindBytes:
		return "bytea"
	}
	if c.MaxLength > 0 {
		return fmt.Sprintf("varchar(%d)", c.MaxLength)
	}
	return "text"
}

func (Dialect) AutoIncrementKey(c *schema.Column) string {
	return sqlstore.Ident(c.Name) + " bigint generated by default as identity primary key"
}

// Encode - pgx принимает нормализованные значения как есть.
func (Dialect) Encode(v any) any { return v }
