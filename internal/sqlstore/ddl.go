package sqlstore

import (
	"fmt"
	"strings"

	"realmdb/internal/schema"
)

// DDL - идемпотентные операторы для таблиц types: create table if not exists
// и индексы. Миграций нет: существующие таблицы не меняются.
func DDL(d Dialect, types []*schema.EntityType) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	for _, et := range types {
		if seen[et.Table] {
			return nil, schema.Error.New("table %q declared twice", et.Table)
		}
		seen[et.Table] = true

		cols := make([]string, 0, len(et.Columns))
		for _, c := range et.Columns {
			cols = append(cols, columnDef(d, et, c))
		}
		out = append(out, fmt.Sprintf("create table if not exists %s (\n  %s\n)",
			Ident(et.Table), strings.Join(cols, ",\n  ")))

		for _, ix := range et.Indexes() {
			parts := make([]string, len(ix.Columns))
			for i, c := range ix.Columns {
				parts[i] = Ident(c)
			}
			kind := "index"
			if ix.Unique {
				kind = "unique index"
			}
			out = append(out, fmt.Sprintf("create %s if not exists %s on %s(%s)",
				kind, Ident(ix.Name), Ident(et.Table), strings.Join(parts, ", ")))
		}
	}
	return out, nil
}

func columnDef(d Dialect, et *schema.EntityType, c *schema.Column) string {
	if c == et.Key() && c.AutoIncrement {
		return d.AutoIncrementKey(c)
	}
	def := Ident(c.Name) + " " + d.ColumnType(c)
	switch {
	case c == et.Key():
		def += " primary key"
	case !c.Nullable:
		def += " not null"
	}
	return def
}
