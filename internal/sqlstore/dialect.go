// Package sqlstore - хранилище строк поверх database/sql. Различия СУБД
// спрятаны за Dialect; таблицы создаются из скомпилированных типов.
package sqlstore

import (
	"strings"

	"realmdb/internal/schema"
)

// Dialect - то, чем одна СУБД отличается от другой.
type Dialect interface {
	// Name - имя драйвера database/sql.
	Name() string
	// Placeholder - n-й параметр запроса, с единицы.
	Placeholder(n int) string
	// ColumnType - тип колонки в DDL.
	ColumnType(c *schema.Column) string
	// AutoIncrementKey - определение автоинкрементного ключа целиком.
	AutoIncrementKey(c *schema.Column) string
	// Encode готовит нормализованное значение к передаче драйверу.
	Encode(v any) any
	// IsDuplicate - ошибка нарушения уникальности.
	IsDuplicate(err error) bool
	// IgnoreDDL - ошибку DDL можно пропустить (объект уже есть).
	IgnoreDDL(err error) bool
}

var reserved = map[string]struct{}{
	"user": {}, "select": {}, "table": {}, "insert": {}, "update": {}, "delete": {},
	"where": {}, "join": {}, "group": {}, "order": {}, "limit": {}, "offset": {},
	"primary": {}, "foreign": {}, "key": {}, "constraint": {}, "default": {},
	"from": {}, "into": {}, "values": {}, "unique": {}, "index": {}, "create": {},
	"drop": {}, "alter": {}, "schema": {}, "grant": {}, "revoke": {},
}

// IsReserved - слово зарезервировано и без кавычек как имя не годится.
func IsReserved(s string) bool { _, ok := reserved[strings.ToLower(s)]; return ok }

// Ident берёт имя в кавычки. Кавычки работают и в PostgreSQL, и в SQLite.
func Ident(s string) string { return `"` + strings.ReplaceAll(strings.ToLower(s), `"`, `""`) + `"` }
