// Package sqlite - хранилище строк в файле SQLite (modernc, без cgo).
// Годится для одиночного сервера и для тестов.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"realmdb/internal/schema"
	"realmdb/internal/sqlstore"
	"realmdb/internal/store"
)

// Open открывает (или создаёт) базу в файле path.
func Open(ctx context.Context, log *zap.Logger, path string) (*sqlstore.Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, store.Error.New("sqlite: storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, store.Error.New("open sqlite db: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, store.Error.New("ping sqlite db: %v", err)
	}
	log.Info("sqlite opened", zap.String("path", path))
	return sqlstore.New(log, db, Dialect{}), nil
}

// Dialect - SQLite.
type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

func (Dialect) Name() string { return "sqlite" }

func (Dialect) Placeholder(int) string { return "?" }

func (Dialect) ColumnType(c *schema.Column) string {
	switch c.Kind {
	case schema.KindInt, schema.KindBool:
		return "integer"
	case schema.KindFloat:
		return "real"
	case schema.KindBytes:
		return "blob"
	}
	return "text"
}

func (Dialect) AutoIncrementKey(c *schema.Column) string {
	return sqlstore.Ident(c.Name) + " integer primary key autoincrement"
}

// Encode: время - текстом постоянной ширины, bool - 0/1.
func (Dialect) Encode(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(sqlstore.TimeLayout)
	case bool:
		if t {
			return int64(1)
		}
		return int64(0)
	}
	return v
}

func (Dialect) IsDuplicate(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return false
}

func (Dialect) IgnoreDDL(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}
