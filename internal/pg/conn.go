// Package pg - хранилище строк в PostgreSQL через pgx.
package pg

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	"go.uber.org/zap"

	"realmdb/internal/sqlstore"
	"realmdb/internal/store"
)

// Pool - лимиты пула соединений.
type Pool struct {
	MaxOpen     int           `yaml:"max_open" env:"MAX_OPEN"`
	MaxIdle     int           `yaml:"max_idle" env:"MAX_IDLE"`
	MaxLifetime time.Duration `yaml:"max_lifetime" env:"MAX_LIFETIME"`
}

// DefaultPool - лимиты, если в конфиге пусто.
var DefaultPool = Pool{MaxOpen: 10, MaxIdle: 5, MaxLifetime: 30 * time.Minute}

// Open подключается к базе url и проверяет соединение.
func Open(ctx context.Context, log *zap.Logger, url string, pool Pool) (*sqlstore.Store, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, store.Error.Wrap(err)
	}
	if pool.MaxOpen == 0 {
		pool = DefaultPool
	}
	db.SetConnMaxLifetime(pool.MaxLifetime)
	db.SetMaxOpenConns(pool.MaxOpen)
	db.SetMaxIdleConns(pool.MaxIdle)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, store.Error.Wrap(err)
	}
	log.Info("postgres connected", zap.Int("max_open", pool.MaxOpen))
	return sqlstore.New(log, db, Dialect{}), nil
}
