// Package config собирает настройки сервера: умолчания, затем YAML-файл,
// затем переменные окружения REALMDB_*, затем флаги командной строки.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/pflag"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"realmdb/internal/orm"
	"realmdb/internal/pg"
	"realmdb/internal/sweep"
)

// Error - класс ошибок конфигурации.
var Error = errs.Class("config")

// EnvPrefix - префикс переменных окружения.
const EnvPrefix = "REALMDB_"

// Драйверы хранилища.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

type Config struct {
	Addr        string       `yaml:"addr" env:"ADDR"`
	Storage     Storage      `yaml:"storage" envPrefix:"STORAGE_"`
	AutoMigrate bool         `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
	Save        sweep.Config `yaml:"save" envPrefix:"SAVE_"`
	Log         Log          `yaml:"log" envPrefix:"LOG_"`

	// CacheLimit - сколько строк можно поднять в кэш одной таблицы.
	CacheLimit int `yaml:"cache_limit" env:"CACHE_LIMIT"`
	// Tables - настройки отдельных таблиц: auto_save, precache, cache_limit.
	Tables map[string]orm.TableOptions `yaml:"tables"`
}

type Storage struct {
	Driver string  `yaml:"driver" env:"DRIVER"`
	DSN    string  `yaml:"dsn" env:"DSN"` // путь к файлу, postgres://... или redis://...
	Pool   pg.Pool `yaml:"pool" envPrefix:"POOL_"`
	// LogOps журналирует каждую операцию хранилища (Debug).
	LogOps bool `yaml:"log_ops" env:"LOG_OPS"`
}

type Log struct {
	Level       string `yaml:"level" env:"LEVEL"`
	Development bool   `yaml:"development" env:"DEVELOPMENT"`
}

// Default - настройки без файла, окружения и флагов.
func Default() Config {
	return Config{
		Addr:       ":8080",
		Storage:    Storage{Driver: DriverMemory, Pool: pg.DefaultPool},
		Save:       sweep.Config{Interval: time.Minute},
		Log:        Log{Level: "info"},
		CacheLimit: 10000,
	}
}

// AddFlags объявляет флаги, которые перекрывают файл и окружение.
func AddFlags(flags *pflag.FlagSet) {
	d := Default()
	flags.String("config", "", "path to config YAML")
	flags.String("addr", d.Addr, "admin HTTP address")
	flags.String("storage-driver", d.Storage.Driver, "storage driver (memory/sqlite/postgres/redis)")
	flags.String("storage-dsn", "", "storage DSN: file path, postgres:// or redis:// URL")
	flags.Bool("auto-migrate", false, "create missing tables and indexes on start")
	flags.Duration("save-interval", d.Save.Interval, "autosave cycle interval")
	flags.Int("cache-limit", d.CacheLimit, "row bound for a precached table")
	flags.String("log-level", d.Log.Level, "log level (debug/info/warn/error)")
}

// Load читает настройки. flags может быть nil.
func Load(flags *pflag.FlagSet) (Config, error) {
	cfg := Default()

	path := os.Getenv(EnvPrefix + "CONFIG")
	if flags != nil && flags.Changed("config") {
		path, _ = flags.GetString("config")
	}
	if path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return cfg, err
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, Error.New("parse env: %v", err)
	}

	if flags != nil {
		if err := cfg.applyFlags(flags); err != nil {
			return cfg, err
		}
	}
	return cfg, cfg.Validate()
}

func (cfg *Config) loadYAML(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Error.New("config file %q not found", path)
		}
		return Error.Wrap(err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return Error.New("%s: %v", path, err)
	}
	return nil
}

func (cfg *Config) applyFlags(flags *pflag.FlagSet) (err error) {
	var group errs.Group
	str := func(name string, dst *string) {
		if flags.Changed(name) {
			v, err := flags.GetString(name)
			group.Add(err)
			*dst = strings.TrimSpace(v)
		}
	}
	str("addr", &cfg.Addr)
	str("storage-driver", &cfg.Storage.Driver)
	str("storage-dsn", &cfg.Storage.DSN)
	str("log-level", &cfg.Log.Level)
	if flags.Changed("auto-migrate") {
		cfg.AutoMigrate, err = flags.GetBool("auto-migrate")
		group.Add(err)
	}
	if flags.Changed("save-interval") {
		cfg.Save.Interval, err = flags.GetDuration("save-interval")
		group.Add(err)
	}
	if flags.Changed("cache-limit") {
		cfg.CacheLimit, err = flags.GetInt("cache-limit")
		group.Add(err)
	}
	return Error.Wrap(group.Err())
}

// Validate проверяет сочетание настроек.
func (cfg Config) Validate() error {
	var group errs.Group
	switch strings.ToLower(cfg.Storage.Driver) {
	case DriverMemory:
	case DriverSQLite, DriverPostgres, DriverRedis:
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			group.Add(Error.New("storage driver %q needs a dsn", cfg.Storage.Driver))
		}
	default:
		group.Add(Error.New("unknown storage driver %q", cfg.Storage.Driver))
	}
	if cfg.CacheLimit <= 0 {
		group.Add(Error.New("cache_limit must be positive"))
	}
	if cfg.Save.Interval <= 0 {
		group.Add(Error.New("save interval must be positive"))
	}
	if _, err := zap.ParseAtomicLevel(cfg.Log.Level); err != nil {
		group.Add(Error.New("log level: %v", err))
	}
	return group.Err()
}

// Options - настройки движка.
func (cfg Config) Options() orm.Options {
	return orm.Options{CacheLimit: cfg.CacheLimit, Tables: cfg.Tables}
}

// Logger строит zap-логгер по настройкам.
func (cfg Config) Logger() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Log.Level)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	zc.Level = level
	log, err := zc.Build()
	return log, Error.Wrap(err)
}
