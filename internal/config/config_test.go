package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realmdb/internal/config"
)

const sample = `
addr: ":9090"
storage:
  driver: sqlite
  dsn: /var/lib/realm/realm.db
save:
  interval: 30s
cache_limit: 500
tables:
  spell_template:
    precache: true
    cache_limit: 2000
  mail:
    auto_save: false
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "realmdb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := config.Load(nil)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, config.DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, time.Minute, cfg.Save.Interval)
}

func TestLayering(t *testing.T) {
	path := writeConfig(t)
	t.Setenv("REALMDB_CONFIG", path)
	t.Setenv("REALMDB_CACHE_LIMIT", "700")
	t.Setenv("REALMDB_STORAGE_POOL_MAX_OPEN", "3")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.AddFlags(flags)
	require.NoError(t, flags.Parse([]string{"--addr", ":7070", "--save-interval", "5s"}))

	cfg, err := config.Load(flags)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Addr, "flag beats file")
	assert.Equal(t, 5*time.Second, cfg.Save.Interval)
	assert.Equal(t, 700, cfg.CacheLimit, "env beats file")
	assert.Equal(t, 3, cfg.Storage.Pool.MaxOpen)
	assert.Equal(t, config.DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, "/var/lib/realm/realm.db", cfg.Storage.DSN)

	opts := cfg.Options()
	assert.Equal(t, 700, opts.CacheLimit)
	require.Contains(t, opts.Tables, "spell_template")
	require.NotNil(t, opts.Tables["spell_template"].Precache)
	assert.True(t, *opts.Tables["spell_template"].Precache)
	assert.Equal(t, 2000, opts.Tables["spell_template"].CacheLimit)
	require.NotNil(t, opts.Tables["mail"].AutoSave)
	assert.False(t, *opts.Tables["mail"].AutoSave)
	assert.Nil(t, opts.Tables["mail"].Precache)
}

func TestMissingFile(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.AddFlags(flags)
	require.NoError(t, flags.Parse([]string{"--config", filepath.Join(t.TempDir(), "nope.yaml")}))
	_, err := config.Load(flags)
	require.Error(t, err)
	assert.True(t, config.Error.Has(err))
}

func TestValidate(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = config.DriverPostgres
	assert.Error(t, cfg.Validate(), "postgres without dsn")

	cfg.Storage.Driver = "mongo"
	cfg.Storage.DSN = "x"
	assert.Error(t, cfg.Validate())

	cfg = config.Default()
	cfg.Log.Level = "loud"
	assert.Error(t, cfg.Validate())

	cfg = config.Default()
	cfg.CacheLimit = 0
	assert.Error(t, cfg.Validate())
}
