package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SEATGRID_CONFIG_PATH", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "4000", cfg.Port)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, 5*time.Second, cfg.Store.Timeout)
	assert.Equal(t, 60*time.Second, cfg.Seats.HoldTTL)
	assert.Equal(t, 3*time.Second, cfg.Seats.SweepInterval)
	assert.Equal(t, 5, cfg.Seats.DefaultRows)
	assert.Equal(t, 8, cfg.Seats.DefaultCols)
	assert.Equal(t, "seat.booked", cfg.AMQP.Queue)
	assert.False(t, cfg.AMQP.Enabled)
	assert.False(t, cfg.Redis.RelayEnabled)
	assert.NotEmpty(t, cfg.InstanceID)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seatgrid.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "5000"
store:
  driver: mysql
  db_user: app
  db_host: db.internal
  db_name: seats
seats:
  hold_ttl: 90s
  default_rows: 10
redis:
  relay_enabled: true
  channel: seats
`), 0o644))
	t.Setenv("APP_PORT", "6000")
	t.Setenv("SWEEP_BATCH", "25")
	t.Setenv("RABBITMQ_URL", "amqp://broker:5672/")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "6000", cfg.Port, "env wins over file")
	assert.Equal(t, DriverMySQL, cfg.Store.Driver)
	assert.Equal(t, "db.internal", cfg.Store.DBHost)
	assert.Equal(t, 90*time.Second, cfg.Seats.HoldTTL)
	assert.Equal(t, 10, cfg.Seats.DefaultRows)
	assert.Equal(t, 8, cfg.Seats.DefaultCols, "unset keys keep defaults")
	assert.Equal(t, 25, cfg.Seats.SweepBatch)
	assert.True(t, cfg.Redis.RelayEnabled)
	assert.Equal(t, "amqp://broker:5672/", cfg.AMQP.URL)
}

func TestLoad_ConfigPathFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\n"), 0o644))
	t.Setenv("SEATGRID_CONFIG_PATH", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.ErrorContains(t, err, "read config file")
	})
	t.Run("bad yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("port: [\n"), 0o644))
		_, err := Load(path)
		assert.ErrorContains(t, err, "parse config file")
	})
	t.Run("bad duration", func(t *testing.T) {
		t.Setenv("HOLD_TTL", "soon")
		_, err := Load("")
		assert.ErrorContains(t, err, "HOLD_TTL")
	})
	t.Run("bad bool", func(t *testing.T) {
		t.Setenv("AMQP_ENABLED", "maybe")
		_, err := Load("")
		assert.ErrorContains(t, err, "AMQP_ENABLED")
	})
	t.Run("unknown driver", func(t *testing.T) {
		t.Setenv("STORE_DRIVER", "cassandra")
		_, err := Load("")
		assert.ErrorContains(t, err, "unknown store driver")
	})
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"port":          func(c *Config) { c.Port = "http" },
		"log level":     func(c *Config) { c.LogLevel = "loud" },
		"timeout":       func(c *Config) { c.Store.Timeout = 0 },
		"ttl":           func(c *Config) { c.Seats.HoldTTL = -time.Second },
		"sweep":         func(c *Config) { c.Seats.SweepInterval = 0 },
		"batch":         func(c *Config) { c.Seats.SweepBatch = 0 },
		"rows":          func(c *Config) { c.Seats.DefaultRows = 2 },
		"cols":          func(c *Config) { c.Seats.DefaultCols = 21 },
		"mysql":         func(c *Config) { c.Store.Driver = DriverMySQL; c.Store.DBUser = "" },
		"mongo":         func(c *Config) { c.Store.Driver = DriverMongo; c.Store.MongoURL = "" },
		"relay channel": func(c *Config) { c.Redis.RelayEnabled = true; c.Redis.Channel = "" },
		"amqp":          func(c *Config) { c.AMQP.Enabled = true; c.AMQP.URL = "" },
	}
	require.NoError(t, Default().Validate())
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestRateLimitEnv(t *testing.T) {
	t.Setenv("RATE_LIMIT_BURST", "10")
	t.Setenv("RATE_LIMIT_REFILL_EVERY", "2s")
	t.Setenv("RATE_LIMIT_TTL", "1s")
	t.Setenv("RATE_LIMIT_KEY_STRATEGY", "ip_user_route")

	cfg, err := Load("")
	require.NoError(t, err)
	rl := cfg.RateLimit
	assert.Equal(t, 10, rl.Capacity)
	assert.Equal(t, 1, rl.RefillTokens)
	assert.Equal(t, 2*time.Second, rl.RefillInterval)
	assert.Equal(t, 10*time.Second, rl.TTL, "TTL is clamped to five refill intervals")
	assert.Equal(t, KeyIPRoute, rl.KeyStrategy, "unknown strategies fall back")
}

func TestRedisEnv(t *testing.T) {
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("REDIS_DB", "2")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
}
