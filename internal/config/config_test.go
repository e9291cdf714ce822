package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lockerbench.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 1000, cfg.Load.TotalActors)
	assert.Equal(t, 300, cfg.Load.BatchSize)
	assert.Equal(t, 150, cfg.Load.ResourceCount)
	assert.Equal(t, 30*time.Second, cfg.Timeouts.Request)
	assert.Equal(t, 120*time.Second, cfg.Timeouts.Total)
	assert.Equal(t, "TEST", cfg.Fixture.ActorPrefix)
	assert.Equal(t, 9000, cfg.Fixture.ResourceBase)
	assert.Len(t, cfg.Fixture.SeedActors, 2)
	assert.Equal(t, VerifyByID, cfg.Verify.Mode)
}

func TestLoadOverlaysYAML(t *testing.T) {
	path := writeConfig(t, `
base_url: http://10.0.0.5:3000
load:
  total_actors: 50
  batch_size: 10
  think_min: 0s
  think_max: 20ms
  confirm_rate: 0.5
race:
  actors: 25
verify:
  mode: both
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://10.0.0.5:3000", cfg.BaseURL)
	assert.Equal(t, 50, cfg.Load.TotalActors)
	assert.Equal(t, 10, cfg.Load.BatchSize)
	assert.Equal(t, 20*time.Millisecond, cfg.Load.ThinkMax)
	assert.Equal(t, 0.5, cfg.Load.ConfirmRate)
	assert.Equal(t, 25, cfg.Race.Actors)
	assert.Equal(t, VerifyByBoth, cfg.Verify.Mode)

	// untouched sections keep their defaults
	assert.Equal(t, 150, cfg.Load.ResourceCount)
	assert.Equal(t, "localhost", cfg.Store.Host)
}

func TestLoadEmptyFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default().Load, cfg.Load)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "load:\n  total_users: 10\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config YAML")
	assert.Contains(t, err.Error(), "total_users")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "store:\n  host: file-host\n")
	t.Setenv("DB_HOST", "env-host")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("DB_PASSWORD", "s3cret")
	t.Setenv("REDIS_ADDR", "cache:6379")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-host", cfg.Store.Host)
	assert.Equal(t, 6543, cfg.Store.Port)
	assert.Equal(t, "s3cret", cfg.Store.Password)
	assert.Equal(t, "cache:6379", cfg.Cache.Addr)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"confirm rate above one", func(c *Config) { c.Load.ConfirmRate = 1.5 }, "confirm_rate"},
		{"zero batch size", func(c *Config) { c.Load.BatchSize = 0 }, "batch_size"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mysql" }, "driver"},
		{"unknown verify mode", func(c *Config) { c.Verify.Mode = "phone" }, "mode"},
		{"bad base url", func(c *Config) { c.BaseURL = "localhost:3000" }, "base_url"},
		{"think window inverted", func(c *Config) {
			c.Load.ThinkMin = time.Second
			c.Load.ThinkMax = time.Millisecond
		}, "think_max"},
		{"sqlite without dsn", func(c *Config) { c.Store.Driver = "sqlite" }, "store.dsn"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid config")
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConnString(t *testing.T) {
	s := StoreConfig{Host: "db", Port: 5432, Name: "locker", User: "locker", Password: "p@ss"}
	assert.Equal(t, "postgres://locker:p%40ss@db:5432/locker?sslmode=disable", s.ConnString())

	s.DSN = "/tmp/state.db"
	assert.Equal(t, "/tmp/state.db", s.ConnString())
}
