package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoaderLayersBaseEnvironmentAndLocal(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.base.yaml", "redis:\n  addr: base:6379\n  pool_size: 5\n")
	writeFile(t, dir, "config.production.yaml", "redis:\n  addr: prod:6379\n")
	writeFile(t, dir, "config.production.local.yaml", "redis:\n  pool_size: 20\n")

	var cfg IngestorConfig
	require.NoError(t, NewLoader(dir).Load("production", &cfg))

	assert.Equal(t, "prod:6379", cfg.Redis.Addr)
	assert.Equal(t, 20, cfg.Redis.PoolSize)
	assert.Equal(t, "production", cfg.Environment)
}

func TestLoaderExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.base.yaml", "redis:\n  addr: ${TEST_REDIS_ADDR}\n")
	t.Setenv("TEST_REDIS_ADDR", "redis.internal:6379")

	var cfg IngestorConfig
	require.NoError(t, NewLoader(dir).Load("development", &cfg))
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
}

func TestLoaderToleratesMissingOptionalFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.base.yaml", "redis:\n  addr: base:6379\n")

	var cfg IngestorConfig
	require.NoError(t, NewLoader(dir).Load("staging", &cfg))
	assert.Equal(t, "base:6379", cfg.Redis.Addr)
}
