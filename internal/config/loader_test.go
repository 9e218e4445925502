package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/querydeck-io/querydeck/internal/backend/postgres"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), ConfigFileName), nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultBatchSize, cfg.BatchSize)
	assert.Equal(t, DefaultOutput, cfg.Output)
	assert.True(t, cfg.Paginate)
	assert.Equal(t, "", GetConfigFileUsed())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
database_path: analytics.duckdb
batch_size: 250
connections:
  warehouse_pg:
    type: postgres
    host: db.internal
    port: 5432
    database: analytics
    user: reader
    password: secret
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "analytics.duckdb"), cfg.DatabasePath)
	assert.Equal(t, 250, cfg.BatchSize)
	assert.Equal(t, path, GetConfigFileUsed())
	assert.Equal(t, dir, cfg.ProjectRoot)

	conn, ok := cfg.Connections["warehouse_pg"]
	require.True(t, ok)
	assert.Equal(t, "postgres", conn.Type)

	bc := conn.ToBackendConfig("warehouse_pg")
	assert.Equal(t, "warehouse_pg", bc.Name)
	assert.Equal(t, "db.internal", bc.Host)
	assert.Equal(t, "secret", bc.Password)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "batch_size: 250\n")

	t.Setenv("QUERYDECK_BATCH_SIZE", "42")
	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.BatchSize)
}

func TestLoadFlagsOverrideEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "batch_size: 250\n")
	t.Setenv("QUERYDECK_BATCH_SIZE", "42")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("batch-size", DefaultBatchSize, "")
	require.NoError(t, flags.Parse([]string{"--batch-size", "7"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.BatchSize)
}

func TestLoadExpandsCredentialEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
connections:
  pg:
    type: postgres
    password: ${QD_TEST_PASSWORD}
`)

	t.Setenv("QD_TEST_PASSWORD", "hunter2")
	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", cfg.Connections["pg"].Password)
}

func TestLoadRejectsUnknownConnectionType(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
connections:
  bad:
    type: oracle
`)

	_, err := Load(path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oracle")
}

func TestMemoryPathNotResolved(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "database_path: \":memory:\"\n")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, ":memory:", cfg.DatabasePath)
}
