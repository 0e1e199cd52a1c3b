package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("LOG_FORMAT", "")
	t.Setenv("ENVIRONMENT", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, ":8787", cfg.Addr)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, "@every 30m", cfg.ReindexCron)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 40, cfg.RateLimitBurst)
	assert.Equal(t, DBPoolConfig{MaxOpenConns: 20, MaxIdleConns: 10, ConnMaxLifetime: 30 * time.Minute, ConnMaxIdleTime: 5 * time.Minute}, cfg.DBPool)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("API_ADDR", ":9000")
	t.Setenv("STORE_DRIVER", "Memory")
	t.Setenv("STORE_TIMEOUT", "250ms")
	t.Setenv("MINIO_ENDPOINT", "localhost:9000")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("DB_MAX_OPEN_CONNS", "50")
	t.Setenv("DB_CONN_MAX_LIFETIME", "1h")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("LOG_FORMAT", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, 250*time.Millisecond, cfg.StoreTimeout)
	assert.Equal(t, "localhost:9000", cfg.MinIO.Endpoint)
	assert.True(t, cfg.MinIO.UseSSL)
	assert.InDelta(t, 2.5, cfg.RateLimitRPS, 0.0001)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 50, cfg.DBPool.MaxOpenConns)
	assert.Equal(t, time.Hour, cfg.DBPool.ConnMaxLifetime)
}

func TestLoadReadsEnvFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(file, []byte("DOCHUB_TEST_ONLY=1\nMIRROR_DIR=/tmp/dochub-mirror-test\n"), 0o600))
	t.Setenv("MIRROR_DIR", "")
	os.Unsetenv("MIRROR_DIR")
	t.Cleanup(func() {
		os.Unsetenv("MIRROR_DIR")
		os.Unsetenv("DOCHUB_TEST_ONLY")
	})

	cfg, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/dochub-mirror-test", cfg.MirrorDir)
}

func TestValidate(t *testing.T) {
	base := Config{StoreDriver: DriverPostgres, DatabaseURL: "postgres://x", JWTSecret: "s", MinIO: MinIOConfig{Bucket: "b"}}
	require.NoError(t, base.Validate())

	memory := base
	memory.StoreDriver = DriverMemory
	memory.DatabaseURL = ""
	require.NoError(t, memory.Validate())

	noDB := base
	noDB.DatabaseURL = ""
	require.ErrorContains(t, noDB.Validate(), "DATABASE_URL")

	badDriver := base
	badDriver.StoreDriver = "sqlite"
	require.ErrorContains(t, badDriver.Validate(), "STORE_DRIVER")

	noSecret := base
	noSecret.JWTSecret = ""
	require.ErrorContains(t, noSecret.Validate(), "JWT_SECRET")

	prodDefault := base
	prodDefault.Environment = "production"
	prodDefault.JWTSecret = "dochub-dev-secret"
	require.ErrorContains(t, prodDefault.Validate(), "production")

	badPool := base
	badPool.DBPool.MaxOpenConns = -1
	require.ErrorContains(t, badPool.Validate(), "DB_MAX_OPEN_CONNS")

	minio := base
	minio.MinIO = MinIOConfig{Endpoint: "localhost:9000"}
	require.ErrorContains(t, minio.Validate(), "MINIO_BUCKET")
}
