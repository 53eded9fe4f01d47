package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setSecrets(t *testing.T) {
	t.Setenv("ENV", "")
	t.Setenv("PORT", "")
	t.Setenv("JWT_ACCESS_SECRET", "access-secret-access-secret-0123456789")
	t.Setenv("JWT_REFRESH_SECRET", "refresh-secret-refresh-secret-0123456789")
	t.Setenv("JWT_PUBLIC_SECRET", "public-secret-public-secret-0123456789")
	t.Setenv("S3_ACCESS_KEY", "minio")
	t.Setenv("S3_SECRET_KEY", "minio-secret")
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	setSecrets(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Server.Env)
	assert.Equal(t, "4000", cfg.Server.Port)
	assert.Equal(t, 15*time.Minute, cfg.Security.AccessTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.Security.RefreshTTL)
	assert.Equal(t, 10*time.Minute, cfg.Security.PublicTTL)
	assert.Equal(t, 60*time.Second, cfg.Storage.DownloadURLTTL)
	assert.Equal(t, int64(20*1024*1024), cfg.MaxFileSizeBytes())
	assert.Equal(t, 12, cfg.Security.BcryptCost)
	assert.False(t, cfg.Security.CookieSecure)
	assert.NoError(t, ValidateConfig(cfg))
}

func TestLoadConfigFileOverlay(t *testing.T) {
	setSecrets(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 5000
max_file_size_mb: 5
cors_allowed_origins:
  - https://a.example
  - https://b.example
`), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("MAX_FILE_SIZE_MB", "7")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "5000", cfg.Server.Port)
	assert.Equal(t, int64(7), cfg.Storage.MaxFileSizeMB, "env wins over file")
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSAllowedOrigins)
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestValidateConfigInvalidTTL(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	setSecrets(t)
	t.Setenv("ACCESS_TOKEN_TTL", "1h30m")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	err = ValidateConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ACCESS_TOKEN_TTL")
}

func TestValidateConfigProduction(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("ENV", "production")
	t.Setenv("JWT_ACCESS_SECRET", "short")
	t.Setenv("JWT_REFRESH_SECRET", "short")
	t.Setenv("JWT_PUBLIC_SECRET", "")
	t.Setenv("DB_DRIVER", "sqlite")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.Security.CookieSecure)

	err = ValidateConfig(cfg)
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "JWT_ACCESS_SECRET must be at least 32 characters long")
	assert.Contains(t, msg, "JWT_REFRESH_SECRET must differ from JWT_ACCESS_SECRET")
	assert.Contains(t, msg, "JWT_PUBLIC_SECRET is required")
	assert.Contains(t, msg, "DB_DRIVER=sqlite is not allowed in production")
}

func TestPrintConfigMasksSecrets(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	setSecrets(t)
	t.Setenv("DATABASE_URL", "postgres://omni:hunter22@db:5432/omniqr")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	out := cfg.PrintConfig()
	assert.NotContains(t, out, "hunter22")
	assert.NotContains(t, out, "access-secret-access-secret-0123456789")
	assert.Contains(t, out, "postgres://omni:***@db:5432/omniqr")
}
