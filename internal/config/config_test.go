package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 5*time.Second, cfg.WS.AuthGrace)
	assert.Equal(t, 64, cfg.WS.SendBuffer)
	assert.Equal(t, "driver-locations", cfg.KafkaTopic)
}

func TestLoadServerConfigEnvOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("WS_AUTH_GRACE", "2s")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("MIGRATE", "TRUE")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.HTTPAddr)
	assert.Equal(t, 2*time.Second, cfg.WS.AuthGrace)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.RunMigrations)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadServerConfigFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_addr: ":7000"
jwt_secret: from-file
ws:
  send_buffer: 8
  auth_grace: 3s
kafka_brokers: [k1:9092]
`), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("HTTP_ADDR", ":7001")

	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, ":7001", cfg.HTTPAddr, "env wins over file")
	assert.Equal(t, "from-file", cfg.JWTSecret)
	assert.Equal(t, 8, cfg.WS.SendBuffer)
	assert.Equal(t, 3*time.Second, cfg.WS.AuthGrace)
	assert.Equal(t, []string{"k1:9092"}, cfg.KafkaBrokers)
}

func TestLoadServerConfigErrorsAreJoined(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("WS_AUTH_GRACE", "soon")
	t.Setenv("WS_SEND_BUFFER", "0")

	_, err := LoadServerConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid WS_AUTH_GRACE")
	assert.Contains(t, err.Error(), "JWT_SECRET is required")
	assert.Contains(t, err.Error(), "WS_SEND_BUFFER must be > 0")
}
