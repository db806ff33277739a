package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadConfig(t *testing.T) {
	path := writeConfigFile(t, `{
		"port": 9090,
		"log_level": "debug",
		"broker": "nats",
		"nats_url": "nats://localhost:4222",
		"jwt_secret": "s3cret",
		"max_message_length": 500
	}`)

	cfg, err := ReadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "nats", cfg.Broker)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
	assert.Equal(t, 500, cfg.MaxMessageLength)
}

func TestReadConfigAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, `{"jwt_secret": "s3cret"}`)

	cfg, err := ReadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "redis", cfg.Broker)
	assert.Equal(t, 10000, cfg.MaxMessageLength)
	assert.Equal(t, 50, cfg.HistoryPageSize)
}

func TestReadConfigMissingFile(t *testing.T) {
	_, err := ReadConfig(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
