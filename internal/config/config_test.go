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
	path := filepath.Join(t.TempDir(), "zedctl.hcl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const validConfig = `
listen   = "0.0.0.0:9090"
data_dir = "/tmp/zedctl-test"

admin {
  username      = "admin"
  password_hash = "$2a$10$abcdefghijklmnopqrstuv"
  session_ttl   = "12h"
}

poll {
  interval = "30s"
}

workshop {
  politeness_delay = "250ms"
}
`

func TestLoad_Valid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.Listen)
	assert.Equal(t, "/tmp/zedctl-test", cfg.DataDir)
	assert.Equal(t, "/tmp/zedctl-test/master.key", cfg.KeyFile)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "admin", cfg.Admin.Username)
	assert.Equal(t, 12*time.Hour, cfg.SessionTTL())
	assert.Equal(t, 30*time.Second, cfg.PollInterval())
	assert.Equal(t, 250*time.Millisecond, cfg.PolitenessDelay())
	assert.Equal(t, "/tmp/zedctl-test/zedctl.db", cfg.DatabasePath())
}

func TestLoad_DefaultsForOmittedBlocks(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
admin {
  username      = "admin"
  password_hash = "$2a$10$abcdefghijklmnopqrstuv"
}
`))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
	assert.Zero(t, cfg.PollInterval())
	assert.Zero(t, cfg.SessionTTL())
}

func TestLoad_MissingAdmin(t *testing.T) {
	_, err := Load(writeConfig(t, `listen = "127.0.0.1:8080"`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "admin")
}

func TestLoad_BadListen(t *testing.T) {
	_, err := Load(writeConfig(t, `
listen = "not-an-address"

admin {
  username      = "admin"
  password_hash = "x"
}
`))
	assert.Error(t, err)
}

func TestLoad_BadDuration(t *testing.T) {
	_, err := Load(writeConfig(t, `
admin {
  username      = "admin"
  password_hash = "x"
  session_ttl   = "tomorrow"
}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session_ttl")
}

func TestLoad_BadLogLevel(t *testing.T) {
	_, err := Load(writeConfig(t, `
log_level = "verbose"

admin {
  username      = "admin"
  password_hash = "x"
}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ZEDCTL_LISTEN", "127.0.0.1:7777")
	t.Setenv("ZEDCTL_DATA_DIR", "/tmp/elsewhere")

	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7777", cfg.Listen)
	assert.Equal(t, "/tmp/elsewhere", cfg.DataDir)
}

func TestLoad_ParseError(t *testing.T) {
	_, err := Load(writeConfig(t, `listen = `))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
	assert.NotEmpty(t, cfg.DataDir)
	assert.NotNil(t, cfg.Poll)
}
