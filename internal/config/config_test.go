package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesSyncManagerConstructorDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, time.Second/20, cfg.Sync.UpdatePeriod())
	assert.Equal(t, time.Second, cfg.Sync.PriorityUpdatePeriod())
	assert.Equal(t, 3*time.Second, cfg.Sync.MaxLinExtrapTime())
	assert.True(t, cfg.Sync.InterestManagementEnabled)
	assert.Equal(t, 1400, cfg.Sync.MaxMessageSize())
}

func TestSyncConfigZeroFieldsFallBackToDefaults(t *testing.T) {
	var s SyncConfig
	assert.Equal(t, time.Second/20, s.UpdatePeriod())
	assert.Equal(t, time.Second, s.PriorityUpdatePeriod())
	assert.Equal(t, 3*time.Second, s.MaxLinExtrapTime())
	assert.Equal(t, 1400, s.MaxMessageSize())
}

func TestSyncConfigNonZeroOverridesDefault(t *testing.T) {
	s := SyncConfig{UpdatePeriodSeconds: 0.1, MaxMessageBytes: 512}
	assert.Equal(t, 100*time.Millisecond, s.UpdatePeriod())
	assert.Equal(t, 512, s.MaxMessageSize())
}

func TestServerConfigListenAddrFallsBackToEnvThenDefault(t *testing.T) {
	var s ServerConfig
	os.Unsetenv("SCENESYNC_LISTEN_ADDR")
	assert.Equal(t, ":2345", s.GetListenAddr())

	os.Setenv("SCENESYNC_LISTEN_ADDR", ":9999")
	defer os.Unsetenv("SCENESYNC_LISTEN_ADDR")
	assert.Equal(t, ":9999", s.GetListenAddr())

	s.ListenAddr = ":1234"
	assert.Equal(t, ":1234", s.GetListenAddr(), "an explicit config value wins over the env var")
}

func TestServerConfigAdminPortFallsBackToEnvThenDefault(t *testing.T) {
	var s ServerConfig
	os.Unsetenv("SCENESYNC_ADMIN_PORT")
	assert.Equal(t, 8088, s.GetAdminPort())

	os.Setenv("SCENESYNC_ADMIN_PORT", "9090")
	defer os.Unsetenv("SCENESYNC_ADMIN_PORT")
	assert.Equal(t, 9090, s.GetAdminPort())

	s.AdminPort = 7000
	assert.Equal(t, 7000, s.GetAdminPort())
}

func TestLoadWithEmptyPathAndNoEnvReturnsDefault(t *testing.T) {
	os.Unsetenv("SCENESYNC_CONFIG")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadParsesYAMLOverridingDefaults(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.yaml"
	yamlContent := "sync:\n  update_period_seconds: 0.05\nserver:\n  listen_addr: \":4000\"\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, cfg.Sync.UpdatePeriod())
	assert.Equal(t, ":4000", cfg.Server.ListenAddr)
	// fields absent from the YAML keep Default()'s values.
	assert.True(t, cfg.Sync.InterestManagementEnabled)
}

func TestLoadReturnsErrorForMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}
