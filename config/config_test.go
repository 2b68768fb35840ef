package config

import (
	"os"
	"path/filepath"
	"testing"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, "8080", cfg.API.Port)

	params, err := cfg.EngineParams()
	require.NoError(t, err)
	require.NoError(t, params.Validate())
}

func TestLoadFileWithOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
api:
  port: "9090"
  jwt_secret: "deadbeefdeadbeefdeadbeefdeadbeef"
admins:
  - admin-1
params:
  minimum_stake: "5000000"
  failure_threshold: 5
  cooldown_seconds: 60
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, []string{"admin-1"}, cfg.Admins)

	params, err := cfg.EngineParams()
	require.NoError(t, err)
	require.True(t, params.MinimumStake.Equal(math.NewInt(5_000_000)))
	require.Equal(t, uint32(5), params.FailureThreshold)
	require.Equal(t, int64(60), params.CooldownSeconds)

	apiCfg, err := cfg.APIConfig()
	require.NoError(t, err)
	require.Equal(t, "9090", apiCfg.Port)
	require.Len(t, apiCfg.JWTSecret, 16)
}

func TestUnknownParamKeyRejected(t *testing.T) {
	cfg := &Config{Params: map[string]interface{}{"bogus": 1}}
	_, err := cfg.EngineParams()
	require.Error(t, err)
}
