package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"AIDE_API_KEY", "AIDE_PROVIDER", "AIDE_MODEL", "AIDE_BASE_URL",
		"AIDE_DB", "AIDE_ALLOWED_PATHS",
		"OPENAI_API_KEY", "GEMINI_API_KEY", "XAI_API_KEY", "ZAI_API_KEY",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, "aide", cfg.Name)
	require.Equal(t, "openai", cfg.Model.Provider)
	require.Equal(t, 10, cfg.Orchestrator.MaxTurns)
}

func TestLoadParsesYAML(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
model:
  provider: gemini
  api_key: file-key
  model: gemini-2.0-flash
sandbox:
  allowed_paths:
    - /srv/shared
orchestrator:
  max_turns: 3
  tool_timeout: 45s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "gemini", cfg.Model.Provider)
	require.Equal(t, "file-key", cfg.Model.APIKey)
	require.Equal(t, []string{"/srv/shared"}, cfg.Sandbox.AllowedPaths)
	require.Equal(t, 3, cfg.Orchestrator.MaxTurns)
	require.Equal(t, 45*time.Second, cfg.GetToolTimeout())
}

func TestEnvOverridesWin(t *testing.T) {
	clearEnv(t)
	t.Setenv("AIDE_API_KEY", "env-key")
	t.Setenv("AIDE_MODEL", "env-model")
	t.Setenv("AIDE_ALLOWED_PATHS", "/a:/b")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model:\n  api_key: file-key\n  model: file-model\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "env-key", cfg.Model.APIKey)
	require.Equal(t, "env-model", cfg.Model.Model)
	require.Equal(t, []string{"/a", "/b"}, cfg.Sandbox.AllowedPaths)
}

func TestValidateMissingAPIKey(t *testing.T) {
	clearEnv(t)

	cfg := DefaultConfig()
	require.Error(t, cfg.Validate())

	cfg.Model.APIKey = "key"
	require.NoError(t, cfg.Validate())
}

func TestValidateProvider(t *testing.T) {
	clearEnv(t)

	cfg := DefaultConfig()
	cfg.Model.APIKey = "key"
	cfg.Model.Provider = "carrier-pigeon"
	require.Error(t, cfg.Validate())
}

func TestDurationFallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Model.Timeout = "garbage"
	cfg.Execution.DefaultTimeout = ""
	cfg.Orchestrator.ToolTimeout = "nope"

	require.Equal(t, 120*time.Second, cfg.GetModelTimeout())
	require.Equal(t, 30*time.Second, cfg.GetExecutionTimeout())
	require.Equal(t, 2*time.Minute, cfg.GetToolTimeout())
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.Model.Provider = "xai"
	cfg.Model.APIKey = "saved-key"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "xai", loaded.Model.Provider)
	require.Equal(t, "saved-key", loaded.Model.APIKey)
}
