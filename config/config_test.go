package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/grovetools/memory/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points every config location at temporary directories.
func isolate(t *testing.T) string {
	t.Helper()
	t.Setenv("GROVE_HOME", "")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("GROVE_MEMORY_ROOT", "")
	for _, name := range []string{
		"GROVE_MEMORY_PROJECT", "GROVE_MEMORY_AGENT",
		"GROVE_MEMORY_REMOTE_URL", "GROVE_MEMORY_REMOTE_KEY",
		"GROVE_MEMORY_EMBEDDING_KEY", "GROVE_MEMORY_EMBEDDING_URL", "GROVE_MEMORY_EMBEDDING_TYPE",
	} {
		t.Setenv(name, "")
	}
	return t.TempDir()
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoadFromDefaults(t *testing.T) {
	projectDir := isolate(t)

	cfg, err := LoadFrom(projectDir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(projectDir, ".gitmem"), cfg.Root)
	assert.Equal(t, "default", cfg.Project)
	assert.Equal(t, 2*time.Hour, cfg.Sessions.AdoptThreshold.Std())
	assert.Equal(t, 24*time.Hour, cfg.Sessions.StaleThreshold.Std())
	assert.Equal(t, 0.85, cfg.Threads.DedupSimilarity)
	assert.Equal(t, 100, cfg.Effects.History)
	assert.False(t, cfg.Remote.Enabled())
}

func TestLoadFromLayers(t *testing.T) {
	projectDir := isolate(t)

	writeFile(t, filepath.Join(os.Getenv("XDG_CONFIG_HOME"), "grove", "memory.yml"), `
project: global-project
agent: cli
sessions:
  adopt_threshold: 1h
remote:
  url: https://global.example
  api_key: global-key
`)
	writeFile(t, filepath.Join(projectDir, ".gitmem", "config.yml"), `
project: local-project
threads:
  dedup_similarity: 0.9
logging:
  level: debug
`)

	cfg, err := LoadFrom(projectDir)
	require.NoError(t, err)

	assert.Equal(t, "local-project", cfg.Project)
	assert.Equal(t, "cli", cfg.Agent, "global value survives when the project file omits it")
	assert.Equal(t, time.Hour, cfg.Sessions.AdoptThreshold.Std())
	assert.Equal(t, 0.9, cfg.Threads.DedupSimilarity)
	assert.Equal(t, "https://global.example", cfg.Remote.URL)
	assert.True(t, cfg.Remote.Enabled())

	var logCfg struct {
		Level string `mapstructure:"level"`
	}
	require.NoError(t, cfg.UnmarshalExtension("logging", &logCfg))
	assert.Equal(t, "debug", logCfg.Level)
}

func TestLoadFromTOML(t *testing.T) {
	projectDir := isolate(t)

	writeFile(t, filepath.Join(projectDir, ".gitmem", "config.toml"), `
project = "toml-project"

[lock]
timeout = "2s"

[logging]
level = "warn"
`)

	cfg, err := LoadFrom(projectDir)
	require.NoError(t, err)

	assert.Equal(t, "toml-project", cfg.Project)
	assert.Equal(t, 2*time.Second, cfg.Lock.Timeout.Std())

	var logCfg struct {
		Level string `mapstructure:"level"`
	}
	require.NoError(t, cfg.UnmarshalExtension("logging", &logCfg))
	assert.Equal(t, "warn", logCfg.Level)
}

func TestEnvironmentOverrides(t *testing.T) {
	projectDir := isolate(t)
	t.Setenv("GROVE_MEMORY_PROJECT", "env-project")
	t.Setenv("GROVE_MEMORY_REMOTE_URL", "https://env.example")
	t.Setenv("GROVE_MEMORY_REMOTE_KEY", "env-key")

	writeFile(t, filepath.Join(projectDir, ".gitmem", "config.yml"), "project: file-project\n")

	cfg, err := LoadFrom(projectDir)
	require.NoError(t, err)
	assert.Equal(t, "env-project", cfg.Project)
	assert.Equal(t, "https://env.example", cfg.Remote.URL)
	assert.Equal(t, "<redacted>", cfg.Redacted().Remote.APIKey)
	assert.Equal(t, "env-key", cfg.Remote.APIKey)
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("MEMORY_TEST_KEY", "secret")

	assert.Equal(t, "key: secret", expandEnvVars("key: ${MEMORY_TEST_KEY}"))
	assert.Equal(t, "key: fallback", expandEnvVars("key: ${MEMORY_TEST_MISSING:-fallback}"))
	assert.Equal(t, "key: ", expandEnvVars("key: ${MEMORY_TEST_MISSING}"))
}

func TestRootOverride(t *testing.T) {
	projectDir := isolate(t)

	cfg, err := LoadFromBytes([]byte("root: state\n"))
	require.NoError(t, err)
	cwd, _ := os.Getwd()
	assert.Equal(t, filepath.Join(cwd, "state"), cfg.Root)

	t.Setenv("GROVE_MEMORY_ROOT", filepath.Join(projectDir, "elsewhere"))
	cfg, err = LoadFrom(projectDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(projectDir, "elsewhere"), cfg.Root)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeConfigNotFound))
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"adopt not below stale", "sessions:\n  adopt_threshold: 48h\n"},
		{"similarity out of range", "threads:\n  dedup_similarity: 1.5\n"},
		{"half remote config", "remote:\n  url: https://x.example\n"},
		{"unknown embedding provider", "embedding:\n  provider: word2vec\n"},
		{"bad duration", "lock:\n  timeout: soon\n"},
		{"retry above timeout", "lock:\n  timeout: 10ms\n  retry_interval: 50ms\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			_, err := LoadFromBytes([]byte(tt.content))
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrCodeConfigInvalid), "got %v", err)
		})
	}
}
