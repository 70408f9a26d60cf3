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
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.StoreBackend)
	assert.Equal(t, "mock", cfg.Generator)
	assert.Equal(t, "mock", cfg.Judge)
	assert.Equal(t, 8.0, cfg.TargetScore)
	assert.Equal(t, 5, cfg.MaxIterations)
	assert.Equal(t, 1, cfg.Variants)
	assert.Equal(t, 5*time.Minute, cfg.TurnTimeout)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cartouche.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store-backend: postgres
store-dsn: postgres://localhost/cartouche
generator: openai
target-score: 9.5
variants: 3
turn-timeout: 90s
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.StoreBackend)
	assert.Equal(t, "postgres://localhost/cartouche", cfg.StoreDSN)
	assert.Equal(t, "openai", cfg.Generator)
	assert.Equal(t, 9.5, cfg.TargetScore)
	assert.Equal(t, 3, cfg.Variants)
	assert.Equal(t, 90*time.Second, cfg.TurnTimeout)
	// Unset values keep their defaults.
	assert.Equal(t, "mock", cfg.Judge)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CARTOUCHE_MAX_ITERATIONS", "12")
	t.Setenv("CARTOUCHE_JUDGE", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.MaxIterations)
	assert.Equal(t, "anthropic", cfg.Judge)
	assert.Equal(t, "sk-test", cfg.AnthropicAPIKey)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
