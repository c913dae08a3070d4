package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Port    int      `env:"TEST_CFG_PORT" envDefault:"8080"`
	APIKey  string   `env:"TEST_CFG_API_KEY"`
	Brokers []string `env:"TEST_CFG_BROKERS" envDefault:"a:1,b:2" envSeparator:","`
}

func TestLoad_Defaults(t *testing.T) {
	var cfg testConfig
	require.NoError(t, Load(&cfg))

	assert.Equal(t, 8080, cfg.Port)
	assert.Empty(t, cfg.APIKey)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.Brokers)
}

func TestLoad_FromEnvVars(t *testing.T) {
	t.Setenv("TEST_CFG_PORT", "9090")
	t.Setenv("TEST_CFG_API_KEY", "secret")

	var cfg testConfig
	require.NoError(t, Load(&cfg))

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "secret", cfg.APIKey)
}

func TestLoad_InvalidValue(t *testing.T) {
	t.Setenv("TEST_CFG_PORT", "not-a-number")

	var cfg testConfig
	err := Load(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestLoadDotEnv_MissingFileIgnored(t *testing.T) {
	err := LoadDotEnv(filepath.Join(t.TempDir(), "does-not-exist.env"))
	assert.NoError(t, err)
}

func TestLoadDotEnv_DoesNotOverrideExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("TEST_DOTENV_A=from-file\nTEST_DOTENV_B=from-file\n"), 0o600))

	t.Setenv("TEST_DOTENV_A", "from-env")
	t.Setenv("TEST_DOTENV_B", "")
	require.NoError(t, os.Unsetenv("TEST_DOTENV_B"))

	require.NoError(t, LoadDotEnv(path))
	t.Cleanup(func() { _ = os.Unsetenv("TEST_DOTENV_B") })

	assert.Equal(t, "from-env", os.Getenv("TEST_DOTENV_A"))
	assert.Equal(t, "from-file", os.Getenv("TEST_DOTENV_B"))
}
