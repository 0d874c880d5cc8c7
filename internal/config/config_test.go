package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joelkehle/discharge-docs/internal/record"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "")
	path := writeConfig(t, "")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 0.2, cfg.LLM.Temperature)
	assert.Equal(t, 30*time.Second, cfg.Deduce.Timeout)

	dep, err := cfg.Deployment("")
	require.NoError(t, err)
	assert.Equal(t, "aiva-gpt4", dep)
	dep, err = cfg.Deployment("bulk")
	require.NoError(t, err)
	assert.Equal(t, "aiva-gpt4-new", dep)
	assert.Contains(t, cfg.FilterTable(), "IC")
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
environment = "prod"

[llm]
temperature = 0.5

[llm.deployments]
prod = "aiva-gpt"

[llm.context_lengths]
aiva-gpt = 8000

[departments.nicu]
allowed_labels = ["Respiratie"]
`)
	t.Setenv("ANTHROPIC_API_KEY", "secret")
	t.Setenv("X_API_KEY_RETRIEVE", "r-key")
	t.Setenv("DISCHARGE_SERVER_ADDR", ":9090")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.Environment)
	assert.Equal(t, 0.5, cfg.LLM.Temperature)
	assert.Equal(t, "secret", cfg.LLM.APIKey)
	assert.Equal(t, "r-key", cfg.APIKeys.Retrieve)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 8000, cfg.LLM.ContextLengths["aiva-gpt"])

	dep, err := cfg.Deployment("")
	require.NoError(t, err)
	assert.Equal(t, "aiva-gpt", dep)

	table := cfg.FilterTable()
	assert.Equal(t, []string{"Respiratie"}, table["NICU"])
	assert.NotContains(t, table, "IC")
}

func TestDeploymentUnknownEnvironment(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	_, err = cfg.Deployment("staging")
	assert.True(t, errors.Is(err, record.ErrConfiguration))
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	_, err := Load(writeConfig(t, "[database]\ndriver = \"mysql\"\n"))
	assert.True(t, errors.Is(err, record.ErrConfiguration))
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
