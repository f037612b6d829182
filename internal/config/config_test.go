package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "DataEngOnCall", cfg.Agent.Name)
	assert.Equal(t, 3, cfg.Agent.MaxRetries)
	assert.Equal(t, 12, cfg.Agent.MaxTurns)
	assert.Equal(t, "DE_ONCALL", cfg.Ticketing.DefaultQueue)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "/v0", cfg.Server.BasePath)
	assert.True(t, cfg.Tools["airflow"].On())
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
agent:
  name: CustomAgent
  model: gemini-2.0-flash
  max_retries: 5
  max_turns: 8
tools:
  snowflake:
    enabled: false
`))
	require.NoError(t, err)
	assert.Equal(t, "CustomAgent", cfg.Agent.Name)
	assert.Equal(t, 5, cfg.Agent.MaxRetries)
	// Untouched sections keep their defaults.
	assert.Equal(t, "DE_ONCALL", cfg.Ticketing.DefaultQueue)
	assert.False(t, cfg.Tools["snowflake"].On())
	assert.True(t, cfg.Tools["airflow"].On())
}

func TestFromYAMLRejectsInvalid(t *testing.T) {
	cases := []string{
		"agent:\n  name: ''\n",
		"agent:\n  max_retries: 0\n",
		"agent:\n  max_turns: 0\n",
		"tools:\n  airflow:\n    timeout: -1\n",
		"agent: [not, a, map]\n",
	}
	for _, src := range cases {
		_, err := FromYAML([]byte(src))
		assert.Error(t, err, "yaml %q should be rejected", src)
	}
}

func TestToolConfigOnDefaultsToEnabled(t *testing.T) {
	var tc ToolConfig
	assert.True(t, tc.On())
	off := false
	tc.Enabled = &off
	assert.False(t, tc.On())
}

func TestLoadFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "DataEngOnCall", cfg.Agent.Name)
}

func TestLoadReadsWorkspaceFile(t *testing.T) {
	dir := t.TempDir()
	src := "agent:\n  name: FromFile\n  model: m\n  max_retries: 2\n  max_turns: 4\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "oncall.yml"), []byte(src), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "FromFile", cfg.Agent.Name)
	assert.Equal(t, 2, cfg.Agent.MaxRetries)
}
