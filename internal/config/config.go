package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config models oncall.yml.
type Config struct {
	Agent struct {
		Name       string `yaml:"name"`
		Model      string `yaml:"model"`
		MaxRetries int    `yaml:"max_retries"`
		MaxTurns   int    `yaml:"max_turns"`
	} `yaml:"agent"`
	Ticketing struct {
		System       string `yaml:"system"`
		DefaultQueue string `yaml:"default_queue"`
	} `yaml:"ticketing"`
	Tools  map[string]ToolConfig `yaml:"tools"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`

	// Environment-only settings; never read from the YAML file.
	Airflow struct {
		URL      string `yaml:"-"`
		Username string `yaml:"-"`
		Password string `yaml:"-"`
	} `yaml:"-"`
	LLMKey   string `yaml:"-"`
	APIToken string `yaml:"-"`
}

type ToolConfig struct {
	Enabled        *bool `yaml:"enabled"`
	TimeoutSeconds int   `yaml:"timeout"`
}

// On reports whether a tool is enabled; tools default to enabled.
func (t ToolConfig) On() bool {
	return t.Enabled == nil || *t.Enabled
}

// Load reads config from the workspace, falling back to defaults when the
// file does not exist, then applies environment overrides.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			cfg.ApplyEnv()
			return cfg, nil
		}
		return nil, err
	}
	cfg, err := FromYAML(data)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays secrets and overrides bound through viper (ONCALL_ prefix,
// see cmd/oncall). LLM_MODEL/LLM_KEY mirror the knobs the reporting pipelines
// already set.
func (c *Config) ApplyEnv() {
	if v := viper.GetString("airflow-url"); v != "" {
		c.Airflow.URL = v
	}
	if v := viper.GetString("airflow-username"); v != "" {
		c.Airflow.Username = v
	}
	if v := viper.GetString("airflow-password"); v != "" {
		c.Airflow.Password = v
	}
	if v := viper.GetString("llm-model"); v != "" {
		c.Agent.Model = v
	}
	if v := viper.GetString("llm-key"); v != "" {
		c.LLMKey = v
	}
	if v := viper.GetString("api-token"); v != "" {
		c.APIToken = v
	}
	if v := viper.GetString("addr"); v != "" {
		c.Server.Addr = v
	}
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Agent.Name == "" {
		return fmt.Errorf("config.agent.name is required")
	}
	if c.Agent.Model == "" {
		return fmt.Errorf("config.agent.model is required")
	}
	if c.Agent.MaxRetries < 1 {
		return fmt.Errorf("config.agent.max_retries must be >= 1")
	}
	if c.Agent.MaxTurns < 1 {
		return fmt.Errorf("config.agent.max_turns must be >= 1")
	}
	for name, tool := range c.Tools {
		if name == "" {
			return fmt.Errorf("config.tools contains empty tool name")
		}
		if tool.TimeoutSeconds < 0 {
			return fmt.Errorf("tool %s has negative timeout", name)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "oncall.yml")
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `agent:
  name: DataEngOnCall
  model: gemini-2.0-flash
  max_retries: 3
  max_turns: 12

ticketing:
  system: mock
  default_queue: DE_ONCALL

tools:
  airflow:
    enabled: true
    timeout: 30
  databricks:
    enabled: true
    timeout: 30
  snowflake:
    enabled: true
    timeout: 30
  tickets:
    enabled: true
    timeout: 30

server:
  addr: ":8080"
  base_path: /v0
`
