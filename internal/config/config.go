// Package config loads service configuration from the environment and the
// optional automation defaults file.
package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/verkstad/dashboard/automation"
)

// Config holds the server settings. Every field can be set with or without
// the DASHBOARD_ prefix. An empty DatabaseURL runs on in-memory stores and an
// empty RedisURL deduplicates calls in process.
type Config struct {
	DatabaseURL            string        `envconfig:"database_url" default:""`
	Port                   string        `envconfig:"port" default:"8080"`
	RedisURL               string        `envconfig:"redis_url" default:""`
	AnthropicAPIKey        string        `envconfig:"anthropic_api_key"`
	AnthropicModel         string        `envconfig:"anthropic_model" default:"claude-3-5-haiku-latest"`
	AnthropicBaseURL       string        `envconfig:"anthropic_base_url" default:"https://api.anthropic.com"`
	ClassifierTimeout      time.Duration `envconfig:"classifier_timeout" default:"30s"`
	CallDedupTTL           time.Duration `envconfig:"call_dedup_ttl" default:"168h"`
	SlowRequestThreshold   time.Duration `envconfig:"slow_request_threshold" default:"2s"`
	AutomationDefaultsPath string        `envconfig:"automation_defaults_path" default:""`
}

// Load reads a .env file when present, then the environment.
func Load() (*Config, error) {
	godotenv.Load()

	var c Config
	if err := envconfig.Process("dashboard", &c); err != nil {
		return nil, errors.WithStack(err)
	}

	return &c, nil
}

// LoadAutomationDefaults overlays the YAML file at path onto base. ${VAR}
// references in the file are expanded from the environment. An empty path
// returns base unchanged.
func LoadAutomationDefaults(path string, base automation.Settings) (automation.Settings, error) {
	if path == "" {
		return base, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return automation.Settings{}, errors.Wrapf(err, "read automation defaults %s", path)
	}

	expanded := os.ExpandEnv(string(data))

	out := base
	if err := yaml.Unmarshal([]byte(expanded), &out); err != nil {
		return automation.Settings{}, errors.Wrap(err, "parse automation defaults YAML")
	}
	if err := out.Validate(); err != nil {
		return automation.Settings{}, errors.Wrap(err, "invalid automation defaults")
	}

	return out, nil
}
