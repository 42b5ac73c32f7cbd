package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models pulse.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
		Kind string `yaml:"kind"`
	} `yaml:"project"`
	Reporting struct {
		OutlierThresholdHours int    `yaml:"outlier_threshold_hours"`
		WorkdayCapHour        int    `yaml:"workday_cap_hour"`
		Timezone              string `yaml:"timezone"`
	} `yaml:"reporting"`
	ValueSets struct {
		Enforce bool                `yaml:"enforce"`
		Sets    map[string]ValueSet `yaml:"sets"`
	} `yaml:"value_sets"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// ValueSet restricts the values a model field may take. Keys in
// Config.ValueSets.Sets are "Model.field", e.g. "Task.status".
type ValueSet struct {
	Values   []string `yaml:"values"`
	Nullable bool     `yaml:"nullable"`
	Multi    bool     `yaml:"multi"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with pulse config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Project.Kind != "software-project" {
		return fmt.Errorf("config.project.kind must be 'software-project'")
	}
	if c.Reporting.OutlierThresholdHours < 1 || c.Reporting.OutlierThresholdHours > 24 {
		return fmt.Errorf("config.reporting.outlier_threshold_hours must be in 1..24")
	}
	if c.Reporting.WorkdayCapHour < 0 || c.Reporting.WorkdayCapHour > 23 {
		return fmt.Errorf("config.reporting.workday_cap_hour must be in 0..23")
	}
	if c.Reporting.Timezone != "" {
		if _, err := time.LoadLocation(c.Reporting.Timezone); err != nil {
			return fmt.Errorf("config.reporting.timezone %q: %w", c.Reporting.Timezone, err)
		}
	}
	for key, set := range c.ValueSets.Sets {
		if key == "" {
			return fmt.Errorf("config.value_sets.sets contains empty key")
		}
		if len(set.Values) == 0 {
			return fmt.Errorf("value set %s has no values", key)
		}
		for _, v := range set.Values {
			if v == "" {
				return fmt.Errorf("value set %s contains empty value", key)
			}
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Location resolves the reporting timezone, defaulting to UTC.
func (c *Config) Location() *time.Location {
	if c == nil || c.Reporting.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Reporting.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "pulse.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	cfg.Project.ID = projectID
	cfg.Project.Kind = "software-project"
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  id: %s
  name: ""
  kind: software-project

reporting:
  # Raw spans longer than this are capped to the workday end.
  outlier_threshold_hours: 12
  workday_cap_hour: 17
  timezone: UTC

value_sets:
  # When enforce is false, out-of-set values are logged and allowed.
  enforce: false
  sets:
    Task.status:
      values: [todo, in_progress, paused, blocked, done, archived]
    DailyTask.status:
      values: [pending, completed, pushed_to_next_day]

webhooks: []
`
