package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default("proj-1")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Project.ID != "proj-1" || cfg.Project.Kind != "software-project" {
		t.Fatalf("project section: %+v", cfg.Project)
	}
	if cfg.Reporting.OutlierThresholdHours != 12 || cfg.Reporting.WorkdayCapHour != 17 {
		t.Fatalf("reporting section: %+v", cfg.Reporting)
	}
	if _, ok := cfg.ValueSets.Sets["Task.status"]; !ok {
		t.Fatal("Task.status value set missing from defaults")
	}
	if cfg.ValueSets.Enforce {
		t.Fatal("enforcement must be off by default")
	}
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault("proj-2")))
	if err != nil {
		t.Fatalf("generated yaml rejected: %v", err)
	}
	if cfg.Project.ID != "proj-2" {
		t.Fatalf("project id: %q", cfg.Project.ID)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing project id", func(c *Config) { c.Project.ID = "" }, "project.id"},
		{"wrong kind", func(c *Config) { c.Project.Kind = "team" }, "software-project"},
		{"threshold too low", func(c *Config) { c.Reporting.OutlierThresholdHours = 0 }, "outlier_threshold_hours"},
		{"threshold too high", func(c *Config) { c.Reporting.OutlierThresholdHours = 25 }, "outlier_threshold_hours"},
		{"cap hour out of range", func(c *Config) { c.Reporting.WorkdayCapHour = 24 }, "workday_cap_hour"},
		{"bad timezone", func(c *Config) { c.Reporting.Timezone = "Mars/Olympus" }, "timezone"},
		{"empty value set", func(c *Config) { c.ValueSets.Sets["Task.status"] = ValueSet{} }, "no values"},
		{"webhook without url", func(c *Config) { c.Webhooks = []WebhookConfig{{}} }, "url"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default("proj-1")
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadFromWorkspace(t *testing.T) {
	ws := t.TempDir()
	if _, err := Load(ws); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("missing file must error: %v", err)
	}
	if cfg, err := LoadOptional(ws); err != nil || cfg != nil {
		t.Fatalf("optional load of missing file: cfg=%v err=%v", cfg, err)
	}

	if err := os.WriteFile(Path(ws), []byte(GenerateDefault("proj-3")), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(ws)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Project.ID != "proj-3" {
		t.Fatalf("project id: %q", cfg.Project.ID)
	}
	opt, err := LoadOptional(ws)
	if err != nil || opt == nil || opt.Project.ID != "proj-3" {
		t.Fatalf("optional load: %+v err=%v", opt, err)
	}
}

func TestLocationDefaultsToUTC(t *testing.T) {
	var cfg *Config
	if cfg.Location() != time.UTC {
		t.Fatal("nil config must resolve to UTC")
	}
	cfg = Default("proj-1")
	cfg.Reporting.Timezone = "Europe/Paris"
	if cfg.Location().String() != "Europe/Paris" {
		t.Fatalf("location: %v", cfg.Location())
	}
}
