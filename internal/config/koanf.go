package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order when no explicit path is given.
var DefaultConfigPaths = []string{
	"inct2pg.yaml",
	"inct2pg.yml",
	"/etc/odp-incidents/inct2pg.yaml",
}

// ConfigPathEnvVar overrides the config file search.
const ConfigPathEnvVar = "INCT_CONFIG"

// envMappings maps lower-cased environment variable names to koanf paths.
// Unlisted variables are ignored.
var envMappings = map[string]string{
	"database_url":           "database.dsn",
	"inct_schema":            "database.schema",
	"inct_table":             "database.table",
	"inct_conflict_mode":     "database.conflict_mode",
	"inct_slow_threshold":    "database.slow_threshold",
	"inct_sql_log_level":     "database.sql_log_level",
	"inct_connect_timeout":   "database.connect_timeout",
	"inct_source_url":        "source.base_url",
	"inct_source_dataset":    "source.dataset",
	"inct_source_timeout":    "source.timeout",
	"inct_source_user_agent": "source.user_agent",
	"inct_projection_srid":   "projection.target_srid",
	"inct_projection_column": "projection.column",
	"log_level":              "logging.level",
	"log_format":             "logging.format",
	"inct_metrics_textfile":  "metrics.textfile",
}

// yamlParser adapts goccy/go-yaml to koanf.Parser.
type yamlParser struct{}

func (yamlParser) Unmarshal(b []byte) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := yaml.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]interface{}{}
	}
	return out, nil
}

func (yamlParser) Marshal(m map[string]interface{}) ([]byte, error) {
	return yaml.Marshal(m)
}

// Load layers defaults, the config file and the environment. The result is
// not validated; callers apply CLI overrides first and then call Validate.
// An empty path searches ConfigPathEnvVar and DefaultConfigPaths.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yamlParser{}); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func envTransform(key string) string {
	return envMappings[strings.ToLower(key)]
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
