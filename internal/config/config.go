// Package config loads job configuration from defaults, an optional YAML file,
// and environment variables, in increasing order of priority.
package config

import (
	"time"
)

// Conflict resolution modes for rows whose case number is already stored.
const (
	ConflictUpsert  = "upsert"
	ConflictReplace = "replace"
)

// DefaultSourceURL is the Carto SQL API endpoint serving OpenDataPhilly.
const DefaultSourceURL = "https://phl.carto.com/api/v2/sql"

// Config is the full job configuration.
type Config struct {
	Database   DatabaseConfig   `koanf:"database"`
	Source     SourceConfig     `koanf:"source"`
	Projection ProjectionConfig `koanf:"projection"`
	Logging    LoggingConfig    `koanf:"logging"`
	Metrics    MetricsConfig    `koanf:"metrics"`
}

// DatabaseConfig describes the destination connection. DSN, Schema and Table
// are normally supplied as positional CLI arguments and override file values.
type DatabaseConfig struct {
	DSN            string        `koanf:"dsn" validate:"required"`
	Schema         string        `koanf:"schema" validate:"required,pgident"`
	Table          string        `koanf:"table" validate:"required,pgident"`
	ConflictMode   string        `koanf:"conflict_mode" validate:"oneof=upsert replace"`
	SlowThreshold  time.Duration `koanf:"slow_threshold" validate:"gte=0"`
	SQLLogLevel    string        `koanf:"sql_log_level" validate:"oneof=silent error warn info"`
	ConnectTimeout time.Duration `koanf:"connect_timeout" validate:"gt=0"`
}

// SourceConfig describes the remote Carto endpoint.
type SourceConfig struct {
	BaseURL   string        `koanf:"base_url" validate:"required,url"`
	Dataset   string        `koanf:"dataset" validate:"required,pgident"`
	Filename  string        `koanf:"filename"`
	Timeout   time.Duration `koanf:"timeout" validate:"gt=0"`
	UserAgent string        `koanf:"user_agent"`
}

// ProjectionConfig controls the derived geometry column.
type ProjectionConfig struct {
	SourceSRID int    `koanf:"source_srid" validate:"gt=0"`
	TargetSRID int    `koanf:"target_srid" validate:"gt=0"`
	Column     string `koanf:"column" validate:"required,pgident"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn warning error disabled off"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
}

// MetricsConfig enables the node-exporter textfile output when Textfile is set.
type MetricsConfig struct {
	Textfile string `koanf:"textfile"`
}

func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Schema:         "public",
			ConflictMode:   ConflictUpsert,
			SlowThreshold:  500 * time.Millisecond,
			SQLLogLevel:    "warn",
			ConnectTimeout: 10 * time.Second,
		},
		Source: SourceConfig{
			BaseURL:   DefaultSourceURL,
			Dataset:   "incidents_part1_part2",
			Filename:  "incidents_part1_part2",
			Timeout:   10 * time.Minute,
			UserAgent: "odp-incidents/inct2pg",
		},
		Projection: ProjectionConfig{
			SourceSRID: 4326,
			TargetSRID: 3857,
			Column:     "geom_3857",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
