/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Event bus backend selection.
type EventsBackend string

const (
	EventsMemory EventsBackend = "memory"
	EventsRedis  EventsBackend = "redis"
	EventsNATS   EventsBackend = "nats"
)

// Report storage backend selection.
type StorageBackend string

const (
	StorageFilesystem StorageBackend = "fs"
	StorageS3         StorageBackend = "s3"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	BaseURL     string // Public base URL (e.g., http://192.168.195.6:8080)
	DBBackend   DatabaseBackend
	DBDSN       string
	MetricsBind string

	// Assignment cache configuration
	CacheEnabled bool

	// Event bus configuration
	EventsBackend EventsBackend
	NATSURL       string
	NATSToken     string

	// Slot preload configuration
	PreloadLead    time.Duration
	PreloadWorkers int

	// Daily report configuration
	ReportsEnabled bool
	ReportHour     int // Local hour (0-23) at which the daily report job runs
	ReportsDir     string

	// Report storage configuration
	ReportStorage     StorageBackend
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3PublicBaseURL   string // Optional CDN/CloudFront URL
	S3UsePathStyle    bool   // Required for MinIO

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Multi-instance configuration
	LeaderElectionEnabled bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	InstanceID            string

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"MUNINN_ENV", "ROUNDS_ENV"}, "development"),
		HTTPBind:    getEnvAny([]string{"MUNINN_HTTP_BIND", "ROUNDS_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:    getEnvIntAny([]string{"MUNINN_HTTP_PORT", "ROUNDS_HTTP_PORT"}, 8080),
		BaseURL:     getEnvAny([]string{"MUNINN_BASE_URL", "ROUNDS_BASE_URL"}, ""),
		DBBackend:   DatabaseBackend(getEnvAny([]string{"MUNINN_DB_BACKEND", "ROUNDS_DB_BACKEND"}, string(DatabasePostgres))),
		DBDSN:       getEnvAny([]string{"MUNINN_DB_DSN", "ROUNDS_DB_DSN"}, ""),
		MetricsBind: getEnvAny([]string{"MUNINN_METRICS_BIND", "ROUNDS_METRICS_BIND"}, "127.0.0.1:9000"),

		// Assignment cache configuration
		CacheEnabled: getEnvBoolAny([]string{"MUNINN_CACHE_ENABLED", "ROUNDS_CACHE_ENABLED"}, false),

		// Event bus configuration
		EventsBackend: EventsBackend(getEnvAny([]string{"MUNINN_EVENTS_BACKEND", "ROUNDS_EVENTS_BACKEND"}, string(EventsMemory))),
		NATSURL:       getEnvAny([]string{"MUNINN_NATS_URL", "NATS_URL"}, "nats://localhost:4222"),
		NATSToken:     getEnvAny([]string{"MUNINN_NATS_TOKEN", "NATS_TOKEN"}, ""),

		// Slot preload configuration
		PreloadLead:    time.Duration(getEnvIntAny([]string{"MUNINN_PRELOAD_LEAD_MINUTES", "ROUNDS_PRELOAD_LEAD_MINUTES"}, 5)) * time.Minute,
		PreloadWorkers: getEnvIntAny([]string{"MUNINN_PRELOAD_WORKERS", "ROUNDS_PRELOAD_WORKERS"}, 4),

		// Daily report configuration
		ReportsEnabled: getEnvBoolAny([]string{"MUNINN_REPORTS_ENABLED", "ROUNDS_REPORTS_ENABLED"}, false),
		ReportHour:     getEnvIntAny([]string{"MUNINN_REPORT_HOUR", "ROUNDS_REPORT_HOUR"}, 3),
		ReportsDir:     getEnvAny([]string{"MUNINN_REPORTS_DIR", "ROUNDS_REPORTS_DIR"}, "./reports"),

		// Report storage configuration
		ReportStorage:     StorageBackend(getEnvAny([]string{"MUNINN_REPORT_STORAGE", "ROUNDS_REPORT_STORAGE"}, string(StorageFilesystem))),
		S3AccessKeyID:     getEnvAny([]string{"MUNINN_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"MUNINN_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"MUNINN_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Bucket:          getEnvAny([]string{"MUNINN_S3_BUCKET", "S3_BUCKET"}, ""),
		S3Endpoint:        getEnvAny([]string{"MUNINN_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3PublicBaseURL:   getEnvAny([]string{"MUNINN_S3_PUBLIC_BASE_URL", "S3_PUBLIC_BASE_URL"}, ""),
		S3UsePathStyle:    getEnvBoolAny([]string{"MUNINN_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, false),

		// Tracing configuration
		TracingEnabled:    getEnvBoolAny([]string{"MUNINN_TRACING_ENABLED", "ROUNDS_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"MUNINN_OTLP_ENDPOINT", "ROUNDS_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"MUNINN_TRACING_SAMPLE_RATE", "ROUNDS_TRACING_SAMPLE_RATE"}, 1.0),

		// Multi-instance configuration
		LeaderElectionEnabled: getEnvBoolAny([]string{"MUNINN_LEADER_ELECTION_ENABLED", "ROUNDS_LEADER_ELECTION_ENABLED"}, false),
		RedisAddr:             getEnvAny([]string{"MUNINN_REDIS_ADDR", "ROUNDS_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword:         getEnvAny([]string{"MUNINN_REDIS_PASSWORD", "ROUNDS_REDIS_PASSWORD"}, ""),
		RedisDB:               getEnvIntAny([]string{"MUNINN_REDIS_DB", "ROUNDS_REDIS_DB"}, 0),
		InstanceID:            getEnvAny([]string{"MUNINN_INSTANCE_ID", "ROUNDS_INSTANCE_ID"}, ""),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("MUNINN_DB_DSN or ROUNDS_DB_DSN must be provided")
	}

	if cfg.EventsBackend != EventsMemory && cfg.EventsBackend != EventsRedis && cfg.EventsBackend != EventsNATS {
		return nil, fmt.Errorf("unsupported events backend %q", cfg.EventsBackend)
	}

	if cfg.ReportStorage != StorageFilesystem && cfg.ReportStorage != StorageS3 {
		return nil, fmt.Errorf("unsupported report storage backend %q", cfg.ReportStorage)
	}

	if cfg.ReportStorage == StorageS3 && cfg.S3Bucket == "" {
		return nil, fmt.Errorf("MUNINN_S3_BUCKET or S3_BUCKET must be provided when report storage is s3")
	}

	if cfg.ReportHour < 0 || cfg.ReportHour > 23 {
		return nil, fmt.Errorf("report hour %d out of range 0-23", cfg.ReportHour)
	}

	if cfg.PreloadLead <= 0 {
		return nil, fmt.Errorf("preload lead must be positive, got %s", cfg.PreloadLead)
	}

	if strings.EqualFold(cfg.Environment, "production") {
		if cfg.ReportStorage == StorageS3 && (cfg.S3AccessKeyID == "" || cfg.S3SecretAccessKey == "") {
			return nil, fmt.Errorf("MUNINN_S3_ACCESS_KEY_ID and MUNINN_S3_SECRET_ACCESS_KEY are required when s3 report storage is enabled in production")
		}
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"ENVIRONMENT":             "use MUNINN_ENV (or ROUNDS_ENV)",
		"LEADER_ELECTION_ENABLED": "use MUNINN_LEADER_ELECTION_ENABLED",
		"TRACING_ENABLED":         "use MUNINN_TRACING_ENABLED (or ROUNDS_TRACING_ENABLED)",
		"OTLP_ENDPOINT":           "use MUNINN_OTLP_ENDPOINT (or ROUNDS_OTLP_ENDPOINT)",
		"TRACING_SAMPLE_RATE":     "use MUNINN_TRACING_SAMPLE_RATE (or ROUNDS_TRACING_SAMPLE_RATE)",
		"REDIS_ADDR":              "use MUNINN_REDIS_ADDR (or ROUNDS_REDIS_ADDR)",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// HTTPAddr returns the bind address for the API listener.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
