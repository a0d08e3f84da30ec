//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package config loads the daemon configuration.
//
// Values come from defaults, then the YAML file, then XPERT_* environment
// variables named after the env tags, e.g. XPERT_CHECKPOINT_BACKEND.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "XPERT"

// Storage backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config is the daemon configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" env:"SERVER"`
	Log        LogConfig        `yaml:"log" env:"LOG"`
	Engine     EngineConfig     `yaml:"engine" env:"ENGINE"`
	Checkpoint CheckpointConfig `yaml:"checkpoint" env:"CHECKPOINT"`
	Execution  ExecutionConfig  `yaml:"execution" env:"EXECUTION"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" env:"TELEMETRY"`
	Scheduler  SchedulerConfig  `yaml:"scheduler" env:"SCHEDULER"`
	Code       CodeConfig       `yaml:"code" env:"CODE"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// AllowedOrigins feeds CORS. Empty means any origin.
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// EngineConfig tunes the executor and the runner.
type EngineConfig struct {
	GraphsDir        string        `yaml:"graphs_dir" env:"GRAPHS_DIR"`
	BufferSize       int           `yaml:"buffer_size" env:"BUFFER_SIZE"`
	MaxSteps         int           `yaml:"max_steps" env:"MAX_STEPS"`
	NodeTimeout      time.Duration `yaml:"node_timeout" env:"NODE_TIMEOUT"`
	CompileCacheSize int           `yaml:"compile_cache_size" env:"COMPILE_CACHE_SIZE"`
	HTTPTimeout      time.Duration `yaml:"http_timeout" env:"HTTP_TIMEOUT"`
}

// CheckpointConfig selects where run checkpoints live.
type CheckpointConfig struct {
	Backend   string        `yaml:"backend" env:"BACKEND"`
	DSN       string        `yaml:"dsn" env:"DSN"`
	RedisURL  string        `yaml:"redis_url" env:"REDIS_URL"`
	KeyPrefix string        `yaml:"key_prefix" env:"KEY_PREFIX"`
	TTL       time.Duration `yaml:"ttl" env:"TTL"`
}

// ExecutionConfig selects where execution records live.
type ExecutionConfig struct {
	Backend string `yaml:"backend" env:"BACKEND"`
	DSN     string `yaml:"dsn" env:"DSN"`
}

// TelemetryConfig configures the OTLP exporters.
type TelemetryConfig struct {
	Enabled         bool   `yaml:"enabled" env:"ENABLED"`
	TracesEndpoint  string `yaml:"traces_endpoint" env:"TRACES_ENDPOINT"`
	MetricsEndpoint string `yaml:"metrics_endpoint" env:"METRICS_ENDPOINT"`
	// Protocol of the OTLP exporters, grpc or http.
	Protocol string `yaml:"protocol" env:"PROTOCOL"`
}

// SchedulerConfig configures periodic runs.
type SchedulerConfig struct {
	Enabled       bool          `yaml:"enabled" env:"ENABLED"`
	Tick          time.Duration `yaml:"tick" env:"TICK"`
	RatePerMinute float64       `yaml:"rate_per_minute" env:"RATE_PER_MINUTE"`
	Burst         int           `yaml:"burst" env:"BURST"`
	Tasks         []TaskConfig  `yaml:"tasks" env:"-"`
}

// TaskConfig is a task created at startup.
type TaskConfig struct {
	XpertID  string         `yaml:"xpert_id"`
	AgentKey string         `yaml:"agent_key"`
	Interval time.Duration  `yaml:"interval"`
	Input    map[string]any `yaml:"input"`
}

// CodeConfig configures the local code executor.
type CodeConfig struct {
	WorkDir        string        `yaml:"work_dir" env:"WORK_DIR"`
	Timeout        time.Duration `yaml:"timeout" env:"TIMEOUT"`
	CleanTempFiles bool          `yaml:"clean_temp_files" env:"CLEAN_TEMP_FILES"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "console"},
		Engine: EngineConfig{
			GraphsDir:        "graphs",
			BufferSize:       64,
			MaxSteps:         500,
			CompileCacheSize: 128,
			HTTPTimeout:      30 * time.Second,
		},
		Checkpoint: CheckpointConfig{Backend: BackendMemory},
		Execution:  ExecutionConfig{Backend: BackendMemory},
		Telemetry:  TelemetryConfig{Protocol: "grpc"},
		Scheduler: SchedulerConfig{
			Tick:          time.Second,
			RatePerMinute: 60,
			Burst:         1,
		},
		Code: CodeConfig{Timeout: 10 * time.Second, CleanTempFiles: true},
	}
}

// Option configures Load.
type Option func(*options)

type options struct {
	path   string
	prefix string
	lookup func(string) (string, bool)
}

// WithPath reads the YAML file at path. A missing file is not an error.
func WithPath(path string) Option {
	return func(o *options) { o.path = path }
}

// WithEnvPrefix replaces EnvPrefix.
func WithEnvPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// WithLookupEnv replaces os.LookupEnv.
func WithLookupEnv(lookup func(string) (string, bool)) Option {
	return func(o *options) { o.lookup = lookup }
}

// Load builds and validates a Config.
func Load(opts ...Option) (*Config, error) {
	o := &options{prefix: EnvPrefix, lookup: os.LookupEnv}
	for _, opt := range opts {
		opt(o)
	}
	cfg := Default()
	if o.path != "" {
		data, err := os.ReadFile(o.path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", o.path, err)
			}
		}
	}
	if err := overrideFromEnv(reflect.ValueOf(cfg).Elem(), o.prefix, o.lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fills zero values with defaults and rejects unusable settings.
func (c *Config) Validate() error {
	def := Default()
	if c.Server.Addr == "" {
		c.Server.Addr = def.Server.Addr
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Engine.BufferSize <= 0 {
		c.Engine.BufferSize = def.Engine.BufferSize
	}
	if c.Engine.CompileCacheSize <= 0 {
		c.Engine.CompileCacheSize = def.Engine.CompileCacheSize
	}
	if c.Engine.MaxSteps < 0 {
		return fmt.Errorf("config: engine.max_steps %d is negative", c.Engine.MaxSteps)
	}
	if c.Scheduler.Tick <= 0 {
		c.Scheduler.Tick = def.Scheduler.Tick
	}
	if c.Checkpoint.Backend == "" {
		c.Checkpoint.Backend = BackendMemory
	}
	if c.Execution.Backend == "" {
		c.Execution.Backend = BackendMemory
	}

	var errs []error
	switch c.Log.Format {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not console or json", c.Log.Format))
	}
	switch c.Checkpoint.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Checkpoint.DSN == "" {
			errs = append(errs, errors.New("checkpoint.dsn is required for sqlite"))
		}
	case BackendRedis:
		if c.Checkpoint.RedisURL == "" {
			errs = append(errs, errors.New("checkpoint.redis_url is required for redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("checkpoint.backend %q is unknown", c.Checkpoint.Backend))
	}
	switch c.Execution.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Execution.DSN == "" {
			errs = append(errs, errors.New("execution.dsn is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("execution.backend %q is unknown", c.Execution.Backend))
	}
	switch c.Telemetry.Protocol {
	case "", "grpc", "http":
	default:
		errs = append(errs, fmt.Errorf("telemetry.protocol %q is not grpc or http", c.Telemetry.Protocol))
	}
	for i, t := range c.Scheduler.Tasks {
		if t.XpertID == "" {
			errs = append(errs, fmt.Errorf("scheduler.tasks[%d]: xpert_id is required", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func overrideFromEnv(v reflect.Value, prefix string, lookup func(string) (string, bool)) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		tag := t.Field(i).Tag.Get("env")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + "_" + tag
		field := v.Field(i)
		if field.Kind() == reflect.Struct {
			if err := overrideFromEnv(field, key, lookup); err != nil {
				return err
			}
			continue
		}
		raw, ok := lookup(key)
		if !ok || raw == "" {
			continue
		}
		if err := setField(field, raw); err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

func setField(field reflect.Value, raw string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Int, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice of %s", field.Type().Elem())
		}
		parts := strings.Split(raw, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		field.Set(reflect.ValueOf(parts))
	default:
		return fmt.Errorf("unsupported kind %s", field.Kind())
	}
	return nil
}
