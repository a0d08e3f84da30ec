//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(m map[string]string) Option {
	return WithLookupEnv(func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	})
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(WithPath(filepath.Join(t.TempDir(), "missing.yaml")), env(nil))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, BackendMemory, cfg.Checkpoint.Backend)
	assert.Equal(t, 64, cfg.Engine.BufferSize)
	assert.Equal(t, 10*time.Second, cfg.Code.Timeout)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xpert.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
  allowed_origins: ["http://a"]
engine:
  max_steps: 40
  node_timeout: 3s
checkpoint:
  backend: sqlite
  dsn: file:ckpt.db
scheduler:
  enabled: true
  tasks:
    - xpert_id: greet
      interval: 1m
      input: {name: ann}
`), 0o600))

	cfg, err := Load(WithPath(path), env(map[string]string{
		"XPERT_SERVER_ADDR":            ":9100",
		"XPERT_SERVER_ALLOWED_ORIGINS": "http://a, http://b",
		"XPERT_ENGINE_NODE_TIMEOUT":    "5s",
		"XPERT_SCHEDULER_BURST":        "3",
		"XPERT_TELEMETRY_ENABLED":      "true",
	}))
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.Server.Addr)
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 40, cfg.Engine.MaxSteps)
	assert.Equal(t, 5*time.Second, cfg.Engine.NodeTimeout)
	assert.Equal(t, "file:ckpt.db", cfg.Checkpoint.DSN)
	assert.Equal(t, 3, cfg.Scheduler.Burst)
	assert.True(t, cfg.Telemetry.Enabled)
	require.Len(t, cfg.Scheduler.Tasks, 1)
	assert.Equal(t, time.Minute, cfg.Scheduler.Tasks[0].Interval)
	assert.Equal(t, "ann", cfg.Scheduler.Tasks[0].Input["name"])
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(env(map[string]string{"XPERT_ENGINE_MAX_STEPS": "many"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "XPERT_ENGINE_MAX_STEPS")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [1"), 0o600))
	_, err = Load(WithPath(path), env(nil))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Checkpoint.Backend = BackendRedis
	cfg.Execution.Backend = "mongo"
	cfg.Log.Format = "xml"
	cfg.Scheduler.Tasks = []TaskConfig{{Interval: time.Minute}}
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"redis_url", "mongo", "xml", "tasks[0]"} {
		assert.Contains(t, err.Error(), want)
	}

	cfg = &Config{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, BackendMemory, cfg.Execution.Backend)
}

func TestLoad_EnvPrefix(t *testing.T) {
	cfg, err := Load(WithEnvPrefix("ACME"), env(map[string]string{
		"ACME_LOG_LEVEL":  "debug",
		"XPERT_LOG_LEVEL": "error",
	}))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}
