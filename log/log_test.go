//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestSetLevel(t *testing.T) {
	defer SetLevel(LevelInfo)
	cases := []struct {
		in       string
		expected zapcore.Level
	}{
		{LevelDebug, zapcore.DebugLevel},
		{LevelInfo, zapcore.InfoLevel},
		{LevelWarn, zapcore.WarnLevel},
		{LevelError, zapcore.ErrorLevel},
		{LevelFatal, zapcore.FatalLevel},
		{"bogus", zapcore.InfoLevel},
	}
	for _, c := range cases {
		SetLevel(c.in)
		assert.Equal(t, c.expected, zapLevel.Level(), c.in)
	}
}

func TestNew_JSONFollowsSharedLevel(t *testing.T) {
	defer SetLevel(LevelInfo)
	var buf bytes.Buffer
	l := New(FormatJSON, &buf)

	SetLevel(LevelWarn)
	l.Infof("dropped %d", 1)
	assert.Zero(t, buf.Len())

	l.Warnf("kept %d", 2)
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept 2", line["message"])
	assert.Equal(t, "warn", line["lvl"])
}

func TestWith(t *testing.T) {
	old := Default
	defer func() { Default = old }()
	var buf bytes.Buffer
	Default = New(FormatJSON, &buf)
	With("executionId", "e1").Infof("done")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "e1", line["executionId"])

	Default = &noopLogger{}
	assert.Same(t, Default, With("k", "v"))
}

func TestPackageFuncs(t *testing.T) {
	old := Default
	defer func() { Default = old }()
	Default = &noopLogger{}
	Debug("test")
	Debugf("test")
	Info("test")
	Infof("test")
	Warn("test")
	Warnf("test")
	Error("test")
	Errorf("test")
	Fatal("test")
	Fatalf("test")
}

type noopLogger struct{}

func (*noopLogger) Debug(args ...any)                 {}
func (*noopLogger) Debugf(format string, args ...any) {}
func (*noopLogger) Info(args ...any)                  {}
func (*noopLogger) Infof(format string, args ...any)  {}
func (*noopLogger) Warn(args ...any)                  {}
func (*noopLogger) Warnf(format string, args ...any)  {}
func (*noopLogger) Error(args ...any)                 {}
func (*noopLogger) Errorf(format string, args ...any) {}
func (*noopLogger) Fatal(args ...any)                 {}
func (*noopLogger) Fatalf(format string, args ...any) {}
