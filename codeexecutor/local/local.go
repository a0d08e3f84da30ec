//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package local runs code node scripts with the interpreters of the host.
// It is not a sandbox.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/xpert-ai/xpert-sub002/codeexecutor"
	"github.com/xpert-ai/xpert-sub002/log"
)

// InputsEnv names the environment variable holding the path of the inputs file.
const InputsEnv = "XPERT_INPUTS"

// CodeExecutor executes code in the current local command line.
type CodeExecutor struct {
	WorkDir        string        // Working directory for code execution
	Timeout        time.Duration // The timeout for a single script
	CleanTempFiles bool          // Whether to clean temporary files after execution
}

// CodeExecutorOption defines a function type for configuring CodeExecutor
type CodeExecutorOption func(*CodeExecutor)

// WithWorkDir sets the working directory for code execution
func WithWorkDir(workDir string) CodeExecutorOption {
	return func(l *CodeExecutor) {
		l.WorkDir = workDir
	}
}

// WithTimeout sets the timeout for code execution
func WithTimeout(timeout time.Duration) CodeExecutorOption {
	return func(l *CodeExecutor) {
		l.Timeout = timeout
	}
}

// WithCleanTempFiles sets whether to clean temporary files after execution
func WithCleanTempFiles(clean bool) CodeExecutorOption {
	return func(l *CodeExecutor) {
		l.CleanTempFiles = clean
	}
}

// New creates a new CodeExecutor with the given options
func New(options ...CodeExecutorOption) *CodeExecutor {
	executor := &CodeExecutor{
		Timeout:        10 * time.Second,
		CleanTempFiles: true,
	}
	for _, option := range options {
		option(executor)
	}
	return executor
}

// ExecuteCode writes the script and its inputs to disk and runs it. The
// inputs are also piped to stdin as JSON. A non-zero exit is an error.
func (e *CodeExecutor) ExecuteCode(ctx context.Context, input codeexecutor.CodeExecutionInput) (codeexecutor.CodeExecutionResult, error) {
	interpreter, ext, err := interpreterFor(input.Language)
	if err != nil {
		return codeexecutor.CodeExecutionResult{}, err
	}
	workDir, cleanup, err := e.workDir(input.ExecutionID)
	if err != nil {
		return codeexecutor.CodeExecutionResult{}, err
	}
	defer cleanup()

	inputs, err := json.Marshal(input.Inputs)
	if err != nil {
		return codeexecutor.CodeExecutionResult{}, fmt.Errorf("encode inputs: %w", err)
	}
	scriptPath := filepath.Join(workDir, "main"+ext)
	inputsPath := filepath.Join(workDir, "inputs.json")
	if err := os.WriteFile(scriptPath, []byte(input.Code), 0o644); err != nil {
		return codeexecutor.CodeExecutionResult{}, fmt.Errorf("write script: %w", err)
	}
	if err := os.WriteFile(inputsPath, inputs, 0o644); err != nil {
		return codeexecutor.CodeExecutionResult{}, fmt.Errorf("write inputs: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()
	cmd := exec.CommandContext(runCtx, interpreter, scriptPath) //nolint:gosec
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), InputsEnv+"="+inputsPath)
	cmd.Stdin = bytes.NewReader(inputs)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	res := codeexecutor.CodeExecutionResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
		}
		if runCtx.Err() == context.DeadlineExceeded {
			return res, fmt.Errorf("%s script timed out after %s", input.Language, e.Timeout)
		}
		return res, fmt.Errorf("%s script failed: %s: %w", input.Language, strings.TrimSpace(res.Stderr), runErr)
	}
	return res, nil
}

func (e *CodeExecutor) workDir(executionID string) (string, func(), error) {
	if e.WorkDir != "" {
		dir, err := filepath.Abs(e.WorkDir)
		if err != nil {
			return "", nil, err
		}
		dir, err = os.MkdirTemp(dir, "code_"+executionID)
		if err != nil {
			return "", nil, fmt.Errorf("failed to create work directory: %w", err)
		}
		return dir, e.cleanup(dir), nil
	}
	dir, err := os.MkdirTemp("", "codeexec_"+executionID)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	return dir, e.cleanup(dir), nil
}

func (e *CodeExecutor) cleanup(dir string) func() {
	return func() {
		if !e.CleanTempFiles {
			return
		}
		if err := os.RemoveAll(dir); err != nil {
			log.Warnf("Failed to remove temp dir %s: %v", dir, err)
		}
	}
}

func interpreterFor(language string) (string, string, error) {
	switch strings.ToLower(language) {
	case "python", "py", "python3":
		return "python3", ".py", nil
	case "bash", "sh", "shell":
		return "bash", ".sh", nil
	case "javascript", "js", "node":
		return "node", ".js", nil
	default:
		return "", "", fmt.Errorf("unsupported language: %s", language)
	}
}
