//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Command xpertd serves xpert workflows over HTTP.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"golang.org/x/sync/errgroup"

	"github.com/xpert-ai/xpert-sub002/codeexecutor/local"
	"github.com/xpert-ai/xpert-sub002/config"
	"github.com/xpert-ai/xpert-sub002/execution"
	execinmemory "github.com/xpert-ai/xpert-sub002/execution/inmemory"
	execsqlite "github.com/xpert-ai/xpert-sub002/execution/sqlite"
	"github.com/xpert-ai/xpert-sub002/graph"
	ckptmem "github.com/xpert-ai/xpert-sub002/graph/checkpoint/inmemory"
	ckptredis "github.com/xpert-ai/xpert-sub002/graph/checkpoint/redis"
	ckptsqlite "github.com/xpert-ai/xpert-sub002/graph/checkpoint/sqlite"
	"github.com/xpert-ai/xpert-sub002/graph/nodes"
	"github.com/xpert-ai/xpert-sub002/log"
	"github.com/xpert-ai/xpert-sub002/runner"
	"github.com/xpert-ai/xpert-sub002/scheduler"
	"github.com/xpert-ai/xpert-sub002/server/workflow"
	"github.com/xpert-ai/xpert-sub002/storage/redis"
	"github.com/xpert-ai/xpert-sub002/telemetry/metric"
	"github.com/xpert-ai/xpert-sub002/telemetry/trace"
	"github.com/xpert-ai/xpert-sub002/tool"
)

var configPath = flag.String("config", "xpertd.yaml", "Path of the YAML configuration")

func main() {
	flag.Parse()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("xpertd: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(config.WithPath(*configPath))
	if err != nil {
		return err
	}
	log.Default = log.New(cfg.Log.Format, os.Stdout)
	log.SetLevel(cfg.Log.Level)

	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				log.Warnf("xpertd: close: %v", err)
			}
		}
	}()

	instruments, err := startTelemetry(ctx, cfg.Telemetry, &closers)
	if err != nil {
		return err
	}
	saver, err := checkpointSaver(ctx, cfg.Checkpoint, &closers)
	if err != nil {
		return err
	}
	store, err := executionStore(cfg.Execution, &closers)
	if err != nil {
		return err
	}

	graphs := runner.NewGraphs()
	if cfg.Engine.GraphsDir != "" {
		n, err := graphs.LoadDir(cfg.Engine.GraphsDir)
		switch {
		case errors.Is(err, os.ErrNotExist):
			log.Warnf("xpertd: graphs dir %s does not exist", cfg.Engine.GraphsDir)
		case err != nil:
			return err
		default:
			log.Infof("xpertd: loaded %d graphs from %s", n, cfg.Engine.GraphsDir)
		}
	}

	reg, err := nodes.NewRegistry(nodes.Deps{
		Tools: tool.NewCatalog(),
		CodeExecutor: local.New(
			local.WithWorkDir(cfg.Code.WorkDir),
			local.WithTimeout(cfg.Code.Timeout),
			local.WithCleanTempFiles(cfg.Code.CleanTempFiles),
		),
		HTTPClient: &http.Client{Timeout: cfg.Engine.HTTPTimeout},
		Graphs:     graphs,
	})
	if err != nil {
		return err
	}
	rn := runner.New(graphs, reg,
		runner.WithCheckpointSaver(saver),
		runner.WithExecutionStore(store),
		runner.WithBufferSize(cfg.Engine.BufferSize),
		runner.WithMaxSteps(cfg.Engine.MaxSteps),
		runner.WithNodeTimeout(cfg.Engine.NodeTimeout),
		runner.WithCompileCacheSize(cfg.Engine.CompileCacheSize),
		runner.WithInstruments(instruments),
	)

	var srvOpts []workflow.Option
	if len(cfg.Server.AllowedOrigins) > 0 {
		srvOpts = append(srvOpts, workflow.WithAllowedOrigins(cfg.Server.AllowedOrigins...))
	}
	g, gctx := errgroup.WithContext(ctx)
	if cfg.Scheduler.Enabled {
		tasks, err := newScheduler(cfg.Scheduler, rn)
		if err != nil {
			return err
		}
		g.Go(func() error {
			tasks.Start(gctx)
			return nil
		})
		srvOpts = append(srvOpts, workflow.WithScheduler(tasks))
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           workflow.New(rn, srvOpts...).Handler(),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}
	g.Go(func() error {
		log.Infof("xpertd: listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("xpertd: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		// Streams end once their runs are cancelled, so stop the runs first.
		if err := rn.Shutdown(shutdownCtx); err != nil {
			log.Warnf("xpertd: runs did not settle: %v", err)
		}
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func startTelemetry(ctx context.Context, cfg config.TelemetryConfig, closers *[]io.Closer) (*metric.Instruments, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	var traceOpts []trace.Option
	if cfg.TracesEndpoint != "" {
		traceOpts = append(traceOpts, trace.WithEndpoint(cfg.TracesEndpoint))
	}
	if cfg.Protocol != "" {
		traceOpts = append(traceOpts, trace.WithProtocol(cfg.Protocol))
	}
	cleanTrace, err := trace.Start(ctx, traceOpts...)
	if err != nil {
		return nil, err
	}
	*closers = append(*closers, closerFunc(cleanTrace))

	var metricOpts []metric.Option
	if cfg.MetricsEndpoint != "" {
		metricOpts = append(metricOpts, metric.WithEndpoint(cfg.MetricsEndpoint))
	}
	if cfg.Protocol != "" {
		metricOpts = append(metricOpts, metric.WithProtocol(cfg.Protocol))
	}
	cleanMetric, err := metric.Start(ctx, metricOpts...)
	if err != nil {
		return nil, err
	}
	*closers = append(*closers, closerFunc(cleanMetric))
	return metric.NewInstruments(metric.Meter)
}

func checkpointSaver(ctx context.Context, cfg config.CheckpointConfig, closers *[]io.Closer) (graph.CheckpointSaver, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		db, err := sql.Open("sqlite", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open checkpoint db: %w", err)
		}
		s, err := ckptsqlite.NewSaver(db)
		if err != nil {
			db.Close()
			return nil, err
		}
		*closers = append(*closers, s)
		return s, nil
	case config.BackendRedis:
		redis.RegisterInstance("checkpoint", redis.WithURL(cfg.RedisURL), redis.WithPingTimeout(5*time.Second))
		client, err := redis.Client(ctx, "checkpoint")
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, client)
		var opts []ckptredis.Option
		if cfg.KeyPrefix != "" {
			opts = append(opts, ckptredis.WithKeyPrefix(cfg.KeyPrefix))
		}
		if cfg.TTL > 0 {
			opts = append(opts, ckptredis.WithTTL(cfg.TTL))
		}
		return ckptredis.NewSaver(client, opts...), nil
	default:
		return ckptmem.NewSaver(), nil
	}
}

func executionStore(cfg config.ExecutionConfig, closers *[]io.Closer) (execution.Store, error) {
	if cfg.Backend != config.BackendSQLite {
		return execinmemory.New(), nil
	}
	s, err := execsqlite.Open(cfg.DSN)
	if err != nil {
		return nil, err
	}
	*closers = append(*closers, s)
	return s, nil
}

func newScheduler(cfg config.SchedulerConfig, rn *runner.Runner) (*scheduler.Scheduler, error) {
	s := scheduler.New(rn,
		scheduler.WithTick(cfg.Tick),
		scheduler.WithRateLimit(cfg.RatePerMinute, cfg.Burst),
	)
	for _, t := range cfg.Tasks {
		if _, err := s.Add(scheduler.Task{
			XpertID:  t.XpertID,
			AgentKey: t.AgentKey,
			Input:    t.Input,
			Interval: t.Interval,
		}); err != nil {
			return nil, fmt.Errorf("scheduler task %s: %w", t.XpertID, err)
		}
	}
	return s, nil
}
