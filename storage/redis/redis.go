//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package redis builds the redis clients shared by checkpoint savers and
// other stores.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrEmptyURL is returned when no url was configured.
var ErrEmptyURL = errors.New("redis: url is empty")

// ClientBuilder creates a client from options.
type ClientBuilder func(opts ...ClientBuilderOpt) (redis.UniversalClient, error)

var (
	mu            sync.RWMutex
	globalBuilder ClientBuilder = DefaultClientBuilder
	instances                   = map[string][]ClientBuilderOpt{}
)

// SetClientBuilder replaces the builder used by Client and NewClient.
func SetClientBuilder(b ClientBuilder) {
	mu.Lock()
	defer mu.Unlock()
	globalBuilder = b
}

// GetClientBuilder returns the current builder.
func GetClientBuilder() ClientBuilder {
	mu.RLock()
	defer mu.RUnlock()
	return globalBuilder
}

// ClientBuilderOpts is what a builder reads.
type ClientBuilderOpts struct {
	URL      string
	PoolSize int
	// PingTimeout bounds the connectivity check of NewClient; zero skips it.
	PingTimeout time.Duration
}

// ClientBuilderOpt is the option for the redis client.
type ClientBuilderOpt func(*ClientBuilderOpts)

// WithURL sets the redis url.
// scheme: redis://<username>:<password>@<host>:<port>/<db>?<options>
func WithURL(url string) ClientBuilderOpt {
	return func(o *ClientBuilderOpts) { o.URL = url }
}

// WithPoolSize overrides the pool size parsed from the url.
func WithPoolSize(n int) ClientBuilderOpt {
	return func(o *ClientBuilderOpts) { o.PoolSize = n }
}

// WithPingTimeout makes NewClient check the server before returning.
func WithPingTimeout(d time.Duration) ClientBuilderOpt {
	return func(o *ClientBuilderOpts) { o.PingTimeout = d }
}

// DefaultClientBuilder parses the url into universal options.
func DefaultClientBuilder(opts ...ClientBuilderOpt) (redis.UniversalClient, error) {
	o := &ClientBuilderOpts{}
	for _, opt := range opts {
		opt(o)
	}
	if o.URL == "" {
		return nil, ErrEmptyURL
	}
	parsed, err := redis.ParseURL(o.URL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	uo := &redis.UniversalOptions{
		Addrs:           []string{parsed.Addr},
		DB:              parsed.DB,
		Username:        parsed.Username,
		Password:        parsed.Password,
		Protocol:        parsed.Protocol,
		ClientName:      parsed.ClientName,
		TLSConfig:       parsed.TLSConfig,
		MaxRetries:      parsed.MaxRetries,
		DialTimeout:     parsed.DialTimeout,
		ReadTimeout:     parsed.ReadTimeout,
		WriteTimeout:    parsed.WriteTimeout,
		PoolSize:        parsed.PoolSize,
		MinIdleConns:    parsed.MinIdleConns,
		ConnMaxIdleTime: parsed.ConnMaxIdleTime,
	}
	if o.PoolSize > 0 {
		uo.PoolSize = o.PoolSize
	}
	return redis.NewUniversalClient(uo), nil
}

// NewClient builds a client with the current builder and, when asked,
// pings it.
func NewClient(ctx context.Context, opts ...ClientBuilderOpt) (redis.UniversalClient, error) {
	c, err := GetClientBuilder()(opts...)
	if err != nil {
		return nil, err
	}
	o := &ClientBuilderOpts{}
	for _, opt := range opts {
		opt(o)
	}
	if o.PingTimeout > 0 {
		pctx, cancel := context.WithTimeout(ctx, o.PingTimeout)
		defer cancel()
		if err := c.Ping(pctx).Err(); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("redis: ping: %w", err)
		}
	}
	return c, nil
}

// RegisterInstance records options under name. Repeated calls append.
func RegisterInstance(name string, opts ...ClientBuilderOpt) {
	mu.Lock()
	defer mu.Unlock()
	instances[name] = append(instances[name], opts...)
}

// Instance returns the options registered under name.
func Instance(name string) ([]ClientBuilderOpt, bool) {
	mu.RLock()
	defer mu.RUnlock()
	opts, ok := instances[name]
	return opts, ok
}

// Client builds a client for a registered instance.
func Client(ctx context.Context, name string) (redis.UniversalClient, error) {
	opts, ok := Instance(name)
	if !ok {
		return nil, fmt.Errorf("redis: instance %s not registered", name)
	}
	return NewClient(ctx, opts...)
}
