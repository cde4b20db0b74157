// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package command

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenpvm/pkg/entitycache"
	"github.com/pbinitiative/zenpvm/pkg/otel"
	"github.com/pbinitiative/zenpvm/pkg/storage"
	"go.opentelemetry.io/otel/trace"
)

// Executor dispatches commands through the interceptor chain
// ContextPropagation, Tracing, Retry, Transaction, ContextLifecycle.
type Executor struct {
	chain  Next
	logger hclog.Logger
}

type executorConfig struct {
	retry   RetryConfig
	logger  hclog.Logger
	metrics *otel.EngineMetrics
	tracer  trace.Tracer
	init    []func(cc *Context)
	extra   []Interceptor
}

type ExecutorOption func(*executorConfig)

func WithRetry(retry RetryConfig) ExecutorOption {
	return func(c *executorConfig) {
		c.retry = retry
	}
}

func WithLogger(logger hclog.Logger) ExecutorOption {
	return func(c *executorConfig) {
		c.logger = logger
	}
}

func WithMetrics(metrics *otel.EngineMetrics) ExecutorOption {
	return func(c *executorConfig) {
		c.metrics = metrics
	}
}

func WithTracer(tracer trace.Tracer) ExecutorOption {
	return func(c *executorConfig) {
		c.tracer = tracer
	}
}

// WithContextInitializer registers fn to run on every new Context.
func WithContextInitializer(fn func(cc *Context)) ExecutorOption {
	return func(c *executorConfig) {
		c.init = append(c.init, fn)
	}
}

// WithInterceptors adds interceptors which run once per attempt, inside the
// retry loop and before the transaction starts.
func WithInterceptors(interceptors ...Interceptor) ExecutorOption {
	return func(c *executorConfig) {
		c.extra = append(c.extra, interceptors...)
	}
}

func NewExecutor(store storage.Storage, mappings *entitycache.Mappings, opts ...ExecutorOption) *Executor {
	cfg := executorConfig{
		retry:  DefaultRetryConfig(),
		logger: hclog.Default().Named("command-executor"),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	interceptors := []Interceptor{
		ContextPropagation{},
		Tracing{Tracer: cfg.tracer, Metrics: cfg.metrics},
		Retry{Config: cfg.retry, Logger: cfg.logger, Metrics: cfg.metrics},
	}
	interceptors = append(interceptors, cfg.extra...)
	interceptors = append(interceptors,
		Transaction{Store: store},
		ContextLifecycle{
			Store:    store,
			Mappings: mappings,
			Logger:   cfg.logger,
			Init: func(cc *Context) {
				for _, fn := range cfg.init {
					fn(cc)
				}
			},
		},
	)
	return &Executor{
		chain:  Chain(interceptors...),
		logger: cfg.logger,
	}
}

// Execute runs cmd. When ctx carries an open Context the command joins it.
func (e *Executor) Execute(ctx context.Context, cmd Command) (any, error) {
	return e.chain(ctx, cmd)
}

// Execute runs fn as a command and returns its typed result.
func Execute[T any](ctx context.Context, e *Executor, fn func(cc *Context) (T, error)) (T, error) {
	var zero T
	res, err := e.Execute(ctx, Func(func(cc *Context) (any, error) {
		return fn(cc)
	}))
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	typed, ok := res.(T)
	if !ok {
		return zero, fmt.Errorf("command returned %T", res)
	}
	return typed, nil
}
