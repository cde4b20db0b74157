// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenpvm/pkg/entitycache"
	"github.com/pbinitiative/zenpvm/pkg/otel"
	"github.com/pbinitiative/zenpvm/pkg/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Next runs the rest of the interceptor chain.
type Next func(ctx context.Context, cmd Command) (any, error)

// Interceptor wraps the rest of the chain.
type Interceptor interface {
	Intercept(ctx context.Context, cmd Command, next Next) (any, error)
}

type InterceptorFunc func(ctx context.Context, cmd Command, next Next) (any, error)

func (f InterceptorFunc) Intercept(ctx context.Context, cmd Command, next Next) (any, error) {
	return f(ctx, cmd, next)
}

// Chain links interceptors in order. The last link runs the command with the
// Context found in ctx.
func Chain(interceptors ...Interceptor) Next {
	next := Next(func(ctx context.Context, cmd Command) (any, error) {
		cc, ok := FromContext(ctx)
		if !ok {
			return nil, ErrNoContext
		}
		return cmd.Execute(cc)
	})
	for i := len(interceptors) - 1; i >= 0; i-- {
		interceptor := interceptors[i]
		rest := next
		next = func(ctx context.Context, cmd Command) (any, error) {
			return interceptor.Intercept(ctx, cmd, rest)
		}
	}
	return next
}

// ContextPropagation runs commands issued while a Context is open inside that
// Context, skipping the rest of the chain.
type ContextPropagation struct{}

func (ContextPropagation) Intercept(ctx context.Context, cmd Command, next Next) (any, error) {
	if cc, ok := FromContext(ctx); ok {
		return cc.ExecuteNested(cmd)
	}
	return next(ctx, cmd)
}

type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     200 * time.Millisecond,
		Multiplier:     2,
	}
}

func (c RetryConfig) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if c.InitialBackoff > 0 {
		b.InitialInterval = c.InitialBackoff
	}
	if c.MaxBackoff > 0 {
		b.MaxInterval = c.MaxBackoff
	}
	if c.Multiplier > 0 {
		b.Multiplier = c.Multiplier
	}
	return b
}

// Retry runs the rest of the chain again after an optimistic locking conflict.
// Every attempt gets a fresh Context.
type Retry struct {
	Config  RetryConfig
	Logger  hclog.Logger
	Metrics *otel.EngineMetrics
}

func (r Retry) Intercept(ctx context.Context, cmd Command, next Next) (any, error) {
	maxAttempts := max(r.Config.MaxAttempts, 1)
	attempt := 0
	res, err := backoff.Retry(ctx, func() (any, error) {
		attempt++
		res, err := next(ctx, cmd)
		if err == nil {
			return res, nil
		}
		if IsOptimisticLockingError(err) {
			if r.Metrics != nil {
				r.Metrics.LockConflicts.Add(ctx, 1)
			}
			return nil, err
		}
		return nil, backoff.Permanent(err)
	},
		backoff.WithBackOff(r.Config.backOff()),
		backoff.WithMaxTries(uint(maxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			if r.Metrics != nil {
				r.Metrics.CommandRetries.Add(ctx, 1)
			}
			if r.Logger != nil {
				r.Logger.Debug("retrying command after conflict", "command", commandName(cmd), "attempt", attempt, "wait", wait, "err", err)
			}
		}),
	)
	if err == nil {
		return res, nil
	}
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return nil, permanent.Err
	}
	if IsOptimisticLockingError(err) {
		return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)
	}
	return nil, err
}

// Transaction provides the TransactionContext used by the rest of the chain
// and rolls it back if it is still open when the chain returns.
type Transaction struct {
	Store storage.Storage
}

type transactionKey struct{}

func (t Transaction) Intercept(ctx context.Context, cmd Command, next Next) (any, error) {
	tc := NewTransactionContext(t.Store)
	res, err := next(context.WithValue(ctx, transactionKey{}, tc), cmd)
	if tc.State() == TransactionActive {
		err = errors.Join(err, tc.Rollback(ctx))
	}
	return res, err
}

// ContextLifecycle opens the Context for the command and closes it when the
// rest of the chain returns.
type ContextLifecycle struct {
	Store    storage.Storage
	Mappings *entitycache.Mappings
	Logger   hclog.Logger
	// Init prepares every new Context, e.g. by registering sessions.
	Init func(cc *Context)
}

func (l ContextLifecycle) Intercept(ctx context.Context, cmd Command, next Next) (res any, err error) {
	tc, ok := ctx.Value(transactionKey{}).(*TransactionContext)
	if !ok {
		tc = NewTransactionContext(l.Store)
	}
	logger := l.Logger
	if logger == nil {
		logger = hclog.Default().Named("command-context")
	}
	cc := newContext(ctx, l.Store, tc, l.Mappings, logger)
	if l.Init != nil {
		l.Init(cc)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = cc.Close(fmt.Errorf("command panicked: %v", p))
			panic(p)
		}
	}()
	res, err = next(cc.ctx, cmd)
	if closeErr := cc.Close(err); closeErr != nil {
		return nil, closeErr
	}
	return res, nil
}

// Tracing opens a span per top level command and records command metrics.
type Tracing struct {
	Tracer  trace.Tracer
	Metrics *otel.EngineMetrics
}

func (t Tracing) Intercept(ctx context.Context, cmd Command, next Next) (any, error) {
	name := commandName(cmd)
	if t.Tracer != nil {
		var span trace.Span
		ctx, span = t.Tracer.Start(ctx, name, trace.WithAttributes(attribute.String(otel.AttributeCommand, name)))
		defer span.End()
		res, err := t.run(ctx, cmd, next)
		if err != nil {
			span.RecordError(err)
			if IsOptimisticLockingError(err) {
				span.SetStatus(codes.Error, otel.SpanStatusConflict)
			} else {
				span.SetStatus(codes.Error, err.Error())
			}
		}
		return res, err
	}
	return t.run(ctx, cmd, next)
}

func (t Tracing) run(ctx context.Context, cmd Command, next Next) (any, error) {
	res, err := next(ctx, cmd)
	if t.Metrics != nil {
		t.Metrics.CommandsExecuted.Add(ctx, 1)
		if err != nil {
			t.Metrics.CommandsFailed.Add(ctx, 1)
		}
	}
	return res, err
}
