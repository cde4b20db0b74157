// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package engine

import (
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenpvm/pkg/command"
	"github.com/pbinitiative/zenpvm/pkg/history"
	"github.com/pbinitiative/zenpvm/pkg/otel"
	"github.com/pbinitiative/zenpvm/pkg/persistence"
	"github.com/pbinitiative/zenpvm/pkg/pvm/behavior"
	"go.opentelemetry.io/otel/trace"
)

type config struct {
	historyEnabled  bool
	historyTTL      time.Duration
	cleanupInterval time.Duration
	cleanupBatch    int
	retry           command.RetryConfig
	logger          hclog.Logger
	metrics         *otel.EngineMetrics
	tracer          trace.Tracer
	cacheSize       int
	cacheTTL        time.Duration
	scripts         behavior.ScriptRuntime
	handlers        map[string]behavior.TaskHandler
	configurers     []persistence.QueryConfigurer
	historyHandlers []history.EventHandler
	nodeID          int64
	now             func() time.Time
}

func defaultConfig() config {
	return config{
		historyEnabled:  true,
		historyTTL:      30 * 24 * time.Hour,
		cleanupInterval: time.Hour,
		cleanupBatch:    100,
		retry:           command.DefaultRetryConfig(),
		logger:          hclog.Default().Named("pvm-engine"),
		cacheSize:       1000,
		cacheTTL:        time.Hour,
		handlers:        map[string]behavior.TaskHandler{},
		now:             time.Now,
	}
}

type Option func(*config)

func WithHistory(enabled bool) Option {
	return func(c *config) {
		c.historyEnabled = enabled
	}
}

// WithHistoryCleanup sets how long ended process instances are kept in history
// and how often the cleanup loop started by Start runs.
func WithHistoryCleanup(ttl time.Duration, interval time.Duration) Option {
	return func(c *config) {
		c.historyTTL = ttl
		c.cleanupInterval = interval
	}
}

func WithRetry(retry command.RetryConfig) Option {
	return func(c *config) {
		c.retry = retry
	}
}

func WithLogger(logger hclog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

func WithMetrics(metrics *otel.EngineMetrics) Option {
	return func(c *config) {
		c.metrics = metrics
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(c *config) {
		c.tracer = tracer
	}
}

func WithDefinitionCache(size int, ttl time.Duration) Option {
	return func(c *config) {
		c.cacheSize = size
		c.cacheTTL = ttl
	}
}

func WithScriptRuntime(scripts behavior.ScriptRuntime) Option {
	return func(c *config) {
		c.scripts = scripts
	}
}

// WithTaskHandler makes handler available to service tasks configured with
// handler: name.
func WithTaskHandler(name string, handler behavior.TaskHandler) Option {
	return func(c *config) {
		c.handlers[name] = handler
	}
}

func WithQueryConfigurers(configurers ...persistence.QueryConfigurer) Option {
	return func(c *config) {
		c.configurers = append(c.configurers, configurers...)
	}
}

// WithHistoryHandler adds a handler that receives every history event after
// the database handler.
func WithHistoryHandler(handler history.EventHandler) Option {
	return func(c *config) {
		c.historyHandlers = append(c.historyHandlers, handler)
	}
}

func WithNodeID(nodeID int64) Option {
	return func(c *config) {
		c.nodeID = nodeID
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}
