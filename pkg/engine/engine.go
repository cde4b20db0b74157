// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package engine runs process definitions on the process virtual machine and
// keeps their state in a storage.Storage. Every public operation is one
// command: it runs in its own unit of work and is retried on optimistic
// locking conflicts.
package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenpvm/pkg/command"
	"github.com/pbinitiative/zenpvm/pkg/history"
	"github.com/pbinitiative/zenpvm/pkg/otel"
	"github.com/pbinitiative/zenpvm/pkg/persistence"
	"github.com/pbinitiative/zenpvm/pkg/pvm/behavior"
	"github.com/pbinitiative/zenpvm/pkg/pvm/definition"
	"github.com/pbinitiative/zenpvm/pkg/pvm/runtime"
	"github.com/pbinitiative/zenpvm/pkg/storage"
	"github.com/pbinitiative/zenpvm/pkg/zenflake"
)

type Engine struct {
	store       storage.Storage
	executor    *command.Executor
	managers    *persistence.Managers
	gate        *history.Gate
	producer    *history.Producer
	interpreter *runtime.Interpreter
	ids         *zenflake.Generator
	registry    *definition.Registry
	definitions *DeploymentCache
	metrics     *otel.EngineMetrics
	logger      hclog.Logger
	cfg         config

	mu   sync.Mutex
	stop context.CancelFunc
	done chan struct{}
}

// New creates an engine working on store. The store must serve the statements
// of persistence.Registry.
func New(store storage.Storage, opts ...Option) (*Engine, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	mappings, err := persistence.Mappings()
	if err != nil {
		return nil, fmt.Errorf("failed to create entity mappings: %w", err)
	}
	ids, err := zenflake.NewGenerator(cfg.nodeID)
	if err != nil {
		return nil, err
	}
	registry, err := behavior.NewRegistry(behavior.Options{Scripts: cfg.scripts, Handlers: cfg.handlers})
	if err != nil {
		return nil, fmt.Errorf("failed to register behaviors: %w", err)
	}

	gate := history.NewGate(cfg.historyEnabled)
	managers := persistence.NewManagers(gate, cfg.configurers...)
	handlers := history.Composite{history.NewDbHistoryEventHandler(managers, cfg.logger.Named("history-db"))}
	handlers = append(handlers, cfg.historyHandlers...)

	executorOpts := []command.ExecutorOption{
		command.WithRetry(cfg.retry),
		command.WithLogger(cfg.logger.Named("command-executor")),
	}
	if cfg.metrics != nil {
		executorOpts = append(executorOpts, command.WithMetrics(cfg.metrics))
	}
	if cfg.tracer != nil {
		executorOpts = append(executorOpts, command.WithTracer(cfg.tracer))
	}

	return &Engine{
		store:       store,
		executor:    command.NewExecutor(store, mappings, executorOpts...),
		managers:    managers,
		gate:        gate,
		producer:    history.NewProducer(gate, handlers, cfg.now, cfg.logger.Named("history")),
		interpreter: runtime.NewInterpreter(ids, runtime.WithLogger(cfg.logger.Named("interpreter")), runtime.WithClock(cfg.now)),
		ids:         ids,
		registry:    registry,
		definitions: NewDeploymentCache(registry, cfg.cacheSize, cfg.cacheTTL),
		metrics:     cfg.metrics,
		logger:      cfg.logger,
		cfg:         cfg,
	}, nil
}

// History returns the gate switching history on and off at runtime.
func (e *Engine) History() *history.Gate {
	return e.gate
}

// Registry returns the activity types the engine understands.
func (e *Engine) Registry() *definition.Registry {
	return e.registry
}

func (e *Engine) Managers() *persistence.Managers {
	return e.managers
}

func (e *Engine) Executor() *command.Executor {
	return e.executor
}

// afterCommit records metrics once the command committed.
func (e *Engine) afterCommit(cc *command.Context, record func(ctx context.Context, m *otel.EngineMetrics)) {
	if e.metrics == nil {
		return
	}
	cc.AddPostCommitAction(func(ctx context.Context) {
		record(ctx, e.metrics)
	})
}

// Start runs the history cleanup every cleanup interval until Stop is called
// or ctx is done.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stop != nil || e.cfg.cleanupInterval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	e.stop = cancel
	e.done = make(chan struct{})
	go e.cleanupLoop(ctx, e.done)
	e.logger.Info("history cleanup started", "interval", e.cfg.cleanupInterval, "ttl", e.cfg.historyTTL)
}

// Stop ends the cleanup loop and waits for a running cleanup to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stop == nil {
		return
	}
	e.stop()
	<-e.done
	e.stop = nil
	e.done = nil
}

func (e *Engine) cleanupLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(e.cfg.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := e.CleanupHistory(ctx, e.cfg.now())
			if err != nil && !errors.Is(err, context.Canceled) {
				e.logger.Error("history cleanup failed", "err", err)
				continue
			}
			if removed > 0 {
				e.logger.Debug("history cleanup", "removed", removed)
			}
		}
	}
}

func sortedKeys(m map[string]any) []string {
	return slices.Sorted(maps.Keys(m))
}

type Status struct {
	HistoryEnabled    bool `json:"historyEnabled"`
	CachedDefinitions int  `json:"cachedDefinitions"`
	CleanupRunning    bool `json:"cleanupRunning"`
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		HistoryEnabled:    e.gate.IsHistoryEnabled(),
		CachedDefinitions: e.definitions.Len(),
		CleanupRunning:    e.stop != nil,
	}
}
