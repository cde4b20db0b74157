package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenpvm/internal/config"
	"github.com/pbinitiative/zenpvm/pkg/command"
	"github.com/pbinitiative/zenpvm/pkg/engine"
	"github.com/pbinitiative/zenpvm/pkg/history/redisexport"
	"github.com/pbinitiative/zenpvm/pkg/otel"
	"github.com/pbinitiative/zenpvm/pkg/persistence"
	"github.com/pbinitiative/zenpvm/pkg/pvm"
	"github.com/pbinitiative/zenpvm/pkg/pvm/behavior"
	"github.com/pbinitiative/zenpvm/pkg/script/js"
	"go.opentelemetry.io/otel/trace"
)

// engineDeps are the collaborators built next to the engine. close releases
// them in reverse order.
type engineDeps struct {
	engine  *engine.Engine
	closers []func() error
}

func (d *engineDeps) close() error {
	var errJoin error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errJoin = errors.Join(errJoin, d.closers[i]())
	}
	return errJoin
}

// logHandler is the service handler available as "log". It writes the
// variables visible to the execution.
var logHandler = behavior.TaskHandlerFunc(func(execution pvm.ActivityExecution) error {
	hclog.Default().Named("service-log").Info("service task", "activity", execution.Activity().ID(), "variables", execution.Variables())
	return nil
})

func newEngine(ctx context.Context, conf config.Config, metrics *otel.EngineMetrics, tracer trace.Tracer) (*engineDeps, error) {
	deps := &engineDeps{}
	store, err := engine.OpenStorage(conf.Engine.Persistence.Driver, conf.Engine.Persistence.DSN)
	if err != nil {
		return nil, err
	}
	deps.closers = append(deps.closers, store.Close)

	ttl, err := conf.Engine.History.TTL.After(time.Now())
	if err != nil {
		_ = deps.close()
		return nil, err
	}
	scripts, err := js.NewJsRuntime(ctx, conf.Engine.Script.MaxVmPoolSize, conf.Engine.Script.MinVmPoolSize)
	if err != nil {
		_ = deps.close()
		return nil, fmt.Errorf("failed to create script runtime: %w", err)
	}

	opts := []engine.Option{
		engine.WithHistory(conf.Engine.History.Enabled.Bool()),
		engine.WithHistoryCleanup(ttl, conf.Engine.History.CleanupInterval),
		engine.WithRetry(command.RetryConfig{
			MaxAttempts:    conf.Engine.Retry.MaxAttempts,
			InitialBackoff: conf.Engine.Retry.InitialBackoff,
			MaxBackoff:     conf.Engine.Retry.MaxBackoff,
			Multiplier:     conf.Engine.Retry.Multiplier,
		}),
		engine.WithDefinitionCache(conf.Engine.DefinitionCache.Size, conf.Engine.DefinitionCache.TTL),
		engine.WithNodeID(conf.Engine.NodeID),
		engine.WithScriptRuntime(scripts),
		engine.WithTaskHandler("log", logHandler),
		engine.WithQueryConfigurers(persistence.TenantQueryConfigurer{}),
		engine.WithLogger(hclog.Default().Named("pvm-engine")),
	}
	if metrics != nil {
		opts = append(opts, engine.WithMetrics(metrics))
	}
	if tracer != nil {
		opts = append(opts, engine.WithTracer(tracer))
	}
	if conf.History.Redis.Enabled {
		exporter := redisexport.New(conf.History.Redis.Addr, conf.History.Redis.Password, conf.History.Redis.DB,
			redisexport.WithStream(conf.History.Redis.Stream),
			redisexport.WithLogger(hclog.Default().Named("history-redis")),
		)
		deps.closers = append(deps.closers, exporter.Close)
		opts = append(opts, engine.WithHistoryHandler(exporter))
	}

	deps.engine, err = engine.New(store, opts...)
	if err != nil {
		_ = deps.close()
		return nil, err
	}
	return deps, nil
}
