package js

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/dop251/goja"
	"github.com/pbinitiative/zenpvm/pkg/script"
)

const DefaultTimeout = 5 * time.Second

type JsRuntime struct {
	pool    *script.RunnerPool[*goja.Runtime]
	timeout time.Duration
}

var _ script.Runtime = &JsRuntime{}

func NewJsRuntime(ctx context.Context, maxVmPoolSize int, minVmPoolSize int) (*JsRuntime, error) {
	pool, err := script.NewRunnerPool(ctx, goja.New, maxVmPoolSize, minVmPoolSize)
	if err != nil {
		return nil, err
	}
	return &JsRuntime{
		pool:    pool,
		timeout: DefaultTimeout,
	}, nil
}

// WithTimeout limits the run time of a single script.
func (r *JsRuntime) WithTimeout(timeout time.Duration) *JsRuntime {
	r.timeout = timeout
	return r
}

// RunScript binds variables as globals, runs the script and returns its
// completion value exported to Go. Bound globals are removed before the vm
// goes back to the pool.
func (r *JsRuntime) RunScript(source string, variables map[string]any) (any, error) {
	vm, err := r.pool.Get(context.Background())
	if err != nil {
		return nil, err
	}
	names := slices.Sorted(maps.Keys(variables))
	defer func() {
		global := vm.GlobalObject()
		for _, name := range names {
			_ = global.Delete(name)
		}
		vm.ClearInterrupt()
		r.pool.Put(vm)
	}()

	for _, name := range names {
		if err := vm.Set(name, variables[name]); err != nil {
			return nil, fmt.Errorf("failed to bind variable %s: %w", name, err)
		}
	}
	if r.timeout > 0 {
		timer := time.AfterFunc(r.timeout, func() {
			vm.Interrupt("script timeout")
		})
		defer timer.Stop()
	}
	value, err := vm.RunString(source)
	if err != nil {
		return nil, fmt.Errorf("error running script %q: %w", source, err)
	}
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, nil
	}
	return value.Export(), nil
}
