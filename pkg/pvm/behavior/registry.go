package behavior

import (
	"errors"
	"fmt"

	"github.com/pbinitiative/zenpvm/pkg/pvm"
	"github.com/pbinitiative/zenpvm/pkg/pvm/definition"
)

const (
	TypeAutomatic        = "automatic"
	TypeWait             = "wait"
	TypeExclusiveGateway = "exclusiveGateway"
	TypeParallelGateway  = "parallelGateway"
	TypeSubProcess       = "subProcess"
	TypeScript           = "script"
	TypeThrowError       = "throwError"
	TypeService          = "service"
)

// Options are the collaborators of the built-in behaviors.
type Options struct {
	Scripts  ScriptRuntime
	Handlers map[string]TaskHandler
}

type serviceConfig struct {
	Handler string `mapstructure:"handler"`
}

// NewRegistry returns a definition registry with every built-in activity type.
func NewRegistry(opts Options) (*definition.Registry, error) {
	r := definition.NewRegistry()
	err := errors.Join(
		r.Register(TypeAutomatic, definition.Typed[Automatic]()),
		r.Register(TypeWait, definition.Typed[WaitState]()),
		r.Register(TypeExclusiveGateway, definition.Typed[ExclusiveGateway]()),
		r.Register(TypeParallelGateway, definition.Typed[ParallelGateway]()),
		r.Register(TypeSubProcess, definition.Typed[pvm.ScopeBehavior]()),
		r.Register(TypeThrowError, func(config map[string]any) (pvm.ActivityBehavior, error) {
			t, err := definition.DecodeConfig[ThrowError](config)
			if err != nil {
				return nil, err
			}
			if t.ErrorCode == "" {
				return nil, errors.New("throwError requires errorCode")
			}
			return t, nil
		}),
		r.Register(TypeScript, func(config map[string]any) (pvm.ActivityBehavior, error) {
			s, err := definition.DecodeConfig[Script](config)
			if err != nil {
				return nil, err
			}
			if s.Source == "" {
				return nil, errors.New("script task requires script")
			}
			s.Runtime = opts.Scripts
			return s, nil
		}),
		r.Register(TypeService, func(config map[string]any) (pvm.ActivityBehavior, error) {
			c, err := definition.DecodeConfig[serviceConfig](config)
			if err != nil {
				return nil, err
			}
			handler, ok := opts.Handlers[c.Handler]
			if !ok {
				return nil, fmt.Errorf("unknown service handler %q", c.Handler)
			}
			return Service{Handler: handler}, nil
		}),
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}
