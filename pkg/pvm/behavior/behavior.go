// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package behavior contains activity behaviors that can be attached to
// activities of a pvm.ProcessDefinition.
package behavior

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/pbinitiative/zenpvm/pkg/pvm"
)

var ErrNoEnabledTransition = errors.New("no outgoing transition enabled")

// leave takes every enabled outgoing transition of the activity. Activities
// without outgoing transitions end the execution.
func leave(execution pvm.ActivityExecution) error {
	outgoing := execution.Activity().Outgoing()
	if len(outgoing) == 0 {
		return execution.End(true)
	}
	enabled, err := pvm.EnabledTransitions(execution, outgoing)
	if err != nil {
		return err
	}
	if len(enabled) == 0 {
		return fmt.Errorf("%w: activity %s", ErrNoEnabledTransition, execution.Activity().ID())
	}
	return execution.LeaveActivityViaTransitions(enabled, nil)
}

func setVariables(execution pvm.ActivityExecution, variables map[string]any) error {
	for _, name := range slices.Sorted(maps.Keys(variables)) {
		if err := execution.SetVariable(name, variables[name]); err != nil {
			return err
		}
	}
	return nil
}

// Automatic passes the token through the activity.
type Automatic struct{}

func (Automatic) Execute(execution pvm.ActivityExecution) error {
	return leave(execution)
}

// WaitState keeps the token in the activity until it is signalled. The signal
// payload is merged into the variables before leaving.
type WaitState struct{}

var _ pvm.SignallableActivityBehavior = WaitState{}

func (WaitState) Execute(pvm.ActivityExecution) error {
	return nil
}

func (WaitState) Signal(execution pvm.ActivityExecution, _ string, payload map[string]any) error {
	if err := setVariables(execution, payload); err != nil {
		return err
	}
	return leave(execution)
}

// ExclusiveGateway takes the first enabled outgoing transition in declaration
// order, falling back to DefaultTransitionID.
type ExclusiveGateway struct {
	DefaultTransitionID string `mapstructure:"default"`
}

func (g ExclusiveGateway) Execute(execution pvm.ActivityExecution) error {
	var defaultTransition *pvm.Transition
	var candidates []*pvm.Transition
	for _, t := range execution.Activity().Outgoing() {
		if t.ID() == g.DefaultTransitionID {
			defaultTransition = t
			continue
		}
		candidates = append(candidates, t)
	}
	if len(candidates) == 0 && defaultTransition == nil {
		return execution.End(true)
	}
	for _, t := range candidates {
		if t.Condition() == nil {
			return execution.Take(t)
		}
		ok, err := t.Condition().Evaluate(execution)
		if err != nil {
			return fmt.Errorf("exclusive gateway %s: %w", execution.Activity().ID(), err)
		}
		if ok {
			return execution.Take(t)
		}
	}
	if defaultTransition != nil {
		return execution.Take(defaultTransition)
	}
	return fmt.Errorf("%w: exclusive gateway %s", ErrNoEnabledTransition, execution.Activity().ID())
}

// ParallelGateway forks into every outgoing transition and joins tokens
// arriving over all incoming transitions of the same scope.
type ParallelGateway struct{}

func (ParallelGateway) Execute(execution pvm.ActivityExecution) error {
	activity := execution.Activity()
	execution.Inactivate()
	joined := execution.FindInactiveConcurrentExecutions(activity)
	if len(joined) < len(activity.Incoming()) {
		return nil
	}
	return execution.LeaveActivityViaTransitions(activity.Outgoing(), joined)
}

// ThrowError raises a business fault.
type ThrowError struct {
	ErrorCode string `mapstructure:"errorCode"`
	Message   string `mapstructure:"message"`
}

func (t ThrowError) Execute(execution pvm.ActivityExecution) error {
	return pvm.NewBusinessFault(t.ErrorCode, t.Message, nil)
}

// TaskHandler performs the work of a service task. Returning a
// *pvm.BusinessFault raises a recoverable fault.
type TaskHandler interface {
	Handle(execution pvm.ActivityExecution) error
}

type TaskHandlerFunc func(execution pvm.ActivityExecution) error

func (f TaskHandlerFunc) Handle(execution pvm.ActivityExecution) error {
	return f(execution)
}

// Service calls Handler and leaves the activity when it succeeds.
type Service struct {
	Handler TaskHandler
}

func (s Service) Execute(execution pvm.ActivityExecution) error {
	if s.Handler == nil {
		return fmt.Errorf("service task %s has no handler", execution.Activity().ID())
	}
	if err := s.Handler.Handle(execution); err != nil {
		return err
	}
	return leave(execution)
}

// ScriptRuntime evaluates a script against execution variables.
type ScriptRuntime interface {
	RunScript(script string, variables map[string]any) (any, error)
}

// Script runs Source and stores the result in ResultVariable when set.
type Script struct {
	Source         string `mapstructure:"script"`
	ResultVariable string `mapstructure:"resultVariable"`
	Runtime        ScriptRuntime
}

func (s Script) Execute(execution pvm.ActivityExecution) error {
	if s.Runtime == nil {
		return fmt.Errorf("script task %s has no script runtime", execution.Activity().ID())
	}
	result, err := s.Runtime.RunScript(s.Source, execution.Variables())
	if err != nil {
		return fmt.Errorf("script task %s: %w", execution.Activity().ID(), err)
	}
	if s.ResultVariable != "" {
		if err := execution.SetVariable(s.ResultVariable, result); err != nil {
			return err
		}
	}
	return leave(execution)
}
