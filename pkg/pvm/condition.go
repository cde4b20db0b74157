// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package pvm

import (
	"fmt"
	"strings"

	"github.com/pbinitiative/feel"
)

// Condition guards a transition.
type Condition interface {
	Evaluate(execution ActivityExecution) (bool, error)
}

// ExpressionCondition is a FEEL expression evaluated against the variables
// visible from the execution.
type ExpressionCondition struct {
	Expression string
}

func (c ExpressionCondition) Evaluate(execution ActivityExecution) (bool, error) {
	expression := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(c.Expression), "="))
	if expression == "" {
		return true, nil
	}
	result, err := feel.EvalStringWithScope(expression, execution.Variables())
	if err != nil {
		return false, fmt.Errorf("failed to evaluate condition %q: %w", c.Expression, err)
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q evaluated to %T, expected boolean", c.Expression, result)
	}
	return b, nil
}

func (c ExpressionCondition) String() string {
	return c.Expression
}

// ConditionFunc adapts a function to Condition.
type ConditionFunc func(execution ActivityExecution) (bool, error)

func (f ConditionFunc) Evaluate(execution ActivityExecution) (bool, error) {
	return f(execution)
}

// EnabledTransitions returns transitions without condition or whose condition
// holds, in declaration order.
func EnabledTransitions(execution ActivityExecution, transitions []*Transition) ([]*Transition, error) {
	res := make([]*Transition, 0, len(transitions))
	for _, t := range transitions {
		if t.condition == nil {
			res = append(res, t)
			continue
		}
		ok, err := t.condition.Evaluate(execution)
		if err != nil {
			return nil, fmt.Errorf("transition %s: %w", t.id, err)
		}
		if ok {
			res = append(res, t)
		}
	}
	return res, nil
}
