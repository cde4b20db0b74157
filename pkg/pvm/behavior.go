// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package pvm

// ActivityBehavior is implemented by every activity. Atomic activities only
// ever receive Execute.
type ActivityBehavior interface {
	Execute(execution ActivityExecution) error
}

// CompositeActivityBehavior is implemented by activities that contain nested
// activities. The interpreter calls ConcurrentChildExecutionEnded for every child
// execution that ends inside the scope and Complete once the scope is left with
// no child executions.
type CompositeActivityBehavior interface {
	ActivityBehavior
	Complete(scopeExecution ActivityExecution) error
	ConcurrentChildExecutionEnded(scopeExecution ActivityExecution, endedExecution ActivityExecution) error
}

// SignallableActivityBehavior is implemented by wait states that can be resumed
// by an external signal.
type SignallableActivityBehavior interface {
	ActivityBehavior
	Signal(execution ActivityExecution, signalName string, payload map[string]any) error
}

// ActivityExecution is the view of an execution token handed to behaviors.
type ActivityExecution interface {
	ID() string
	ProcessInstanceID() string
	Activity() *Activity
	Definition() *ProcessDefinition
	Parent() ActivityExecution
	Children() []ActivityExecution

	IsScope() bool
	IsConcurrent() bool
	IsActive() bool
	IsEnded() bool

	// Variable resolves name in this execution's scope and its ancestors.
	Variable(name string) (any, bool)
	// Variables returns a copy of all variables visible from this execution.
	Variables() map[string]any
	// SetVariable updates the variable in the nearest scope that defines it,
	// creating it on the nearest scope execution otherwise.
	SetVariable(name string, value any) error
	SetVariableLocal(name string, value any) error

	// ExecuteActivities spawns one child execution per activity. More than one
	// activity makes the children concurrent.
	ExecuteActivities(activities []*Activity) error
	// LeaveActivityViaTransitions takes all transitions. Recyclable executions
	// are joined into this one and removed without being reported as ended.
	LeaveActivityViaTransitions(transitions []*Transition, recyclable []ActivityExecution) error
	// Take is LeaveActivityViaTransitions with a single transition.
	Take(transition *Transition) error
	// End terminates the execution. With completeScope the end is reported to
	// the enclosing scope behavior.
	End(completeScope bool) error
	Remove() error
	// TryPruneLastConcurrentChild completes the scope once it has no active
	// children left and reports whether it did. A single remaining child stops
	// being concurrent.
	TryPruneLastConcurrentChild() (bool, error)

	Inactivate()
	FindInactiveConcurrentExecutions(activity *Activity) []ActivityExecution
}
