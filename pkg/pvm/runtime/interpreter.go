// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package runtime

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenpvm/pkg/pvm"
)

// IDGenerator provides identities for new executions.
type IDGenerator interface {
	NextID() string
}

type operationKind int

const (
	opExecute operationKind = iota
	opComplete
	opChildEnded
)

func (k operationKind) String() string {
	switch k {
	case opExecute:
		return "execute"
	case opComplete:
		return "complete"
	case opChildEnded:
		return "child-ended"
	}
	return "unknown"
}

type operation struct {
	kind      operationKind
	execution *Execution
	child     *Execution
}

// Interpreter drives execution trees through their process definition.
// Behaviors never call each other directly, every step they request is put on
// the agenda of the tree and performed in order by the interpreter loop.
type Interpreter struct {
	ids    IDGenerator
	logger hclog.Logger
	now    func() time.Time
}

type Option func(*Interpreter)

func WithLogger(logger hclog.Logger) Option {
	return func(it *Interpreter) {
		it.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(it *Interpreter) {
		it.now = now
	}
}

func NewInterpreter(ids IDGenerator, opts ...Option) *Interpreter {
	it := &Interpreter{
		ids:    ids,
		logger: hclog.Default().Named("pvm-interpreter"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(it)
	}
	return it
}

func (it *Interpreter) newTree(def *pvm.ProcessDefinition, listener Listener) *Tree {
	if listener == nil {
		listener = NoopListener{}
	}
	return &Tree{
		definition: def,
		executions: map[string]*Execution{},
		ids:        it.ids,
		listener:   listener,
		now:        it.now,
	}
}

// StartProcessInstance creates the process instance execution, sets the
// initial variables and runs until every token waits or the instance ends.
func (it *Interpreter) StartProcessInstance(def *pvm.ProcessDefinition, variables map[string]any, listener Listener) (*Tree, error) {
	tree := it.newTree(def, listener)
	root, err := tree.createExecution(nil, def.ID(), true, false)
	if err != nil {
		return nil, err
	}
	for _, name := range slices.Sorted(maps.Keys(variables)) {
		if err := root.SetVariableLocal(name, variables[name]); err != nil {
			return nil, err
		}
	}
	tree.schedule(operation{kind: opExecute, execution: root})
	it.logger.Debug("starting process instance", "definition", def.ID(), "processInstance", root.id)
	if err := it.run(tree); err != nil {
		return tree, err
	}
	return tree, nil
}

// Restore rebuilds the execution tree of a process instance from its records.
func (it *Interpreter) Restore(def *pvm.ProcessDefinition, records []Record, listener Listener) (*Tree, error) {
	tree := it.newTree(def, listener)
	if err := restoreTree(tree, records); err != nil {
		return nil, err
	}
	return tree, nil
}

// Signal resumes the wait state the execution is positioned at.
func (it *Interpreter) Signal(tree *Tree, executionID string, signalName string, payload map[string]any) error {
	e, err := tree.Execution(executionID)
	if err != nil {
		return err
	}
	if err := e.checkAlive(); err != nil {
		return err
	}
	if len(e.children) > 0 || !e.active {
		return fmt.Errorf("%w: %s in %s", ErrNotWaiting, e.id, e.activityID)
	}
	behavior, ok := e.Activity().Behavior().(pvm.SignallableActivityBehavior)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotSignallable, e.activityID)
	}
	it.logger.Debug("signal", "execution", e.id, "activity", e.activityID, "signal", signalName)
	if err := it.handle(tree, e, behavior.Signal(e, signalName, payload)); err != nil {
		return err
	}
	return it.run(tree)
}

// SubmitBusinessFault raises fault in the activity executionID is positioned at
// as if its behavior raised it.
func (it *Interpreter) SubmitBusinessFault(tree *Tree, executionID string, fault *pvm.BusinessFault) error {
	e, err := tree.Execution(executionID)
	if err != nil {
		return err
	}
	if err := e.checkAlive(); err != nil {
		return err
	}
	if err := it.handle(tree, e, fault); err != nil {
		return err
	}
	return it.run(tree)
}

func (it *Interpreter) run(tree *Tree) error {
	defer func() {
		for _, e := range tree.executions {
			e.visited = nil
		}
	}()
	for len(tree.agenda) > 0 {
		op := tree.agenda[0]
		tree.agenda = tree.agenda[1:]
		if err := it.handle(tree, op.execution, it.perform(op)); err != nil {
			tree.agenda = nil
			return err
		}
	}
	return nil
}

// handle turns business faults into error handler redirects. Other errors are
// returned unchanged.
func (it *Interpreter) handle(tree *Tree, e *Execution, err error) error {
	if err == nil {
		return nil
	}
	fault, ok := pvm.AsBusinessFault(err)
	if !ok {
		return err
	}
	var unhandled *pvm.UnhandledFaultError
	if errors.As(err, &unhandled) {
		return err
	}
	it.logger.Debug("business fault", "execution", e.id, "activity", e.activityID, "code", fault.Code)
	return tree.handleFault(e, fault)
}

func (it *Interpreter) perform(op operation) error {
	e := op.execution
	if e.removed {
		return nil
	}
	switch op.kind {
	case opExecute:
		if e.state == StateEnding || e.state == StateEnded {
			return nil
		}
		return it.executeActivity(e)
	case opComplete:
		composite, err := compositeBehavior(e)
		if err != nil {
			return err
		}
		return composite.Complete(e)
	case opChildEnded:
		composite, err := compositeBehavior(e)
		if err != nil {
			return err
		}
		if err := composite.ConcurrentChildExecutionEnded(e, op.child); err != nil {
			return err
		}
		op.child.state = StateEnded
		return nil
	}
	return fmt.Errorf("unknown operation %d", op.kind)
}

func (it *Interpreter) executeActivity(e *Execution) error {
	activity := e.Activity()
	if activity == nil {
		return fmt.Errorf("execution %s is positioned at unknown activity %s", e.id, e.activityID)
	}
	if activity.Behavior() == nil {
		return fmt.Errorf("activity %s has no behavior", activity.ID())
	}
	if activity.IsScope() && !e.scope {
		e.active = false
		e.state = StateScopeActive
		scopeExecution, err := e.tree.createExecution(e, activity.ID(), true, false)
		if err != nil {
			return err
		}
		scopeExecution.state = StateScopeActive
		it.logger.Trace("enter scope", "execution", scopeExecution.id, "activity", activity.ID())
		return activity.Behavior().Execute(scopeExecution)
	}
	if e.scope {
		e.state = StateScopeActive
	} else {
		e.active = true
		e.state = StateLeafActive
	}
	it.logger.Trace("execute activity", "execution", e.id, "activity", activity.ID())
	return activity.Behavior().Execute(e)
}

func compositeBehavior(e *Execution) (pvm.CompositeActivityBehavior, error) {
	composite, ok := e.Activity().Behavior().(pvm.CompositeActivityBehavior)
	if !ok {
		return nil, fmt.Errorf("behavior %T of %s is not composite", e.Activity().Behavior(), e.activityID)
	}
	return composite, nil
}

// handleFault searches the failing activity and its enclosing scopes for an
// error handler catching fault.
func (t *Tree) handleFault(e *Execution, fault *pvm.BusinessFault) error {
	x := e
	if x.scope && !x.IsProcessInstance() {
		x = x.ParentExecution()
	}
	for !x.IsProcessInstance() {
		if h, ok := x.Activity().FindErrorHandler(fault.Code); ok {
			return x.redirect(h.TargetID, fault)
		}
		scopeExecution := x.ParentExecution()
		if scopeExecution.IsProcessInstance() {
			break
		}
		x = scopeExecution.ParentExecution()
	}
	return &pvm.UnhandledFaultError{Fault: fault, ActivityID: e.activityID}
}
