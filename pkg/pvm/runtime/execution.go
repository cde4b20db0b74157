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

	"github.com/pbinitiative/zenpvm/pkg/pvm"
)

var (
	ErrExecutionNotFound = errors.New("execution not found")
	ErrExecutionRemoved  = errors.New("execution already removed")
	ErrExecutionEnded    = errors.New("execution already ended")
	ErrNotScope          = errors.New("execution is not a scope")
	ErrNotSignallable    = errors.New("activity cannot be signalled")
	ErrNotWaiting        = errors.New("execution is not waiting")
)

// Execution is a token of the execution tree. Parent and children are ids
// resolved through the owning Tree.
type Execution struct {
	id                string
	processInstanceID string
	parentID          string
	activityID        string
	children          []string
	sequence          int64

	scope      bool
	concurrent bool
	active     bool
	canceled   bool
	removed    bool
	state      ExecutionState
	createdAt  time.Time

	variables map[string]any
	// transitions taken in the current traversal pass with the fingerprint of
	// the variables visible at that time
	visited map[string]uint64

	tree *Tree
}

var _ pvm.ActivityExecution = &Execution{}

func (e *Execution) ID() string                { return e.id }
func (e *Execution) ProcessInstanceID() string { return e.processInstanceID }
func (e *Execution) ParentID() string          { return e.parentID }
func (e *Execution) ActivityID() string        { return e.activityID }
func (e *Execution) Sequence() int64           { return e.sequence }
func (e *Execution) State() ExecutionState     { return e.state }
func (e *Execution) CreatedAt() time.Time      { return e.createdAt }
func (e *Execution) IsScope() bool             { return e.scope }
func (e *Execution) IsConcurrent() bool        { return e.concurrent }
func (e *Execution) IsActive() bool            { return e.active }
func (e *Execution) IsEnded() bool             { return e.state == StateEnded }
func (e *Execution) IsRemoved() bool           { return e.removed }
func (e *Execution) IsCanceled() bool          { return e.canceled }
func (e *Execution) IsProcessInstance() bool   { return e.parentID == "" }

func (e *Execution) Definition() *pvm.ProcessDefinition {
	return e.tree.definition
}

func (e *Execution) Activity() *pvm.Activity {
	if e.activityID == e.tree.definition.ID() {
		return e.tree.definition.Root()
	}
	return e.tree.definition.Activity(e.activityID)
}

func (e *Execution) Parent() pvm.ActivityExecution {
	if p := e.ParentExecution(); p != nil {
		return p
	}
	return nil
}

func (e *Execution) ParentExecution() *Execution {
	if e.parentID == "" {
		return nil
	}
	return e.tree.executions[e.parentID]
}

func (e *Execution) Children() []pvm.ActivityExecution {
	res := make([]pvm.ActivityExecution, 0, len(e.children))
	for _, c := range e.ChildExecutions() {
		res = append(res, c)
	}
	return res
}

// ChildExecutions returns children in creation order.
func (e *Execution) ChildExecutions() []*Execution {
	res := make([]*Execution, 0, len(e.children))
	for _, id := range e.children {
		res = append(res, e.tree.executions[id])
	}
	return res
}

// LocalVariables returns a copy of variables owned by this execution.
func (e *Execution) LocalVariables() map[string]any {
	return maps.Clone(e.variables)
}

func (e *Execution) Variable(name string) (any, bool) {
	for x := e; x != nil; x = x.ParentExecution() {
		if v, ok := x.variables[name]; ok {
			return v, true
		}
	}
	return nil, false
}

func (e *Execution) Variables() map[string]any {
	var chain []*Execution
	for x := e; x != nil; x = x.ParentExecution() {
		chain = append(chain, x)
	}
	res := map[string]any{}
	for i := len(chain) - 1; i >= 0; i-- {
		maps.Copy(res, chain[i].variables)
	}
	return res
}

func (e *Execution) SetVariable(name string, value any) error {
	for x := e; x != nil; x = x.ParentExecution() {
		if _, ok := x.variables[name]; ok {
			return x.SetVariableLocal(name, value)
		}
	}
	return e.nearestScope().SetVariableLocal(name, value)
}

func (e *Execution) SetVariableLocal(name string, value any) error {
	if e.variables == nil {
		e.variables = map[string]any{}
	}
	_, existed := e.variables[name]
	e.variables[name] = value
	return e.tree.listener.VariableSet(e, name, value, !existed)
}

func (e *Execution) RemoveVariableLocal(name string) error {
	if _, ok := e.variables[name]; !ok {
		return nil
	}
	delete(e.variables, name)
	return e.tree.listener.VariableDeleted(e, name)
}

func (e *Execution) nearestScope() *Execution {
	x := e
	for !x.scope && x.parentID != "" {
		x = x.ParentExecution()
	}
	return x
}

func (e *Execution) checkAlive() error {
	if e.removed {
		return fmt.Errorf("%w: %s", ErrExecutionRemoved, e.id)
	}
	if e.state == StateEnding || e.state == StateEnded {
		return fmt.Errorf("%w: %s", ErrExecutionEnded, e.id)
	}
	return nil
}

func (e *Execution) ExecuteActivities(activities []*pvm.Activity) error {
	if err := e.checkAlive(); err != nil {
		return err
	}
	if !e.scope {
		return fmt.Errorf("%w: %s cannot execute nested activities", ErrNotScope, e.id)
	}
	scopeActivity := e.Activity()
	for _, a := range activities {
		if a.Parent() != scopeActivity {
			return fmt.Errorf("activity %s is not nested in %s", a.ID(), scopeActivity.ID())
		}
	}
	e.active = false
	e.state = StateScopeActive
	concurrent := len(activities) > 1
	created := make([]*Execution, 0, len(activities))
	for _, a := range activities {
		child, err := e.tree.createExecution(e, a.ID(), false, concurrent)
		if err != nil {
			return err
		}
		created = append(created, child)
	}
	for _, child := range created {
		e.tree.schedule(operation{kind: opExecute, execution: child})
	}
	return nil
}

func (e *Execution) Take(transition *pvm.Transition) error {
	return e.LeaveActivityViaTransitions([]*pvm.Transition{transition}, nil)
}

func (e *Execution) LeaveActivityViaTransitions(transitions []*pvm.Transition, recyclable []pvm.ActivityExecution) error {
	if err := e.checkAlive(); err != nil {
		return err
	}
	if e.IsProcessInstance() {
		return fmt.Errorf("process instance %s has no outgoing transitions", e.id)
	}
	for _, t := range transitions {
		if t.SourceID() != e.activityID {
			return fmt.Errorf("transition %s does not leave activity %s", t, e.activityID)
		}
	}
	if e.scope {
		holder := e.ParentExecution()
		if err := e.destroyScope(); err != nil {
			return err
		}
		return holder.LeaveActivityViaTransitions(transitions, nil)
	}

	for _, r := range recyclable {
		joined, ok := r.(*Execution)
		if !ok || joined == e || joined.removed {
			continue
		}
		if err := joined.Remove(); err != nil {
			return err
		}
	}
	e.active = true
	parent := e.ParentExecution()
	if e.concurrent && len(parent.children) == 1 {
		e.concurrent = false
	}

	switch len(transitions) {
	case 0:
		return e.End(true)
	case 1:
		return e.take(transitions[0])
	}

	local := e.LocalVariables()
	if err := e.Remove(); err != nil {
		return err
	}
	created := make([]*Execution, 0, len(transitions))
	for _, t := range transitions {
		child, err := e.tree.createExecution(parent, t.DestinationID(), false, true)
		if err != nil {
			return err
		}
		for _, name := range slices.Sorted(maps.Keys(local)) {
			if err := child.SetVariableLocal(name, local[name]); err != nil {
				return err
			}
		}
		created = append(created, child)
	}
	for _, child := range created {
		e.tree.schedule(operation{kind: opExecute, execution: child})
	}
	return nil
}

func (e *Execution) take(t *pvm.Transition) error {
	fingerprint := variablesFingerprint(e.Variables())
	if prev, ok := e.visited[t.ID()]; ok && prev == fingerprint {
		return fmt.Errorf("%w: %s in execution %s", pvm.ErrNoProgressLoop, t, e.id)
	}
	if e.visited == nil {
		e.visited = map[string]uint64{}
	}
	e.visited[t.ID()] = fingerprint
	e.activityID = t.DestinationID()
	e.state = StateActive
	e.tree.schedule(operation{kind: opExecute, execution: e})
	return nil
}

func (e *Execution) End(completeScope bool) error {
	if err := e.checkAlive(); err != nil {
		return err
	}
	e.active = false
	if e.IsProcessInstance() {
		e.state = StateEnded
		return e.tree.listener.ExecutionEnded(e)
	}
	if e.scope {
		holder := e.ParentExecution()
		if err := e.destroyScope(); err != nil {
			return err
		}
		return holder.End(completeScope)
	}
	e.state = StateEnding
	if err := e.tree.listener.ExecutionEnded(e); err != nil {
		return err
	}
	if completeScope {
		e.tree.schedule(operation{kind: opChildEnded, execution: e.ParentExecution(), child: e})
		return nil
	}
	return e.Remove()
}

// destroyScope ends a scope execution when its activity is left. Remaining
// children are canceled.
func (e *Execution) destroyScope() error {
	for _, c := range e.ChildExecutions() {
		if err := c.cancel(); err != nil {
			return err
		}
	}
	e.active = false
	e.state = StateEnding
	if err := e.tree.listener.ExecutionEnded(e); err != nil {
		return err
	}
	return e.Remove()
}

func (e *Execution) cancel() error {
	for _, c := range e.ChildExecutions() {
		if err := c.cancel(); err != nil {
			return err
		}
	}
	e.active = false
	e.canceled = true
	if e.state != StateEnding {
		e.state = StateEnding
		if err := e.tree.listener.ExecutionEnded(e); err != nil {
			return err
		}
	}
	return e.Remove()
}

func (e *Execution) Remove() error {
	if e.removed {
		return fmt.Errorf("%w: %s", ErrExecutionRemoved, e.id)
	}
	parent := e.ParentExecution()
	if parent == nil {
		return fmt.Errorf("process instance %s cannot be removed", e.id)
	}
	parent.children = slices.DeleteFunc(parent.children, func(id string) bool { return id == e.id })
	e.removed = true
	e.active = false
	e.state = StateEnded
	return e.tree.listener.ExecutionRemoved(e)
}

func (e *Execution) TryPruneLastConcurrentChild() (bool, error) {
	if !e.scope {
		return false, fmt.Errorf("%w: %s", ErrNotScope, e.id)
	}
	switch len(e.children) {
	case 0:
		e.active = true
		e.state = StateActive
		e.tree.schedule(operation{kind: opComplete, execution: e})
		return true, nil
	case 1:
		// the last branch carries on as the only child of the scope
		e.tree.executions[e.children[0]].concurrent = false
	}
	return false, nil
}

func (e *Execution) Inactivate() {
	e.active = false
}

func (e *Execution) FindInactiveConcurrentExecutions(activity *pvm.Activity) []pvm.ActivityExecution {
	var res []pvm.ActivityExecution
	parent := e.ParentExecution()
	if !e.concurrent || parent == nil {
		if !e.active && e.activityID == activity.ID() {
			res = append(res, e)
		}
		return res
	}
	for _, c := range parent.ChildExecutions() {
		if c.active || c.activityID != activity.ID() || c.checkAlive() != nil {
			continue
		}
		res = append(res, c)
	}
	return res
}

// redirect moves the execution to targetID after an error handler caught fault.
func (e *Execution) redirect(targetID string, fault *pvm.BusinessFault) error {
	for _, c := range e.ChildExecutions() {
		if err := c.cancel(); err != nil {
			return err
		}
	}
	if err := e.SetVariable("errorCode", fault.Code); err != nil {
		return err
	}
	if err := e.SetVariable("errorMessage", fault.Message); err != nil {
		return err
	}
	for _, name := range slices.Sorted(maps.Keys(fault.Variables)) {
		if err := e.SetVariable(name, fault.Variables[name]); err != nil {
			return err
		}
	}
	e.activityID = targetID
	e.active = true
	e.state = StateActive
	e.visited = nil
	e.tree.schedule(operation{kind: opExecute, execution: e})
	return nil
}

func (e *Execution) String() string {
	return fmt.Sprintf("Execution[%s@%s]", e.id, e.activityID)
}
