// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package runtime

import (
	"cmp"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"maps"
	"slices"
	"time"

	"github.com/pbinitiative/zenpvm/pkg/pvm"
)

// Tree is the arena holding all executions of one process instance for the
// duration of a command. It is not safe for concurrent use.
type Tree struct {
	definition *pvm.ProcessDefinition
	executions map[string]*Execution
	rootID     string
	seq        int64

	ids      IDGenerator
	listener Listener
	now      func() time.Time
	agenda   []operation
}

// Record is the persistable state of one execution.
type Record struct {
	ID                string
	ProcessInstanceID string
	ParentID          string
	ActivityID        string
	Sequence          int64
	Scope             bool
	Concurrent        bool
	Active            bool
	State             ExecutionState
	CreatedAt         time.Time
	Variables         map[string]any
}

func (t *Tree) Definition() *pvm.ProcessDefinition { return t.definition }

// Root returns the process instance execution.
func (t *Tree) Root() *Execution {
	return t.executions[t.rootID]
}

func (t *Tree) Execution(id string) (*Execution, error) {
	e, ok := t.executions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
	}
	return e, nil
}

// Executions returns executions that were not removed, in creation order.
func (t *Tree) Executions() []*Execution {
	return t.collect(func(e *Execution) bool { return !e.removed })
}

// RemovedExecutions returns executions removed during the lifetime of the tree.
func (t *Tree) RemovedExecutions() []*Execution {
	return t.collect(func(e *Execution) bool { return e.removed })
}

// Leaves returns executions without children which are not removed. A waiting
// process instance has its tokens positioned at the leaves.
func (t *Tree) Leaves() []*Execution {
	return t.collect(func(e *Execution) bool { return !e.removed && len(e.children) == 0 })
}

func (t *Tree) IsEnded() bool {
	return t.Root().IsEnded()
}

func (t *Tree) collect(filter func(e *Execution) bool) []*Execution {
	res := make([]*Execution, 0, len(t.executions))
	for _, e := range t.executions {
		if filter(e) {
			res = append(res, e)
		}
	}
	slices.SortFunc(res, func(a, b *Execution) int { return cmp.Compare(a.sequence, b.sequence) })
	return res
}

// Record returns the persistable state of e.
func (e *Execution) Record() Record {
	return Record{
		ID:                e.id,
		ProcessInstanceID: e.processInstanceID,
		ParentID:          e.parentID,
		ActivityID:        e.activityID,
		Sequence:          e.sequence,
		Scope:             e.scope,
		Concurrent:        e.concurrent,
		Active:            e.active,
		State:             e.state,
		CreatedAt:         e.createdAt,
		Variables:         maps.Clone(e.variables),
	}
}

func (t *Tree) createExecution(parent *Execution, activityID string, scope bool, concurrent bool) (*Execution, error) {
	t.seq++
	e := &Execution{
		id:         t.ids.NextID(),
		activityID: activityID,
		sequence:   t.seq,
		scope:      scope,
		concurrent: concurrent,
		active:     true,
		state:      StateCreated,
		createdAt:  t.now(),
		tree:       t,
	}
	if parent == nil {
		e.processInstanceID = e.id
		t.rootID = e.id
	} else {
		e.parentID = parent.id
		e.processInstanceID = parent.processInstanceID
		parent.children = append(parent.children, e.id)
	}
	t.executions[e.id] = e
	if err := t.listener.ExecutionCreated(e); err != nil {
		return nil, err
	}
	return e, nil
}

func (t *Tree) schedule(op operation) {
	t.agenda = append(t.agenda, op)
}

// restoreTree rebuilds the arena from persisted records.
func restoreTree(t *Tree, records []Record) error {
	for _, r := range records {
		if r.ActivityID != t.definition.ID() && t.definition.Activity(r.ActivityID) == nil {
			return fmt.Errorf("execution %s references unknown activity %s", r.ID, r.ActivityID)
		}
		e := &Execution{
			id:                r.ID,
			processInstanceID: r.ProcessInstanceID,
			parentID:          r.ParentID,
			activityID:        r.ActivityID,
			sequence:          r.Sequence,
			scope:             r.Scope,
			concurrent:        r.Concurrent,
			active:            r.Active,
			state:             r.State,
			createdAt:         r.CreatedAt,
			variables:         maps.Clone(r.Variables),
			tree:              t,
		}
		if e.parentID == "" {
			if t.rootID != "" {
				return fmt.Errorf("process instance has two root executions %s and %s", t.rootID, e.id)
			}
			t.rootID = e.id
		}
		t.executions[e.id] = e
		t.seq = max(t.seq, e.sequence)
	}
	if t.rootID == "" {
		return fmt.Errorf("process instance root execution not found")
	}
	ordered := t.collect(func(*Execution) bool { return true })
	for _, e := range ordered {
		if e.parentID == "" {
			continue
		}
		parent, ok := t.executions[e.parentID]
		if !ok {
			return fmt.Errorf("execution %s references unknown parent %s", e.id, e.parentID)
		}
		parent.children = append(parent.children, e.id)
	}
	for _, e := range ordered {
		depth := 0
		for x := e; x.parentID != ""; x = t.executions[x.parentID] {
			depth++
			if depth > len(ordered) {
				return fmt.Errorf("execution %s is its own ancestor", e.id)
			}
		}
	}
	return nil
}

// variablesFingerprint hashes the variables visible to a branch. encoding/json
// writes map keys sorted which keeps the hash stable.
func variablesFingerprint(vars map[string]any) uint64 {
	h := fnv.New64a()
	data, err := json.Marshal(vars)
	if err != nil {
		data = fmt.Appendf(nil, "%v", vars)
	}
	_, _ = h.Write(data)
	return h.Sum64()
}
