// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package engine

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/pbinitiative/zenpvm/pkg/command"
	"github.com/pbinitiative/zenpvm/pkg/history"
	"github.com/pbinitiative/zenpvm/pkg/otel"
	"github.com/pbinitiative/zenpvm/pkg/persistence"
	"github.com/pbinitiative/zenpvm/pkg/pvm/runtime"
)

type variableKey struct {
	executionID string
	name        string
}

// instanceSync mirrors the execution tree of one process instance into
// persistent entities of the command context and produces the history events
// of the changes. It is created per command.
type instanceSync struct {
	cc             *command.Context
	engine         *Engine
	definition     *persistence.ProcessDefinitionEntity
	tenantID       string
	caseInstanceID string

	executions map[string]*persistence.ExecutionEntity
	variables  map[variableKey]*persistence.VariableInstanceEntity
	// parents of executions created, removed or moved by the command
	touched map[string]bool
}

var _ runtime.Listener = &instanceSync{}

func (e *Engine) newInstanceSync(cc *command.Context, definition *persistence.ProcessDefinitionEntity, tenantID string, caseInstanceID string) *instanceSync {
	return &instanceSync{
		cc:             cc,
		engine:         e,
		definition:     definition,
		tenantID:       tenantID,
		caseInstanceID: caseInstanceID,
		executions:     map[string]*persistence.ExecutionEntity{},
		variables:      map[variableKey]*persistence.VariableInstanceEntity{},
		touched:        map[string]bool{},
	}
}

// touch marks the parent of a changed execution. Its row is written with a
// revision check when the command finishes, so commands moving sibling
// branches of the same scope conflict instead of both committing.
func (s *instanceSync) touch(parentID string) {
	if parentID != "" {
		s.touched[parentID] = true
	}
}

func (s *instanceSync) event(typ history.EventType, e *runtime.Execution) *history.Event {
	return &history.Event{
		Type:                 typ,
		ProcessInstanceID:    e.ProcessInstanceID(),
		ProcessDefinitionID:  s.definition.ID,
		ProcessDefinitionKey: s.definition.Key,
		CaseInstanceID:       s.caseInstanceID,
		ExecutionID:          e.ID(),
		ActivityID:           e.ActivityID(),
		TenantID:             s.tenantID,
	}
}

func (s *instanceSync) produce(event *history.Event) error {
	if err := s.engine.producer.Produce(s.cc, event); err != nil {
		return fmt.Errorf("failed to record %s of %s: %w", event.Type, event.ProcessInstanceID, err)
	}
	return nil
}

func (s *instanceSync) ExecutionCreated(e *runtime.Execution) error {
	entity := &persistence.ExecutionEntity{
		ID:                  e.ID(),
		Revision:            1,
		ProcessDefinitionID: s.definition.ID,
		CaseInstanceID:      s.caseInstanceID,
		TenantID:            s.tenantID,
	}
	copyRecord(entity, e.Record())
	if err := s.engine.managers.Executions.Insert(s.cc, entity); err != nil {
		return err
	}
	s.executions[e.ID()] = entity
	s.touch(e.ParentID())
	if !e.IsProcessInstance() {
		return nil
	}
	s.engine.afterCommit(s.cc, func(ctx context.Context, m *otel.EngineMetrics) {
		m.ProcessesStarted.Add(ctx, 1)
		m.ProcessesRunning.Add(ctx, 1)
	})
	event := s.event(history.ProcessInstanceStarted, e)
	event.StartTime = e.CreatedAt()
	return s.produce(event)
}

func (s *instanceSync) ExecutionEnded(e *runtime.Execution) error {
	if e.IsProcessInstance() {
		s.engine.afterCommit(s.cc, processEnded)
		event := s.event(history.ProcessInstanceEnded, e)
		event.StartTime = e.CreatedAt()
		return s.produce(event)
	}
	event := s.event(history.ActivityInstanceEnded, e)
	event.StartTime = e.CreatedAt()
	event.Canceled = e.IsCanceled()
	return s.produce(event)
}

func (s *instanceSync) ExecutionRemoved(e *runtime.Execution) error {
	s.touch(e.ParentID())
	return s.deleteExecution(e.ID())
}

func (s *instanceSync) deleteExecution(executionID string) error {
	for _, key := range s.variableKeys(executionID) {
		if err := s.engine.managers.Variables.Delete(s.cc, s.variables[key]); err != nil {
			return err
		}
		delete(s.variables, key)
	}
	entity, ok := s.executions[executionID]
	if !ok {
		return fmt.Errorf("execution %s is not part of the unit of work", executionID)
	}
	delete(s.executions, executionID)
	return s.engine.managers.Executions.Delete(s.cc, entity)
}

func (s *instanceSync) variableKeys(executionID string) []variableKey {
	var keys []variableKey
	for key := range s.variables {
		if key.executionID == executionID {
			keys = append(keys, key)
		}
	}
	slices.SortFunc(keys, func(a, b variableKey) int { return cmp.Compare(a.name, b.name) })
	return keys
}

// taskID ties variables local to a concurrent branch to that branch.
func taskID(e *runtime.Execution) string {
	if e.IsScope() {
		return ""
	}
	return e.ID()
}

func (s *instanceSync) VariableSet(e *runtime.Execution, name string, value any, _ bool) error {
	encoded, err := persistence.EncodeValue(value)
	if err != nil {
		return fmt.Errorf("variable %s: %w", name, err)
	}
	key := variableKey{executionID: e.ID(), name: name}
	v, exists := s.variables[key]
	typ := history.VariableUpdated
	if exists {
		if err := s.engine.managers.Variables.SetValue(s.cc, v, value); err != nil {
			return err
		}
	} else {
		typ = history.VariableCreated
		v = &persistence.VariableInstanceEntity{
			ID:                s.engine.ids.NextID(),
			Revision:          1,
			Name:              name,
			ExecutionID:       e.ID(),
			ProcessInstanceID: e.ProcessInstanceID(),
			CaseInstanceID:    s.caseInstanceID,
			TaskID:            taskID(e),
			TenantID:          s.tenantID,
		}
		if err := s.engine.managers.Variables.Create(s.cc, v, value); err != nil {
			return err
		}
		s.variables[key] = v
	}
	event := s.event(typ, e)
	event.TaskID = v.TaskID
	event.VariableInstanceID = v.ID
	event.VariableName = name
	event.Value = encoded
	return s.produce(event)
}

func (s *instanceSync) VariableDeleted(e *runtime.Execution, name string) error {
	key := variableKey{executionID: e.ID(), name: name}
	v, ok := s.variables[key]
	if !ok {
		return nil
	}
	if err := s.engine.managers.Variables.Delete(s.cc, v); err != nil {
		return err
	}
	delete(s.variables, key)
	event := s.event(history.VariableDeleted, e)
	event.TaskID = v.TaskID
	event.VariableInstanceID = v.ID
	event.VariableName = name
	return s.produce(event)
}

func processEnded(ctx context.Context, m *otel.EngineMetrics) {
	m.ProcessesEnded.Add(ctx, 1)
	m.ProcessesRunning.Add(ctx, -1)
}

func recordChanged(entity *persistence.ExecutionEntity, r runtime.Record) bool {
	return entity.ParentID != r.ParentID ||
		entity.ActivityID != r.ActivityID ||
		entity.IsScope != r.Scope ||
		entity.IsConcurrent != r.Concurrent ||
		entity.IsActive != r.Active ||
		entity.State != r.State.String()
}

func copyRecord(entity *persistence.ExecutionEntity, r runtime.Record) {
	entity.ProcessInstanceID = r.ProcessInstanceID
	entity.ParentID = r.ParentID
	entity.ActivityID = r.ActivityID
	entity.Sequence = r.Sequence
	entity.IsScope = r.Scope
	entity.IsConcurrent = r.Concurrent
	entity.IsActive = r.Active
	entity.State = r.State.String()
	entity.CreateTime = r.CreatedAt
}

// finish writes the final state of the live executions into their entities
// and forces an update of every touched parent. An ended process instance
// leaves no runtime rows behind.
func (s *instanceSync) finish(tree *runtime.Tree) error {
	live := tree.Executions()
	if tree.IsEnded() {
		slices.Reverse(live)
		for _, e := range live {
			if err := s.deleteExecution(e.ID()); err != nil {
				return err
			}
		}
		return nil
	}
	for _, e := range live {
		entity, ok := s.executions[e.ID()]
		if !ok {
			return fmt.Errorf("execution %s is not part of the unit of work", e.ID())
		}
		r := e.Record()
		if recordChanged(entity, r) {
			s.touch(entity.ParentID)
		}
		copyRecord(entity, r)
	}
	for _, id := range slices.Sorted(maps.Keys(s.touched)) {
		entity, ok := s.executions[id]
		if !ok {
			continue
		}
		if err := s.engine.managers.Executions.ForceUpdate(s.cc, entity); err != nil {
			return err
		}
	}
	return nil
}

// cancel ends every live execution of the tree as canceled and deletes the
// runtime rows of the instance.
func (s *instanceSync) cancel(tree *runtime.Tree, reason string, now time.Time) error {
	live := tree.Executions()
	slices.Reverse(live)
	for _, e := range live {
		if e.IsProcessInstance() {
			continue
		}
		event := s.event(history.ActivityInstanceEnded, e)
		event.StartTime = e.CreatedAt()
		event.Canceled = true
		if err := s.produce(event); err != nil {
			return err
		}
	}
	root := tree.Root()
	event := s.event(history.ProcessInstanceEnded, root)
	event.StartTime = root.CreatedAt()
	event.Canceled = true
	event.DeleteReason = reason
	event.Time = now
	if err := s.produce(event); err != nil {
		return err
	}
	s.engine.afterCommit(s.cc, processEnded)
	for _, e := range live {
		if err := s.deleteExecution(e.ID()); err != nil {
			return err
		}
	}
	return nil
}
