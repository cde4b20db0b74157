// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pbinitiative/zenpvm/pkg/command"
	"github.com/pbinitiative/zenpvm/pkg/entitycache"
	"github.com/pbinitiative/zenpvm/pkg/otel"
	"github.com/pbinitiative/zenpvm/pkg/persistence"
	"github.com/pbinitiative/zenpvm/pkg/pvm"
	"github.com/pbinitiative/zenpvm/pkg/pvm/definition"
	"github.com/pbinitiative/zenpvm/pkg/pvm/runtime"
	"github.com/pbinitiative/zenpvm/pkg/storage"
)

type Deployment struct {
	ID         string
	Key        string
	Name       string
	Version    int
	TenantID   string
	DeployTime time.Time
	// Duplicate is set when the resource equals the latest deployed version
	// which is returned instead of a new version.
	Duplicate bool
}

type StartRequest struct {
	// DefinitionID selects a deployed version, DefinitionKey the latest
	// version of a key. Exactly one must be set.
	DefinitionID   string
	DefinitionKey  string
	TenantID       string
	CaseInstanceID string
	Variables      map[string]any
}

type ExecutionInfo struct {
	ID                string
	ProcessInstanceID string
	ParentID          string
	ActivityID        string
	Scope             bool
	Concurrent        bool
	Active            bool
	State             string
}

type ProcessInstance struct {
	ID            string
	DefinitionID  string
	DefinitionKey string
	Ended         bool
	Executions    []ExecutionInfo
}

// FaultRequest addresses a business fault either to ExecutionID or to the
// execution of ProcessInstanceID waiting in ActivityID.
type FaultRequest struct {
	ExecutionID       string
	ProcessInstanceID string
	ActivityID        string
	ErrorCode         string
	ErrorMessage      string
	Variables         map[string]any
}

type HistoricVariable struct {
	ID                   string
	Name                 string
	VariableInstanceID   string
	ProcessInstanceID    string
	CaseInstanceID       string
	TaskID               string
	ExecutionID          string
	ProcessDefinitionKey string
	State                string
	TenantID             string
	CreateTime           time.Time
	Value                any
}

func toDeployment(d *persistence.ProcessDefinitionEntity) Deployment {
	return Deployment{
		ID:         d.ID,
		Key:        d.Key,
		Name:       d.Name,
		Version:    d.Version,
		TenantID:   d.TenantID,
		DeployTime: d.DeployTime,
	}
}

func toExecutionInfo(r runtime.Record) ExecutionInfo {
	return ExecutionInfo{
		ID:                r.ID,
		ProcessInstanceID: r.ProcessInstanceID,
		ParentID:          r.ParentID,
		ActivityID:        r.ActivityID,
		Scope:             r.Scope,
		Concurrent:        r.Concurrent,
		Active:            r.Active,
		State:             r.State.String(),
	}
}

func snapshot(tree *runtime.Tree, d *persistence.ProcessDefinitionEntity) ProcessInstance {
	pi := ProcessInstance{
		ID:            tree.Root().ID(),
		DefinitionID:  d.ID,
		DefinitionKey: d.Key,
		Ended:         tree.IsEnded(),
	}
	for _, e := range tree.Executions() {
		pi.Executions = append(pi.Executions, toExecutionInfo(e.Record()))
	}
	return pi
}

// Deploy stores a new version of the YAML process definition.
func (e *Engine) Deploy(ctx context.Context, resource []byte, tenantID string) (Deployment, error) {
	def, err := definition.Parse(resource, e.registry)
	if err != nil {
		return Deployment{}, err
	}
	return command.Execute(ctx, e.executor, func(cc *command.Context) (Deployment, error) {
		version := 1
		latest, err := e.managers.ProcessDefinitions.FindLatestByKey(cc, def.ID(), tenantID)
		switch {
		case err == nil && bytes.Equal(latest.Resource, resource):
			d := toDeployment(latest)
			d.Duplicate = true
			return d, nil
		case err == nil:
			version = latest.Version + 1
		case !entitycache.IsNotFound(err):
			return Deployment{}, err
		}
		entity := &persistence.ProcessDefinitionEntity{
			ID:         e.ids.NextID(),
			Revision:   1,
			Key:        def.ID(),
			Name:       def.Name(),
			Version:    version,
			Resource:   resource,
			TenantID:   tenantID,
			DeployTime: e.cfg.now(),
		}
		if err := e.managers.ProcessDefinitions.Insert(cc, entity); err != nil {
			return Deployment{}, err
		}
		e.logger.Debug("deployed process definition", "key", entity.Key, "version", version, "id", entity.ID)
		return toDeployment(entity), nil
	})
}

func (e *Engine) ProcessDefinitions(ctx context.Context, page *storage.Page) ([]Deployment, error) {
	return command.Execute(ctx, e.executor, func(cc *command.Context) ([]Deployment, error) {
		entities, err := e.managers.ProcessDefinitions.FindAll(cc, page)
		if err != nil {
			return nil, err
		}
		res := make([]Deployment, 0, len(entities))
		for _, d := range entities {
			res = append(res, toDeployment(d))
		}
		return res, nil
	})
}

func (e *Engine) findDefinition(cc *command.Context, req StartRequest) (*persistence.ProcessDefinitionEntity, error) {
	if req.DefinitionID != "" {
		d, err := e.managers.ProcessDefinitions.FindByID(cc, req.DefinitionID)
		if err != nil {
			return nil, errors.Join(newEngineErrorf("no process definition with id=%s was found", req.DefinitionID), err)
		}
		return d, nil
	}
	d, err := e.managers.ProcessDefinitions.FindLatestByKey(cc, req.DefinitionKey, req.TenantID)
	if err != nil {
		return nil, errors.Join(newEngineErrorf("no process definition with key=%s was found", req.DefinitionKey), err)
	}
	return d, nil
}

// StartProcessInstance starts an instance and runs it until every token waits
// or the instance ends.
func (e *Engine) StartProcessInstance(ctx context.Context, req StartRequest) (ProcessInstance, error) {
	if (req.DefinitionID == "") == (req.DefinitionKey == "") {
		return ProcessInstance{}, &persistence.ValidationError{Msg: "exactly one of definition id and definition key must be set"}
	}
	return command.Execute(ctx, e.executor, func(cc *command.Context) (ProcessInstance, error) {
		d, err := e.findDefinition(cc, req)
		if err != nil {
			return ProcessInstance{}, err
		}
		def, err := e.definitions.Resolve(d)
		if err != nil {
			return ProcessInstance{}, err
		}
		sync := e.newInstanceSync(cc, d, d.TenantID, req.CaseInstanceID)
		tree, err := e.interpreter.StartProcessInstance(def, req.Variables, sync)
		if err != nil {
			return ProcessInstance{}, fmt.Errorf("failed to start process instance of %s: %w", d.ID, err)
		}
		if err := sync.finish(tree); err != nil {
			return ProcessInstance{}, err
		}
		return snapshot(tree, d), nil
	})
}

// restore loads the execution tree of a process instance into the unit of work.
func (e *Engine) restore(cc *command.Context, processInstanceID string) (*runtime.Tree, *instanceSync, *persistence.ProcessDefinitionEntity, error) {
	executions, err := e.managers.Executions.FindByProcessInstanceID(cc, processInstanceID)
	if err != nil {
		return nil, nil, nil, err
	}
	var root *persistence.ExecutionEntity
	for _, x := range executions {
		if x.ParentID == "" {
			root = x
		}
	}
	if root == nil {
		return nil, nil, nil, errors.Join(newEngineErrorf("process instance %s was not found", processInstanceID), storage.ErrNotFound)
	}
	d, err := e.managers.ProcessDefinitions.FindByID(cc, root.ProcessDefinitionID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("process definition of %s: %w", processInstanceID, err)
	}
	def, err := e.definitions.Resolve(d)
	if err != nil {
		return nil, nil, nil, err
	}
	sync := e.newInstanceSync(cc, d, root.TenantID, root.CaseInstanceID)

	variables, err := e.managers.Variables.FindByProcessInstanceID(cc, processInstanceID)
	if err != nil {
		return nil, nil, nil, err
	}
	values := map[string]map[string]any{}
	for _, v := range variables {
		value, err := e.managers.Variables.Value(cc, v)
		if err != nil {
			return nil, nil, nil, err
		}
		if values[v.ExecutionID] == nil {
			values[v.ExecutionID] = map[string]any{}
		}
		values[v.ExecutionID][v.Name] = value
		sync.variables[variableKey{executionID: v.ExecutionID, name: v.Name}] = v
	}

	records := make([]runtime.Record, 0, len(executions))
	for _, x := range executions {
		state, err := runtime.ParseExecutionState(x.State)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("execution %s: %w", x.ID, err)
		}
		records = append(records, runtime.Record{
			ID:                x.ID,
			ProcessInstanceID: x.ProcessInstanceID,
			ParentID:          x.ParentID,
			ActivityID:        x.ActivityID,
			Sequence:          x.Sequence,
			Scope:             x.IsScope,
			Concurrent:        x.IsConcurrent,
			Active:            x.IsActive,
			State:             state,
			CreatedAt:         x.CreateTime,
			Variables:         values[x.ID],
		})
		sync.executions[x.ID] = x
	}
	tree, err := e.interpreter.Restore(def, records, sync)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to restore process instance %s: %w", processInstanceID, err)
	}
	return tree, sync, d, nil
}

func (e *Engine) processInstanceOf(cc *command.Context, executionID string) (string, error) {
	x, err := e.managers.Executions.FindByID(cc, executionID)
	if err != nil {
		return "", errors.Join(newEngineErrorf("execution %s was not found", executionID), err)
	}
	return x.ProcessInstanceID, nil
}

// onExecution restores the instance executionID belongs to, applies fn and
// stores the resulting tree.
func (e *Engine) onExecution(ctx context.Context, executionID string, fn func(tree *runtime.Tree) error) (ProcessInstance, error) {
	return command.Execute(ctx, e.executor, func(cc *command.Context) (ProcessInstance, error) {
		processInstanceID, err := e.processInstanceOf(cc, executionID)
		if err != nil {
			return ProcessInstance{}, err
		}
		tree, sync, d, err := e.restore(cc, processInstanceID)
		if err != nil {
			return ProcessInstance{}, err
		}
		if err := fn(tree); err != nil {
			return ProcessInstance{}, err
		}
		if err := sync.finish(tree); err != nil {
			return ProcessInstance{}, err
		}
		return snapshot(tree, d), nil
	})
}

// Signal resumes the execution waiting in a wait state.
func (e *Engine) Signal(ctx context.Context, executionID string, signalName string, payload map[string]any) (ProcessInstance, error) {
	return e.onExecution(ctx, executionID, func(tree *runtime.Tree) error {
		return e.interpreter.Signal(tree, executionID, signalName, payload)
	})
}

func validateFault(req FaultRequest) error {
	if req.ErrorCode == "" {
		return &persistence.ValidationError{Msg: "errorCode must be set"}
	}
	byExecution := req.ExecutionID != ""
	byActivity := req.ProcessInstanceID != "" || req.ActivityID != ""
	if byExecution == byActivity {
		return &persistence.ValidationError{Msg: "exactly one of execution id and process instance id with activity id must be set"}
	}
	if byActivity && (req.ProcessInstanceID == "" || req.ActivityID == "") {
		return &persistence.ValidationError{Msg: "process instance id and activity id must be set together"}
	}
	return nil
}

// SubmitBusinessFault raises a recoverable fault in a waiting execution.
func (e *Engine) SubmitBusinessFault(ctx context.Context, req FaultRequest) (ProcessInstance, error) {
	if err := validateFault(req); err != nil {
		return ProcessInstance{}, err
	}
	return command.Execute(ctx, e.executor, func(cc *command.Context) (ProcessInstance, error) {
		processInstanceID := req.ProcessInstanceID
		if req.ExecutionID != "" {
			var err error
			processInstanceID, err = e.processInstanceOf(cc, req.ExecutionID)
			if err != nil {
				return ProcessInstance{}, err
			}
		}
		tree, sync, d, err := e.restore(cc, processInstanceID)
		if err != nil {
			return ProcessInstance{}, err
		}
		executionID := req.ExecutionID
		if executionID == "" {
			for _, leaf := range tree.Leaves() {
				if leaf.ActivityID() == req.ActivityID {
					executionID = leaf.ID()
					break
				}
			}
			if executionID == "" {
				return ProcessInstance{}, newEngineErrorf("no execution of %s waits in activity %s", processInstanceID, req.ActivityID)
			}
		}
		e.afterCommit(cc, func(ctx context.Context, m *otel.EngineMetrics) {
			m.BusinessFaults.Add(ctx, 1)
		})
		fault := pvm.NewBusinessFault(req.ErrorCode, req.ErrorMessage, req.Variables)
		if err := e.interpreter.SubmitBusinessFault(tree, executionID, fault); err != nil {
			return ProcessInstance{}, err
		}
		if err := sync.finish(tree); err != nil {
			return ProcessInstance{}, err
		}
		return snapshot(tree, d), nil
	})
}

// SetVariables sets variables from executionID. Without local the variables
// are written where they are already defined or on the nearest scope.
func (e *Engine) SetVariables(ctx context.Context, executionID string, variables map[string]any, local bool) error {
	_, err := e.onExecution(ctx, executionID, func(tree *runtime.Tree) error {
		x, err := tree.Execution(executionID)
		if err != nil {
			return err
		}
		for _, name := range sortedKeys(variables) {
			set := x.SetVariable
			if local {
				set = x.SetVariableLocal
			}
			if err := set(name, variables[name]); err != nil {
				return err
			}
		}
		return nil
	})
	return err
}

// RemoveVariables removes variables local to executionID.
func (e *Engine) RemoveVariables(ctx context.Context, executionID string, names ...string) error {
	_, err := e.onExecution(ctx, executionID, func(tree *runtime.Tree) error {
		x, err := tree.Execution(executionID)
		if err != nil {
			return err
		}
		for _, name := range names {
			if err := x.RemoveVariableLocal(name); err != nil {
				return err
			}
		}
		return nil
	})
	return err
}

// GetVariables returns the variables visible from executionID.
func (e *Engine) GetVariables(ctx context.Context, executionID string) (map[string]any, error) {
	return command.Execute(ctx, e.executor, func(cc *command.Context) (map[string]any, error) {
		processInstanceID, err := e.processInstanceOf(cc, executionID)
		if err != nil {
			return nil, err
		}
		tree, _, _, err := e.restore(cc, processInstanceID)
		if err != nil {
			return nil, err
		}
		x, err := tree.Execution(executionID)
		if err != nil {
			return nil, err
		}
		return x.Variables(), nil
	})
}

// GetExecutions returns the runtime executions of a process instance in
// creation order.
func (e *Engine) GetExecutions(ctx context.Context, processInstanceID string) ([]ExecutionInfo, error) {
	return command.Execute(ctx, e.executor, func(cc *command.Context) ([]ExecutionInfo, error) {
		executions, err := e.managers.Executions.FindByProcessInstanceID(cc, processInstanceID)
		if err != nil {
			return nil, err
		}
		if len(executions) == 0 {
			return nil, errors.Join(newEngineErrorf("process instance %s was not found", processInstanceID), storage.ErrNotFound)
		}
		res := make([]ExecutionInfo, 0, len(executions))
		for _, x := range executions {
			res = append(res, ExecutionInfo{
				ID:                x.ID,
				ProcessInstanceID: x.ProcessInstanceID,
				ParentID:          x.ParentID,
				ActivityID:        x.ActivityID,
				Scope:             x.IsScope,
				Concurrent:        x.IsConcurrent,
				Active:            x.IsActive,
				State:             x.State,
			})
		}
		return res, nil
	})
}

// DeleteProcessInstance cancels every execution of the instance and removes
// its runtime state. History keeps the instance as deleted with reason.
func (e *Engine) DeleteProcessInstance(ctx context.Context, processInstanceID string, reason string) error {
	_, err := command.Execute(ctx, e.executor, func(cc *command.Context) (any, error) {
		tree, sync, _, err := e.restore(cc, processInstanceID)
		if err != nil {
			return nil, err
		}
		return nil, sync.cancel(tree, reason, e.cfg.now())
	})
	return err
}

func (e *Engine) DeleteHistoricProcessInstance(ctx context.Context, processInstanceID string) error {
	_, err := command.Execute(ctx, e.executor, func(cc *command.Context) (any, error) {
		return nil, e.managers.HistoricProcessInstances.Delete(cc, processInstanceID)
	})
	return err
}

// DeleteHistoricVariableInstances removes the historic variables of a process
// instance or of a case instance. Exactly one id must be set.
func (e *Engine) DeleteHistoricVariableInstances(ctx context.Context, processInstanceID string, caseInstanceID string) error {
	_, err := command.Execute(ctx, e.executor, func(cc *command.Context) (any, error) {
		return nil, e.managers.HistoricVariableInstances.DeleteHistoricVariableInstanceByProcessOrCaseInstanceID(cc, processInstanceID, caseInstanceID)
	})
	return err
}

func (e *Engine) QueryHistoricVariables(ctx context.Context, query *persistence.HistoricVariableInstanceQuery, page *storage.Page) ([]HistoricVariable, error) {
	return command.Execute(ctx, e.executor, func(cc *command.Context) ([]HistoricVariable, error) {
		entities, err := e.managers.HistoricVariableInstances.FindHistoricVariableInstancesByQueryCriteria(cc, query, page)
		if err != nil {
			return nil, err
		}
		res := make([]HistoricVariable, 0, len(entities))
		for _, h := range entities {
			value, err := e.managers.HistoricVariableInstances.Value(cc, h)
			if err != nil {
				return nil, err
			}
			res = append(res, HistoricVariable{
				ID:                   h.ID,
				Name:                 h.Name,
				VariableInstanceID:   h.VariableInstanceID,
				ProcessInstanceID:    h.ProcessInstanceID,
				CaseInstanceID:       h.CaseInstanceID,
				TaskID:               h.TaskID,
				ExecutionID:          h.ExecutionID,
				ProcessDefinitionKey: h.ProcessDefinitionKey,
				State:                h.State,
				TenantID:             h.TenantID,
				CreateTime:           h.CreateTime,
				Value:                value,
			})
		}
		return res, nil
	})
}

func (e *Engine) CountHistoricVariables(ctx context.Context, query *persistence.HistoricVariableInstanceQuery) (int64, error) {
	return command.Execute(ctx, e.executor, func(cc *command.Context) (int64, error) {
		return e.managers.HistoricVariableInstances.FindHistoricVariableInstanceCountByQueryCriteria(cc, query)
	})
}

func (e *Engine) HistoricProcessInstance(ctx context.Context, processInstanceID string) (*persistence.HistoricProcessInstanceEntity, error) {
	return command.Execute(ctx, e.executor, func(cc *command.Context) (*persistence.HistoricProcessInstanceEntity, error) {
		return e.managers.HistoricProcessInstances.FindByID(cc, processInstanceID)
	})
}

func (e *Engine) HistoricActivities(ctx context.Context, processInstanceID string) ([]*persistence.HistoricActivityInstanceEntity, error) {
	return command.Execute(ctx, e.executor, func(cc *command.Context) ([]*persistence.HistoricActivityInstanceEntity, error) {
		return e.managers.HistoricActivityInstances.FindByProcessInstanceID(cc, processInstanceID)
	})
}

// CleanupHistory removes historic process instances which ended before
// now minus the history time to live, together with their activities and
// variables. Every batch is its own command.
func (e *Engine) CleanupHistory(ctx context.Context, now time.Time) (int, error) {
	if !e.gate.IsHistoryEnabled() {
		return 0, nil
	}
	before := now.Add(-e.cfg.historyTTL)
	removed := 0
	for {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		n, err := command.Execute(ctx, e.executor, func(cc *command.Context) (int, error) {
			ended, err := e.managers.HistoricProcessInstances.FindEndedBefore(cc, before, &storage.Page{MaxResults: e.cfg.cleanupBatch})
			if err != nil {
				return 0, err
			}
			if len(ended) == 0 {
				return 0, nil
			}
			ids := make([]string, 0, len(ended))
			for _, h := range ended {
				ids = append(ids, h.ID)
			}
			return len(ids), e.managers.HistoricProcessInstances.DeleteByIDs(cc, ids)
		})
		if err != nil {
			return removed, err
		}
		removed += n
		if n < e.cfg.cleanupBatch {
			return removed, nil
		}
	}
}
