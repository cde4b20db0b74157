// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package history

import (
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenpvm/pkg/command"
	"github.com/pbinitiative/zenpvm/pkg/entitycache"
	"github.com/pbinitiative/zenpvm/pkg/persistence"
)

// DbHistoryEventHandler turns every event into exactly one historic entity
// mutation.
type DbHistoryEventHandler struct {
	managers *persistence.Managers
	logger   hclog.Logger
}

func NewDbHistoryEventHandler(managers *persistence.Managers, logger hclog.Logger) *DbHistoryEventHandler {
	if logger == nil {
		logger = hclog.Default().Named("history-db")
	}
	return &DbHistoryEventHandler{managers: managers, logger: logger}
}

func (h *DbHistoryEventHandler) HandleEvent(cc *command.Context, event *Event) error {
	switch event.Type {
	case ProcessInstanceStarted:
		return h.managers.HistoricProcessInstances.Insert(cc, &persistence.HistoricProcessInstanceEntity{
			ID:                   event.ProcessInstanceID,
			Revision:             1,
			ProcessDefinitionID:  event.ProcessDefinitionID,
			ProcessDefinitionKey: event.ProcessDefinitionKey,
			CaseInstanceID:       event.CaseInstanceID,
			StartTime:            event.Time,
			State:                persistence.HistoricProcessStateActive,
			TenantID:             event.TenantID,
		})
	case ProcessInstanceEnded:
		return h.processInstanceEnded(cc, event)
	case ActivityInstanceEnded:
		return h.managers.HistoricActivityInstances.Insert(cc, &persistence.HistoricActivityInstanceEntity{
			ID:                   event.ID,
			ProcessInstanceID:    event.ProcessInstanceID,
			ExecutionID:          event.ExecutionID,
			ActivityID:           event.ActivityID,
			ProcessDefinitionKey: event.ProcessDefinitionKey,
			StartTime:            event.StartTime,
			EndTime:              event.Time,
			Canceled:             event.Canceled,
			TenantID:             event.TenantID,
		})
	case VariableCreated:
		return h.variableCreated(cc, event)
	case VariableUpdated:
		historic, err := h.managers.HistoricVariableInstances.FindHistoricVariableInstanceByVariableInstanceID(cc, event.VariableInstanceID)
		if entitycache.IsNotFound(err) {
			return h.variableCreated(cc, event)
		}
		if err != nil {
			return err
		}
		return h.managers.HistoricVariableInstances.SetValue(cc, historic, event.Value)
	case VariableDeleted:
		historic, err := h.managers.HistoricVariableInstances.FindHistoricVariableInstanceByVariableInstanceID(cc, event.VariableInstanceID)
		if entitycache.IsNotFound(err) {
			h.logger.Debug("no historic variable for deleted variable", "variable", event.VariableInstanceID)
			return nil
		}
		if err != nil {
			return err
		}
		historic.State = persistence.HistoricVariableStateDeleted
		return nil
	}
	return fmt.Errorf("unknown history event type %q", event.Type)
}

func (h *DbHistoryEventHandler) processInstanceEnded(cc *command.Context, event *Event) error {
	state := persistence.HistoricProcessStateCompleted
	if event.Canceled {
		state = persistence.HistoricProcessStateDeleted
	}
	end := event.Time
	historic, err := h.managers.HistoricProcessInstances.FindByID(cc, event.ProcessInstanceID)
	if entitycache.IsNotFound(err) {
		// history was switched on while the instance ran
		return h.managers.HistoricProcessInstances.Insert(cc, &persistence.HistoricProcessInstanceEntity{
			ID:                   event.ProcessInstanceID,
			Revision:             1,
			ProcessDefinitionID:  event.ProcessDefinitionID,
			ProcessDefinitionKey: event.ProcessDefinitionKey,
			CaseInstanceID:       event.CaseInstanceID,
			StartTime:            event.StartTime,
			EndTime:              &end,
			State:                state,
			DeleteReason:         event.DeleteReason,
			TenantID:             event.TenantID,
		})
	}
	if err != nil {
		return err
	}
	historic.EndTime = &end
	historic.State = state
	historic.DeleteReason = event.DeleteReason
	return nil
}

func (h *DbHistoryEventHandler) variableCreated(cc *command.Context, event *Event) error {
	return h.managers.HistoricVariableInstances.Insert(cc, &persistence.HistoricVariableInstanceEntity{
		ID:                   event.ID,
		Revision:             1,
		Name:                 event.VariableName,
		VariableInstanceID:   event.VariableInstanceID,
		ProcessInstanceID:    event.ProcessInstanceID,
		CaseInstanceID:       event.CaseInstanceID,
		TaskID:               event.TaskID,
		ExecutionID:          event.ExecutionID,
		ProcessDefinitionKey: event.ProcessDefinitionKey,
		State:                persistence.HistoricVariableStateCreated,
		CreateTime:           event.Time,
		TenantID:             event.TenantID,
	}, event.Value)
}
