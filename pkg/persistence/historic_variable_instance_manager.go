// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package persistence

import (
	"fmt"

	"github.com/pbinitiative/zenpvm/pkg/command"
	"github.com/pbinitiative/zenpvm/pkg/entitycache"
	"github.com/pbinitiative/zenpvm/pkg/storage"
)

// HistoricVariableInstanceManager reads and removes historic variables. Rows
// it deletes take their byte arrays with them.
type HistoricVariableInstanceManager struct {
	historicManager
	byteArrays  *ByteArrayManager
	configurers []QueryConfigurer
}

// Insert stores a new historic variable holding value.
func (m *HistoricVariableInstanceManager) Insert(cc *command.Context, h *HistoricVariableInstanceEntity, value EncodedValue) error {
	if err := m.SetValue(cc, h, value); err != nil {
		return err
	}
	return cc.Entities().Insert(h)
}

func (m *HistoricVariableInstanceManager) SetValue(cc *command.Context, h *HistoricVariableInstanceEntity, value EncodedValue) error {
	byteArrayID, err := m.byteArrays.store(cc, "hist.var-"+h.Name, h.ByteArrayID, value)
	if err != nil {
		return err
	}
	h.Type = value.Type
	h.TextValue = value.Text
	h.ByteArrayID = byteArrayID
	return nil
}

func (m *HistoricVariableInstanceManager) Value(cc *command.Context, h *HistoricVariableInstanceEntity) (any, error) {
	return m.byteArrays.load(cc, h.ByteArrayID, h.Type, h.TextValue)
}

// Delete removes h and its byte array.
func (m *HistoricVariableInstanceManager) Delete(cc *command.Context, h *HistoricVariableInstanceEntity) error {
	if h.ByteArrayID != "" {
		if err := m.byteArrays.DeleteByID(cc, h.ByteArrayID); err != nil {
			return err
		}
	}
	return cc.Entities().Delete(h)
}

func (m *HistoricVariableInstanceManager) DeleteHistoricVariableInstanceByProcessInstanceID(cc *command.Context, processInstanceID string) error {
	return m.DeleteHistoricVariableInstancesByProcessInstanceID(cc, processInstanceID, "")
}

func (m *HistoricVariableInstanceManager) DeleteHistoricVariableInstanceByCaseInstanceID(cc *command.Context, caseInstanceID string) error {
	return m.DeleteHistoricVariableInstancesByProcessInstanceID(cc, "", caseInstanceID)
}

// DeleteHistoricVariableInstanceByProcessOrCaseInstanceID is
// DeleteHistoricVariableInstancesByProcessInstanceID.
func (m *HistoricVariableInstanceManager) DeleteHistoricVariableInstanceByProcessOrCaseInstanceID(cc *command.Context, processInstanceID string, caseInstanceID string) error {
	return m.DeleteHistoricVariableInstancesByProcessInstanceID(cc, processInstanceID, caseInstanceID)
}

// DeleteHistoricVariableInstancesByProcessInstanceID deletes the historic
// variables of a process instance or of a case instance, exactly one of the
// ids must be set. Variables created in this unit of work and not flushed
// yet are deleted as well.
func (m *HistoricVariableInstanceManager) DeleteHistoricVariableInstancesByProcessInstanceID(cc *command.Context, processInstanceID string, caseInstanceID string) error {
	if err := ensureOnlyOneSet("only the process instance or case instance id should be set", processInstanceID, caseInstanceID); err != nil {
		return err
	}
	if !m.isHistoryEnabled() {
		return nil
	}
	var stored []*HistoricVariableInstanceEntity
	var err error
	if processInstanceID != "" {
		stored, err = m.FindHistoricVariableInstancesByProcessInstanceID(cc, processInstanceID)
	} else {
		stored, err = m.FindHistoricVariableInstancesByCaseInstanceID(cc, caseInstanceID)
	}
	if err != nil {
		return err
	}
	for _, h := range stored {
		if err := m.Delete(cc, h); err != nil {
			return err
		}
	}

	for _, e := range cc.Cache().EntitiesByType(TypeHistoricVariableInstance) {
		h := e.(*HistoricVariableInstanceEntity)
		if (processInstanceID != "" && h.ProcessInstanceID == processInstanceID) ||
			(caseInstanceID != "" && h.CaseInstanceID == caseInstanceID) {
			if err := m.Delete(cc, h); err != nil {
				return err
			}
		}
	}
	return nil
}

// DeleteHistoricVariableInstancesByTaskID deletes the historic variables
// local to one task.
func (m *HistoricVariableInstanceManager) DeleteHistoricVariableInstancesByTaskID(cc *command.Context, taskID string) error {
	if err := ensureOnlyOneSet("task id must be set", taskID); err != nil {
		return err
	}
	if !m.isHistoryEnabled() {
		return nil
	}
	query := &HistoricVariableInstanceQuery{TaskIDs: []string{taskID}, IncludeDeleted: true}
	stored, err := entitycache.FindList[*HistoricVariableInstanceEntity](cc.Context(), cc.Entities(), "selectHistoricVariableInstanceByQueryCriteria", query, nil)
	if err != nil {
		return err
	}
	for _, h := range stored {
		if err := m.Delete(cc, h); err != nil {
			return err
		}
	}
	return nil
}

func (m *HistoricVariableInstanceManager) deleteBulk(cc *command.Context, suffix string, ids []string) error {
	if err := cc.Entities().DeletePreserveOrder(TypeByteArray, "deleteHistoricVariableInstanceByteArraysBy"+suffix, ids); err != nil {
		return err
	}
	return cc.Entities().DeletePreserveOrder(TypeHistoricVariableInstance, "deleteHistoricVariableInstanceBy"+suffix, ids)
}

func (m *HistoricVariableInstanceManager) DeleteHistoricVariableInstancesByProcessInstanceIDs(cc *command.Context, processInstanceIDs []string) error {
	return m.deleteBulk(cc, "ProcessInstanceIds", processInstanceIDs)
}

func (m *HistoricVariableInstanceManager) DeleteHistoricVariableInstancesByTaskProcessInstanceIDs(cc *command.Context, processInstanceIDs []string) error {
	return m.deleteBulk(cc, "TaskProcessInstanceIds", processInstanceIDs)
}

func (m *HistoricVariableInstanceManager) DeleteHistoricVariableInstancesByCaseInstanceIDs(cc *command.Context, caseInstanceIDs []string) error {
	return m.deleteBulk(cc, "CaseInstanceIds", caseInstanceIDs)
}

func (m *HistoricVariableInstanceManager) DeleteHistoricVariableInstancesByTaskCaseInstanceIDs(cc *command.Context, caseInstanceIDs []string) error {
	return m.deleteBulk(cc, "TaskCaseInstanceIds", caseInstanceIDs)
}

func (m *HistoricVariableInstanceManager) FindHistoricVariableInstancesByProcessInstanceID(cc *command.Context, processInstanceID string) ([]*HistoricVariableInstanceEntity, error) {
	return entitycache.FindList[*HistoricVariableInstanceEntity](cc.Context(), cc.Entities(), "selectHistoricVariablesByProcessInstanceId", processInstanceID, nil)
}

func (m *HistoricVariableInstanceManager) FindHistoricVariableInstancesByCaseInstanceID(cc *command.Context, caseInstanceID string) ([]*HistoricVariableInstanceEntity, error) {
	return entitycache.FindList[*HistoricVariableInstanceEntity](cc.Context(), cc.Entities(), "selectHistoricVariablesByCaseInstanceId", caseInstanceID, nil)
}

// FindHistoricVariableInstanceByVariableInstanceID returns the historic
// mirror of a runtime variable, including one inserted in this unit of work.
func (m *HistoricVariableInstanceManager) FindHistoricVariableInstanceByVariableInstanceID(cc *command.Context, variableInstanceID string) (*HistoricVariableInstanceEntity, error) {
	for _, e := range cc.Cache().EntitiesByType(TypeHistoricVariableInstance) {
		if h := e.(*HistoricVariableInstanceEntity); h.VariableInstanceID == variableInstanceID {
			return h, nil
		}
	}
	return entitycache.FindOne[*HistoricVariableInstanceEntity](cc.Context(), cc.Entities(), "selectHistoricVariableInstanceByVariableInstanceId", variableInstanceID)
}

func (m *HistoricVariableInstanceManager) FindHistoricVariableInstancesByQueryCriteria(cc *command.Context, query *HistoricVariableInstanceQuery, page *storage.Page) ([]*HistoricVariableInstanceEntity, error) {
	if err := m.configureQuery(cc, query); err != nil {
		return nil, err
	}
	if !m.isHistoryEnabled() {
		return []*HistoricVariableInstanceEntity{}, nil
	}
	return entitycache.FindList[*HistoricVariableInstanceEntity](cc.Context(), cc.Entities(), "selectHistoricVariableInstanceByQueryCriteria", query, page)
}

func (m *HistoricVariableInstanceManager) FindHistoricVariableInstanceCountByQueryCriteria(cc *command.Context, query *HistoricVariableInstanceQuery) (int64, error) {
	if err := m.configureQuery(cc, query); err != nil {
		return 0, err
	}
	if !m.isHistoryEnabled() {
		return 0, nil
	}
	return cc.Entities().SelectCount(cc.Context(), "selectHistoricVariableInstanceCountByQueryCriteria", query)
}

func (m *HistoricVariableInstanceManager) configureQuery(cc *command.Context, query *HistoricVariableInstanceQuery) error {
	if query == nil {
		return &ValidationError{Msg: "query is required"}
	}
	for _, c := range m.configurers {
		if err := c.ConfigureQuery(cc.Context(), query); err != nil {
			return fmt.Errorf("failed to configure historic variable query: %w", err)
		}
	}
	return nil
}
