// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package persistence

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pbinitiative/zenpvm/pkg/command"
	"github.com/pbinitiative/zenpvm/pkg/entitycache"
	"github.com/pbinitiative/zenpvm/pkg/storage"
)

// HistoryGate tells whether history is recorded.
type HistoryGate interface {
	IsHistoryEnabled() bool
}

// Managers groups the entity managers. Managers are stateless, every call
// works on the unit of work of the command context it gets.
type Managers struct {
	ProcessDefinitions        *ProcessDefinitionManager
	Executions                *ExecutionManager
	ByteArrays                *ByteArrayManager
	Variables                 *VariableInstanceManager
	HistoricProcessInstances  *HistoricProcessInstanceManager
	HistoricActivityInstances *HistoricActivityInstanceManager
	HistoricVariableInstances *HistoricVariableInstanceManager
}

func NewManagers(history HistoryGate, configurers ...QueryConfigurer) *Managers {
	base := historicManager{history: history}
	byteArrays := &ByteArrayManager{now: time.Now}
	variables := &HistoricVariableInstanceManager{historicManager: base, byteArrays: byteArrays, configurers: configurers}
	activities := &HistoricActivityInstanceManager{historicManager: base}
	return &Managers{
		ProcessDefinitions:        &ProcessDefinitionManager{},
		Executions:                &ExecutionManager{},
		ByteArrays:                byteArrays,
		Variables:                 &VariableInstanceManager{byteArrays: byteArrays},
		HistoricProcessInstances:  &HistoricProcessInstanceManager{historicManager: base, variables: variables, activities: activities},
		HistoricActivityInstances: activities,
		HistoricVariableInstances: variables,
	}
}

type historicManager struct {
	history HistoryGate
}

func (m historicManager) isHistoryEnabled() bool {
	return m.history != nil && m.history.IsHistoryEnabled()
}

// ProcessDefinitionManager stores deployed definitions.
type ProcessDefinitionManager struct{}

func (m *ProcessDefinitionManager) Insert(cc *command.Context, d *ProcessDefinitionEntity) error {
	return cc.Entities().Insert(d)
}

func (m *ProcessDefinitionManager) FindByID(cc *command.Context, id string) (*ProcessDefinitionEntity, error) {
	return entitycache.FindByID[*ProcessDefinitionEntity](cc.Context(), cc.Entities(), TypeProcessDefinition, "selectProcessDefinition", id)
}

// FindLatestByKey returns the highest version of the definition key, or
// storage.ErrNotFound.
func (m *ProcessDefinitionManager) FindLatestByKey(cc *command.Context, key string, tenantID string) (*ProcessDefinitionEntity, error) {
	return entitycache.FindOne[*ProcessDefinitionEntity](cc.Context(), cc.Entities(), "selectLatestProcessDefinitionByKey", DefinitionKey{Key: key, TenantID: tenantID})
}

func (m *ProcessDefinitionManager) FindAll(cc *command.Context, page *storage.Page) ([]*ProcessDefinitionEntity, error) {
	return entitycache.FindList[*ProcessDefinitionEntity](cc.Context(), cc.Entities(), "selectProcessDefinitions", nil, page)
}

type ExecutionManager struct{}

func (m *ExecutionManager) Insert(cc *command.Context, e *ExecutionEntity) error {
	return cc.Entities().Insert(e)
}

// ForceUpdate writes e even when none of its columns changed, checking and
// bumping its revision.
func (m *ExecutionManager) ForceUpdate(cc *command.Context, e *ExecutionEntity) error {
	return cc.Entities().Update(e)
}

func (m *ExecutionManager) Delete(cc *command.Context, e *ExecutionEntity) error {
	return cc.Entities().Delete(e)
}

func (m *ExecutionManager) FindByID(cc *command.Context, id string) (*ExecutionEntity, error) {
	return entitycache.FindByID[*ExecutionEntity](cc.Context(), cc.Entities(), TypeExecution, "selectExecution", id)
}

// FindByProcessInstanceID returns the executions of a process instance in
// creation order.
func (m *ExecutionManager) FindByProcessInstanceID(cc *command.Context, processInstanceID string) ([]*ExecutionEntity, error) {
	return entitycache.FindList[*ExecutionEntity](cc.Context(), cc.Entities(), "selectExecutionsByProcessInstanceId", processInstanceID, nil)
}

type ByteArrayManager struct {
	now func() time.Time
}

func (m *ByteArrayManager) Create(cc *command.Context, name string, data []byte) (*ByteArrayEntity, error) {
	b := &ByteArrayEntity{
		ID:         uuid.NewString(),
		Revision:   1,
		Name:       name,
		Bytes:      data,
		CreateTime: m.now(),
	}
	if err := cc.Entities().Insert(b); err != nil {
		return nil, err
	}
	return b, nil
}

func (m *ByteArrayManager) FindByID(cc *command.Context, id string) (*ByteArrayEntity, error) {
	return entitycache.FindByID[*ByteArrayEntity](cc.Context(), cc.Entities(), TypeByteArray, "selectByteArray", id)
}

// DeleteByID deletes the byte array. Missing byte arrays are ignored.
func (m *ByteArrayManager) DeleteByID(cc *command.Context, id string) error {
	b, err := m.FindByID(cc, id)
	if entitycache.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return cc.Entities().Delete(b)
}

// store writes value into the row owning byteArrayID and returns the id of the
// byte array holding it afterwards, "" when the value fits inline.
func (m *ByteArrayManager) store(cc *command.Context, name string, byteArrayID string, value EncodedValue) (string, error) {
	if !value.IsLarge() {
		if byteArrayID != "" {
			return "", m.DeleteByID(cc, byteArrayID)
		}
		return "", nil
	}
	if byteArrayID != "" {
		b, err := m.FindByID(cc, byteArrayID)
		if err == nil {
			b.Bytes = value.Large
			return b.ID, nil
		}
		if !entitycache.IsNotFound(err) {
			return "", err
		}
	}
	b, err := m.Create(cc, name, value.Large)
	if err != nil {
		return "", err
	}
	return b.ID, nil
}

func (m *ByteArrayManager) load(cc *command.Context, byteArrayID string, typ string, text string) (any, error) {
	value := EncodedValue{Type: typ, Text: text}
	if byteArrayID != "" {
		b, err := m.FindByID(cc, byteArrayID)
		if err != nil {
			return nil, fmt.Errorf("failed to load value from byte array %s: %w", byteArrayID, err)
		}
		value.Large = b.Bytes
	}
	return DecodeValue(value)
}

// VariableInstanceManager stores runtime variables and their large values.
type VariableInstanceManager struct {
	byteArrays *ByteArrayManager
}

// Create inserts v holding value.
func (m *VariableInstanceManager) Create(cc *command.Context, v *VariableInstanceEntity, value any) error {
	if err := m.SetValue(cc, v, value); err != nil {
		return err
	}
	return cc.Entities().Insert(v)
}

// SetValue changes the value of v. Loaded variables are written at flush
// time when the value differs.
func (m *VariableInstanceManager) SetValue(cc *command.Context, v *VariableInstanceEntity, value any) error {
	encoded, err := EncodeValue(value)
	if err != nil {
		return fmt.Errorf("variable %s: %w", v.Name, err)
	}
	byteArrayID, err := m.byteArrays.store(cc, "var-"+v.Name, v.ByteArrayID, encoded)
	if err != nil {
		return err
	}
	v.Type = encoded.Type
	v.TextValue = encoded.Text
	v.ByteArrayID = byteArrayID
	return nil
}

func (m *VariableInstanceManager) Value(cc *command.Context, v *VariableInstanceEntity) (any, error) {
	return m.byteArrays.load(cc, v.ByteArrayID, v.Type, v.TextValue)
}

func (m *VariableInstanceManager) Delete(cc *command.Context, v *VariableInstanceEntity) error {
	if v.ByteArrayID != "" {
		if err := m.byteArrays.DeleteByID(cc, v.ByteArrayID); err != nil {
			return err
		}
	}
	return cc.Entities().Delete(v)
}

func (m *VariableInstanceManager) FindByExecutionID(cc *command.Context, executionID string) ([]*VariableInstanceEntity, error) {
	return entitycache.FindList[*VariableInstanceEntity](cc.Context(), cc.Entities(), "selectVariablesByExecutionId", executionID, nil)
}

func (m *VariableInstanceManager) FindByProcessInstanceID(cc *command.Context, processInstanceID string) ([]*VariableInstanceEntity, error) {
	return entitycache.FindList[*VariableInstanceEntity](cc.Context(), cc.Entities(), "selectVariablesByProcessInstanceId", processInstanceID, nil)
}

// HistoricProcessInstanceManager stores historic process instances and
// removes them together with their activities and variables.
type HistoricProcessInstanceManager struct {
	historicManager
	variables  *HistoricVariableInstanceManager
	activities *HistoricActivityInstanceManager
}

func (m *HistoricProcessInstanceManager) Insert(cc *command.Context, h *HistoricProcessInstanceEntity) error {
	return cc.Entities().Insert(h)
}

func (m *HistoricProcessInstanceManager) FindByID(cc *command.Context, id string) (*HistoricProcessInstanceEntity, error) {
	return entitycache.FindByID[*HistoricProcessInstanceEntity](cc.Context(), cc.Entities(), TypeHistoricProcessInstance, "selectHistoricProcessInstance", id)
}

// FindEndedBefore returns instances which ended before the given time, oldest
// first.
func (m *HistoricProcessInstanceManager) FindEndedBefore(cc *command.Context, before time.Time, page *storage.Page) ([]*HistoricProcessInstanceEntity, error) {
	return entitycache.FindList[*HistoricProcessInstanceEntity](cc.Context(), cc.Entities(), "selectHistoricProcessInstancesEndedBefore", before, page)
}

// Delete removes one historic process instance with its historic activities
// and variables.
func (m *HistoricProcessInstanceManager) Delete(cc *command.Context, id string) error {
	if !m.isHistoryEnabled() {
		return nil
	}
	h, err := m.FindByID(cc, id)
	if err != nil {
		return fmt.Errorf("historic process instance %s: %w", id, err)
	}
	if err := m.variables.DeleteHistoricVariableInstancesByProcessInstanceID(cc, id, ""); err != nil {
		return err
	}
	if err := m.activities.DeleteByProcessInstanceIDs(cc, []string{id}); err != nil {
		return err
	}
	return cc.Entities().Delete(h)
}

// DeleteByIDs removes historic process instances in bulk. Byte arrays go
// first while the variables owning them still exist.
func (m *HistoricProcessInstanceManager) DeleteByIDs(cc *command.Context, ids []string) error {
	if err := m.variables.DeleteHistoricVariableInstancesByProcessInstanceIDs(cc, ids); err != nil {
		return err
	}
	if err := m.activities.DeleteByProcessInstanceIDs(cc, ids); err != nil {
		return err
	}
	return cc.Entities().DeletePreserveOrder(TypeHistoricProcessInstance, "deleteHistoricProcessInstancesByIds", ids)
}

type HistoricActivityInstanceManager struct {
	historicManager
}

func (m *HistoricActivityInstanceManager) Insert(cc *command.Context, h *HistoricActivityInstanceEntity) error {
	return cc.Entities().Insert(h)
}

func (m *HistoricActivityInstanceManager) FindByProcessInstanceID(cc *command.Context, processInstanceID string) ([]*HistoricActivityInstanceEntity, error) {
	if !m.isHistoryEnabled() {
		return []*HistoricActivityInstanceEntity{}, nil
	}
	return entitycache.FindList[*HistoricActivityInstanceEntity](cc.Context(), cc.Entities(), "selectHistoricActivityInstancesByProcessInstanceId", processInstanceID, nil)
}

func (m *HistoricActivityInstanceManager) DeleteByProcessInstanceIDs(cc *command.Context, ids []string) error {
	return cc.Entities().DeletePreserveOrder(TypeHistoricActivityInstance, "deleteHistoricActivityInstancesByProcessInstanceIds", ids)
}
