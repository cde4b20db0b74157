// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package persistence

import (
	"time"

	"github.com/pbinitiative/zenpvm/pkg/entitycache"
	"github.com/pbinitiative/zenpvm/pkg/storage"
)

const (
	TypeProcessDefinition         = "ProcessDefinition"
	TypeExecution                 = "Execution"
	TypeByteArray                 = "ByteArray"
	TypeVariableInstance          = "VariableInstance"
	TypeHistoricProcessInstance   = "HistoricProcessInstance"
	TypeHistoricActivityInstance  = "HistoricActivityInstance"
	TypeHistoricVariableInstance  = "HistoricVariableInstance"
	HistoricVariableStateCreated  = "CREATED"
	HistoricVariableStateDeleted  = "DELETED"
	HistoricProcessStateActive    = "ACTIVE"
	HistoricProcessStateCompleted = "COMPLETED"
	HistoricProcessStateDeleted   = "DELETED"
)

type ProcessDefinitionEntity struct {
	ID         string
	Revision   int
	Key        string
	Name       string
	Version    int
	Resource   []byte
	TenantID   string
	DeployTime time.Time
}

var _ entitycache.Entity = &ProcessDefinitionEntity{}

func (e *ProcessDefinitionEntity) EntityType() string { return TypeProcessDefinition }
func (e *ProcessDefinitionEntity) RowKey() string     { return e.ID }
func (e *ProcessDefinitionEntity) RowRevision() int   { return e.Revision }
func (e *ProcessDefinitionEntity) SetRevision(r int)  { e.Revision = r }
func (e *ProcessDefinitionEntity) PersistentState() any {
	return struct {
		Name     string
		Resource string
	}{e.Name, string(e.Resource)}
}
func (e *ProcessDefinitionEntity) CopyRow(revision int) storage.Row {
	c := *e
	c.Resource = append([]byte(nil), e.Resource...)
	c.Revision = revision
	return &c
}

type ExecutionEntity struct {
	ID                  string
	Revision            int
	ProcessInstanceID   string
	ParentID            string
	ProcessDefinitionID string
	ActivityID          string
	Sequence            int64
	IsScope             bool
	IsConcurrent        bool
	IsActive            bool
	State               string
	CaseInstanceID      string
	TenantID            string
	CreateTime          time.Time
}

var _ entitycache.Entity = &ExecutionEntity{}

func (e *ExecutionEntity) EntityType() string { return TypeExecution }
func (e *ExecutionEntity) RowKey() string     { return e.ID }
func (e *ExecutionEntity) RowRevision() int   { return e.Revision }
func (e *ExecutionEntity) SetRevision(r int)  { e.Revision = r }
func (e *ExecutionEntity) PersistentState() any {
	c := *e
	c.Revision = 0
	return c
}
func (e *ExecutionEntity) CopyRow(revision int) storage.Row {
	c := *e
	c.Revision = revision
	return &c
}

// ByteArrayEntity stores large values outside of the owning row.
type ByteArrayEntity struct {
	ID         string
	Revision   int
	Name       string
	Bytes      []byte
	CreateTime time.Time
}

var _ entitycache.Entity = &ByteArrayEntity{}

func (e *ByteArrayEntity) EntityType() string   { return TypeByteArray }
func (e *ByteArrayEntity) RowKey() string       { return e.ID }
func (e *ByteArrayEntity) RowRevision() int     { return e.Revision }
func (e *ByteArrayEntity) SetRevision(r int)    { e.Revision = r }
func (e *ByteArrayEntity) PersistentState() any { return string(e.Bytes) }
func (e *ByteArrayEntity) CopyRow(revision int) storage.Row {
	c := *e
	c.Bytes = append([]byte(nil), e.Bytes...)
	c.Revision = revision
	return &c
}

// VariableInstanceEntity is a runtime variable owned by an execution.
type VariableInstanceEntity struct {
	ID                string
	Revision          int
	Name              string
	Type              string
	ExecutionID       string
	ProcessInstanceID string
	CaseInstanceID    string
	TaskID            string
	TextValue         string
	ByteArrayID       string
	TenantID          string
}

var _ entitycache.Entity = &VariableInstanceEntity{}

func (e *VariableInstanceEntity) EntityType() string { return TypeVariableInstance }
func (e *VariableInstanceEntity) RowKey() string     { return e.ID }
func (e *VariableInstanceEntity) RowRevision() int   { return e.Revision }
func (e *VariableInstanceEntity) SetRevision(r int)  { e.Revision = r }
func (e *VariableInstanceEntity) PersistentState() any {
	c := *e
	c.Revision = 0
	return c
}
func (e *VariableInstanceEntity) CopyRow(revision int) storage.Row {
	c := *e
	c.Revision = revision
	return &c
}

type HistoricProcessInstanceEntity struct {
	ID                   string
	Revision             int
	ProcessDefinitionID  string
	ProcessDefinitionKey string
	CaseInstanceID       string
	StartTime            time.Time
	EndTime              *time.Time
	State                string
	DeleteReason         string
	TenantID             string
}

var _ entitycache.Entity = &HistoricProcessInstanceEntity{}

func (e *HistoricProcessInstanceEntity) EntityType() string { return TypeHistoricProcessInstance }
func (e *HistoricProcessInstanceEntity) RowKey() string     { return e.ID }
func (e *HistoricProcessInstanceEntity) RowRevision() int   { return e.Revision }
func (e *HistoricProcessInstanceEntity) SetRevision(r int)  { e.Revision = r }
func (e *HistoricProcessInstanceEntity) PersistentState() any {
	var end int64
	if e.EndTime != nil {
		end = e.EndTime.UnixMilli()
	}
	return struct {
		End          int64
		State        string
		DeleteReason string
	}{end, e.State, e.DeleteReason}
}
func (e *HistoricProcessInstanceEntity) CopyRow(revision int) storage.Row {
	c := *e
	if e.EndTime != nil {
		end := *e.EndTime
		c.EndTime = &end
	}
	c.Revision = revision
	return &c
}

// HistoricActivityInstanceEntity records a branch which came to an end. Rows
// are never updated.
type HistoricActivityInstanceEntity struct {
	ID                   string
	ProcessInstanceID    string
	ExecutionID          string
	ActivityID           string
	ProcessDefinitionKey string
	StartTime            time.Time
	EndTime              time.Time
	Canceled             bool
	TenantID             string
}

var _ entitycache.Entity = &HistoricActivityInstanceEntity{}

func (e *HistoricActivityInstanceEntity) EntityType() string { return TypeHistoricActivityInstance }
func (e *HistoricActivityInstanceEntity) RowKey() string     { return e.ID }
func (e *HistoricActivityInstanceEntity) RowRevision() int   { return 0 }
func (e *HistoricActivityInstanceEntity) SetRevision(int)    {}
func (e *HistoricActivityInstanceEntity) PersistentState() any {
	return *e
}
func (e *HistoricActivityInstanceEntity) CopyRow(int) storage.Row {
	c := *e
	return &c
}

// HistoricVariableInstanceEntity mirrors a runtime variable. It is both the
// read model returned by queries and the row deleted by the manager.
type HistoricVariableInstanceEntity struct {
	ID                   string
	Revision             int
	Name                 string
	Type                 string
	VariableInstanceID   string
	ProcessInstanceID    string
	CaseInstanceID       string
	TaskID               string
	ExecutionID          string
	ProcessDefinitionKey string
	TextValue            string
	ByteArrayID          string
	State                string
	CreateTime           time.Time
	TenantID             string
}

var _ entitycache.Entity = &HistoricVariableInstanceEntity{}

func (e *HistoricVariableInstanceEntity) EntityType() string { return TypeHistoricVariableInstance }
func (e *HistoricVariableInstanceEntity) RowKey() string     { return e.ID }
func (e *HistoricVariableInstanceEntity) RowRevision() int   { return e.Revision }
func (e *HistoricVariableInstanceEntity) SetRevision(r int)  { e.Revision = r }
func (e *HistoricVariableInstanceEntity) PersistentState() any {
	c := *e
	c.Revision = 0
	return c
}
func (e *HistoricVariableInstanceEntity) CopyRow(revision int) storage.Row {
	c := *e
	c.Revision = revision
	return &c
}
