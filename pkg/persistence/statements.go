// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package persistence

import (
	"database/sql"
	"fmt"
	"math"
	"slices"
	"time"

	zsql "github.com/pbinitiative/zenpvm/internal/sql"
	"github.com/pbinitiative/zenpvm/pkg/storage"
)

// DefinitionKey selects the deployed versions of a process definition of one
// tenant. An empty TenantID selects definitions without a tenant.
type DefinitionKey struct {
	Key      string
	TenantID string
}

func as[T any](param any) (T, error) {
	v, ok := param.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("unexpected parameter %T, expected %T", param, zero)
	}
	return v, nil
}

func idArg(param any) ([]any, error) {
	id, err := as[string](param)
	if err != nil {
		return nil, err
	}
	return []any{id}, nil
}

func listArg(param any) ([]any, error) {
	ids, err := as[[]string](param)
	if err != nil {
		return nil, err
	}
	return []any{ids}, nil
}

func byKey(_ storage.View, row storage.Row, param any) bool {
	return row.RowKey() == param.(string)
}

func rowArgs[T storage.Row](fn func(e T) []any) func(param any) ([]any, error) {
	return func(param any) ([]any, error) {
		e, err := as[T](param)
		if err != nil {
			return nil, err
		}
		return fn(e), nil
	}
}

// Statements returns every named statement the persistence layer runs.
func Statements() []storage.Statement {
	var res []storage.Statement
	for _, group := range [][]storage.Statement{
		processDefinitionStatements(),
		executionStatements(),
		byteArrayStatements(),
		variableStatements(),
		historicProcessInstanceStatements(),
		historicActivityInstanceStatements(),
		historicVariableInstanceStatements(),
	} {
		res = append(res, group...)
	}
	return res
}

// Registry returns a registry of Statements.
func Registry() (*storage.Registry, error) {
	return storage.NewRegistry(Statements())
}

// process definitions

const processDefinitionColumns = "ID_, REV_, KEY_, NAME_, VERSION_, RESOURCE_, TENANT_ID_, DEPLOY_TIME_"

func scanProcessDefinition(s storage.Scanner) (any, error) {
	var e ProcessDefinitionEntity
	var name, tenant sql.NullString
	var deployed int64
	if err := s.Scan(&e.ID, &e.Revision, &e.Key, &name, &e.Version, &e.Resource, &tenant, &deployed); err != nil {
		return nil, err
	}
	e.Name = zsql.FromNullString(name)
	e.TenantID = zsql.FromNullString(tenant)
	e.DeployTime = zsql.FromMillis(deployed)
	return &e, nil
}

func processDefinitionStatements() []storage.Statement {
	const table = "ACT_RE_PROCDEF"
	byVersionDesc := func(a, b storage.Row) bool {
		da, db := a.(*ProcessDefinitionEntity), b.(*ProcessDefinitionEntity)
		if da.Version != db.Version {
			return da.Version > db.Version
		}
		return da.ID < db.ID
	}
	return []storage.Statement{
		{
			Name:  "insertProcessDefinition",
			Kind:  storage.KindInsert,
			Table: table,
			SQL:   "INSERT INTO ACT_RE_PROCDEF (" + processDefinitionColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			Args: rowArgs(func(e *ProcessDefinitionEntity) []any {
				return []any{e.ID, e.Revision, e.Key, zsql.ToNullString(e.Name), e.Version, e.Resource, zsql.ToNullString(e.TenantID), zsql.ToMillis(e.DeployTime)}
			}),
		},
		{
			Name:  "updateProcessDefinition",
			Kind:  storage.KindUpdate,
			Table: table,
			SQL:   "UPDATE ACT_RE_PROCDEF SET REV_ = ?, NAME_ = ?, RESOURCE_ = ? WHERE ID_ = ? AND REV_ = ?",
			Args: rowArgs(func(e *ProcessDefinitionEntity) []any {
				return []any{e.Revision + 1, zsql.ToNullString(e.Name), e.Resource, e.ID, e.Revision}
			}),
		},
		{
			Name:  "deleteProcessDefinition",
			Kind:  storage.KindDelete,
			Table: table,
			SQL:   "DELETE FROM ACT_RE_PROCDEF WHERE ID_ = ? AND REV_ = ?",
			Args: rowArgs(func(e *ProcessDefinitionEntity) []any {
				return []any{e.ID, e.Revision}
			}),
		},
		{
			Name:  "selectProcessDefinition",
			Kind:  storage.KindSelect,
			Table: table,
			SQL:   "SELECT " + processDefinitionColumns + " FROM ACT_RE_PROCDEF WHERE ID_ = ?",
			Args:  idArg,
			Scan:  scanProcessDefinition,
			Match: byKey,
		},
		{
			Name:  "selectLatestProcessDefinitionByKey",
			Kind:  storage.KindSelect,
			Table: table,
			SQL:   "SELECT " + processDefinitionColumns + " FROM ACT_RE_PROCDEF WHERE KEY_ = ? AND IFNULL(TENANT_ID_, '') = ? ORDER BY VERSION_ DESC, ID_ LIMIT 1",
			Args: func(param any) ([]any, error) {
				k, err := as[DefinitionKey](param)
				if err != nil {
					return nil, err
				}
				return []any{k.Key, k.TenantID}, nil
			},
			Scan: scanProcessDefinition,
			Match: func(_ storage.View, row storage.Row, param any) bool {
				e, k := row.(*ProcessDefinitionEntity), param.(DefinitionKey)
				return e.Key == k.Key && e.TenantID == k.TenantID
			},
			Less: byVersionDesc,
		},
		{
			Name:  "selectProcessDefinitions",
			Kind:  storage.KindSelect,
			Table: table,
			SQL:   "SELECT " + processDefinitionColumns + " FROM ACT_RE_PROCDEF ORDER BY KEY_, VERSION_ DESC, ID_",
			Scan:  scanProcessDefinition,
			Less: func(a, b storage.Row) bool {
				da, db := a.(*ProcessDefinitionEntity), b.(*ProcessDefinitionEntity)
				if da.Key != db.Key {
					return da.Key < db.Key
				}
				return byVersionDesc(a, b)
			},
		},
	}
}

// executions

const executionColumns = "ID_, REV_, PROC_INST_ID_, PARENT_ID_, PROC_DEF_ID_, ACT_ID_, SEQ_, IS_SCOPE_, IS_CONCURRENT_, IS_ACTIVE_, STATE_, CASE_INST_ID_, TENANT_ID_, CREATE_TIME_"

func scanExecution(s storage.Scanner) (any, error) {
	var e ExecutionEntity
	var parent, caseID, tenant sql.NullString
	var scope, concurrent, active, created int64
	if err := s.Scan(&e.ID, &e.Revision, &e.ProcessInstanceID, &parent, &e.ProcessDefinitionID, &e.ActivityID, &e.Sequence,
		&scope, &concurrent, &active, &e.State, &caseID, &tenant, &created); err != nil {
		return nil, err
	}
	e.ParentID = zsql.FromNullString(parent)
	e.IsScope = zsql.ToBool(scope)
	e.IsConcurrent = zsql.ToBool(concurrent)
	e.IsActive = zsql.ToBool(active)
	e.CaseInstanceID = zsql.FromNullString(caseID)
	e.TenantID = zsql.FromNullString(tenant)
	e.CreateTime = zsql.FromMillis(created)
	return &e, nil
}

func executionStatements() []storage.Statement {
	const table = "ACT_RU_EXECUTION"
	return []storage.Statement{
		{
			Name:  "insertExecution",
			Kind:  storage.KindInsert,
			Table: table,
			SQL:   "INSERT INTO ACT_RU_EXECUTION (" + executionColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			Args: rowArgs(func(e *ExecutionEntity) []any {
				return []any{e.ID, e.Revision, e.ProcessInstanceID, zsql.ToNullString(e.ParentID), e.ProcessDefinitionID, e.ActivityID, e.Sequence,
					zsql.FromBool(e.IsScope), zsql.FromBool(e.IsConcurrent), zsql.FromBool(e.IsActive), e.State,
					zsql.ToNullString(e.CaseInstanceID), zsql.ToNullString(e.TenantID), zsql.ToMillis(e.CreateTime)}
			}),
		},
		{
			Name:  "updateExecution",
			Kind:  storage.KindUpdate,
			Table: table,
			SQL:   "UPDATE ACT_RU_EXECUTION SET REV_ = ?, ACT_ID_ = ?, IS_SCOPE_ = ?, IS_CONCURRENT_ = ?, IS_ACTIVE_ = ?, STATE_ = ? WHERE ID_ = ? AND REV_ = ?",
			Args: rowArgs(func(e *ExecutionEntity) []any {
				return []any{e.Revision + 1, e.ActivityID, zsql.FromBool(e.IsScope), zsql.FromBool(e.IsConcurrent), zsql.FromBool(e.IsActive), e.State, e.ID, e.Revision}
			}),
		},
		{
			Name:  "deleteExecution",
			Kind:  storage.KindDelete,
			Table: table,
			SQL:   "DELETE FROM ACT_RU_EXECUTION WHERE ID_ = ? AND REV_ = ?",
			Args: rowArgs(func(e *ExecutionEntity) []any {
				return []any{e.ID, e.Revision}
			}),
		},
		{
			Name:  "selectExecution",
			Kind:  storage.KindSelect,
			Table: table,
			SQL:   "SELECT " + executionColumns + " FROM ACT_RU_EXECUTION WHERE ID_ = ?",
			Args:  idArg,
			Scan:  scanExecution,
			Match: byKey,
		},
		{
			Name:  "selectExecutionsByProcessInstanceId",
			Kind:  storage.KindSelect,
			Table: table,
			SQL:   "SELECT " + executionColumns + " FROM ACT_RU_EXECUTION WHERE PROC_INST_ID_ = ? ORDER BY SEQ_",
			Args:  idArg,
			Scan:  scanExecution,
			Match: func(_ storage.View, row storage.Row, param any) bool {
				return row.(*ExecutionEntity).ProcessInstanceID == param.(string)
			},
			Less: func(a, b storage.Row) bool {
				return a.(*ExecutionEntity).Sequence < b.(*ExecutionEntity).Sequence
			},
		},
	}
}

// byte arrays

func scanByteArray(s storage.Scanner) (any, error) {
	var e ByteArrayEntity
	var name sql.NullString
	var created int64
	if err := s.Scan(&e.ID, &e.Revision, &name, &e.Bytes, &created); err != nil {
		return nil, err
	}
	e.Name = zsql.FromNullString(name)
	e.CreateTime = zsql.FromMillis(created)
	return &e, nil
}

// referencedByHistoricVariables matches byte arrays owned by historic
// variables the filter accepts for one of the ids in param.
func referencedByHistoricVariables(filter func(h *HistoricVariableInstanceEntity, ids []string) bool) func(storage.View, storage.Row, any) bool {
	return func(view storage.View, row storage.Row, param any) bool {
		ids := param.([]string)
		for _, r := range view.Rows("ACT_HI_VARINST") {
			h := r.(*HistoricVariableInstanceEntity)
			if h.ByteArrayID == row.RowKey() && filter(h, ids) {
				return true
			}
		}
		return false
	}
}

func byteArrayStatements() []storage.Statement {
	const table = "ACT_GE_BYTEARRAY"
	res := []storage.Statement{
		{
			Name:  "insertByteArray",
			Kind:  storage.KindInsert,
			Table: table,
			SQL:   "INSERT INTO ACT_GE_BYTEARRAY (ID_, REV_, NAME_, BYTES_, CREATE_TIME_) VALUES (?, ?, ?, ?, ?)",
			Args: rowArgs(func(e *ByteArrayEntity) []any {
				return []any{e.ID, e.Revision, zsql.ToNullString(e.Name), e.Bytes, zsql.ToMillis(e.CreateTime)}
			}),
		},
		{
			Name:  "updateByteArray",
			Kind:  storage.KindUpdate,
			Table: table,
			SQL:   "UPDATE ACT_GE_BYTEARRAY SET REV_ = ?, BYTES_ = ? WHERE ID_ = ? AND REV_ = ?",
			Args: rowArgs(func(e *ByteArrayEntity) []any {
				return []any{e.Revision + 1, e.Bytes, e.ID, e.Revision}
			}),
		},
		{
			Name:  "deleteByteArray",
			Kind:  storage.KindDelete,
			Table: table,
			SQL:   "DELETE FROM ACT_GE_BYTEARRAY WHERE ID_ = ? AND REV_ = ?",
			Args: rowArgs(func(e *ByteArrayEntity) []any {
				return []any{e.ID, e.Revision}
			}),
		},
		{
			Name:  "selectByteArray",
			Kind:  storage.KindSelect,
			Table: table,
			SQL:   "SELECT ID_, REV_, NAME_, BYTES_, CREATE_TIME_ FROM ACT_GE_BYTEARRAY WHERE ID_ = ?",
			Args:  idArg,
			Scan:  scanByteArray,
			Match: byKey,
		},
	}
	for _, bulk := range historicVariableBulkDeletes() {
		res = append(res, storage.Statement{
			Name:  "deleteHistoricVariableInstanceByteArraysBy" + bulk.suffix,
			Kind:  storage.KindDelete,
			Table: table,
			SQL:   "DELETE FROM ACT_GE_BYTEARRAY WHERE ID_ IN (SELECT BYTEARRAY_ID_ FROM ACT_HI_VARINST WHERE " + bulk.where + ")",
			Args:  listArg,
			Match: referencedByHistoricVariables(bulk.match),
		})
	}
	return res
}

// runtime variables

const variableColumns = "ID_, REV_, NAME_, TYPE_, EXECUTION_ID_, PROC_INST_ID_, CASE_INST_ID_, TASK_ID_, TEXT_, BYTEARRAY_ID_, TENANT_ID_"

func scanVariable(s storage.Scanner) (any, error) {
	var e VariableInstanceEntity
	var caseID, taskID, text, byteArrayID, tenant sql.NullString
	if err := s.Scan(&e.ID, &e.Revision, &e.Name, &e.Type, &e.ExecutionID, &e.ProcessInstanceID, &caseID, &taskID, &text, &byteArrayID, &tenant); err != nil {
		return nil, err
	}
	e.CaseInstanceID = zsql.FromNullString(caseID)
	e.TaskID = zsql.FromNullString(taskID)
	e.TextValue = zsql.FromNullString(text)
	e.ByteArrayID = zsql.FromNullString(byteArrayID)
	e.TenantID = zsql.FromNullString(tenant)
	return &e, nil
}

func variablesByName(a, b storage.Row) bool {
	va, vb := a.(*VariableInstanceEntity), b.(*VariableInstanceEntity)
	if va.Name != vb.Name {
		return va.Name < vb.Name
	}
	return va.ID < vb.ID
}

func variableStatements() []storage.Statement {
	const table = "ACT_RU_VARIABLE"
	return []storage.Statement{
		{
			Name:  "insertVariableInstance",
			Kind:  storage.KindInsert,
			Table: table,
			SQL:   "INSERT INTO ACT_RU_VARIABLE (" + variableColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			Args: rowArgs(func(e *VariableInstanceEntity) []any {
				return []any{e.ID, e.Revision, e.Name, e.Type, e.ExecutionID, e.ProcessInstanceID, zsql.ToNullString(e.CaseInstanceID),
					zsql.ToNullString(e.TaskID), zsql.ToNullString(e.TextValue), zsql.ToNullString(e.ByteArrayID), zsql.ToNullString(e.TenantID)}
			}),
		},
		{
			Name:  "updateVariableInstance",
			Kind:  storage.KindUpdate,
			Table: table,
			SQL:   "UPDATE ACT_RU_VARIABLE SET REV_ = ?, TYPE_ = ?, TEXT_ = ?, BYTEARRAY_ID_ = ? WHERE ID_ = ? AND REV_ = ?",
			Args: rowArgs(func(e *VariableInstanceEntity) []any {
				return []any{e.Revision + 1, e.Type, zsql.ToNullString(e.TextValue), zsql.ToNullString(e.ByteArrayID), e.ID, e.Revision}
			}),
		},
		{
			Name:  "deleteVariableInstance",
			Kind:  storage.KindDelete,
			Table: table,
			SQL:   "DELETE FROM ACT_RU_VARIABLE WHERE ID_ = ? AND REV_ = ?",
			Args: rowArgs(func(e *VariableInstanceEntity) []any {
				return []any{e.ID, e.Revision}
			}),
		},
		{
			Name:  "selectVariablesByExecutionId",
			Kind:  storage.KindSelect,
			Table: table,
			SQL:   "SELECT " + variableColumns + " FROM ACT_RU_VARIABLE WHERE EXECUTION_ID_ = ? ORDER BY NAME_, ID_",
			Args:  idArg,
			Scan:  scanVariable,
			Match: func(_ storage.View, row storage.Row, param any) bool {
				return row.(*VariableInstanceEntity).ExecutionID == param.(string)
			},
			Less: variablesByName,
		},
		{
			Name:  "selectVariablesByProcessInstanceId",
			Kind:  storage.KindSelect,
			Table: table,
			SQL:   "SELECT " + variableColumns + " FROM ACT_RU_VARIABLE WHERE PROC_INST_ID_ = ? ORDER BY NAME_, ID_",
			Args:  idArg,
			Scan:  scanVariable,
			Match: func(_ storage.View, row storage.Row, param any) bool {
				return row.(*VariableInstanceEntity).ProcessInstanceID == param.(string)
			},
			Less: variablesByName,
		},
	}
}

// historic process instances

const historicProcessInstanceColumns = "ID_, REV_, PROC_DEF_ID_, PROC_DEF_KEY_, CASE_INST_ID_, START_TIME_, END_TIME_, STATE_, DELETE_REASON_, TENANT_ID_"

func scanHistoricProcessInstance(s storage.Scanner) (any, error) {
	var e HistoricProcessInstanceEntity
	var caseID, reason, tenant sql.NullString
	var started int64
	var ended sql.NullInt64
	if err := s.Scan(&e.ID, &e.Revision, &e.ProcessDefinitionID, &e.ProcessDefinitionKey, &caseID, &started, &ended, &e.State, &reason, &tenant); err != nil {
		return nil, err
	}
	e.CaseInstanceID = zsql.FromNullString(caseID)
	e.StartTime = zsql.FromMillis(started)
	e.EndTime = zsql.FromNullTime(ended)
	e.DeleteReason = zsql.FromNullString(reason)
	e.TenantID = zsql.FromNullString(tenant)
	return &e, nil
}

func historicProcessInstanceStatements() []storage.Statement {
	const table = "ACT_HI_PROCINST"
	return []storage.Statement{
		{
			Name:  "insertHistoricProcessInstance",
			Kind:  storage.KindInsert,
			Table: table,
			SQL:   "INSERT INTO ACT_HI_PROCINST (" + historicProcessInstanceColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			Args: rowArgs(func(e *HistoricProcessInstanceEntity) []any {
				return []any{e.ID, e.Revision, e.ProcessDefinitionID, e.ProcessDefinitionKey, zsql.ToNullString(e.CaseInstanceID),
					zsql.ToMillis(e.StartTime), zsql.ToNullTime(e.EndTime), e.State, zsql.ToNullString(e.DeleteReason), zsql.ToNullString(e.TenantID)}
			}),
		},
		{
			Name:  "updateHistoricProcessInstance",
			Kind:  storage.KindUpdate,
			Table: table,
			SQL:   "UPDATE ACT_HI_PROCINST SET REV_ = ?, END_TIME_ = ?, STATE_ = ?, DELETE_REASON_ = ? WHERE ID_ = ? AND REV_ = ?",
			Args: rowArgs(func(e *HistoricProcessInstanceEntity) []any {
				return []any{e.Revision + 1, zsql.ToNullTime(e.EndTime), e.State, zsql.ToNullString(e.DeleteReason), e.ID, e.Revision}
			}),
		},
		{
			Name:  "deleteHistoricProcessInstance",
			Kind:  storage.KindDelete,
			Table: table,
			SQL:   "DELETE FROM ACT_HI_PROCINST WHERE ID_ = ? AND REV_ = ?",
			Args: rowArgs(func(e *HistoricProcessInstanceEntity) []any {
				return []any{e.ID, e.Revision}
			}),
		},
		{
			Name:  "deleteHistoricProcessInstancesByIds",
			Kind:  storage.KindDelete,
			Table: table,
			SQL:   "DELETE FROM ACT_HI_PROCINST WHERE ID_ IN (?)",
			Args:  listArg,
			Match: func(_ storage.View, row storage.Row, param any) bool {
				return slices.Contains(param.([]string), row.RowKey())
			},
		},
		{
			Name:  "selectHistoricProcessInstance",
			Kind:  storage.KindSelect,
			Table: table,
			SQL:   "SELECT " + historicProcessInstanceColumns + " FROM ACT_HI_PROCINST WHERE ID_ = ?",
			Args:  idArg,
			Scan:  scanHistoricProcessInstance,
			Match: byKey,
		},
		{
			Name:  "selectHistoricProcessInstancesEndedBefore",
			Kind:  storage.KindSelect,
			Table: table,
			SQL:   "SELECT " + historicProcessInstanceColumns + " FROM ACT_HI_PROCINST WHERE END_TIME_ IS NOT NULL AND END_TIME_ < ? ORDER BY END_TIME_, ID_",
			Args: func(param any) ([]any, error) {
				before, err := as[time.Time](param)
				if err != nil {
					return nil, err
				}
				return []any{zsql.ToMillis(before)}, nil
			},
			Scan: scanHistoricProcessInstance,
			Match: func(_ storage.View, row storage.Row, param any) bool {
				e := row.(*HistoricProcessInstanceEntity)
				return e.EndTime != nil && e.EndTime.UnixMilli() < param.(time.Time).UnixMilli()
			},
			Less: func(a, b storage.Row) bool {
				ea, eb := a.(*HistoricProcessInstanceEntity), b.(*HistoricProcessInstanceEntity)
				ma, mb := endMillis(ea), endMillis(eb)
				if ma != mb {
					return ma < mb
				}
				return ea.ID < eb.ID
			},
		},
	}
}

// endMillis orders running instances last. Less sees rows the predicate
// rejects.
func endMillis(e *HistoricProcessInstanceEntity) int64 {
	if e.EndTime == nil {
		return math.MaxInt64
	}
	return e.EndTime.UnixMilli()
}

// historic activity instances

const historicActivityInstanceColumns = "ID_, PROC_INST_ID_, EXECUTION_ID_, ACT_ID_, PROC_DEF_KEY_, START_TIME_, END_TIME_, CANCELED_, TENANT_ID_"

func scanHistoricActivityInstance(s storage.Scanner) (any, error) {
	var e HistoricActivityInstanceEntity
	var tenant sql.NullString
	var started, ended, canceled int64
	if err := s.Scan(&e.ID, &e.ProcessInstanceID, &e.ExecutionID, &e.ActivityID, &e.ProcessDefinitionKey, &started, &ended, &canceled, &tenant); err != nil {
		return nil, err
	}
	e.StartTime = zsql.FromMillis(started)
	e.EndTime = zsql.FromMillis(ended)
	e.Canceled = zsql.ToBool(canceled)
	e.TenantID = zsql.FromNullString(tenant)
	return &e, nil
}

func historicActivityInstanceStatements() []storage.Statement {
	const table = "ACT_HI_ACTINST"
	return []storage.Statement{
		{
			Name:  "insertHistoricActivityInstance",
			Kind:  storage.KindInsert,
			Table: table,
			SQL:   "INSERT INTO ACT_HI_ACTINST (" + historicActivityInstanceColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
			Args: rowArgs(func(e *HistoricActivityInstanceEntity) []any {
				return []any{e.ID, e.ProcessInstanceID, e.ExecutionID, e.ActivityID, e.ProcessDefinitionKey,
					zsql.ToMillis(e.StartTime), zsql.ToMillis(e.EndTime), zsql.FromBool(e.Canceled), zsql.ToNullString(e.TenantID)}
			}),
		},
		{
			Name:  "updateHistoricActivityInstance",
			Kind:  storage.KindUpdate,
			Table: table,
			SQL:   "UPDATE ACT_HI_ACTINST SET END_TIME_ = ?, CANCELED_ = ? WHERE ID_ = ?",
			Args: rowArgs(func(e *HistoricActivityInstanceEntity) []any {
				return []any{zsql.ToMillis(e.EndTime), zsql.FromBool(e.Canceled), e.ID}
			}),
		},
		{
			Name:  "deleteHistoricActivityInstance",
			Kind:  storage.KindDelete,
			Table: table,
			SQL:   "DELETE FROM ACT_HI_ACTINST WHERE ID_ = ?",
			Args: rowArgs(func(e *HistoricActivityInstanceEntity) []any {
				return []any{e.ID}
			}),
		},
		{
			Name:  "deleteHistoricActivityInstancesByProcessInstanceIds",
			Kind:  storage.KindDelete,
			Table: table,
			SQL:   "DELETE FROM ACT_HI_ACTINST WHERE PROC_INST_ID_ IN (?)",
			Args:  listArg,
			Match: func(_ storage.View, row storage.Row, param any) bool {
				return slices.Contains(param.([]string), row.(*HistoricActivityInstanceEntity).ProcessInstanceID)
			},
		},
		{
			Name:  "selectHistoricActivityInstancesByProcessInstanceId",
			Kind:  storage.KindSelect,
			Table: table,
			SQL:   "SELECT " + historicActivityInstanceColumns + " FROM ACT_HI_ACTINST WHERE PROC_INST_ID_ = ? ORDER BY END_TIME_, ID_",
			Args:  idArg,
			Scan:  scanHistoricActivityInstance,
			Match: func(_ storage.View, row storage.Row, param any) bool {
				return row.(*HistoricActivityInstanceEntity).ProcessInstanceID == param.(string)
			},
			Less: func(a, b storage.Row) bool {
				ea, eb := a.(*HistoricActivityInstanceEntity), b.(*HistoricActivityInstanceEntity)
				if ea.EndTime.UnixMilli() != eb.EndTime.UnixMilli() {
					return ea.EndTime.UnixMilli() < eb.EndTime.UnixMilli()
				}
				return ea.ID < eb.ID
			},
		},
	}
}

// historic variable instances

const historicVariableColumns = "ID_, REV_, NAME_, TYPE_, VAR_INST_ID_, PROC_INST_ID_, CASE_INST_ID_, TASK_ID_, EXECUTION_ID_, PROC_DEF_KEY_, TEXT_, BYTEARRAY_ID_, STATE_, CREATE_TIME_, TENANT_ID_"

func scanHistoricVariable(s storage.Scanner) (any, error) {
	var e HistoricVariableInstanceEntity
	var procInst, caseInst, task, execution, defKey, text, byteArrayID, tenant sql.NullString
	var created int64
	if err := s.Scan(&e.ID, &e.Revision, &e.Name, &e.Type, &e.VariableInstanceID, &procInst, &caseInst, &task, &execution, &defKey,
		&text, &byteArrayID, &e.State, &created, &tenant); err != nil {
		return nil, err
	}
	e.ProcessInstanceID = zsql.FromNullString(procInst)
	e.CaseInstanceID = zsql.FromNullString(caseInst)
	e.TaskID = zsql.FromNullString(task)
	e.ExecutionID = zsql.FromNullString(execution)
	e.ProcessDefinitionKey = zsql.FromNullString(defKey)
	e.TextValue = zsql.FromNullString(text)
	e.ByteArrayID = zsql.FromNullString(byteArrayID)
	e.CreateTime = zsql.FromMillis(created)
	e.TenantID = zsql.FromNullString(tenant)
	return &e, nil
}

func historicVariablesByCreateTime(a, b storage.Row) bool {
	ha, hb := a.(*HistoricVariableInstanceEntity), b.(*HistoricVariableInstanceEntity)
	if ha.CreateTime.UnixMilli() != hb.CreateTime.UnixMilli() {
		return ha.CreateTime.UnixMilli() < hb.CreateTime.UnixMilli()
	}
	return ha.ID < hb.ID
}

type historicVariableBulkDelete struct {
	suffix string
	where  string
	match  func(h *HistoricVariableInstanceEntity, ids []string) bool
}

// historicVariableBulkDeletes are the id list deletes shared by historic
// variables and the byte arrays they own. Task scoped variables are the ones
// local to a non-scope execution.
func historicVariableBulkDeletes() []historicVariableBulkDelete {
	return []historicVariableBulkDelete{
		{
			suffix: "ProcessInstanceIds",
			where:  "PROC_INST_ID_ IN (?)",
			match: func(h *HistoricVariableInstanceEntity, ids []string) bool {
				return h.ProcessInstanceID != "" && slices.Contains(ids, h.ProcessInstanceID)
			},
		},
		{
			suffix: "TaskProcessInstanceIds",
			where:  "TASK_ID_ IS NOT NULL AND PROC_INST_ID_ IN (?)",
			match: func(h *HistoricVariableInstanceEntity, ids []string) bool {
				return h.TaskID != "" && slices.Contains(ids, h.ProcessInstanceID)
			},
		},
		{
			suffix: "CaseInstanceIds",
			where:  "CASE_INST_ID_ IN (?)",
			match: func(h *HistoricVariableInstanceEntity, ids []string) bool {
				return h.CaseInstanceID != "" && slices.Contains(ids, h.CaseInstanceID)
			},
		},
		{
			suffix: "TaskCaseInstanceIds",
			where:  "TASK_ID_ IS NOT NULL AND CASE_INST_ID_ IN (?)",
			match: func(h *HistoricVariableInstanceEntity, ids []string) bool {
				return h.TaskID != "" && h.CaseInstanceID != "" && slices.Contains(ids, h.CaseInstanceID)
			},
		},
	}
}

const historicVariableCriteria = ` WHERE (? = '' OR NAME_ = ?)
	AND (? = 0 OR PROC_INST_ID_ IN (?))
	AND (? = 0 OR CASE_INST_ID_ IN (?))
	AND (? = 0 OR TASK_ID_ IN (?))
	AND (? = 0 OR EXECUTION_ID_ IN (?))
	AND (? = '' OR PROC_DEF_KEY_ = ?)
	AND (? = 0 OR TENANT_ID_ IN (?))
	AND (? = 1 OR STATE_ <> 'DELETED')
	AND (? = 0 OR TENANT_ID_ IS NULL OR TENANT_ID_ IN (?))
	AND (? = 0 OR PROC_DEF_KEY_ IN (?))`

func historicVariableQueryArgs(param any) ([]any, error) {
	q, err := as[*HistoricVariableInstanceQuery](param)
	if err != nil {
		return nil, err
	}
	list := func(ids []string) []any {
		return []any{len(ids), ids}
	}
	args := []any{q.VariableName, q.VariableName}
	args = append(args, list(q.ProcessInstanceIDs)...)
	args = append(args, list(q.CaseInstanceIDs)...)
	args = append(args, list(q.TaskIDs)...)
	args = append(args, list(q.ExecutionIDs)...)
	args = append(args, q.ProcessDefinitionKey, q.ProcessDefinitionKey)
	args = append(args, list(q.TenantIDs)...)
	args = append(args, zsql.FromBool(q.IncludeDeleted))
	args = append(args, zsql.FromBool(q.TenantCheck.Enabled), q.TenantCheck.AuthTenantIDs)
	args = append(args, zsql.FromBool(q.AuthCheck.Enabled), q.AuthCheck.DefinitionKeys)
	return args, nil
}

func matchHistoricVariableQuery(_ storage.View, row storage.Row, param any) bool {
	return param.(*HistoricVariableInstanceQuery).matches(row.(*HistoricVariableInstanceEntity))
}

func historicVariableInstanceStatements() []storage.Statement {
	const table = "ACT_HI_VARINST"
	res := []storage.Statement{
		{
			Name:  "insertHistoricVariableInstance",
			Kind:  storage.KindInsert,
			Table: table,
			SQL:   "INSERT INTO ACT_HI_VARINST (" + historicVariableColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			Args: rowArgs(func(e *HistoricVariableInstanceEntity) []any {
				return []any{e.ID, e.Revision, e.Name, e.Type, e.VariableInstanceID, zsql.ToNullString(e.ProcessInstanceID),
					zsql.ToNullString(e.CaseInstanceID), zsql.ToNullString(e.TaskID), zsql.ToNullString(e.ExecutionID),
					zsql.ToNullString(e.ProcessDefinitionKey), zsql.ToNullString(e.TextValue), zsql.ToNullString(e.ByteArrayID),
					e.State, zsql.ToMillis(e.CreateTime), zsql.ToNullString(e.TenantID)}
			}),
		},
		{
			Name:  "updateHistoricVariableInstance",
			Kind:  storage.KindUpdate,
			Table: table,
			SQL:   "UPDATE ACT_HI_VARINST SET REV_ = ?, TYPE_ = ?, TEXT_ = ?, BYTEARRAY_ID_ = ?, STATE_ = ? WHERE ID_ = ? AND REV_ = ?",
			Args: rowArgs(func(e *HistoricVariableInstanceEntity) []any {
				return []any{e.Revision + 1, e.Type, zsql.ToNullString(e.TextValue), zsql.ToNullString(e.ByteArrayID), e.State, e.ID, e.Revision}
			}),
		},
		{
			Name:  "deleteHistoricVariableInstance",
			Kind:  storage.KindDelete,
			Table: table,
			SQL:   "DELETE FROM ACT_HI_VARINST WHERE ID_ = ? AND REV_ = ?",
			Args: rowArgs(func(e *HistoricVariableInstanceEntity) []any {
				return []any{e.ID, e.Revision}
			}),
		},
		{
			Name:  "selectHistoricVariablesByProcessInstanceId",
			Kind:  storage.KindSelect,
			Table: table,
			SQL:   "SELECT " + historicVariableColumns + " FROM ACT_HI_VARINST WHERE PROC_INST_ID_ = ? ORDER BY CREATE_TIME_, ID_",
			Args:  idArg,
			Scan:  scanHistoricVariable,
			Match: func(_ storage.View, row storage.Row, param any) bool {
				return row.(*HistoricVariableInstanceEntity).ProcessInstanceID == param.(string)
			},
			Less: historicVariablesByCreateTime,
		},
		{
			Name:  "selectHistoricVariablesByCaseInstanceId",
			Kind:  storage.KindSelect,
			Table: table,
			SQL:   "SELECT " + historicVariableColumns + " FROM ACT_HI_VARINST WHERE CASE_INST_ID_ = ? ORDER BY CREATE_TIME_, ID_",
			Args:  idArg,
			Scan:  scanHistoricVariable,
			Match: func(_ storage.View, row storage.Row, param any) bool {
				return row.(*HistoricVariableInstanceEntity).CaseInstanceID == param.(string)
			},
			Less: historicVariablesByCreateTime,
		},
		{
			Name:  "selectHistoricVariableInstanceByVariableInstanceId",
			Kind:  storage.KindSelect,
			Table: table,
			SQL:   "SELECT " + historicVariableColumns + " FROM ACT_HI_VARINST WHERE VAR_INST_ID_ = ? ORDER BY CREATE_TIME_, ID_ LIMIT 1",
			Args:  idArg,
			Scan:  scanHistoricVariable,
			Match: func(_ storage.View, row storage.Row, param any) bool {
				return row.(*HistoricVariableInstanceEntity).VariableInstanceID == param.(string)
			},
			Less: historicVariablesByCreateTime,
		},
		{
			Name:  "selectHistoricVariableInstanceByQueryCriteria",
			Kind:  storage.KindSelect,
			Table: table,
			SQL:   "SELECT " + historicVariableColumns + " FROM ACT_HI_VARINST" + historicVariableCriteria + " ORDER BY CREATE_TIME_, ID_",
			Args:  historicVariableQueryArgs,
			Scan:  scanHistoricVariable,
			Match: matchHistoricVariableQuery,
			Less:  historicVariablesByCreateTime,
		},
		{
			Name:  "selectHistoricVariableInstanceCountByQueryCriteria",
			Kind:  storage.KindSelect,
			Table: table,
			SQL:   "SELECT COUNT(*) FROM ACT_HI_VARINST" + historicVariableCriteria,
			Args:  historicVariableQueryArgs,
			Match: matchHistoricVariableQuery,
			Count: true,
		},
	}
	for _, bulk := range historicVariableBulkDeletes() {
		match := bulk.match
		res = append(res, storage.Statement{
			Name:  "deleteHistoricVariableInstanceBy" + bulk.suffix,
			Kind:  storage.KindDelete,
			Table: table,
			SQL:   "DELETE FROM ACT_HI_VARINST WHERE " + bulk.where,
			Args:  listArg,
			Match: func(_ storage.View, row storage.Row, param any) bool {
				return match(row.(*HistoricVariableInstanceEntity), param.([]string))
			},
		})
	}
	return res
}
