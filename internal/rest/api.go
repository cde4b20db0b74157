package rest

import (
	"time"

	"github.com/pbinitiative/zenpvm/pkg/engine"
	"github.com/pbinitiative/zenpvm/pkg/persistence"
)

type ApiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type ProcessDefinition struct {
	Id         string    `json:"id"`
	Key        string    `json:"key"`
	Name       string    `json:"name,omitempty"`
	Version    int       `json:"version"`
	TenantId   string    `json:"tenantId,omitempty"`
	DeployTime time.Time `json:"deployTime"`
}

type ProcessDefinitionsPage struct {
	Items []ProcessDefinition `json:"items"`
	Page  int                 `json:"page"`
	Size  int                 `json:"size"`
}

type StartProcessInstanceRequest struct {
	TenantId       *string        `json:"tenantId,omitempty"`
	CaseInstanceId *string        `json:"caseInstanceId,omitempty"`
	Variables      map[string]any `json:"variables,omitempty"`
}

type Execution struct {
	Id                string `json:"id"`
	ProcessInstanceId string `json:"processInstanceId"`
	ParentId          string `json:"parentId,omitempty"`
	ActivityId        string `json:"activityId"`
	Scope             bool   `json:"scope"`
	Concurrent        bool   `json:"concurrent"`
	Active            bool   `json:"active"`
	State             string `json:"state"`
}

type ProcessInstance struct {
	Id                   string      `json:"id"`
	ProcessDefinitionId  string      `json:"processDefinitionId"`
	ProcessDefinitionKey string      `json:"processDefinitionKey"`
	Ended                bool        `json:"ended"`
	Executions           []Execution `json:"executions"`
}

type SignalRequest struct {
	SignalName *string        `json:"signalName,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type BusinessFaultRequest struct {
	ErrorCode    string         `json:"errorCode"`
	ErrorMessage *string        `json:"errorMessage,omitempty"`
	Variables    map[string]any `json:"variables,omitempty"`
}

type SetVariablesRequest struct {
	Local     *bool          `json:"local,omitempty"`
	Variables map[string]any `json:"variables"`
}

type HistoricVariable struct {
	Id                   string    `json:"id"`
	Name                 string    `json:"name"`
	VariableInstanceId   string    `json:"variableInstanceId"`
	ProcessInstanceId    string    `json:"processInstanceId,omitempty"`
	CaseInstanceId       string    `json:"caseInstanceId,omitempty"`
	TaskId               string    `json:"taskId,omitempty"`
	ExecutionId          string    `json:"executionId,omitempty"`
	ProcessDefinitionKey string    `json:"processDefinitionKey,omitempty"`
	State                string    `json:"state"`
	TenantId             string    `json:"tenantId,omitempty"`
	CreateTime           time.Time `json:"createTime"`
	Value                any       `json:"value"`
}

type HistoricVariablesPage struct {
	Items []HistoricVariable `json:"items"`
	Page  int                `json:"page"`
	Size  int                `json:"size"`
}

type Count struct {
	Count int64 `json:"count"`
}

type HistoricActivity struct {
	Id          string    `json:"id"`
	ExecutionId string    `json:"executionId"`
	ActivityId  string    `json:"activityId"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
	Canceled    bool      `json:"canceled"`
}

type HistoricProcessInstance struct {
	Id                   string             `json:"id"`
	ProcessDefinitionId  string             `json:"processDefinitionId"`
	ProcessDefinitionKey string             `json:"processDefinitionKey"`
	CaseInstanceId       string             `json:"caseInstanceId,omitempty"`
	State                string             `json:"state"`
	StartTime            time.Time          `json:"startTime"`
	EndTime              *time.Time         `json:"endTime,omitempty"`
	DeleteReason         string             `json:"deleteReason,omitempty"`
	TenantId             string             `json:"tenantId,omitempty"`
	Activities           []HistoricActivity `json:"activities"`
}

// valueOr returns the optional request field v, or def when it was omitted.
func valueOr[T any](v *T, def T) T {
	if v == nil {
		return def
	}
	return *v
}

func toProcessDefinition(d engine.Deployment) ProcessDefinition {
	return ProcessDefinition{
		Id:         d.ID,
		Key:        d.Key,
		Name:       d.Name,
		Version:    d.Version,
		TenantId:   d.TenantID,
		DeployTime: d.DeployTime,
	}
}

func toExecution(x engine.ExecutionInfo) Execution {
	return Execution{
		Id:                x.ID,
		ProcessInstanceId: x.ProcessInstanceID,
		ParentId:          x.ParentID,
		ActivityId:        x.ActivityID,
		Scope:             x.Scope,
		Concurrent:        x.Concurrent,
		Active:            x.Active,
		State:             x.State,
	}
}

func toExecutions(executions []engine.ExecutionInfo) []Execution {
	res := make([]Execution, 0, len(executions))
	for _, x := range executions {
		res = append(res, toExecution(x))
	}
	return res
}

func toProcessInstance(pi engine.ProcessInstance) ProcessInstance {
	return ProcessInstance{
		Id:                   pi.ID,
		ProcessDefinitionId:  pi.DefinitionID,
		ProcessDefinitionKey: pi.DefinitionKey,
		Ended:                pi.Ended,
		Executions:           toExecutions(pi.Executions),
	}
}

func toHistoricVariable(v engine.HistoricVariable) HistoricVariable {
	return HistoricVariable{
		Id:                   v.ID,
		Name:                 v.Name,
		VariableInstanceId:   v.VariableInstanceID,
		ProcessInstanceId:    v.ProcessInstanceID,
		CaseInstanceId:       v.CaseInstanceID,
		TaskId:               v.TaskID,
		ExecutionId:          v.ExecutionID,
		ProcessDefinitionKey: v.ProcessDefinitionKey,
		State:                v.State,
		TenantId:             v.TenantID,
		CreateTime:           v.CreateTime,
		Value:                v.Value,
	}
}

func toHistoricProcessInstance(h *persistence.HistoricProcessInstanceEntity, activities []*persistence.HistoricActivityInstanceEntity) HistoricProcessInstance {
	res := HistoricProcessInstance{
		Id:                   h.ID,
		ProcessDefinitionId:  h.ProcessDefinitionID,
		ProcessDefinitionKey: h.ProcessDefinitionKey,
		CaseInstanceId:       h.CaseInstanceID,
		State:                h.State,
		StartTime:            h.StartTime,
		EndTime:              h.EndTime,
		DeleteReason:         h.DeleteReason,
		TenantId:             h.TenantID,
		Activities:           make([]HistoricActivity, 0, len(activities)),
	}
	for _, a := range activities {
		res.Activities = append(res.Activities, HistoricActivity{
			Id:          a.ID,
			ExecutionId: a.ExecutionID,
			ActivityId:  a.ActivityID,
			StartTime:   a.StartTime,
			EndTime:     a.EndTime,
			Canceled:    a.Canceled,
		})
	}
	return res
}
