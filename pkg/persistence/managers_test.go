package persistence_test

import (
	"testing"
	"time"

	"github.com/pbinitiative/zenpvm/pkg/command"
	"github.com/pbinitiative/zenpvm/pkg/persistence"
	"github.com/pbinitiative/zenpvm/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rootExecution(id string) *persistence.ExecutionEntity {
	return &persistence.ExecutionEntity{
		ID:                  id,
		Revision:            1,
		ProcessInstanceID:   id,
		ProcessDefinitionID: "def-1",
		ActivityID:          "process",
		Sequence:            1,
		IsScope:             true,
		IsActive:            true,
		State:               "SCOPE_ACTIVE",
		CreateTime:          base,
	}
}

func TestRuntimeVariableValues(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		// setup
		variable := &persistence.VariableInstanceEntity{
			ID:                "v1",
			Revision:          1,
			Name:              "payload",
			ExecutionID:       "e1",
			ProcessInstanceID: "e1",
		}
		env.run(t, t.Context(), func(cc *command.Context) error {
			if err := env.managers.Executions.Insert(cc, rootExecution("e1")); err != nil {
				return err
			}
			return env.managers.Variables.Create(cc, variable, largeValue)
		})
		require.NotEmpty(t, variable.ByteArrayID)
		byteArrayID := variable.ByteArrayID

		// when the value shrinks
		env.run(t, t.Context(), func(cc *command.Context) error {
			vars, err := env.managers.Variables.FindByExecutionID(cc, "e1")
			if err != nil {
				return err
			}
			require.Len(t, vars, 1)
			value, err := env.managers.Variables.Value(cc, vars[0])
			if err != nil {
				return err
			}
			assert.Equal(t, largeValue, value)
			return env.managers.Variables.SetValue(cc, vars[0], map[string]any{"small": true})
		})

		// then
		assert.False(t, byteArrayExists(t, env, byteArrayID))
		value, err := command.Execute(t.Context(), env.executor, func(cc *command.Context) (any, error) {
			vars, err := env.managers.Variables.FindByProcessInstanceID(cc, "e1")
			if err != nil {
				return nil, err
			}
			assert.Equal(t, persistence.ValueTypeJSON, vars[0].Type)
			assert.Equal(t, 2, vars[0].Revision)
			return env.managers.Variables.Value(cc, vars[0])
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"small": true}, value)
	})
}

func TestRuntimeVariableDeleteTakesByteArray(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		variable := &persistence.VariableInstanceEntity{ID: "v1", Revision: 1, Name: "payload", ExecutionID: "e1", ProcessInstanceID: "e1"}
		env.run(t, t.Context(), func(cc *command.Context) error {
			if err := env.managers.Executions.Insert(cc, rootExecution("e1")); err != nil {
				return err
			}
			return env.managers.Variables.Create(cc, variable, largeValue)
		})

		env.run(t, t.Context(), func(cc *command.Context) error {
			vars, err := env.managers.Variables.FindByExecutionID(cc, "e1")
			if err != nil {
				return err
			}
			if err := env.managers.Variables.Delete(cc, vars[0]); err != nil {
				return err
			}
			e, err := env.managers.Executions.FindByID(cc, "e1")
			if err != nil {
				return err
			}
			return env.managers.Executions.Delete(cc, e)
		})

		assert.False(t, byteArrayExists(t, env, variable.ByteArrayID))
		_, err := env.store.SelectOne(t.Context(), "selectExecution", "e1")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestExecutionTreeFlushesParentsFirst(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		// given a child registered before its parent
		child := rootExecution("child")
		child.ProcessInstanceID = "root"
		child.ParentID = "root"
		child.Sequence = 2
		child.IsScope = false
		env.run(t, t.Context(), func(cc *command.Context) error {
			if err := env.managers.Executions.Insert(cc, child); err != nil {
				return err
			}
			return env.managers.Executions.Insert(cc, rootExecution("root"))
		})

		executions, err := command.Execute(t.Context(), env.executor, func(cc *command.Context) ([]*persistence.ExecutionEntity, error) {
			return env.managers.Executions.FindByProcessInstanceID(cc, "root")
		})
		require.NoError(t, err)
		require.Len(t, executions, 2)
		assert.Equal(t, "root", executions[0].ID)
		assert.Equal(t, "root", executions[1].ParentID)

		// when both are removed in one unit of work
		env.run(t, t.Context(), func(cc *command.Context) error {
			for _, id := range []string{"root", "child"} {
				e, err := env.managers.Executions.FindByID(cc, id)
				if err != nil {
					return err
				}
				if err := env.managers.Executions.Delete(cc, e); err != nil {
					return err
				}
			}
			return nil
		})

		executions, err = command.Execute(t.Context(), env.executor, func(cc *command.Context) ([]*persistence.ExecutionEntity, error) {
			return env.managers.Executions.FindByProcessInstanceID(cc, "root")
		})
		require.NoError(t, err)
		assert.Empty(t, executions)
	})
}

func TestLatestProcessDefinitionByKey(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		env.run(t, t.Context(), func(cc *command.Context) error {
			for _, d := range []*persistence.ProcessDefinitionEntity{
				{ID: "order:1", Revision: 1, Key: "order", Version: 1, Resource: []byte("v1"), DeployTime: base},
				{ID: "order:2", Revision: 1, Key: "order", Version: 2, Resource: []byte("v2"), DeployTime: base},
				{ID: "order:1:acme", Revision: 1, Key: "order", Version: 1, Resource: []byte("acme"), TenantID: "acme", DeployTime: base},
			} {
				if err := env.managers.ProcessDefinitions.Insert(cc, d); err != nil {
					return err
				}
			}
			return nil
		})

		latest, err := command.Execute(t.Context(), env.executor, func(cc *command.Context) ([]string, error) {
			var res []string
			for _, tenant := range []string{"", "acme"} {
				d, err := env.managers.ProcessDefinitions.FindLatestByKey(cc, "order", tenant)
				if err != nil {
					return nil, err
				}
				res = append(res, d.ID)
			}
			all, err := env.managers.ProcessDefinitions.FindAll(cc, nil)
			if err != nil {
				return nil, err
			}
			assert.Len(t, all, 3)
			_, err = env.managers.ProcessDefinitions.FindLatestByKey(cc, "missing", "")
			assert.ErrorIs(t, err, storage.ErrNotFound)
			return res, nil
		})

		require.NoError(t, err)
		assert.Equal(t, []string{"order:2", "order:1:acme"}, latest)
	})
}

func TestDeleteHistoricProcessInstance(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		// setup
		seedHistory(t, env)
		ended := base.Add(time.Hour)
		env.run(t, t.Context(), func(cc *command.Context) error {
			for _, id := range []string{"pi-1", "pi-2"} {
				err := env.managers.HistoricProcessInstances.Insert(cc, &persistence.HistoricProcessInstanceEntity{
					ID: id, Revision: 1, ProcessDefinitionID: "def-1", ProcessDefinitionKey: "order",
					StartTime: base, EndTime: &ended, State: persistence.HistoricProcessStateCompleted,
				})
				if err != nil {
					return err
				}
				err = env.managers.HistoricActivityInstances.Insert(cc, &persistence.HistoricActivityInstanceEntity{
					ID: "act-" + id, ProcessInstanceID: id, ExecutionID: id, ActivityID: "end",
					ProcessDefinitionKey: "order", StartTime: base, EndTime: ended,
				})
				if err != nil {
					return err
				}
			}
			return nil
		})

		// when
		env.run(t, t.Context(), func(cc *command.Context) error {
			return env.managers.HistoricProcessInstances.Delete(cc, "pi-1")
		})

		// then
		remaining, err := command.Execute(t.Context(), env.executor, func(cc *command.Context) ([]string, error) {
			instances, err := env.managers.HistoricProcessInstances.FindEndedBefore(cc, ended.Add(time.Second), nil)
			if err != nil {
				return nil, err
			}
			res := []string{}
			for _, h := range instances {
				res = append(res, h.ID)
			}
			activities, err := env.managers.HistoricActivityInstances.FindByProcessInstanceID(cc, "pi-1")
			if err != nil {
				return nil, err
			}
			assert.Empty(t, activities)
			return res, nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"pi-2"}, remaining)
		assert.Equal(t, []string{"pi-2/amount", "pi-2/shared", "case-1/caseVar"},
			historicVariableNames(t, env, t.Context(), &persistence.HistoricVariableInstanceQuery{}))
	})
}

func TestBulkDeleteHistoricProcessInstances(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		seedHistory(t, env)
		ended := base.Add(time.Hour)
		env.run(t, t.Context(), func(cc *command.Context) error {
			return env.managers.HistoricProcessInstances.Insert(cc, &persistence.HistoricProcessInstanceEntity{
				ID: "pi-2", Revision: 1, ProcessDefinitionID: "def-1", ProcessDefinitionKey: "invoice",
				StartTime: base, EndTime: &ended, State: persistence.HistoricProcessStateCompleted,
			})
		})

		env.run(t, t.Context(), func(cc *command.Context) error {
			return env.managers.HistoricProcessInstances.DeleteByIDs(cc, []string{"pi-2"})
		})

		_, err := env.store.SelectOne(t.Context(), "selectHistoricProcessInstance", "pi-2")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.Equal(t, []string{"pi-1/amount", "pi-1/document", "pi-1/note", "case-1/caseVar"},
			historicVariableNames(t, env, t.Context(), &persistence.HistoricVariableInstanceQuery{}))
	})
}
