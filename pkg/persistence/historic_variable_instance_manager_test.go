package persistence_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pbinitiative/zenpvm/internal/appcontext"
	zsql "github.com/pbinitiative/zenpvm/internal/sql"
	"github.com/pbinitiative/zenpvm/pkg/command"
	"github.com/pbinitiative/zenpvm/pkg/persistence"
	"github.com/pbinitiative/zenpvm/pkg/storage"
	"github.com/pbinitiative/zenpvm/pkg/storage/inmemory"
	"github.com/pbinitiative/zenpvm/pkg/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type historyGate struct {
	enabled bool
}

func (g *historyGate) IsHistoryEnabled() bool { return g.enabled }

type testEnv struct {
	store    storage.Storage
	executor *command.Executor
	managers *persistence.Managers
	history  *historyGate
}

var backends = map[string]func(t *testing.T, registry *storage.Registry) storage.Storage{
	"inmemory": func(t *testing.T, registry *storage.Registry) storage.Storage {
		return inmemory.NewStorage(registry)
	},
	"sqlite": func(t *testing.T, registry *storage.Registry) storage.Storage {
		migrations, err := zsql.GetMigrations()
		require.NoError(t, err)
		store, err := sqlite.Open(filepath.Join(t.TempDir(), "pvm.db"), registry, migrations)
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		return store
	},
}

// forEachBackend runs test against a fresh environment of every storage
// backend.
func forEachBackend(t *testing.T, test func(t *testing.T, env *testEnv), configurers ...persistence.QueryConfigurer) {
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			registry, err := persistence.Registry()
			require.NoError(t, err)
			mappings, err := persistence.Mappings()
			require.NoError(t, err)
			store := open(t, registry)
			history := &historyGate{enabled: true}
			test(t, &testEnv{
				store:    store,
				executor: command.NewExecutor(store, mappings),
				managers: persistence.NewManagers(history, configurers...),
				history:  history,
			})
		})
	}
}

func (env *testEnv) run(t *testing.T, ctx context.Context, fn func(cc *command.Context) error) {
	t.Helper()
	_, err := env.executor.Execute(ctx, command.Func(func(cc *command.Context) (any, error) {
		return nil, fn(cc)
	}))
	require.NoError(t, err)
}

var (
	base       = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	largeValue = strings.Repeat("x", persistence.MaxInlineValueSize+1)
)

func historicVariable(id, name, processInstanceID, caseInstanceID, taskID, tenantID, definitionKey string, offset int) *persistence.HistoricVariableInstanceEntity {
	return &persistence.HistoricVariableInstanceEntity{
		ID:                   id,
		Revision:             1,
		Name:                 name,
		VariableInstanceID:   "var-" + id,
		ProcessInstanceID:    processInstanceID,
		CaseInstanceID:       caseInstanceID,
		TaskID:               taskID,
		ExecutionID:          processInstanceID,
		ProcessDefinitionKey: definitionKey,
		State:                persistence.HistoricVariableStateCreated,
		CreateTime:           base.Add(time.Duration(offset) * time.Second),
		TenantID:             tenantID,
	}
}

// seedHistory stores historic variables of pi-1, pi-2 and case-1. The
// document variable of pi-1 lives in a byte array.
func seedHistory(t *testing.T, env *testEnv) {
	t.Helper()
	env.run(t, t.Context(), func(cc *command.Context) error {
		for _, v := range []struct {
			h     *persistence.HistoricVariableInstanceEntity
			value any
		}{
			{historicVariable("h1", "amount", "pi-1", "", "", "tenant-a", "order", 1), 10},
			{historicVariable("h2", "document", "pi-1", "", "", "tenant-a", "order", 2), largeValue},
			{historicVariable("h3", "note", "pi-1", "", "task-1", "tenant-a", "order", 3), "check stock"},
			{historicVariable("h4", "amount", "pi-2", "", "", "tenant-b", "invoice", 4), 20},
			{historicVariable("h5", "shared", "pi-2", "", "", "", "invoice", 5), true},
			{historicVariable("h6", "caseVar", "", "case-1", "task-2", "", "", 6), "c"},
		} {
			encoded, err := persistence.EncodeValue(v.value)
			if err != nil {
				return err
			}
			if err := env.managers.HistoricVariableInstances.Insert(cc, v.h, encoded); err != nil {
				return err
			}
		}
		return nil
	})
}

func historicVariableNames(t *testing.T, env *testEnv, ctx context.Context, query *persistence.HistoricVariableInstanceQuery) []string {
	t.Helper()
	res, err := command.Execute(ctx, env.executor, func(cc *command.Context) ([]string, error) {
		vars, err := env.managers.HistoricVariableInstances.FindHistoricVariableInstancesByQueryCriteria(cc, query, nil)
		if err != nil {
			return nil, err
		}
		names := []string{}
		for _, v := range vars {
			names = append(names, v.ProcessInstanceID+v.CaseInstanceID+"/"+v.Name)
		}
		return names, nil
	})
	require.NoError(t, err)
	return res
}

func documentByteArrayID(t *testing.T, env *testEnv) string {
	t.Helper()
	id, err := command.Execute(t.Context(), env.executor, func(cc *command.Context) (string, error) {
		h, err := env.managers.HistoricVariableInstances.FindHistoricVariableInstanceByVariableInstanceID(cc, "var-h2")
		if err != nil {
			return "", err
		}
		return h.ByteArrayID, nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	return id
}

func byteArrayExists(t *testing.T, env *testEnv, id string) bool {
	t.Helper()
	_, err := env.store.SelectOne(t.Context(), "selectByteArray", id)
	if errors.Is(err, storage.ErrNotFound) {
		return false
	}
	require.NoError(t, err)
	return true
}

func TestDeleteHistoricVariablesByProcessInstance(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		// given
		seedHistory(t, env)
		byteArrayID := documentByteArrayID(t, env)
		require.True(t, byteArrayExists(t, env, byteArrayID))

		// when
		env.run(t, t.Context(), func(cc *command.Context) error {
			return env.managers.HistoricVariableInstances.DeleteHistoricVariableInstancesByProcessInstanceID(cc, "pi-1", "")
		})

		// then
		all := &persistence.HistoricVariableInstanceQuery{}
		assert.Equal(t, []string{"pi-2/amount", "pi-2/shared", "case-1/caseVar"}, historicVariableNames(t, env, t.Context(), all))
		assert.False(t, byteArrayExists(t, env, byteArrayID))
	})
}

func TestDeleteHistoricVariablesByCaseInstance(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		seedHistory(t, env)

		env.run(t, t.Context(), func(cc *command.Context) error {
			return env.managers.HistoricVariableInstances.DeleteHistoricVariableInstanceByCaseInstanceID(cc, "case-1")
		})

		names := historicVariableNames(t, env, t.Context(), &persistence.HistoricVariableInstanceQuery{})
		assert.NotContains(t, names, "case-1/caseVar")
		assert.Len(t, names, 5)
	})
}

func TestDeleteHistoricVariablesRequiresExactlyOneID(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		seedHistory(t, env)

		for _, ids := range [][2]string{{"", ""}, {"pi-1", "case-1"}} {
			_, err := env.executor.Execute(t.Context(), command.Func(func(cc *command.Context) (any, error) {
				err := env.managers.HistoricVariableInstances.DeleteHistoricVariableInstanceByProcessOrCaseInstanceID(cc, ids[0], ids[1])
				assert.False(t, cc.Cache().HasChanges())
				return nil, err
			}))
			assert.ErrorIs(t, err, persistence.ErrValidation)
		}
		assert.Len(t, historicVariableNames(t, env, t.Context(), &persistence.HistoricVariableInstanceQuery{}), 6)
	})
}

func TestDeleteHistoricVariablesWithHistoryDisabled(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		// setup
		seedHistory(t, env)
		env.history.enabled = false

		// when
		env.run(t, t.Context(), func(cc *command.Context) error {
			return env.managers.HistoricVariableInstances.DeleteHistoricVariableInstancesByProcessInstanceID(cc, "pi-1", "")
		})

		// then
		assert.Empty(t, historicVariableNames(t, env, t.Context(), &persistence.HistoricVariableInstanceQuery{}))
		env.history.enabled = true
		assert.Len(t, historicVariableNames(t, env, t.Context(), &persistence.HistoricVariableInstanceQuery{}), 6)
	})
}

func TestDeleteHistoricVariablesIncludesUnflushedVariables(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		seedHistory(t, env)

		env.run(t, t.Context(), func(cc *command.Context) error {
			encoded, err := persistence.EncodeValue(largeValue)
			if err != nil {
				return err
			}
			fresh := historicVariable("h7", "late", "pi-1", "", "", "tenant-a", "order", 7)
			if err := env.managers.HistoricVariableInstances.Insert(cc, fresh, encoded); err != nil {
				return err
			}
			other := historicVariable("h8", "late", "pi-2", "", "", "tenant-b", "invoice", 8)
			if err := env.managers.HistoricVariableInstances.Insert(cc, other, persistence.EncodedValue{Type: persistence.ValueTypeNull}); err != nil {
				return err
			}
			return env.managers.HistoricVariableInstances.DeleteHistoricVariableInstancesByProcessInstanceID(cc, "pi-1", "")
		})

		assert.Equal(t,
			[]string{"pi-2/amount", "pi-2/shared", "case-1/caseVar", "pi-2/late"},
			historicVariableNames(t, env, t.Context(), &persistence.HistoricVariableInstanceQuery{}))
	})
}

func TestDeleteHistoricVariablesByTaskID(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		seedHistory(t, env)

		env.run(t, t.Context(), func(cc *command.Context) error {
			return env.managers.HistoricVariableInstances.DeleteHistoricVariableInstancesByTaskID(cc, "task-1")
		})

		assert.Equal(t, []string{"pi-1/amount", "pi-1/document"},
			historicVariableNames(t, env, t.Context(), &persistence.HistoricVariableInstanceQuery{ProcessInstanceIDs: []string{"pi-1"}}))
	})
}

func TestDeleteHistoricVariablesByTaskIDRequiresID(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		// setup
		seedHistory(t, env)

		// when
		_, err := env.executor.Execute(t.Context(), command.Func(func(cc *command.Context) (any, error) {
			err := env.managers.HistoricVariableInstances.DeleteHistoricVariableInstancesByTaskID(cc, "")
			assert.False(t, cc.Cache().HasChanges())
			return nil, err
		}))

		// then
		assert.ErrorIs(t, err, persistence.ErrValidation)
		assert.Len(t, historicVariableNames(t, env, t.Context(), &persistence.HistoricVariableInstanceQuery{}), 6)
	})
}

func TestHistoricVariableQueryEmptyIDMatchesNothing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		seedHistory(t, env)

		names := historicVariableNames(t, env, t.Context(), &persistence.HistoricVariableInstanceQuery{TaskIDs: []string{""}})

		assert.Empty(t, names)
	})
}

func TestBulkDeleteHistoricVariables(t *testing.T) {
	tests := map[string]struct {
		delete   func(m *persistence.HistoricVariableInstanceManager, cc *command.Context) error
		expected []string
	}{
		"process instance ids": {
			delete: func(m *persistence.HistoricVariableInstanceManager, cc *command.Context) error {
				return m.DeleteHistoricVariableInstancesByProcessInstanceIDs(cc, []string{"pi-1", "unknown"})
			},
			expected: []string{"pi-2/amount", "pi-2/shared", "case-1/caseVar"},
		},
		"task process instance ids": {
			delete: func(m *persistence.HistoricVariableInstanceManager, cc *command.Context) error {
				return m.DeleteHistoricVariableInstancesByTaskProcessInstanceIDs(cc, []string{"pi-1", "pi-2"})
			},
			expected: []string{"pi-1/amount", "pi-1/document", "pi-2/amount", "pi-2/shared", "case-1/caseVar"},
		},
		"case instance ids": {
			delete: func(m *persistence.HistoricVariableInstanceManager, cc *command.Context) error {
				return m.DeleteHistoricVariableInstancesByCaseInstanceIDs(cc, []string{"case-1"})
			},
			expected: []string{"pi-1/amount", "pi-1/document", "pi-1/note", "pi-2/amount", "pi-2/shared"},
		},
		"task case instance ids": {
			delete: func(m *persistence.HistoricVariableInstanceManager, cc *command.Context) error {
				return m.DeleteHistoricVariableInstancesByTaskCaseInstanceIDs(cc, []string{"case-1"})
			},
			expected: []string{"pi-1/amount", "pi-1/document", "pi-1/note", "pi-2/amount", "pi-2/shared"},
		},
		"empty id list": {
			delete: func(m *persistence.HistoricVariableInstanceManager, cc *command.Context) error {
				return m.DeleteHistoricVariableInstancesByProcessInstanceIDs(cc, nil)
			},
			expected: []string{"pi-1/amount", "pi-1/document", "pi-1/note", "pi-2/amount", "pi-2/shared", "case-1/caseVar"},
		},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			forEachBackend(t, func(t *testing.T, env *testEnv) {
				seedHistory(t, env)

				env.run(t, t.Context(), func(cc *command.Context) error {
					return test.delete(env.managers.HistoricVariableInstances, cc)
				})

				assert.Equal(t, test.expected, historicVariableNames(t, env, t.Context(), &persistence.HistoricVariableInstanceQuery{}))
			})
		})
	}
}

func TestBulkDeleteRemovesByteArraysFirst(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		seedHistory(t, env)
		byteArrayID := documentByteArrayID(t, env)

		env.run(t, t.Context(), func(cc *command.Context) error {
			return env.managers.HistoricVariableInstances.DeleteHistoricVariableInstancesByProcessInstanceIDs(cc, []string{"pi-1"})
		})

		assert.False(t, byteArrayExists(t, env, byteArrayID))
	})
}

func TestHistoricVariableQueryCriteria(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		seedHistory(t, env)

		tests := map[string]struct {
			query    persistence.HistoricVariableInstanceQuery
			expected []string
		}{
			"by name": {
				query:    persistence.HistoricVariableInstanceQuery{VariableName: "amount"},
				expected: []string{"pi-1/amount", "pi-2/amount"},
			},
			"by task": {
				query:    persistence.HistoricVariableInstanceQuery{TaskIDs: []string{"task-1", "task-2"}},
				expected: []string{"pi-1/note", "case-1/caseVar"},
			},
			"by definition key": {
				query:    persistence.HistoricVariableInstanceQuery{ProcessDefinitionKey: "invoice"},
				expected: []string{"pi-2/amount", "pi-2/shared"},
			},
			"by tenant": {
				query:    persistence.HistoricVariableInstanceQuery{TenantIDs: []string{"tenant-b"}},
				expected: []string{"pi-2/amount"},
			},
		}
		for name, test := range tests {
			t.Run(name, func(t *testing.T) {
				query := test.query
				assert.Equal(t, test.expected, historicVariableNames(t, env, t.Context(), &query))

				count, err := command.Execute(t.Context(), env.executor, func(cc *command.Context) (int64, error) {
					return env.managers.HistoricVariableInstances.FindHistoricVariableInstanceCountByQueryCriteria(cc, &query)
				})
				require.NoError(t, err)
				assert.Equal(t, int64(len(test.expected)), count)
			})
		}
	})
}

func TestHistoricVariableQueryPaging(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		seedHistory(t, env)

		names, err := command.Execute(t.Context(), env.executor, func(cc *command.Context) ([]string, error) {
			vars, err := env.managers.HistoricVariableInstances.FindHistoricVariableInstancesByQueryCriteria(cc,
				&persistence.HistoricVariableInstanceQuery{}, &storage.Page{FirstResult: 1, MaxResults: 2})
			if err != nil {
				return nil, err
			}
			res := []string{}
			for _, v := range vars {
				res = append(res, v.ID)
			}
			return res, nil
		})

		require.NoError(t, err)
		assert.Equal(t, []string{"h2", "h3"}, names)
	})
}

func TestTenantQueryConfigurer(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		seedHistory(t, env)
		ctx := appcontext.WithTenantIDs(t.Context(), "tenant-b")

		names := historicVariableNames(t, env, ctx, &persistence.HistoricVariableInstanceQuery{})

		assert.Equal(t, []string{"pi-2/amount", "pi-2/shared", "case-1/caseVar"}, names)
	}, persistence.TenantQueryConfigurer{})
}

func TestAuthorizationQueryConfigurer(t *testing.T) {
	permissions := persistence.StaticPermissions{
		"alice": {"order"},
		"admin": {"*"},
	}
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		seedHistory(t, env)

		alice := historicVariableNames(t, env, appcontext.WithUserID(t.Context(), "alice"), &persistence.HistoricVariableInstanceQuery{})
		admin := historicVariableNames(t, env, appcontext.WithUserID(t.Context(), "admin"), &persistence.HistoricVariableInstanceQuery{})
		stranger := historicVariableNames(t, env, appcontext.WithUserID(t.Context(), "bob"), &persistence.HistoricVariableInstanceQuery{})

		assert.Equal(t, []string{"pi-1/amount", "pi-1/document", "pi-1/note"}, alice)
		assert.Len(t, admin, 6)
		assert.Empty(t, stranger)
	}, persistence.AuthorizationQueryConfigurer{Permissions: permissions})
}

func TestQueryConfigurersAreIdempotent(t *testing.T) {
	ctx := appcontext.WithUserID(appcontext.WithTenantIDs(t.Context(), "tenant-a"), "alice")
	configurers := []persistence.QueryConfigurer{
		persistence.TenantQueryConfigurer{},
		persistence.AuthorizationQueryConfigurer{Permissions: persistence.StaticPermissions{"alice": {"order"}}},
	}
	once := &persistence.HistoricVariableInstanceQuery{}
	twice := &persistence.HistoricVariableInstanceQuery{}
	for _, c := range configurers {
		require.NoError(t, c.ConfigureQuery(ctx, once))
		require.NoError(t, c.ConfigureQuery(ctx, twice))
		require.NoError(t, c.ConfigureQuery(ctx, twice))
	}
	assert.Equal(t, once, twice)
	assert.True(t, once.TenantCheck.Enabled)
	assert.Equal(t, []string{"order"}, once.AuthCheck.DefinitionKeys)
}

func TestDeletedHistoricVariablesAreHiddenByDefault(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		seedHistory(t, env)
		env.run(t, t.Context(), func(cc *command.Context) error {
			h, err := env.managers.HistoricVariableInstances.FindHistoricVariableInstanceByVariableInstanceID(cc, "var-h1")
			if err != nil {
				return err
			}
			h.State = persistence.HistoricVariableStateDeleted
			return nil
		})

		visible := historicVariableNames(t, env, t.Context(), &persistence.HistoricVariableInstanceQuery{ProcessInstanceIDs: []string{"pi-1"}})
		all := historicVariableNames(t, env, t.Context(), &persistence.HistoricVariableInstanceQuery{ProcessInstanceIDs: []string{"pi-1"}, IncludeDeleted: true})

		assert.Equal(t, []string{"pi-1/document", "pi-1/note"}, visible)
		assert.Equal(t, []string{"pi-1/amount", "pi-1/document", "pi-1/note"}, all)
	})
}

func TestHistoricVariableValues(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		seedHistory(t, env)

		values, err := command.Execute(t.Context(), env.executor, func(cc *command.Context) ([]any, error) {
			m := env.managers.HistoricVariableInstances
			var res []any
			for _, id := range []string{"var-h1", "var-h2", "var-h5"} {
				h, err := m.FindHistoricVariableInstanceByVariableInstanceID(cc, id)
				if err != nil {
					return nil, err
				}
				v, err := m.Value(cc, h)
				if err != nil {
					return nil, err
				}
				res = append(res, v)
			}
			return res, nil
		})

		require.NoError(t, err)
		assert.Equal(t, []any{float64(10), largeValue, true}, values)
	})
}
