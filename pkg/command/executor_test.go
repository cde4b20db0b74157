// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package command

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pbinitiative/zenpvm/internal/appcontext"
	"github.com/pbinitiative/zenpvm/pkg/entitycache"
	"github.com/pbinitiative/zenpvm/pkg/pvm"
	"github.com/pbinitiative/zenpvm/pkg/storage"
	"github.com/pbinitiative/zenpvm/pkg/storage/inmemory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	ID       string
	Value    int
	Revision int
}

func (c *counter) EntityType() string       { return "Counter" }
func (c *counter) RowKey() string           { return c.ID }
func (c *counter) RowRevision() int         { return c.Revision }
func (c *counter) SetRevision(revision int) { c.Revision = revision }
func (c *counter) PersistentState() any     { return c.Value }
func (c *counter) CopyRow(revision int) storage.Row {
	cp := *c
	cp.Revision = revision
	return &cp
}

func testStore(t *testing.T) (*countingStorage, *entitycache.Mappings) {
	registry, err := storage.NewRegistry([]storage.Statement{
		{Name: "insertCounter", Kind: storage.KindInsert, Table: "COUNTER"},
		{Name: "updateCounter", Kind: storage.KindUpdate, Table: "COUNTER"},
		{Name: "deleteCounter", Kind: storage.KindDelete, Table: "COUNTER"},
		{
			Name:  "selectCounter",
			Kind:  storage.KindSelect,
			Table: "COUNTER",
			Match: func(_ storage.View, row storage.Row, param any) bool {
				return row.RowKey() == param.(string)
			},
		},
	})
	require.NoError(t, err)
	mappings, err := entitycache.NewMappings(entitycache.Mapping{
		Type:   "Counter",
		Insert: "insertCounter",
		Update: "updateCounter",
		Delete: "deleteCounter",
	})
	require.NoError(t, err)
	return &countingStorage{Storage: inmemory.NewStorage(registry)}, mappings
}

type countingStorage struct {
	storage.Storage
	begins  atomic.Int32
	commits atomic.Int32
}

func (s *countingStorage) Begin(ctx context.Context) (storage.Tx, error) {
	s.begins.Add(1)
	tx, err := s.Storage.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &countingTx{Tx: tx, s: s}, nil
}

type countingTx struct {
	storage.Tx
	s *countingStorage
}

func (tx *countingTx) Commit(ctx context.Context) error {
	tx.s.commits.Add(1)
	return tx.Tx.Commit(ctx)
}

func fastRetry(attempts int) ExecutorOption {
	return WithRetry(RetryConfig{MaxAttempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond})
}

func loadCounter(cc *Context, id string) (*counter, error) {
	return entitycache.FindOne[*counter](cc.Context(), cc.Entities(), "selectCounter", id)
}

func seed(t *testing.T, e *Executor, id string, value int) {
	_, err := e.Execute(t.Context(), Func(func(cc *Context) (any, error) {
		return nil, cc.Entities().Insert(&counter{ID: id, Value: value, Revision: 1})
	}))
	require.NoError(t, err)
}

func TestSuccessfulCommandFlushesAndCommitsOnce(t *testing.T) {
	// setup
	store, mappings := testStore(t)
	e := NewExecutor(store, mappings)

	// when
	res, err := Execute(t.Context(), e, func(cc *Context) (string, error) {
		return "done", cc.Entities().Insert(&counter{ID: "c1", Value: 1, Revision: 1})
	})

	// then
	require.NoError(t, err)
	assert.Equal(t, "done", res)
	assert.Equal(t, int32(1), store.begins.Load())
	assert.Equal(t, int32(1), store.commits.Load())
	row, err := store.SelectOne(t.Context(), "selectCounter", "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, row.(*counter).Value)
}

func TestFatalErrorRollsBackEverything(t *testing.T) {
	// setup
	store, mappings := testStore(t)
	e := NewExecutor(store, mappings)
	seed(t, e, "c1", 1)
	fatal := errors.New("boom")
	cleanups := 0
	var cleanupErr error

	// when
	_, err := e.Execute(t.Context(), Func(func(cc *Context) (any, error) {
		cc.OnClose(func(err error) {
			cleanups++
			cleanupErr = err
		})
		c, err := loadCounter(cc, "c1")
		if err != nil {
			return nil, err
		}
		c.Value = 42
		if err := cc.Entities().Insert(&counter{ID: "c2", Revision: 1}); err != nil {
			return nil, err
		}
		return nil, fatal
	}))

	// then
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, cleanups)
	assert.ErrorIs(t, cleanupErr, fatal)
	_, err = store.SelectOne(t.Context(), "selectCounter", "c2")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	row, err := store.SelectOne(t.Context(), "selectCounter", "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, row.(*counter).Value)
	// only the seeding command committed
	assert.Equal(t, int32(1), store.commits.Load())
}

func TestNestedCommandSharesContext(t *testing.T) {
	// setup
	store, mappings := testStore(t)
	e := NewExecutor(store, mappings)
	var outer, inner *Context

	// when
	_, err := e.Execute(t.Context(), Func(func(cc *Context) (any, error) {
		outer = cc
		if err := cc.Entities().Insert(&counter{ID: "outer", Revision: 1}); err != nil {
			return nil, err
		}
		return e.Execute(cc.Context(), Func(func(cc *Context) (any, error) {
			inner = cc
			return nil, cc.Entities().Insert(&counter{ID: "inner", Revision: 1})
		}))
	}))

	// then
	require.NoError(t, err)
	assert.Same(t, outer, inner)
	assert.Equal(t, int32(1), store.begins.Load())
	assert.Equal(t, int32(1), store.commits.Load())
	_, err = store.SelectOne(t.Context(), "selectCounter", "inner")
	assert.NoError(t, err)
}

func TestNestedFailureRollsBackOuter(t *testing.T) {
	store, mappings := testStore(t)
	e := NewExecutor(store, mappings)
	fatal := errors.New("inner failed")

	_, err := e.Execute(t.Context(), Func(func(cc *Context) (any, error) {
		if err := cc.Entities().Insert(&counter{ID: "outer", Revision: 1}); err != nil {
			return nil, err
		}
		return cc.ExecuteNested(Func(func(cc *Context) (any, error) {
			return nil, fatal
		}))
	}))

	assert.ErrorIs(t, err, fatal)
	_, err = store.SelectOne(t.Context(), "selectCounter", "outer")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIgnoredNestedFailureStillRollsBack(t *testing.T) {
	// setup
	store, mappings := testStore(t)
	e := NewExecutor(store, mappings)
	var nestedErr error
	postCommit := false

	// when
	_, err := e.Execute(t.Context(), Func(func(cc *Context) (any, error) {
		cc.AddPostCommitAction(func(context.Context) { postCommit = true })
		if err := cc.Entities().Insert(&counter{ID: "outer", Revision: 1}); err != nil {
			return nil, err
		}
		_, nestedErr = e.Execute(cc.Context(), Func(func(cc *Context) (any, error) {
			return nil, errors.New("inner failed")
		}))
		assert.True(t, cc.IsRollbackOnly())
		return nil, nil
	}))

	// then
	require.NoError(t, err)
	assert.EqualError(t, nestedErr, "inner failed")
	assert.False(t, postCommit)
	assert.Equal(t, int32(0), store.commits.Load())
	_, err = store.SelectOne(t.Context(), "selectCounter", "outer")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestNestedBusinessFaultKeepsContextCommittable(t *testing.T) {
	// setup
	store, mappings := testStore(t)
	e := NewExecutor(store, mappings)

	// when
	_, err := e.Execute(t.Context(), Func(func(cc *Context) (any, error) {
		if err := cc.Entities().Insert(&counter{ID: "outer", Revision: 1}); err != nil {
			return nil, err
		}
		_, nestedErr := cc.ExecuteNested(Func(func(cc *Context) (any, error) {
			return nil, pvm.NewBusinessFault("REJECTED", "", nil)
		}))
		require.Error(t, nestedErr)
		assert.False(t, cc.IsRollbackOnly())
		return nil, nil
	}))

	// then
	require.NoError(t, err)
	assert.Equal(t, int32(1), store.commits.Load())
	_, err = store.SelectOne(t.Context(), "selectCounter", "outer")
	assert.NoError(t, err)
}

func TestConflictIsRetried(t *testing.T) {
	// setup
	store, mappings := testStore(t)
	e := NewExecutor(store, mappings, fastRetry(3))
	seed(t, e, "c1", 0)
	attempts := 0

	// when
	_, err := e.Execute(t.Context(), Func(func(cc *Context) (any, error) {
		attempts++
		c, err := loadCounter(cc, "c1")
		if err != nil {
			return nil, err
		}
		if attempts == 1 {
			// a concurrent command wins the race
			_, err := e.Execute(context.Background(), Func(func(other *Context) (any, error) {
				theirs, err := loadCounter(other, "c1")
				if err != nil {
					return nil, err
				}
				theirs.Value += 10
				return nil, nil
			}))
			if err != nil {
				return nil, err
			}
		}
		c.Value++
		return nil, nil
	}))

	// then
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	row, err := store.SelectOne(t.Context(), "selectCounter", "c1")
	require.NoError(t, err)
	assert.Equal(t, 11, row.(*counter).Value)
}

func TestConflictRetriesExhausted(t *testing.T) {
	// setup
	store, mappings := testStore(t)
	e := NewExecutor(store, mappings, fastRetry(3))
	seed(t, e, "c1", 0)
	attempts := 0

	// when
	_, err := e.Execute(t.Context(), Func(func(cc *Context) (any, error) {
		attempts++
		c, err := loadCounter(cc, "c1")
		if err != nil {
			return nil, err
		}
		_, err = e.Execute(context.Background(), Func(func(other *Context) (any, error) {
			theirs, err := loadCounter(other, "c1")
			if err != nil {
				return nil, err
			}
			theirs.Value++
			return nil, nil
		}))
		if err != nil {
			return nil, err
		}
		c.Value = 100
		return nil, nil
	}))

	// then
	assert.Equal(t, 3, attempts)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.True(t, IsOptimisticLockingError(err))
	var conflict *entitycache.OptimisticLockingError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "Counter", conflict.EntityType)
	assert.Equal(t, "c1", conflict.EntityID)
	assert.Contains(t, err.Error(), "Counter[c1]")
}

func TestConcurrentCommandsOnlyOneCommits(t *testing.T) {
	// setup
	store, mappings := testStore(t)
	e := NewExecutor(store, mappings, fastRetry(1))
	seed(t, e, "c1", 0)
	var loaded sync.WaitGroup
	loaded.Add(2)

	// when
	errs := make([]error, 2)
	var done sync.WaitGroup
	for i := range 2 {
		done.Add(1)
		go func() {
			defer done.Done()
			_, errs[i] = e.Execute(context.Background(), Func(func(cc *Context) (any, error) {
				c, err := loadCounter(cc, "c1")
				loaded.Done()
				if err != nil {
					return nil, err
				}
				loaded.Wait()
				c.Value = i + 1
				return nil, nil
			}))
		}()
	}
	done.Wait()

	// then
	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
			assert.ErrorIs(t, err, ErrRetriesExhausted)
			assert.True(t, IsOptimisticLockingError(err))
		}
	}
	assert.Equal(t, 1, failed)
}

func TestRollbackOnlyDiscardsChanges(t *testing.T) {
	store, mappings := testStore(t)
	e := NewExecutor(store, mappings)
	postCommit := false

	_, err := e.Execute(t.Context(), Func(func(cc *Context) (any, error) {
		cc.AddPostCommitAction(func(context.Context) { postCommit = true })
		cc.SetRollbackOnly()
		return nil, cc.Entities().Insert(&counter{ID: "c1", Revision: 1})
	}))

	assert.NoError(t, err)
	assert.False(t, postCommit)
	assert.Equal(t, int32(0), store.commits.Load())
	_, err = store.SelectOne(t.Context(), "selectCounter", "c1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPreFlushAndPostCommitActions(t *testing.T) {
	store, mappings := testStore(t)
	e := NewExecutor(store, mappings)
	var order []string

	_, err := e.Execute(t.Context(), Func(func(cc *Context) (any, error) {
		cc.AddPreFlushAction(func(cc *Context) error {
			order = append(order, "pre-flush")
			return cc.Entities().Insert(&counter{ID: "late", Revision: 1})
		})
		cc.AddPostCommitAction(func(ctx context.Context) {
			_, err := store.SelectOne(ctx, "selectCounter", "late")
			assert.NoError(t, err)
			order = append(order, "post-commit")
		})
		cc.OnClose(func(error) { order = append(order, "cleanup") })
		return nil, nil
	}))

	require.NoError(t, err)
	assert.Equal(t, []string{"pre-flush", "post-commit", "cleanup"}, order)
}

func TestContextClosesOnce(t *testing.T) {
	store, mappings := testStore(t)
	var captured *Context
	e := NewExecutor(store, mappings)

	_, err := e.Execute(t.Context(), Func(func(cc *Context) (any, error) {
		captured = cc
		return nil, nil
	}))
	require.NoError(t, err)

	assert.ErrorIs(t, captured.Close(nil), ErrContextClosed)
	_, err = captured.ExecuteNested(Func(func(*Context) (any, error) { return nil, nil }))
	assert.ErrorIs(t, err, ErrContextClosed)
}

func TestReadOnlyCommandStillCommitsOnce(t *testing.T) {
	store, mappings := testStore(t)
	e := NewExecutor(store, mappings)

	_, err := e.Execute(t.Context(), Func(func(cc *Context) (any, error) { return nil, nil }))

	require.NoError(t, err)
	assert.Equal(t, int32(1), store.begins.Load())
	assert.Equal(t, int32(1), store.commits.Load())
}

func TestContextCarriesCommandID(t *testing.T) {
	// setup
	store, mappings := testStore(t)
	e := NewExecutor(store, mappings)

	// when
	var id, propagated string
	_, err := e.Execute(t.Context(), Func(func(cc *Context) (any, error) {
		id = cc.ID()
		propagated, _ = appcontext.GetCommandID(cc.Context())
		return nil, nil
	}))

	// then
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, propagated)
}
