// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package storagetest contains a backend independent test suite for
// storage.Storage implementations.
package storagetest

import (
	"reflect"
	"strings"
	"testing"

	stdruntime "runtime"

	"github.com/google/uuid"
	"github.com/pbinitiative/zenpvm/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type StorageTestFunc func(s storage.Storage, t *testing.T) func(t *testing.T)

type StorageTester struct{}

func (st *StorageTester) GetTests() map[string]StorageTestFunc {
	tests := map[string]StorageTestFunc{}

	// all test functions need to be registered here
	functions := []StorageTestFunc{
		st.TestInsertAndSelectOne,
		st.TestSelectOneNotFound,
		st.TestSelectListEmpty,
		st.TestSelectListOrderAndPage,
		st.TestCount,
		st.TestOptimisticUpdate,
		st.TestDeleteByRow,
		st.TestBulkDeleteByList,
		st.TestBulkDeleteEmptyList,
		st.TestRollbackDiscardsWrites,
		st.TestDuplicateInsert,
	}

	for _, function := range functions {
		funcName := getFunctionName(function)
		strippedName := funcName[strings.LastIndex(funcName, ".")+1:]
		tests[strippedName] = function
	}
	return tests
}

func getFunctionName(i any) string {
	return stdruntime.FuncForPC(reflect.ValueOf(i).Pointer()).Name()
}

func insert(t *testing.T, s storage.Storage, rows ...*TestRow) {
	tx, err := s.Begin(t.Context())
	require.NoError(t, err)
	for _, row := range rows {
		require.NoError(t, tx.Insert(t.Context(), "insertTestRow", row))
	}
	require.NoError(t, tx.Commit(t.Context()))
}

func newRow(group string, name string) *TestRow {
	return &TestRow{ID: uuid.NewString(), Group: group, Name: name, Revision: 1}
}

func (st *StorageTester) TestInsertAndSelectOne(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		row := newRow(uuid.NewString(), "a")
		insert(t, s, row)

		res, err := s.SelectOne(t.Context(), "selectTestRow", row.ID)
		assert.NoError(t, err)
		assert.Equal(t, row, res)
	}
}

func (st *StorageTester) TestSelectOneNotFound(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		_, err := s.SelectOne(t.Context(), "selectTestRow", uuid.NewString())
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}
}

func (st *StorageTester) TestSelectListEmpty(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		res, err := s.SelectList(t.Context(), "selectTestRowsByGroup", uuid.NewString(), nil)
		assert.NoError(t, err)
		assert.NotNil(t, res)
		assert.Empty(t, res)
	}
}

func (st *StorageTester) TestSelectListOrderAndPage(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		group := uuid.NewString()
		insert(t, s, newRow(group, "c"), newRow(group, "a"), newRow(group, "b"))

		res, err := s.SelectList(t.Context(), "selectTestRowsByGroup", group, nil)
		require.NoError(t, err)
		require.Len(t, res, 3)
		assert.Equal(t, []string{"a", "b", "c"}, names(res))

		res, err = s.SelectList(t.Context(), "selectTestRowsByGroup", group, &storage.Page{FirstResult: 1, MaxResults: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, names(res))
	}
}

func (st *StorageTester) TestCount(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		group := uuid.NewString()
		insert(t, s, newRow(group, "a"), newRow(group, "b"))

		res, err := s.SelectOne(t.Context(), "selectTestRowCountByGroup", group)
		assert.NoError(t, err)
		assert.Equal(t, int64(2), res)
	}
}

func (st *StorageTester) TestOptimisticUpdate(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		row := newRow(uuid.NewString(), "a")
		insert(t, s, row)

		tx, err := s.Begin(t.Context())
		require.NoError(t, err)
		updated := *row
		updated.Name = "b"
		n, err := tx.Update(t.Context(), "updateTestRow", &updated)
		assert.NoError(t, err)
		assert.Equal(t, int64(1), n)

		// stale revision
		n, err = tx.Update(t.Context(), "updateTestRow", &updated)
		assert.NoError(t, err)
		assert.Equal(t, int64(0), n)
		require.NoError(t, tx.Commit(t.Context()))

		res, err := s.SelectOne(t.Context(), "selectTestRow", row.ID)
		require.NoError(t, err)
		assert.Equal(t, "b", res.(*TestRow).Name)
		assert.Equal(t, 2, res.(*TestRow).Revision)
	}
}

func (st *StorageTester) TestDeleteByRow(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		row := newRow(uuid.NewString(), "a")
		insert(t, s, row)

		tx, err := s.Begin(t.Context())
		require.NoError(t, err)
		stale := *row
		stale.Revision = 5
		n, err := tx.Delete(t.Context(), "deleteTestRow", &stale)
		assert.NoError(t, err)
		assert.Equal(t, int64(0), n)
		n, err = tx.Delete(t.Context(), "deleteTestRow", row)
		assert.NoError(t, err)
		assert.Equal(t, int64(1), n)
		require.NoError(t, tx.Commit(t.Context()))

		_, err = s.SelectOne(t.Context(), "selectTestRow", row.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}
}

func (st *StorageTester) TestBulkDeleteByList(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		g1, g2, g3 := uuid.NewString(), uuid.NewString(), uuid.NewString()
		insert(t, s, newRow(g1, "a"), newRow(g2, "b"), newRow(g2, "c"), newRow(g3, "d"))

		tx, err := s.Begin(t.Context())
		require.NoError(t, err)
		n, err := tx.Delete(t.Context(), "deleteTestRowsByGroups", []string{g1, g2})
		assert.NoError(t, err)
		assert.Equal(t, int64(3), n)
		require.NoError(t, tx.Commit(t.Context()))

		res, err := s.SelectList(t.Context(), "selectTestRowsByGroup", g3, nil)
		require.NoError(t, err)
		assert.Len(t, res, 1)
	}
}

func (st *StorageTester) TestBulkDeleteEmptyList(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		group := uuid.NewString()
		insert(t, s, newRow(group, "a"))

		tx, err := s.Begin(t.Context())
		require.NoError(t, err)
		n, err := tx.Delete(t.Context(), "deleteTestRowsByGroups", []string{})
		assert.NoError(t, err)
		assert.Equal(t, int64(0), n)
		require.NoError(t, tx.Commit(t.Context()))

		res, err := s.SelectList(t.Context(), "selectTestRowsByGroup", group, nil)
		require.NoError(t, err)
		assert.Len(t, res, 1)
	}
}

func (st *StorageTester) TestRollbackDiscardsWrites(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		row := newRow(uuid.NewString(), "a")

		tx, err := s.Begin(t.Context())
		require.NoError(t, err)
		require.NoError(t, tx.Insert(t.Context(), "insertTestRow", row))
		require.NoError(t, tx.Rollback(t.Context()))

		_, err = s.SelectOne(t.Context(), "selectTestRow", row.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}
}

func (st *StorageTester) TestDuplicateInsert(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		row := newRow(uuid.NewString(), "a")
		insert(t, s, row)

		tx, err := s.Begin(t.Context())
		require.NoError(t, err)
		err = tx.Insert(t.Context(), "insertTestRow", row)
		assert.Error(t, err)
		require.NoError(t, tx.Rollback(t.Context()))
	}
}

func names(rows []any) []string {
	res := make([]string, 0, len(rows))
	for _, r := range rows {
		res = append(res, r.(*TestRow).Name)
	}
	return res
}
