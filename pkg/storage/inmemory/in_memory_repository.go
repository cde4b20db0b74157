// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package inmemory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/pbinitiative/zenpvm/pkg/storage"
)

type table struct {
	rows map[string]storage.Row
	// insertion order used when a statement defines no ordering
	seq  map[string]int64
	next int64
}

func newTable() *table {
	return &table{rows: map[string]storage.Row{}, seq: map[string]int64{}}
}

func (t *table) clone() *table {
	return &table{rows: maps.Clone(t.rows), seq: maps.Clone(t.seq), next: t.next}
}

func (t *table) ordered(less func(a, b storage.Row) bool) []storage.Row {
	res := slices.Collect(maps.Values(t.rows))
	slices.SortFunc(res, func(a, b storage.Row) int {
		if less != nil {
			if less(a, b) {
				return -1
			}
			if less(b, a) {
				return 1
			}
		}
		return int(t.seq[a.RowKey()] - t.seq[b.RowKey()])
	})
	return res
}

type tables map[string]*table

func (ts tables) Rows(name string) []storage.Row {
	t, ok := ts[name]
	if !ok {
		return nil
	}
	return t.ordered(nil)
}

// Storage keeps rows in memory,
// please use NewStorage to create a new object of this type.
type Storage struct {
	registry *storage.Registry

	mu     sync.RWMutex
	tables tables
	// held by the open write transaction
	writer sync.Mutex
}

func NewStorage(registry *storage.Registry) *Storage {
	return &Storage{
		registry: registry,
		tables:   tables{},
	}
}

var _ storage.Storage = &Storage{}

func (mem *Storage) snapshot() tables {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	return maps.Clone(mem.tables)
}

func (mem *Storage) SelectOne(ctx context.Context, statement string, param any) (any, error) {
	stmt, err := mem.registry.Lookup(statement, storage.KindSelect)
	if err != nil {
		return nil, err
	}
	matches := selectRows(mem.snapshot(), stmt, param)
	if stmt.Count {
		return int64(len(matches)), nil
	}
	if len(matches) == 0 {
		return nil, storage.ErrNotFound
	}
	return matches[0], nil
}

func (mem *Storage) SelectList(ctx context.Context, statement string, param any, page *storage.Page) ([]any, error) {
	stmt, err := mem.registry.Lookup(statement, storage.KindSelect)
	if err != nil {
		return nil, err
	}
	matches := selectRows(mem.snapshot(), stmt, param)
	return page.Apply(matches), nil
}

func selectRows(view tables, stmt *storage.Statement, param any) []any {
	t, ok := view[stmt.Table]
	if !ok {
		return []any{}
	}
	res := []any{}
	for _, row := range t.ordered(stmt.Less) {
		if stmt.Match != nil && !stmt.Match(view, row, param) {
			continue
		}
		res = append(res, row.CopyRow(row.RowRevision()))
	}
	return res
}

// Begin blocks until the previous write transaction finishes.
func (mem *Storage) Begin(ctx context.Context) (storage.Tx, error) {
	mem.writer.Lock()
	return &StorageTx{
		db:      mem,
		tables:  mem.snapshot(),
		written: map[string]bool{},
	}, nil
}

func (mem *Storage) Close() error {
	return nil
}

// StorageTx works on a copy of the tables it writes to and publishes them on
// Commit.
type StorageTx struct {
	db      *Storage
	tables  tables
	written map[string]bool
	closed  bool
}

var _ storage.Tx = &StorageTx{}

func (tx *StorageTx) writable(name string) *table {
	if tx.written[name] {
		return tx.tables[name]
	}
	t, ok := tx.tables[name]
	if ok {
		t = t.clone()
	} else {
		t = newTable()
	}
	tx.tables[name] = t
	tx.written[name] = true
	return t
}

func (tx *StorageTx) lookup(statement string, kind storage.StatementKind) (*storage.Statement, error) {
	if tx.closed {
		return nil, storage.ErrTxClosed
	}
	return tx.db.registry.Lookup(statement, kind)
}

func (tx *StorageTx) Insert(ctx context.Context, statement string, row storage.Row) error {
	stmt, err := tx.lookup(statement, storage.KindInsert)
	if err != nil {
		return err
	}
	t := tx.writable(stmt.Table)
	key := row.RowKey()
	if _, exists := t.rows[key]; exists {
		return fmt.Errorf("%s: duplicate key %s in %s", statement, key, stmt.Table)
	}
	t.next++
	t.rows[key] = row.CopyRow(row.RowRevision())
	t.seq[key] = t.next
	return nil
}

func (tx *StorageTx) Update(ctx context.Context, statement string, row storage.Row) (int64, error) {
	stmt, err := tx.lookup(statement, storage.KindUpdate)
	if err != nil {
		return 0, err
	}
	current, ok := tx.tables[stmt.Table]
	if !ok {
		return 0, nil
	}
	key := row.RowKey()
	stored, ok := current.rows[key]
	if !ok {
		return 0, nil
	}
	revision := row.RowRevision()
	if revision > 0 {
		if stored.RowRevision() != revision {
			return 0, nil
		}
		revision++
	}
	tx.writable(stmt.Table).rows[key] = row.CopyRow(revision)
	return 1, nil
}

func (tx *StorageTx) Delete(ctx context.Context, statement string, param any) (int64, error) {
	stmt, err := tx.lookup(statement, storage.KindDelete)
	if err != nil {
		return 0, err
	}
	current, ok := tx.tables[stmt.Table]
	if !ok {
		return 0, nil
	}
	var keys []string
	if row, isRow := param.(storage.Row); isRow && stmt.Match == nil {
		stored, ok := current.rows[row.RowKey()]
		if !ok {
			return 0, nil
		}
		if row.RowRevision() > 0 && stored.RowRevision() != row.RowRevision() {
			return 0, nil
		}
		keys = append(keys, row.RowKey())
	} else {
		if stmt.Match == nil {
			return 0, fmt.Errorf("%s: bulk delete without predicate", statement)
		}
		for _, row := range current.ordered(nil) {
			if stmt.Match(tx.tables, row, param) {
				keys = append(keys, row.RowKey())
			}
		}
	}
	if len(keys) == 0 {
		return 0, nil
	}
	t := tx.writable(stmt.Table)
	for _, key := range keys {
		delete(t.rows, key)
		delete(t.seq, key)
	}
	return int64(len(keys)), nil
}

func (tx *StorageTx) Commit(ctx context.Context) error {
	if tx.closed {
		return storage.ErrTxClosed
	}
	tx.closed = true
	tx.db.mu.Lock()
	for name := range tx.written {
		tx.db.tables[name] = tx.tables[name]
	}
	tx.db.mu.Unlock()
	tx.db.writer.Unlock()
	return nil
}

func (tx *StorageTx) Rollback(ctx context.Context) error {
	if tx.closed {
		return nil
	}
	tx.closed = true
	tx.db.writer.Unlock()
	return nil
}

// Rows returns committed rows of a table in insertion order.
func (mem *Storage) Rows(name string) []storage.Row {
	return mem.snapshot().Rows(name)
}
