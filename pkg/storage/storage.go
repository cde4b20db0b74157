// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package storage

import (
	"context"
	"errors"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrUnknownStatement = errors.New("unknown statement")
	ErrTxClosed         = errors.New("transaction already closed")
)

// Storage executes named statements. Reads run outside of any transaction and
// observe committed state only.
type Storage interface {
	// SelectOne runs a select statement expected to produce at most one row.
	SelectOne(ctx context.Context, statement string, param any) (any, error)
	// SelectList runs a select statement, rows are returned in statement order.
	// A nil page returns all rows.
	SelectList(ctx context.Context, statement string, param any, page *Page) ([]any, error)
	// Begin opens a write transaction. The backend may block until other
	// writers finish.
	Begin(ctx context.Context) (Tx, error)
	Close() error
}

// Tx applies writes atomically on Commit.
type Tx interface {
	Insert(ctx context.Context, statement string, row Row) error
	// Update returns the number of updated rows. Revisioned rows are only
	// updated when the stored revision equals row.RowRevision().
	Update(ctx context.Context, statement string, row Row) (int64, error)
	// Delete runs a delete statement with either a Row or a bulk parameter.
	Delete(ctx context.Context, statement string, param any) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Row is implemented by every value written through a Tx.
type Row interface {
	RowKey() string
	// RowRevision is the revision the row was read at, 0 disables revision
	// checks for the row.
	RowRevision() int
	// CopyRow returns a deep copy carrying the given revision.
	CopyRow(revision int) Row
}

// Page bounds a list select.
type Page struct {
	FirstResult int
	MaxResults  int
}

// Apply cuts rows to the page bounds.
func (p *Page) Apply(rows []any) []any {
	if p == nil {
		return rows
	}
	if p.FirstResult >= len(rows) {
		return []any{}
	}
	rows = rows[p.FirstResult:]
	if p.MaxResults > 0 && p.MaxResults < len(rows) {
		rows = rows[:p.MaxResults]
	}
	return rows
}
