// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package sqlite runs registry statements against a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pbinitiative/zenpvm/pkg/storage"
)

// Storage is a storage.Storage backed by SQLite. The database is used through a
// single connection so reads wait for an open write transaction to finish.
type Storage struct {
	db       *sql.DB
	registry *storage.Registry
	logger   hclog.Logger
}

var _ storage.Storage = &Storage{}

// Open creates or opens the database at path and applies migrations that were
// not applied yet. Migration i moves the database to user_version i+1.
func Open(path string, registry *storage.Registry, migrations []string) (*Storage, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	// keep the in-memory database alive between statements
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := migrate(db, migrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Storage{
		db:       db,
		registry: registry,
		logger:   hclog.Default().Named("sqlite"),
	}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func migrate(db *sql.DB, migrations []string) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	for i := version; i < len(migrations); i++ {
		if _, err := db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}
	return nil
}

func (s *Storage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB.
func (s *Storage) DB() *sql.DB {
	return s.db
}

func (s *Storage) prepare(statement string, kind storage.StatementKind, param any) (*storage.Statement, string, []any, error) {
	stmt, err := s.registry.Lookup(statement, kind)
	if err != nil {
		return nil, "", nil, err
	}
	if stmt.SQL == "" {
		return nil, "", nil, fmt.Errorf("statement %s has no SQL form", statement)
	}
	var args []any
	if stmt.Args != nil {
		args, err = stmt.Args(param)
		if err != nil {
			return nil, "", nil, fmt.Errorf("%s: %w", statement, err)
		}
	}
	query, args, err := expandLists(stmt.SQL, args)
	if err != nil {
		return nil, "", nil, fmt.Errorf("%s: %w", statement, err)
	}
	return stmt, query, args, nil
}

func (s *Storage) SelectOne(ctx context.Context, statement string, param any) (any, error) {
	stmt, query, args, err := s.prepare(statement, storage.KindSelect, param)
	if err != nil {
		return nil, err
	}
	if stmt.Count {
		var count int64
		if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
			return nil, fmt.Errorf("%s: %w", statement, err)
		}
		return count, nil
	}
	res, err := stmt.Scan(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", statement, err)
	}
	return res, nil
}

func (s *Storage) SelectList(ctx context.Context, statement string, param any, page *storage.Page) ([]any, error) {
	stmt, query, args, err := s.prepare(statement, storage.KindSelect, param)
	if err != nil {
		return nil, err
	}
	if page != nil {
		limit := page.MaxResults
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, page.FirstResult)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", statement, err)
	}
	defer rows.Close()
	res := []any{}
	for rows.Next() {
		item, err := stmt.Scan(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", statement, err)
		}
		res = append(res, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", statement, err)
	}
	return res, nil
}

func (s *Storage) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &StorageTx{db: s, tx: tx}, nil
}

type StorageTx struct {
	db *Storage
	tx *sql.Tx
}

var _ storage.Tx = &StorageTx{}

func (t *StorageTx) exec(ctx context.Context, statement string, kind storage.StatementKind, param any) (int64, error) {
	_, query, args, err := t.db.prepare(statement, kind, param)
	if err != nil {
		return 0, err
	}
	t.db.logger.Trace("exec", "statement", statement, "args", len(args))
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", statement, err)
	}
	return res.RowsAffected()
}

func (t *StorageTx) Insert(ctx context.Context, statement string, row storage.Row) error {
	_, err := t.exec(ctx, statement, storage.KindInsert, row)
	return err
}

func (t *StorageTx) Update(ctx context.Context, statement string, row storage.Row) (int64, error) {
	return t.exec(ctx, statement, storage.KindUpdate, row)
}

func (t *StorageTx) Delete(ctx context.Context, statement string, param any) (int64, error) {
	return t.exec(ctx, statement, storage.KindDelete, param)
}

func (t *StorageTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return storage.ErrTxClosed
		}
		return err
	}
	return nil
}

func (t *StorageTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// expandLists replaces the placeholder of every []string argument with one
// placeholder per element. An empty list becomes NULL which matches nothing
// in an IN clause.
func expandLists(query string, args []any) (string, []any, error) {
	hasList := false
	for _, a := range args {
		if _, ok := a.([]string); ok {
			hasList = true
			break
		}
	}
	if !hasList {
		return query, args, nil
	}
	var b strings.Builder
	expanded := make([]any, 0, len(args))
	i := 0
	for _, r := range query {
		if r != '?' {
			b.WriteRune(r)
			continue
		}
		if i >= len(args) {
			return "", nil, fmt.Errorf("query has more placeholders than arguments")
		}
		list, ok := args[i].([]string)
		i++
		if !ok {
			b.WriteRune('?')
			expanded = append(expanded, args[i-1])
			continue
		}
		if len(list) == 0 {
			b.WriteString("NULL")
			continue
		}
		for j, v := range list {
			if j > 0 {
				b.WriteByte(',')
			}
			b.WriteByte('?')
			expanded = append(expanded, v)
		}
	}
	if i != len(args) {
		return "", nil, fmt.Errorf("query has %d placeholders for %d arguments", i, len(args))
	}
	return b.String(), expanded, nil
}
