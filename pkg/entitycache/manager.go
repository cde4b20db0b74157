// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package entitycache

import (
	"context"
	"errors"
	"fmt"

	"github.com/pbinitiative/zenpvm/pkg/storage"
)

// EntityManager runs named selects against storage and reconciles the results
// with the cache of the unit of work.
type EntityManager struct {
	cache *Cache
	store storage.Storage
}

func NewEntityManager(cache *Cache, store storage.Storage) *EntityManager {
	return &EntityManager{cache: cache, store: store}
}

func (m *EntityManager) Cache() *Cache {
	return m.cache
}

// SelectOne returns the cached instance for entities already known to the
// unit of work. Entities scheduled for deletion are reported as not found.
func (m *EntityManager) SelectOne(ctx context.Context, statement string, param any) (any, error) {
	res, err := m.store.SelectOne(ctx, statement, param)
	if err != nil {
		return nil, err
	}
	entity, ok := res.(Entity)
	if !ok {
		return res, nil
	}
	cached, alive := m.cache.Load(entity)
	if !alive {
		return nil, storage.ErrNotFound
	}
	return cached, nil
}

func (m *EntityManager) SelectList(ctx context.Context, statement string, param any, page *storage.Page) ([]any, error) {
	rows, err := m.store.SelectList(ctx, statement, param, page)
	if err != nil {
		return nil, err
	}
	res := make([]any, 0, len(rows))
	for _, row := range rows {
		entity, ok := row.(Entity)
		if !ok {
			res = append(res, row)
			continue
		}
		if cached, alive := m.cache.Load(entity); alive {
			res = append(res, cached)
		}
	}
	return res, nil
}

func (m *EntityManager) SelectCount(ctx context.Context, statement string, param any) (int64, error) {
	res, err := m.store.SelectOne(ctx, statement, param)
	if err != nil {
		return 0, err
	}
	count, ok := res.(int64)
	if !ok {
		return 0, fmt.Errorf("%s returned %T instead of a count", statement, res)
	}
	return count, nil
}

func (m *EntityManager) Insert(entity Entity) error {
	return m.cache.Insert(entity)
}

func (m *EntityManager) Update(entity Entity) error {
	return m.cache.Update(entity)
}

func (m *EntityManager) Delete(entity Entity) error {
	return m.cache.Delete(entity)
}

func (m *EntityManager) DeletePreserveOrder(entityType string, statement string, ids []string) error {
	return m.cache.DeletePreserveOrder(entityType, statement, ids)
}

// FindOne is SelectOne returning a typed result. ErrNotFound is returned as is.
func FindOne[T any](ctx context.Context, m *EntityManager, statement string, param any) (T, error) {
	var zero T
	res, err := m.SelectOne(ctx, statement, param)
	if err != nil {
		return zero, err
	}
	typed, ok := res.(T)
	if !ok {
		return zero, fmt.Errorf("%s returned %T", statement, res)
	}
	return typed, nil
}

// FindList is SelectList returning typed results.
func FindList[T any](ctx context.Context, m *EntityManager, statement string, param any, page *storage.Page) ([]T, error) {
	rows, err := m.SelectList(ctx, statement, param, page)
	if err != nil {
		return nil, err
	}
	res := make([]T, 0, len(rows))
	for _, row := range rows {
		typed, ok := row.(T)
		if !ok {
			return nil, fmt.Errorf("%s returned %T", statement, row)
		}
		res = append(res, typed)
	}
	return res, nil
}

// IsNotFound reports whether err is storage.ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}

// FindByID looks the entity up in the cache before asking storage, which
// covers entities inserted by the unit of work and not flushed yet.
func FindByID[T Entity](ctx context.Context, m *EntityManager, entityType string, statement string, id string) (T, error) {
	var zero T
	if cached, state, ok := m.cache.Get(entityType, id); ok {
		if state == StateToDelete {
			return zero, storage.ErrNotFound
		}
		typed, ok := cached.(T)
		if !ok {
			return zero, fmt.Errorf("cached %s[%s] is %T", entityType, id, cached)
		}
		return typed, nil
	}
	return FindOne[T](ctx, m, statement, id)
}
