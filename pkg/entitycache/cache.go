// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package entitycache tracks entities read and written by one unit of work and
// flushes them to storage in an order that respects row dependencies.
package entitycache

import (
	"context"
	"fmt"
	"reflect"
	"slices"

	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenpvm/pkg/storage"
)

type State int

const (
	StateClean State = iota
	StateDirty
	StateToInsert
	StateToDelete
)

func (s State) String() string {
	switch s {
	case StateClean:
		return "loaded-clean"
	case StateDirty:
		return "loaded-dirty"
	case StateToInsert:
		return "to-insert"
	case StateToDelete:
		return "to-delete"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type key struct {
	entityType string
	id         string
}

type entry struct {
	entity   Entity
	state    State
	snapshot any
	seq      int
}

type bulkOperation struct {
	entityType string
	statement  string
	ids        []string
}

// Cache is the per unit of work identity map. It is not safe for concurrent
// use.
type Cache struct {
	mappings *Mappings
	entries  map[key]*entry
	seq      int
	bulk     []bulkOperation
	flushed  bool
	logger   hclog.Logger
}

func NewCache(mappings *Mappings, logger hclog.Logger) *Cache {
	if logger == nil {
		logger = hclog.Default().Named("entity-cache")
	}
	return &Cache{
		mappings: mappings,
		entries:  map[key]*entry{},
		logger:   logger,
	}
}

// legal reports whether an entity cached in state from may be registered as to.
func legal(from, to State) bool {
	switch from {
	case StateClean:
		return to != StateToInsert
	case StateDirty:
		return to == StateDirty || to == StateToDelete
	case StateToInsert:
		return to == StateDirty || to == StateToDelete
	case StateToDelete:
		return to == StateToDelete
	}
	return false
}

// Register puts entity into the cache in state. A cached identity only accepts
// legal transitions, anything else returns *DuplicateRegistrationError and
// leaves the cached state untouched.
func (c *Cache) Register(entity Entity, state State) error {
	if _, err := c.mappings.Lookup(entity.EntityType()); err != nil {
		return err
	}
	k := key{entityType: entity.EntityType(), id: entity.RowKey()}
	current, ok := c.entries[k]
	if !ok {
		c.seq++
		e := &entry{entity: entity, state: state, seq: c.seq}
		if state == StateClean {
			e.snapshot = entity.PersistentState()
		}
		c.entries[k] = e
		return nil
	}
	if !legal(current.state, state) {
		return &DuplicateRegistrationError{
			EntityType: k.entityType,
			EntityID:   k.id,
			Current:    current.state,
			Requested:  state,
		}
	}
	switch {
	case current.state == StateToInsert && state == StateToDelete:
		// never reached the database
		delete(c.entries, k)
		return nil
	case current.state == StateToInsert:
		// stays an insert, the row is written with its latest state
	case current.state == StateClean && state == StateClean:
		return nil
	default:
		current.state = state
	}
	current.entity = entity
	return nil
}

// Load registers an entity read from storage. An already cached instance with
// the same identity wins so the unit of work sees its own changes.
func (c *Cache) Load(entity Entity) (Entity, bool) {
	k := key{entityType: entity.EntityType(), id: entity.RowKey()}
	if current, ok := c.entries[k]; ok {
		return current.entity, current.state != StateToDelete
	}
	if err := c.Register(entity, StateClean); err != nil {
		c.logger.Warn("failed to cache loaded entity", "type", k.entityType, "id", k.id, "err", err)
	}
	return entity, true
}

func (c *Cache) Insert(entity Entity) error {
	return c.Register(entity, StateToInsert)
}

// Update marks entity dirty. Loaded entities are detected as dirty at flush
// time without calling Update.
func (c *Cache) Update(entity Entity) error {
	return c.Register(entity, StateDirty)
}

func (c *Cache) Delete(entity Entity) error {
	return c.Register(entity, StateToDelete)
}

// Get returns the cached entity with its state.
func (c *Cache) Get(entityType string, id string) (Entity, State, bool) {
	e, ok := c.entries[key{entityType: entityType, id: id}]
	if !ok {
		return nil, 0, false
	}
	return e.entity, e.state, true
}

// EntitiesByType returns cached entities of entityType which are not scheduled
// for deletion, in registration order. It covers entities that were not
// flushed yet which queries against storage cannot see.
func (c *Cache) EntitiesByType(entityType string) []Entity {
	res := []Entity{}
	for _, e := range c.sorted() {
		if e.entity.EntityType() == entityType && e.state != StateToDelete {
			res = append(res, e.entity)
		}
	}
	return res
}

// DeletePreserveOrder queues a bulk delete of rows of entityType. Bulk deletes
// are flushed after all other operations in the order they were queued. An
// empty id list is ignored.
func (c *Cache) DeletePreserveOrder(entityType string, statement string, ids []string) error {
	if _, err := c.mappings.Lookup(entityType); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	c.bulk = append(c.bulk, bulkOperation{
		entityType: entityType,
		statement:  statement,
		ids:        slices.Clone(ids),
	})
	return nil
}

func (c *Cache) sorted() []*entry {
	res := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		res = append(res, e)
	}
	slices.SortFunc(res, func(a, b *entry) int { return a.seq - b.seq })
	return res
}

// HasChanges reports whether Flush would issue any statement.
func (c *Cache) HasChanges() bool {
	if len(c.bulk) > 0 {
		return true
	}
	for _, e := range c.entries {
		if e.state != StateClean || !reflect.DeepEqual(e.snapshot, e.entity.PersistentState()) {
			return true
		}
	}
	return false
}

// Flush writes all changes through tx: inserts in dependency order, then
// updates, then deletes in reverse dependency order and finally the bulk
// deletes in the order they were queued. A cache can be flushed once.
func (c *Cache) Flush(ctx context.Context, tx storage.Tx) error {
	if c.flushed {
		return ErrAlreadyFlushed
	}
	c.flushed = true

	byState := map[State][]*entry{}
	for _, e := range c.sorted() {
		if e.state == StateClean && !reflect.DeepEqual(e.snapshot, e.entity.PersistentState()) {
			e.state = StateDirty
		}
		byState[e.state] = append(byState[e.state], e)
	}

	for _, t := range c.mappings.order {
		mapping := c.mappings.byType[t]
		for _, e := range orderByParent(mapping, ofType(byState[StateToInsert], t)) {
			c.logger.Trace("insert", "type", t, "id", e.entity.RowKey())
			if err := tx.Insert(ctx, mapping.Insert, e.entity); err != nil {
				return fmt.Errorf("failed to insert %s[%s]: %w", t, e.entity.RowKey(), err)
			}
		}
	}
	for _, t := range c.mappings.order {
		mapping := c.mappings.byType[t]
		for _, e := range ofType(byState[StateDirty], t) {
			c.logger.Trace("update", "type", t, "id", e.entity.RowKey())
			n, err := tx.Update(ctx, mapping.Update, e.entity)
			if err != nil {
				return fmt.Errorf("failed to update %s[%s]: %w", t, e.entity.RowKey(), err)
			}
			if n == 0 {
				return &OptimisticLockingError{EntityType: t, EntityID: e.entity.RowKey(), Revision: e.entity.RowRevision()}
			}
			if e.entity.RowRevision() > 0 {
				e.entity.SetRevision(e.entity.RowRevision() + 1)
			}
		}
	}
	for i := len(c.mappings.order) - 1; i >= 0; i-- {
		t := c.mappings.order[i]
		mapping := c.mappings.byType[t]
		deletes := orderByParent(mapping, ofType(byState[StateToDelete], t))
		slices.Reverse(deletes)
		for _, e := range deletes {
			c.logger.Trace("delete", "type", t, "id", e.entity.RowKey())
			n, err := tx.Delete(ctx, mapping.Delete, e.entity)
			if err != nil {
				return fmt.Errorf("failed to delete %s[%s]: %w", t, e.entity.RowKey(), err)
			}
			if n == 0 {
				return &OptimisticLockingError{EntityType: t, EntityID: e.entity.RowKey(), Revision: e.entity.RowRevision()}
			}
		}
	}
	for _, op := range c.bulk {
		c.logger.Trace("bulk delete", "type", op.entityType, "statement", op.statement, "ids", len(op.ids))
		if _, err := tx.Delete(ctx, op.statement, op.ids); err != nil {
			return fmt.Errorf("failed to run %s: %w", op.statement, err)
		}
	}

	for k, e := range c.entries {
		if e.state == StateToDelete {
			delete(c.entries, k)
			continue
		}
		e.state = StateClean
		e.snapshot = e.entity.PersistentState()
	}
	c.bulk = nil
	return nil
}

func ofType(entries []*entry, entityType string) []*entry {
	var res []*entry
	for _, e := range entries {
		if e.entity.EntityType() == entityType {
			res = append(res, e)
		}
	}
	return res
}

// orderByParent moves entities after the entity of the same batch they
// reference. Unrelated entities keep registration order.
func orderByParent(mapping *Mapping, entries []*entry) []*entry {
	if mapping.ParentID == nil || len(entries) < 2 {
		return entries
	}
	byID := make(map[string]*entry, len(entries))
	for _, e := range entries {
		byID[e.entity.RowKey()] = e
	}
	res := make([]*entry, 0, len(entries))
	done := map[string]bool{}
	var visit func(e *entry, depth int)
	visit = func(e *entry, depth int) {
		id := e.entity.RowKey()
		if done[id] || depth > len(entries) {
			return
		}
		if parent, ok := byID[mapping.ParentID(e.entity)]; ok && parent != e {
			visit(parent, depth+1)
		}
		if !done[id] {
			done[id] = true
			res = append(res, e)
		}
	}
	for _, e := range entries {
		visit(e, 0)
	}
	return res
}
