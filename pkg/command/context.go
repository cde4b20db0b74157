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

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenpvm/internal/appcontext"
	"github.com/pbinitiative/zenpvm/pkg/entitycache"
	"github.com/pbinitiative/zenpvm/pkg/pvm"
	"github.com/pbinitiative/zenpvm/pkg/storage"
)

type contextKey struct{}

// FromContext returns the open command Context carried by ctx.
func FromContext(ctx context.Context) (*Context, bool) {
	cc, ok := ctx.Value(contextKey{}).(*Context)
	if !ok || cc.closed {
		return nil, false
	}
	return cc, true
}

func withContext(ctx context.Context, cc *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, cc)
}

// Context is the state of one unit of work. It is closed exactly once,
// committing or rolling back everything the command did.
type Context struct {
	ctx      context.Context
	id       string
	tx       *TransactionContext
	cache    *entitycache.Cache
	entities *entitycache.EntityManager
	logger   hclog.Logger

	rollbackOnly bool
	closed       bool

	preFlush   []func(cc *Context) error
	postCommit []func(ctx context.Context)
	onClose    []func(err error)
	sessions   map[any]any
}

func newContext(ctx context.Context, store storage.Storage, tx *TransactionContext, mappings *entitycache.Mappings, logger hclog.Logger) *Context {
	id := uuid.NewString()
	cache := entitycache.NewCache(mappings, logger.Named("entity-cache"))
	cc := &Context{
		id:       id,
		tx:       tx,
		cache:    cache,
		entities: entitycache.NewEntityManager(cache, store),
		logger:   logger.With("command", id),
		sessions: map[any]any{},
	}
	cc.ctx = withContext(appcontext.WithCommandID(ctx, id), cc)
	return cc
}

func (cc *Context) ID() string { return cc.id }

// Context returns the context.Context carrying this command Context.
func (cc *Context) Context() context.Context { return cc.ctx }

func (cc *Context) Cache() *entitycache.Cache { return cc.cache }

func (cc *Context) Entities() *entitycache.EntityManager { return cc.entities }

func (cc *Context) Transaction() *TransactionContext { return cc.tx }

func (cc *Context) Logger() hclog.Logger { return cc.logger }

func (cc *Context) SetRollbackOnly() { cc.rollbackOnly = true }

func (cc *Context) IsRollbackOnly() bool { return cc.rollbackOnly }

func (cc *Context) IsClosed() bool { return cc.closed }

// OnClose registers a cleanup callback. Callbacks run once when the context
// closes, with the error the command ends with.
func (cc *Context) OnClose(fn func(err error)) {
	cc.onClose = append(cc.onClose, fn)
}

// AddPreFlushAction registers an action run before the entity cache is
// flushed. Actions may register further entity changes and actions.
func (cc *Context) AddPreFlushAction(fn func(cc *Context) error) {
	cc.preFlush = append(cc.preFlush, fn)
}

// AddPostCommitAction registers an action run after a successful commit.
func (cc *Context) AddPostCommitAction(fn func(ctx context.Context)) {
	cc.postCommit = append(cc.postCommit, fn)
}

// Session returns the value stored under key for the lifetime of the context.
func (cc *Context) Session(key any) (any, bool) {
	v, ok := cc.sessions[key]
	return v, ok
}

func (cc *Context) SetSession(key any, value any) {
	cc.sessions[key] = value
}

// ExecuteNested runs cmd inside this context. A nested command failing with
// anything but a business fault marks the shared context rollback only, even
// when the caller goes on without the error.
func (cc *Context) ExecuteNested(cmd Command) (any, error) {
	if cc.closed {
		return nil, ErrContextClosed
	}
	res, err := cmd.Execute(cc)
	if err != nil {
		if _, ok := pvm.AsBusinessFault(err); !ok {
			cc.rollbackOnly = true
		}
	}
	return res, err
}

// Close ends the unit of work. Without cause and unless marked rollback only
// the pre-flush actions run, the cache is flushed and the transaction is
// committed, then the post-commit actions run. Otherwise the transaction is
// rolled back and cause is returned. Cleanup callbacks always run.
func (cc *Context) Close(cause error) error {
	if cc.closed {
		return ErrContextClosed
	}
	cc.closed = true
	err := cause
	defer func() {
		for _, fn := range cc.onClose {
			fn(err)
		}
	}()

	if err == nil && !cc.rollbackOnly {
		err = cc.flush()
	}
	if err != nil {
		cc.rollbackOnly = true
	}
	if cc.rollbackOnly {
		if rbErr := cc.tx.Rollback(cc.ctx); rbErr != nil {
			cc.logger.Error("failed to roll back transaction", "err", rbErr)
			err = errors.Join(err, rbErr)
		}
		return err
	}
	for _, fn := range cc.postCommit {
		fn(cc.ctx)
	}
	return nil
}

func (cc *Context) flush() error {
	for i := 0; i < len(cc.preFlush); i++ {
		if err := cc.preFlush[i](cc); err != nil {
			return err
		}
	}
	tx, err := cc.tx.Begin(cc.ctx)
	if err != nil {
		return err
	}
	if err := cc.cache.Flush(cc.ctx, tx); err != nil {
		return err
	}
	return cc.tx.Commit(cc.ctx)
}
