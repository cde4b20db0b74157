// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package command runs units of work. Every top level command gets its own
// Context holding an entity cache and a lazily started storage transaction.
// Nested commands share the Context of the command that started them.
package command

import (
	"errors"

	"github.com/pbinitiative/zenpvm/pkg/entitycache"
)

var (
	ErrContextClosed    = errors.New("command context already closed")
	ErrRetriesExhausted = errors.New("optimistic locking retries exhausted")
	ErrNoContext        = errors.New("no command context")
)

// Command is one unit of work. It must be safe to run again from scratch
// after an optimistic locking conflict.
type Command interface {
	Execute(cc *Context) (any, error)
}

// Func adapts a function to Command.
type Func func(cc *Context) (any, error)

func (f Func) Execute(cc *Context) (any, error) {
	return f(cc)
}

// Named is implemented by commands that want a readable span name.
type Named interface {
	Name() string
}

func commandName(cmd Command) string {
	if n, ok := cmd.(Named); ok {
		return n.Name()
	}
	return "command"
}

// IsOptimisticLockingError reports whether err was caused by a concurrent
// modification detected at flush.
func IsOptimisticLockingError(err error) bool {
	var conflict *entitycache.OptimisticLockingError
	return errors.As(err, &conflict)
}
