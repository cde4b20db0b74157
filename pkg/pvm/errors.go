// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package pvm

import (
	"errors"
	"fmt"
	"maps"
)

var (
	ErrInvalidDefinition = errors.New("invalid process definition")
	// ErrNoProgressLoop is raised when a token takes the same transition twice
	// in one traversal pass without any change of its variables.
	ErrNoProgressLoop = errors.New("transition taken again without progress")
)

// BusinessFault is a recoverable process fault raised by a behavior or
// submitted by a client. It can be caught by an error handler of the failing
// activity or of any enclosing scope.
type BusinessFault struct {
	Code      string
	Message   string
	Variables map[string]any
}

func NewBusinessFault(code string, message string, variables map[string]any) *BusinessFault {
	return &BusinessFault{
		Code:      code,
		Message:   message,
		Variables: maps.Clone(variables),
	}
}

func (f *BusinessFault) Error() string {
	if f.Message == "" {
		return fmt.Sprintf("business fault %s", f.Code)
	}
	return fmt.Sprintf("business fault %s: %s", f.Code, f.Message)
}

// AsBusinessFault extracts the business fault from err chain.
func AsBusinessFault(err error) (*BusinessFault, bool) {
	var fault *BusinessFault
	if errors.As(err, &fault) {
		return fault, true
	}
	return nil, false
}

// UnhandledFaultError is returned when no error handler catches a business
// fault. It is fatal for the command that raised it.
type UnhandledFaultError struct {
	Fault      *BusinessFault
	ActivityID string
}

func (e *UnhandledFaultError) Error() string {
	return fmt.Sprintf("no error handler for %q raised in activity %s", e.Fault.Code, e.ActivityID)
}

func (e *UnhandledFaultError) Unwrap() error {
	return e.Fault
}
