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
)

// ProcessDefinitionBuilder assembles a ProcessDefinition. Activities created
// between CreateActivity and EndActivity of another activity are nested into it.
//
//	def, err := pvm.NewProcessDefinitionBuilder("order").
//		CreateActivity("start").Behavior(automatic).Transition("sub").EndActivity().
//		CreateActivity("sub").Behavior(pvm.ScopeBehavior{}).
//			CreateActivity("work").Behavior(wait).EndActivity().
//		EndActivity().
//		Build()
type ProcessDefinitionBuilder struct {
	def         *ProcessDefinition
	stack       []*Activity
	pending     []pendingTransition
	lastFlowSeq int
	errs        []error
}

type pendingTransition struct {
	id            string
	sourceID      string
	destinationID string
	condition     Condition
}

type TransitionOption func(t *pendingTransition)

// WithTransitionID overrides the generated transition id.
func WithTransitionID(id string) TransitionOption {
	return func(t *pendingTransition) {
		t.id = id
	}
}

func WithCondition(condition Condition) TransitionOption {
	return func(t *pendingTransition) {
		t.condition = condition
	}
}

func NewProcessDefinitionBuilder(id string) *ProcessDefinitionBuilder {
	def := &ProcessDefinition{
		id:          id,
		version:     1,
		activities:  map[string]*Activity{},
		transitions: map[string]*Transition{},
	}
	def.root = &Activity{
		id:         id,
		scope:      true,
		behavior:   ScopeBehavior{},
		properties: map[string]any{},
		definition: def,
	}
	return &ProcessDefinitionBuilder{
		def:   def,
		stack: []*Activity{def.root},
	}
}

func (b *ProcessDefinitionBuilder) Name(name string) *ProcessDefinitionBuilder {
	b.def.name = name
	b.def.root.name = name
	return b
}

func (b *ProcessDefinitionBuilder) Version(version int32) *ProcessDefinitionBuilder {
	b.def.version = version
	return b
}

func (b *ProcessDefinitionBuilder) current() *Activity {
	return b.stack[len(b.stack)-1]
}

// CreateActivity opens a new activity nested in the currently open one.
func (b *ProcessDefinitionBuilder) CreateActivity(id string) *ProcessDefinitionBuilder {
	parent := b.current()
	if id == "" {
		b.errs = append(b.errs, fmt.Errorf("activity in %s has empty id", parent.id))
	}
	if _, exists := b.def.activities[id]; exists || id == b.def.id {
		b.errs = append(b.errs, fmt.Errorf("duplicate activity id %q", id))
	}
	activity := &Activity{
		id:         id,
		name:       id,
		parentID:   parent.id,
		properties: map[string]any{},
		definition: b.def,
	}
	parent.children = append(parent.children, id)
	parent.scope = true
	b.def.activities[id] = activity
	b.def.order = append(b.def.order, id)
	b.stack = append(b.stack, activity)
	return b
}

// EndActivity closes the currently open activity.
func (b *ProcessDefinitionBuilder) EndActivity() *ProcessDefinitionBuilder {
	if len(b.stack) == 1 {
		b.errs = append(b.errs, errors.New("EndActivity called without open activity"))
		return b
	}
	b.stack = b.stack[:len(b.stack)-1]
	return b
}

func (b *ProcessDefinitionBuilder) ActivityName(name string) *ProcessDefinitionBuilder {
	b.current().name = name
	return b
}

func (b *ProcessDefinitionBuilder) Behavior(behavior ActivityBehavior) *ProcessDefinitionBuilder {
	b.current().behavior = behavior
	return b
}

func (b *ProcessDefinitionBuilder) Property(name string, value any) *ProcessDefinitionBuilder {
	b.current().properties[name] = value
	return b
}

// Transition adds an outgoing transition of the open activity. The destination
// is resolved in Build so it may be declared later.
func (b *ProcessDefinitionBuilder) Transition(destinationID string, opts ...TransitionOption) *ProcessDefinitionBuilder {
	source := b.current()
	b.lastFlowSeq++
	t := pendingTransition{
		id:            fmt.Sprintf("flow%d", b.lastFlowSeq),
		sourceID:      source.id,
		destinationID: destinationID,
	}
	for _, opt := range opts {
		opt(&t)
	}
	b.pending = append(b.pending, t)
	return b
}

// ErrorHandler catches business faults with errorCode raised in the open
// activity and continues at targetID. Empty errorCode catches every fault.
func (b *ProcessDefinitionBuilder) ErrorHandler(errorCode string, targetID string) *ProcessDefinitionBuilder {
	a := b.current()
	a.errorHandlers = append(a.errorHandlers, ErrorHandler{ErrorCode: errorCode, TargetID: targetID})
	return b
}

// Build resolves transitions and validates the graph. All problems found are
// reported together wrapped in ErrInvalidDefinition.
func (b *ProcessDefinitionBuilder) Build() (*ProcessDefinition, error) {
	errs := append([]error{}, b.errs...)
	if len(b.stack) != 1 {
		errs = append(errs, fmt.Errorf("activity %s was not closed", b.current().id))
	}
	if b.def.id == "" {
		errs = append(errs, errors.New("process definition id is empty"))
	}

	for _, p := range b.pending {
		if _, exists := b.def.transitions[p.id]; exists {
			errs = append(errs, fmt.Errorf("duplicate transition id %q", p.id))
			continue
		}
		source := b.def.activities[p.sourceID]
		if source == nil {
			errs = append(errs, fmt.Errorf("transition %s leaves the process scope", p.id))
			continue
		}
		destination := b.def.activities[p.destinationID]
		if destination == nil {
			errs = append(errs, fmt.Errorf("transition %s points to unknown activity %q", p.id, p.destinationID))
			continue
		}
		if source.parentID != destination.parentID {
			errs = append(errs, fmt.Errorf("transition %s crosses scope boundary from %s to %s", p.id, source.id, destination.id))
			continue
		}
		t := &Transition{
			id:            p.id,
			sourceID:      p.sourceID,
			destinationID: p.destinationID,
			condition:     p.condition,
			definition:    b.def,
		}
		b.def.transitions[t.id] = t
		source.outgoing = append(source.outgoing, t.id)
		destination.incoming = append(destination.incoming, t.id)
	}

	errs = append(errs, validateScope(b.def.root)...)
	for _, id := range b.def.order {
		errs = append(errs, validateActivity(b.def.activities[id])...)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w %s: %w", ErrInvalidDefinition, b.def.id, errors.Join(errs...))
	}
	return b.def, nil
}

func validateActivity(a *Activity) []error {
	var errs []error
	if a.behavior == nil {
		if len(a.children) > 0 {
			a.behavior = ScopeBehavior{}
		} else {
			errs = append(errs, fmt.Errorf("activity %s has no behavior", a.id))
		}
	}
	if len(a.children) > 0 {
		errs = append(errs, validateScope(a)...)
	}
	for _, h := range a.errorHandlers {
		target := a.definition.activities[h.TargetID]
		if target == nil {
			errs = append(errs, fmt.Errorf("error handler of %s points to unknown activity %q", a.id, h.TargetID))
			continue
		}
		if target.parentID != a.parentID {
			errs = append(errs, fmt.Errorf("error handler target %s is not a sibling of %s", target.id, a.id))
		}
	}
	return errs
}

func validateScope(a *Activity) []error {
	if len(a.children) == 0 {
		return []error{fmt.Errorf("scope %s has no activities", a.id)}
	}
	if _, ok := a.behavior.(CompositeActivityBehavior); !ok {
		return []error{fmt.Errorf("scope %s behavior %T is not composite", a.id, a.behavior)}
	}
	if len(a.StartActivities()) == 0 {
		return []error{fmt.Errorf("scope %s has no activity without incoming transitions", a.id)}
	}
	return nil
}
