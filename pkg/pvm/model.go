// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package pvm

// ProcessDefinition is an immutable graph of activities and transitions.
// Activities and transitions are stored in an arena addressed by id, links
// between them are ids resolved through the definition.
type ProcessDefinition struct {
	id      string
	name    string
	version int32

	root        *Activity
	activities  map[string]*Activity
	transitions map[string]*Transition
	// declaration order of every activity, used for deterministic iteration
	order []string
}

func (d *ProcessDefinition) ID() string     { return d.id }
func (d *ProcessDefinition) Name() string   { return d.name }
func (d *ProcessDefinition) Version() int32 { return d.version }

// Root returns the scope activity representing the process definition itself.
// Its id equals the definition id.
func (d *ProcessDefinition) Root() *Activity { return d.root }

// Activity returns nested activity with given id or nil.
func (d *ProcessDefinition) Activity(id string) *Activity {
	return d.activities[id]
}

func (d *ProcessDefinition) Transition(id string) *Transition {
	return d.transitions[id]
}

// Activities returns all activities except the root in declaration order.
func (d *ProcessDefinition) Activities() []*Activity {
	res := make([]*Activity, 0, len(d.order))
	for _, id := range d.order {
		res = append(res, d.activities[id])
	}
	return res
}

// Activity is a node of the process graph.
type Activity struct {
	id       string
	name     string
	scope    bool
	parentID string
	behavior ActivityBehavior

	outgoing      []string
	incoming      []string
	children      []string
	errorHandlers []ErrorHandler
	properties    map[string]any

	definition *ProcessDefinition
}

func (a *Activity) ID() string                 { return a.id }
func (a *Activity) Name() string               { return a.name }
func (a *Activity) IsScope() bool              { return a.scope }
func (a *Activity) Behavior() ActivityBehavior { return a.behavior }

// Definition returns the owning process definition.
func (a *Activity) Definition() *ProcessDefinition { return a.definition }

// Parent returns the enclosing scope activity; nil for the root.
func (a *Activity) Parent() *Activity {
	if a.parentID == "" {
		return nil
	}
	if a.parentID == a.definition.id {
		return a.definition.root
	}
	return a.definition.activities[a.parentID]
}

func (a *Activity) Outgoing() []*Transition {
	return a.definition.resolveTransitions(a.outgoing)
}

func (a *Activity) Incoming() []*Transition {
	return a.definition.resolveTransitions(a.incoming)
}

// Activities returns nested activities in declaration order.
func (a *Activity) Activities() []*Activity {
	res := make([]*Activity, 0, len(a.children))
	for _, id := range a.children {
		res = append(res, a.definition.activities[id])
	}
	return res
}

// StartActivities returns nested activities without incoming transitions.
// Error handler targets are only entered through a fault.
func (a *Activity) StartActivities() []*Activity {
	children := a.Activities()
	handlerTargets := map[string]bool{}
	for _, child := range children {
		for _, h := range child.errorHandlers {
			handlerTargets[h.TargetID] = true
		}
	}
	var res []*Activity
	for _, child := range children {
		if len(child.incoming) == 0 && !handlerTargets[child.id] {
			res = append(res, child)
		}
	}
	return res
}

func (a *Activity) ErrorHandlers() []ErrorHandler {
	return a.errorHandlers
}

// Property returns a custom property set when the definition was built.
func (a *Activity) Property(name string) (any, bool) {
	v, ok := a.properties[name]
	return v, ok
}

// FindErrorHandler returns the handler catching errorCode. A handler with empty
// error code catches every code but a handler with the exact code wins.
func (a *Activity) FindErrorHandler(errorCode string) (ErrorHandler, bool) {
	var catchAll *ErrorHandler
	for i, h := range a.errorHandlers {
		if h.ErrorCode == errorCode {
			return h, true
		}
		if h.ErrorCode == "" && catchAll == nil {
			catchAll = &a.errorHandlers[i]
		}
	}
	if catchAll != nil {
		return *catchAll, true
	}
	return ErrorHandler{}, false
}

func (a *Activity) String() string {
	return a.id
}

// Transition connects two activities of the same scope.
type Transition struct {
	id            string
	sourceID      string
	destinationID string
	condition     Condition

	definition *ProcessDefinition
}

func (t *Transition) ID() string            { return t.id }
func (t *Transition) SourceID() string      { return t.sourceID }
func (t *Transition) DestinationID() string { return t.destinationID }
func (t *Transition) Condition() Condition  { return t.condition }

func (t *Transition) Source() *Activity {
	return t.definition.activities[t.sourceID]
}

func (t *Transition) Destination() *Activity {
	return t.definition.activities[t.destinationID]
}

func (t *Transition) String() string {
	return "(" + t.sourceID + ")--" + t.id + "-->(" + t.destinationID + ")"
}

// ErrorHandler redirects a token to TargetID when a business fault with
// ErrorCode is raised inside the activity declaring it.
type ErrorHandler struct {
	ErrorCode string
	TargetID  string
}

func (d *ProcessDefinition) resolveTransitions(ids []string) []*Transition {
	res := make([]*Transition, 0, len(ids))
	for _, id := range ids {
		res = append(res, d.transitions[id])
	}
	return res
}
