package definition

import (
	"bytes"
	"errors"
	"fmt"
	"maps"

	"github.com/pbinitiative/zenpvm/pkg/pvm"
	"gopkg.in/yaml.v3"
)

const (
	typeProperty   = "type"
	configProperty = "config"
)

// Unmarshal decodes a YAML document. Unknown fields are rejected.
func Unmarshal(data []byte) (*Document, error) {
	var doc Document
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", pvm.ErrInvalidDefinition, err)
	}
	return &doc, nil
}

// Parse decodes, validates and builds a process definition.
func Parse(data []byte, registry *Registry) (*pvm.ProcessDefinition, error) {
	doc, err := Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return Build(doc, registry)
}

// Validate reports every structural problem of doc. Graph level checks are
// done by Build.
func Validate(doc *Document, registry *Registry) error {
	var errs []error
	if doc.ID == "" {
		errs = append(errs, errors.New("document has no id"))
	}
	if len(doc.Activities) == 0 {
		errs = append(errs, errors.New("document has no activities"))
	}
	var walk func(activities []ActivityDocument)
	walk = func(activities []ActivityDocument) {
		for _, a := range activities {
			if a.ID == "" {
				errs = append(errs, errors.New("activity without id"))
			}
			if a.Type == "" {
				errs = append(errs, fmt.Errorf("activity %s has no type", a.ID))
			} else if _, ok := registry.Lookup(a.Type); !ok {
				errs = append(errs, fmt.Errorf("activity %s has unknown type %q", a.ID, a.Type))
			}
			for i, t := range a.Outgoing {
				if t.To == "" {
					errs = append(errs, fmt.Errorf("transition %d of %s has no target", i, a.ID))
				}
			}
			for i, h := range a.ErrorHandlers {
				if h.To == "" {
					errs = append(errs, fmt.Errorf("error handler %d of %s has no target", i, a.ID))
				}
			}
			walk(a.Activities)
		}
	}
	walk(doc.Activities)
	if len(errs) > 0 {
		return fmt.Errorf("%w %s: %w", pvm.ErrInvalidDefinition, doc.ID, errors.Join(errs...))
	}
	return nil
}

// Build turns a document into a process definition.
func Build(doc *Document, registry *Registry) (*pvm.ProcessDefinition, error) {
	if err := Validate(doc, registry); err != nil {
		return nil, err
	}
	b := pvm.NewProcessDefinitionBuilder(doc.ID).Name(doc.Name)
	if doc.Version > 0 {
		b.Version(doc.Version)
	}
	var errs []error
	var add func(activities []ActivityDocument)
	add = func(activities []ActivityDocument) {
		for _, a := range activities {
			b.CreateActivity(a.ID)
			if a.Name != "" {
				b.ActivityName(a.Name)
			}
			factory, _ := registry.Lookup(a.Type)
			behavior, err := factory(a.Config)
			if err != nil {
				errs = append(errs, fmt.Errorf("activity %s: %w", a.ID, err))
			} else {
				b.Behavior(behavior)
			}
			b.Property(typeProperty, a.Type)
			if len(a.Config) > 0 {
				b.Property(configProperty, maps.Clone(a.Config))
			}
			for _, t := range a.Outgoing {
				var opts []pvm.TransitionOption
				if t.ID != "" {
					opts = append(opts, pvm.WithTransitionID(t.ID))
				}
				if t.Condition != "" {
					opts = append(opts, pvm.WithCondition(pvm.ExpressionCondition{Expression: t.Condition}))
				}
				b.Transition(t.To, opts...)
			}
			for _, h := range a.ErrorHandlers {
				b.ErrorHandler(h.ErrorCode, h.To)
			}
			add(a.Activities)
			b.EndActivity()
		}
	}
	add(doc.Activities)
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w %s: %w", pvm.ErrInvalidDefinition, doc.ID, errors.Join(errs...))
	}
	return b.Build()
}

// ToDocument is the inverse of Build for definitions built from documents.
func ToDocument(def *pvm.ProcessDefinition) (*Document, error) {
	doc := &Document{ID: def.ID(), Name: def.Name(), Version: def.Version()}
	var convert func(activities []*pvm.Activity) ([]ActivityDocument, error)
	convert = func(activities []*pvm.Activity) ([]ActivityDocument, error) {
		res := make([]ActivityDocument, 0, len(activities))
		for _, a := range activities {
			typeName, ok := a.Property(typeProperty)
			if !ok {
				return nil, fmt.Errorf("activity %s has no type property", a.ID())
			}
			ad := ActivityDocument{ID: a.ID(), Type: typeName.(string)}
			if a.Name() != a.ID() {
				ad.Name = a.Name()
			}
			if config, ok := a.Property(configProperty); ok {
				ad.Config = config.(map[string]any)
			}
			for _, t := range a.Outgoing() {
				td := TransitionDocument{ID: t.ID(), To: t.DestinationID()}
				if c, ok := t.Condition().(fmt.Stringer); ok {
					td.Condition = c.String()
				}
				ad.Outgoing = append(ad.Outgoing, td)
			}
			for _, h := range a.ErrorHandlers() {
				ad.ErrorHandlers = append(ad.ErrorHandlers, ErrorHandlerDocument{ErrorCode: h.ErrorCode, To: h.TargetID})
			}
			children, err := convert(a.Activities())
			if err != nil {
				return nil, err
			}
			if len(children) > 0 {
				ad.Activities = children
			}
			res = append(res, ad)
		}
		return res, nil
	}
	activities, err := convert(def.Root().Activities())
	if err != nil {
		return nil, err
	}
	doc.Activities = activities
	return doc, nil
}

// Marshal writes def as a YAML document.
func Marshal(def *pvm.ProcessDefinition) ([]byte, error) {
	doc, err := ToDocument(def)
	if err != nil {
		return nil, err
	}
	return yaml.Marshal(doc)
}
