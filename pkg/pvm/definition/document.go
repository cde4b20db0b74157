// Package definition reads and writes process definitions as YAML documents.
//
//	id: order
//	activities:
//	  - id: start
//	    type: automatic
//	    outgoing: [{to: approve}]
//	  - id: approve
//	    type: exclusiveGateway
//	    config: {default: reject}
//	    outgoing:
//	      - {id: accept, to: ship, condition: "amount < 100"}
//	      - {id: reject, to: review}
package definition

// Document is the YAML form of a process definition.
type Document struct {
	ID         string             `yaml:"id"`
	Name       string             `yaml:"name,omitempty"`
	Version    int32              `yaml:"version,omitempty"`
	Activities []ActivityDocument `yaml:"activities"`
}

type ActivityDocument struct {
	ID            string                 `yaml:"id"`
	Name          string                 `yaml:"name,omitempty"`
	Type          string                 `yaml:"type"`
	Config        map[string]any         `yaml:"config,omitempty"`
	Outgoing      []TransitionDocument   `yaml:"outgoing,omitempty"`
	ErrorHandlers []ErrorHandlerDocument `yaml:"errorHandlers,omitempty"`
	Activities    []ActivityDocument     `yaml:"activities,omitempty"`
}

type TransitionDocument struct {
	ID        string `yaml:"id,omitempty"`
	To        string `yaml:"to"`
	Condition string `yaml:"condition,omitempty"`
}

// ErrorHandlerDocument catches business faults. An empty ErrorCode catches
// every fault.
type ErrorHandlerDocument struct {
	ErrorCode string `yaml:"errorCode,omitempty"`
	To        string `yaml:"to"`
}
