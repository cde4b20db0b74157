package history

import (
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenpvm/pkg/command"
)

// EventHandler records an event. An error fails the command that raised the
// event.
type EventHandler interface {
	HandleEvent(cc *command.Context, event *Event) error
}

type EventHandlerFunc func(cc *command.Context, event *Event) error

func (f EventHandlerFunc) HandleEvent(cc *command.Context, event *Event) error {
	return f(cc, event)
}

// Composite passes events to every handler in order and stops at the first
// failure.
type Composite []EventHandler

func (c Composite) HandleEvent(cc *command.Context, event *Event) error {
	for _, h := range c {
		if err := h.HandleEvent(cc, event); err != nil {
			return err
		}
	}
	return nil
}

// Producer is the entry point of runtime code into history.
type Producer struct {
	gate    *Gate
	handler EventHandler
	now     func() time.Time
	logger  hclog.Logger
}

func NewProducer(gate *Gate, handler EventHandler, now func() time.Time, logger hclog.Logger) *Producer {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = hclog.Default().Named("history")
	}
	return &Producer{gate: gate, handler: handler, now: now, logger: logger}
}

func (p *Producer) Gate() *Gate {
	return p.gate
}

// Produce hands event to the handler when history is enabled. The event
// gets an id and a timestamp when it has none.
func (p *Producer) Produce(cc *command.Context, event *Event) error {
	if !p.gate.IsHistoryEnabled() {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Time.IsZero() {
		event.Time = p.now()
	}
	p.logger.Trace("history event", "type", event.Type, "processInstance", event.ProcessInstanceID, "command", cc.ID())
	return p.handler.HandleEvent(cc, event)
}
