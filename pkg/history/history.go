// Package history mirrors runtime events into historic entities. Every event
// is handled inside the command context of the runtime change that caused it.
package history

import (
	"sync/atomic"
	"time"

	"github.com/pbinitiative/zenpvm/pkg/persistence"
)

// Gate is the single switch consulted before any history work happens.
type Gate struct {
	enabled atomic.Bool
}

func NewGate(enabled bool) *Gate {
	g := &Gate{}
	g.enabled.Store(enabled)
	return g
}

func (g *Gate) IsHistoryEnabled() bool {
	return g.enabled.Load()
}

// SetEnabled switches history. Events raised after the switch follow the new
// setting.
func (g *Gate) SetEnabled(enabled bool) {
	g.enabled.Store(enabled)
}

type EventType string

const (
	ProcessInstanceStarted EventType = "process-instance-started"
	ProcessInstanceEnded   EventType = "process-instance-ended"
	ActivityInstanceEnded  EventType = "activity-instance-ended"
	VariableCreated        EventType = "variable-created"
	VariableUpdated        EventType = "variable-updated"
	VariableDeleted        EventType = "variable-deleted"
)

// Event describes one runtime change worth recording.
type Event struct {
	ID   string
	Type EventType
	Time time.Time

	ProcessInstanceID    string
	ProcessDefinitionID  string
	ProcessDefinitionKey string
	CaseInstanceID       string
	ExecutionID          string
	ActivityID           string
	TaskID               string
	TenantID             string

	// StartTime is when the ended process instance or branch started.
	StartTime    time.Time
	Canceled     bool
	DeleteReason string

	VariableInstanceID string
	VariableName       string
	Value              persistence.EncodedValue
}
