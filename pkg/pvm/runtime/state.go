package runtime

import "fmt"

// ExecutionState is the lifecycle state of an execution token.
//
//	created -> active -> (scope-active | leaf-active) -> ending -> ended
type ExecutionState int

const (
	StateCreated ExecutionState = iota
	StateActive
	StateScopeActive
	StateLeafActive
	StateEnding
	StateEnded
)

func (s ExecutionState) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateActive:
		return "ACTIVE"
	case StateScopeActive:
		return "SCOPE_ACTIVE"
	case StateLeafActive:
		return "LEAF_ACTIVE"
	case StateEnding:
		return "ENDING"
	case StateEnded:
		return "ENDED"
	}
	return fmt.Sprintf("ExecutionState(%d)", int(s))
}

// ParseExecutionState is the inverse of ExecutionState.String.
func ParseExecutionState(s string) (ExecutionState, error) {
	for st := StateCreated; st <= StateEnded; st++ {
		if st.String() == s {
			return st, nil
		}
	}
	return StateCreated, fmt.Errorf("unknown execution state %q", s)
}
