package runtime

// Listener observes structural changes of an execution tree. Notifications are
// delivered synchronously while the interpreter runs. An error returned by a
// listener aborts the run and is fatal for the command.
type Listener interface {
	ExecutionCreated(e *Execution) error
	// ExecutionEnded is called when a branch reaches its end, when a scope is
	// left and when an execution is cancelled by an error handler.
	ExecutionEnded(e *Execution) error
	ExecutionRemoved(e *Execution) error
	VariableSet(e *Execution, name string, value any, created bool) error
	VariableDeleted(e *Execution, name string) error
}

// NoopListener ignores every notification.
type NoopListener struct{}

func (NoopListener) ExecutionCreated(*Execution) error { return nil }
func (NoopListener) ExecutionEnded(*Execution) error { return nil }
func (NoopListener) ExecutionRemoved(*Execution) error { return nil }
func (NoopListener) VariableSet(*Execution, string, any, bool) error { return nil }
func (NoopListener) VariableDeleted(*Execution, string) error { return nil }
