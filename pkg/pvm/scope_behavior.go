package pvm

// ScopeBehavior is the behavior of embedded sub processes and of the process
// definition root. Entering the scope starts every nested activity without
// incoming transitions. Once all children ended the scope leaves through its
// outgoing transitions or ends when there are none.
type ScopeBehavior struct{}

var _ CompositeActivityBehavior = ScopeBehavior{}

func (ScopeBehavior) Execute(execution ActivityExecution) error {
	return execution.ExecuteActivities(execution.Activity().StartActivities())
}

func (ScopeBehavior) ConcurrentChildExecutionEnded(scopeExecution ActivityExecution, endedExecution ActivityExecution) error {
	if err := endedExecution.Remove(); err != nil {
		return err
	}
	_, err := scopeExecution.TryPruneLastConcurrentChild()
	return err
}

func (ScopeBehavior) Complete(execution ActivityExecution) error {
	outgoing := execution.Activity().Outgoing()
	if len(outgoing) == 0 {
		return execution.End(true)
	}
	return execution.LeaveActivityViaTransitions(outgoing, nil)
}
