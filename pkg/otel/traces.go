package otel

const (
	Prefix                       = "pvm-"
	AttributeCommand             = Prefix + "command"
	AttributeCommandID           = Prefix + "command-id"
	AttributeAttempt             = Prefix + "attempt"
	AttributeProcessInstanceID   = Prefix + "instance-id"
	AttributeProcessDefinitionID = Prefix + "definition-id"
	AttributeExecutionID         = Prefix + "execution-id"
	AttributeActivityID          = Prefix + "activity-id"
	AttributeErrorCode           = Prefix + "error-code"

	SpanStatusConflict = Prefix + "conflict"
)
