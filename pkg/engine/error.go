package engine

import (
	"fmt"
)

type EngineError struct {
	Msg string
}

func (e *EngineError) Error() string {
	return e.Msg
}

// newEngineErrorf uses fmt.Sprintf(format, a...) to format the message
func newEngineErrorf(format string, a ...any) error {
	return &EngineError{
		Msg: fmt.Sprintf(format, a...),
	}
}
