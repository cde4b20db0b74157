package entitycache

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateRegistration = errors.New("duplicate registration")
	ErrAlreadyFlushed        = errors.New("entity cache already flushed")
	ErrUnknownEntityType     = errors.New("unknown entity type")
)

// OptimisticLockingError is returned by Flush when a row was changed or
// removed by another transaction since it was read.
type OptimisticLockingError struct {
	EntityType string
	EntityID   string
	Revision   int
}

func (e *OptimisticLockingError) Error() string {
	return fmt.Sprintf("%s[%s] was updated by another transaction concurrently (revision %d)", e.EntityType, e.EntityID, e.Revision)
}

// DuplicateRegistrationError reports an illegal state transition of a cached
// entity. The cached state stays Current.
type DuplicateRegistrationError struct {
	EntityType string
	EntityID   string
	Current    State
	Requested  State
}

func (e *DuplicateRegistrationError) Error() string {
	return fmt.Sprintf("%s: %s[%s] is %s, cannot register as %s", ErrDuplicateRegistration, e.EntityType, e.EntityID, e.Current, e.Requested)
}

func (e *DuplicateRegistrationError) Unwrap() error {
	return ErrDuplicateRegistration
}
