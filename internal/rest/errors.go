package rest

import (
	"errors"
	"net/http"

	"github.com/pbinitiative/zenpvm/internal/log"
	"github.com/pbinitiative/zenpvm/pkg/command"
	"github.com/pbinitiative/zenpvm/pkg/engine"
	"github.com/pbinitiative/zenpvm/pkg/entitycache"
	"github.com/pbinitiative/zenpvm/pkg/persistence"
	"github.com/pbinitiative/zenpvm/pkg/pvm"
	"github.com/pbinitiative/zenpvm/pkg/pvm/runtime"
)

// statusOf maps engine errors to a response status and error type.
func statusOf(err error) (int, string) {
	var unhandled *pvm.UnhandledFaultError
	var engineErr *engine.EngineError
	switch {
	case errors.Is(err, persistence.ErrValidation), errors.Is(err, pvm.ErrInvalidDefinition):
		return http.StatusBadRequest, "BAD_REQUEST"
	case entitycache.IsNotFound(err), errors.Is(err, runtime.ErrExecutionNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.As(err, &unhandled):
		return http.StatusUnprocessableEntity, "UNHANDLED_FAULT"
	case errors.Is(err, runtime.ErrExecutionRemoved),
		errors.Is(err, runtime.ErrExecutionEnded),
		errors.Is(err, runtime.ErrNotSignallable),
		errors.Is(err, runtime.ErrNotWaiting),
		errors.Is(err, command.ErrRetriesExhausted),
		command.IsOptimisticLockingError(err):
		return http.StatusConflict, "CONFLICT"
	case errors.As(err, &engineErr):
		return http.StatusConflict, "CONFLICT"
	}
	return http.StatusInternalServerError, "ERROR"
}

func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status, errType := statusOf(err)
	if status == http.StatusInternalServerError {
		log.Errorf(r.Context(), "%s %s failed: %s", r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, ApiError{
		Message: err.Error(),
		Type:    errType,
	})
}
