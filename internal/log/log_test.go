package log

import (
	"context"
	"testing"

	"github.com/pbinitiative/zenpvm/internal/appcontext"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestContextLoggingAddsCommandID(t *testing.T) {
	// setup
	core, logs := observer.New(zap.DebugLevel)
	previous := logger
	logger = zap.New(core).Sugar()
	t.Cleanup(func() { logger = previous })

	// when
	Infof(appcontext.WithCommandID(context.Background(), "c-1"), "started %s", "order")
	Debugf(context.Background(), "no command")

	// then
	entries := logs.AllUntimed()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, "started order", entries[0].Message)
		assert.Equal(t, "c-1", entries[0].ContextMap()["command"])
		assert.Empty(t, entries[1].ContextMap())
	}
}
