package zenflake

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeIdIsEncodedInGeneratedIds(t *testing.T) {
	gen, err := NewGenerator(4)
	require.NoError(t, err)

	id := gen.NextID()

	nodeID, err := NodeID(id)
	assert.NoError(t, err)
	assert.Equal(t, int64(4), nodeID)
}

func TestGeneratedIdsAreUnique(t *testing.T) {
	gen, err := NewGenerator(1)
	require.NoError(t, err)

	seen := map[string]struct{}{}
	for range 1000 {
		id := gen.NextID()
		_, dup := seen[id]
		assert.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestNodeIdRejectsForeignIds(t *testing.T) {
	_, err := NodeID("pi-1")
	assert.Error(t, err)
}
