package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInitProfile(t *testing.T) {
	t.Cleanup(func() { Current = DEV })

	t.Setenv("PROFILE", "prod")
	assert.Equal(t, PROD, InitProfile())

	t.Setenv("PROFILE", "staging")
	assert.Equal(t, PROD, InitProfile())

	_, ok := Parse("")
	assert.False(t, ok)
	p, ok := Parse(" test ")
	assert.True(t, ok)
	assert.Equal(t, TEST, p)
}
