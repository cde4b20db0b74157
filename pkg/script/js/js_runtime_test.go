package js

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunScriptBindsVariables(t *testing.T) {
	// setup
	runtime, err := NewJsRuntime(t.Context(), 2, 1)
	require.NoError(t, err)

	// when
	result, err := runtime.RunScript("amount * 2 + (vip ? 1 : 0)", map[string]any{"amount": 21, "vip": true})

	// then
	require.NoError(t, err)
	assert.EqualValues(t, 43, result)
}

func TestRunScriptDoesNotLeakGlobals(t *testing.T) {
	// setup
	runtime, err := NewJsRuntime(t.Context(), 1, 1)
	require.NoError(t, err)
	_, err = runtime.RunScript("secret", map[string]any{"secret": "x"})
	require.NoError(t, err)

	// when
	result, err := runtime.RunScript("typeof secret", nil)

	// then
	require.NoError(t, err)
	assert.Equal(t, "undefined", result)
}

func TestRunScriptTimeout(t *testing.T) {
	// setup
	runtime, err := NewJsRuntime(t.Context(), 1, 1)
	require.NoError(t, err)
	runtime.WithTimeout(50 * time.Millisecond)

	// when
	_, err = runtime.RunScript("while (true) {}", nil)

	// then
	assert.ErrorContains(t, err, "script timeout")

	// the vm is usable again
	result, err := runtime.RunScript("1 + 1", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, result)
}

func TestRunScriptUndefinedResult(t *testing.T) {
	runtime, err := NewJsRuntime(t.Context(), 1, 1)
	require.NoError(t, err)

	result, err := runtime.RunScript("var x = 1;", nil)

	require.NoError(t, err)
	assert.Nil(t, result)
}
