package persistence

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeValueTypes(t *testing.T) {
	tests := map[string]struct {
		value    any
		expected string
	}{
		"nil":    {nil, ValueTypeNull},
		"bool":   {false, ValueTypeBoolean},
		"int":    {-3, ValueTypeNumber},
		"float":  {1.5, ValueTypeNumber},
		"string": {"x", ValueTypeString},
		"map":    {map[string]any{"a": 1}, ValueTypeJSON},
		"slice":  {[]int{1, 2}, ValueTypeJSON},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			encoded, err := EncodeValue(test.value)
			require.NoError(t, err)
			assert.Equal(t, test.expected, encoded.Type)
			assert.False(t, encoded.IsLarge())
		})
	}
}

func TestLargeValuesLeaveTheRow(t *testing.T) {
	// quotes make the serialised string two bytes longer than the value
	fits := strings.Repeat("a", MaxInlineValueSize-2)
	tooLarge := strings.Repeat("a", MaxInlineValueSize-1)

	small, err := EncodeValue(fits)
	require.NoError(t, err)
	large, err := EncodeValue(tooLarge)
	require.NoError(t, err)

	assert.False(t, small.IsLarge())
	assert.True(t, large.IsLarge())
	assert.Empty(t, large.Text)

	decoded, err := DecodeValue(large)
	require.NoError(t, err)
	assert.Equal(t, tooLarge, decoded)
}

func TestEncodeValueRejectsUnserialisableValues(t *testing.T) {
	_, err := EncodeValue(make(chan int))
	assert.Error(t, err)
}

func TestDecodeNull(t *testing.T) {
	v, err := DecodeValue(EncodedValue{Type: ValueTypeNull})
	require.NoError(t, err)
	assert.Nil(t, v)
}
