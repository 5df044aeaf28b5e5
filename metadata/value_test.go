package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValueAsText(t *testing.T) {
	assert.Equal(t, "plain", newValue("plain").AsText())
	assert.Equal(t, "", newValue(nil).AsText())
	assert.Equal(t, "true", newValue(true).AsText())
	assert.Equal(t, "7", newValue(7.0).AsText())
	assert.Equal(t, "7.5", newValue(7.5).AsText())
	assert.Equal(t, `["a","b"]`, newValue([]any{"a", "b"}).AsText())
	assert.Equal(t, `{"k":"v"}`, newValue(map[string]any{"k": "v"}).AsText())
}

func TestValueFirst(t *testing.T) {
	v := newValue([]any{"head", "tail"})
	s, ok := v.First().String()
	assert.True(t, ok)
	assert.Equal(t, "head", s)

	// one level of unwrapping only
	nested := newValue([]any{[]any{"inner"}})
	_, ok = nested.First().String()
	assert.False(t, ok)

	s, ok = newValue("scalar").First().String()
	assert.True(t, ok)
	assert.Equal(t, "scalar", s)
}

func TestValueNumericCoercion(t *testing.T) {
	n, ok := newValue(30.0).Int()
	assert.True(t, ok)
	assert.Equal(t, int64(30), n)

	n, ok = newValue("30").Int()
	assert.True(t, ok)
	assert.Equal(t, int64(30), n)

	n, ok = newValue("30.9").Int()
	assert.True(t, ok)
	assert.Equal(t, int64(30), n)

	_, ok = newValue("thirty").Int()
	assert.False(t, ok)

	f, ok := newValue("7.5").Float()
	assert.True(t, ok)
	assert.Equal(t, 7.5, f)

	_, ok = newValue(nil).Float()
	assert.False(t, ok)
}

func TestUnescapeQuotes(t *testing.T) {
	assert.Equal(t, `say "hi" and 'bye'`, unescapeQuotes(`say \"hi\" and \'bye\'`))
	assert.Equal(t, "untouched", unescapeQuotes("untouched"))
}
