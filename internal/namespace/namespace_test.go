package namespace_test

import (
	"testing"

	"github.com/programme-lv/autograder/api"
	"github.com/programme-lv/autograder/internal/namespace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplaceAndLookup(t *testing.T) {
	ns := namespace.New()
	_, ok := ns.Lookup("x")
	require.False(t, ok)

	ns.Replace([]namespace.Entry{
		{Name: "x", Value: api.RawJSON([]byte("1"))},
		{Name: "f", Kind: namespace.Callable},
		{Name: "x", Value: api.RawJSON([]byte("2"))},
	})

	assert.Equal(t, []string{"x", "f"}, ns.Names())
	assert.Equal(t, 2, ns.Len())

	x, ok := ns.Lookup("x")
	require.True(t, ok)
	assert.Equal(t, "2", string(x.Value.JSON))

	f, ok := ns.Lookup("f")
	require.True(t, ok)
	assert.Equal(t, namespace.Callable, f.Kind)
	assert.Equal(t, "callable", f.Kind.String())

	ns.Replace(nil)
	assert.Zero(t, ns.Len())
}
