package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubInvoker struct{ name string }

func (s stubInvoker) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	return s.name + ":" + name, nil
}

func TestSplitID(t *testing.T) {
	t.Run("should split at the first separator", func(t *testing.T) {
		p, tool, err := SplitID("fs__read__file")
		require.NoError(t, err)
		assert.Equal(t, "fs", p)
		assert.Equal(t, "read__file", tool)
	})

	t.Run("should reject ids without separator", func(t *testing.T) {
		_, _, err := SplitID("readfile")
		assert.ErrorIs(t, err, ErrInvalidToolID)
	})

	t.Run("should reject empty halves", func(t *testing.T) {
		_, _, err := SplitID("__tool")
		assert.ErrorIs(t, err, ErrInvalidToolID)
		_, _, err = SplitID("fs__")
		assert.ErrorIs(t, err, ErrInvalidToolID)
	})

	t.Run("should round trip with JoinID", func(t *testing.T) {
		p, tool, err := SplitID(JoinID("alpha", "ping"))
		require.NoError(t, err)
		assert.Equal(t, "alpha", p)
		assert.Equal(t, "ping", tool)
	})
}

func TestBuild(t *testing.T) {
	alpha := stubInvoker{name: "alpha"}
	beta := stubInvoker{name: "beta"}

	t.Run("should namespace same-named tools", func(t *testing.T) {
		c := Build([]Source{
			{Provider: "alpha", Invoker: alpha, Tools: []Descriptor{{Name: "ping"}}},
			{Provider: "beta", Invoker: beta, Tools: []Descriptor{{Name: "ping"}}},
		})

		require.Equal(t, 2, c.Len())
		a, ok := c.Lookup("alpha__ping")
		require.True(t, ok)
		b, ok := c.Lookup("beta__ping")
		require.True(t, ok)
		assert.Equal(t, alpha, a.Invoker)
		assert.Equal(t, beta, b.Invoker)
		assert.Equal(t, []string{"alpha", "beta"}, c.Providers())
	})

	t.Run("should keep providers without tools", func(t *testing.T) {
		c := Build([]Source{{Provider: "empty", Invoker: alpha}})
		_, ok := c.Provider("empty")
		assert.True(t, ok)
		assert.Equal(t, 0, c.Len())
		assert.Contains(t, c.ByProvider(), "empty")
	})

	t.Run("should keep first contribution of duplicate provider", func(t *testing.T) {
		c := Build([]Source{
			{Provider: "alpha", Invoker: alpha, Tools: []Descriptor{{Name: "one"}}},
			{Provider: "alpha", Invoker: beta, Tools: []Descriptor{{Name: "two"}}},
		})
		inv, _ := c.Provider("alpha")
		assert.Equal(t, alpha, inv)
		_, ok := c.Lookup("alpha__two")
		assert.False(t, ok)
	})

	t.Run("should order tools by id", func(t *testing.T) {
		c := Build([]Source{
			{Provider: "zeta", Invoker: alpha, Tools: []Descriptor{{Name: "b"}, {Name: "a"}}},
			{Provider: "alpha", Invoker: beta, Tools: []Descriptor{{Name: "c"}}},
		})
		var ids []string
		for _, d := range c.Tools() {
			ids = append(ids, d.ID())
		}
		assert.Equal(t, []string{"alpha__c", "zeta__a", "zeta__b"}, ids)
	})

	t.Run("should skip tools whose ids would be ambiguous", func(t *testing.T) {
		c := Build([]Source{
			{Provider: "a", Invoker: alpha, Tools: []Descriptor{{Name: "_ping"}, {Name: "pong"}}},
			{Provider: "a_", Invoker: beta, Tools: []Descriptor{{Name: "ping"}}},
			{Provider: "b", Invoker: beta, Tools: []Descriptor{{Name: ""}}},
		})

		_, ok := c.Lookup("a___ping")
		assert.False(t, ok)
		assert.Equal(t, 1, c.Len())
		_, ok = c.Lookup("a__pong")
		assert.True(t, ok)

		for _, d := range c.Tools() {
			p, tool, err := SplitID(d.ID())
			require.NoError(t, err)
			assert.Equal(t, d.Provider, p)
			assert.Equal(t, d.Name, tool)
		}
	})

	t.Run("nil catalog is empty", func(t *testing.T) {
		var c *Catalog
		assert.Equal(t, 0, c.Len())
		_, ok := c.Lookup("a__b")
		assert.False(t, ok)
		assert.Empty(t, c.Tools())
	})
}

func TestDescriptorSchema(t *testing.T) {
	d := Descriptor{Name: "noargs"}
	assert.Equal(t, "object", d.Schema()["type"])

	d.InputSchema = map[string]any{"type": "object", "properties": map[string]any{"q": map[string]any{"type": "string"}}}
	assert.Contains(t, d.Schema()["properties"], "q")
}
