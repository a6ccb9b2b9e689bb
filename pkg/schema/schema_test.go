package schema_test

import (
	"context"
	"encoding/json"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndtt/trellis/pkg/schema"
)

const userSchema = `{
	"type": "object",
	"required": ["email"],
	"properties": {
		"email": {"type": "string", "minLength": 3},
		"age": {"type": "integer"}
	}
}`

func TestRegistry_Validate(t *testing.T) {
	t.Parallel()

	reg := schema.NewRegistry()
	reg.MustAdd("Users", "Save", []byte(userSchema))
	reg.MustAdd("Users", "Save#patch", []byte(`{"type":"object"}`))
	ctx := context.Background()

	t.Run("valid json body", func(t *testing.T) {
		t.Parallel()

		out, err := reg.Validate(ctx, "Users", "Save", "", map[string]any{"email": "a@b.c"})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"email": "a@b.c"}, out)
	})

	t.Run("form values are normalized", func(t *testing.T) {
		t.Parallel()

		out, err := reg.Validate(ctx, "Users", "Save", "", url.Values{"email": {"abc"}, "tags": {"x", "y"}})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"email": "abc", "tags": []any{"x", "y"}}, out)
	})

	t.Run("invalid body returns field errors", func(t *testing.T) {
		t.Parallel()

		_, err := reg.Validate(ctx, "Users", "Save", "", map[string]any{"age": "old"})
		var errs schema.Errors
		require.ErrorAs(t, err, &errs)
		require.NotEmpty(t, errs)

		var payload []map[string]string
		require.NoError(t, json.Unmarshal(errs.Output(), &payload))
		assert.NotEmpty(t, payload[0]["name"])
		assert.Equal(t, "application/json", errs.ContentType())
	})

	t.Run("subname selects variant", func(t *testing.T) {
		t.Parallel()

		_, err := reg.Validate(ctx, "Users", "Save", "patch", map[string]any{})
		require.NoError(t, err)

		_, err = reg.Validate(ctx, "Users", "Save", "missing", map[string]any{})
		require.Error(t, err)
	})

	t.Run("unknown schema", func(t *testing.T) {
		t.Parallel()

		_, err := reg.Validate(ctx, "Orders", "Save", "", nil)
		require.ErrorIs(t, err, schema.ErrUnknownSchema)
	})
}

func TestRegistry_Add(t *testing.T) {
	t.Parallel()

	reg := schema.NewRegistry()
	require.ErrorIs(t, reg.Add("A", "B", []byte(`{"type": 12}`)), schema.ErrInvalidSchema)
	assert.False(t, reg.Has("A", "B"))
	require.NoError(t, reg.Add("A", "B", []byte(`{}`)))
	assert.True(t, reg.Has("A", "B"))
	assert.Panics(t, func() { reg.MustAdd("A", "C", []byte(`{`)) })
}
