package id_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndtt/trellis/pkg/id"
)

func TestToken(t *testing.T) {
	t.Parallel()

	assert.Empty(t, id.Token(0))

	tok := id.Token(32)
	require.Len(t, tok, 32)
	for _, c := range tok {
		assert.True(t, strings.ContainsRune("0123456789ABCDEFGHJKMNPQRSTVWXYZ", c), "invalid char %c", c)
	}

	seen := make(map[string]bool, 200)
	for range 200 {
		tok := id.Token(20)
		require.False(t, seen[tok])
		seen[tok] = true
	}
}

func TestConnection(t *testing.T) {
	t.Parallel()

	cid := id.Connection("192.168.0.12")
	require.Len(t, cid, len("192168012")+20)
	assert.True(t, strings.HasPrefix(cid, "192168012"))

	v6 := id.Connection("::1")
	assert.True(t, strings.HasPrefix(v6, "1"))
	assert.NotEqual(t, id.Connection("::1"), v6)
}
