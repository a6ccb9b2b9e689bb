package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndtt/trellis/pkg/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.RequestTimeout)
	assert.Equal(t, int64(10*1024*1024), cfg.RequestLength())
	assert.Equal(t, time.Minute, cfg.CacheSweepInterval)
	assert.True(t, cfg.AllowGzip)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: shop
debug: true
request_timeout: 5s
request_length_kib: 64
websocket_max_length_kib: 1
`), 0o600))

	t.Setenv("TRELLIS_ADDRESS", ":9000")
	t.Setenv("TRELLIS_DEBUG", "false")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "shop", cfg.Name)
	assert.False(t, cfg.Debug)
	assert.Equal(t, ":9000", cfg.Address)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, int64(64*1024), cfg.RequestLength())
	assert.Equal(t, 1024, cfg.WebSocketMaxLength())
}

func TestLoad_Errors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, config.ErrRead)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("debug: [oops"), 0o600))
	_, err = config.Load(path)
	require.ErrorIs(t, err, config.ErrParse)
}
