package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/docstream/internal/config"
)

func TestServerConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	sc := serverConfig(&cfg)
	assert.Equal(t, "localhost", sc.Host)
	assert.Equal(t, 8080, sc.Port)
	assert.Equal(t, int64(50), sc.MaxUploadMB)
	assert.InDelta(t, 2.0, sc.RateLimit, 1e-9)
	assert.Equal(t, cfg.Images.URLPrefix, sc.ImageURLPrefix)

	cfg.Images.Backend = config.ImagesGCS
	assert.Empty(t, serverConfig(&cfg).ImageURLPrefix)
}

func TestApplyServeFlags(t *testing.T) {
	require.NoError(t, serveCmd.Flags().Parse([]string{"--port", "9090", "--rate-limit", "0", "--no-model"}))
	t.Cleanup(func() {
		for _, name := range []string{"port", "rate-limit", "no-model"} {
			f := serveCmd.Flags().Lookup(name)
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}
	})

	cfg := config.DefaultConfig()
	applyServeFlags(serveCmd, &cfg)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Zero(t, cfg.Server.RateLimit)
	assert.False(t, cfg.Pipeline.RunModel)
	assert.Equal(t, "localhost", cfg.Server.Host)
}

func TestConfigInitCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docstream.yaml")

	output, err := executeCommandAndCaptureOutput(t, rootCmd, []string{"config", "init", path})
	require.NoError(t, err)
	assert.Contains(t, output, "Wrote")
	_, err = os.Stat(path)
	require.NoError(t, err)

	_, err = executeCommandAndCaptureOutput(t, rootCmd, []string{"config", "init", path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestResolveHash(t *testing.T) {
	hash, err := resolveHash("deadbeef")
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", hash)

	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o600))
	hash, err = resolveHash(path)
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", hash)
}
