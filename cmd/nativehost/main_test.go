package main

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/guseggert/nativehost/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func testContext(t *testing.T, args ...string) *cli.Context {
	t.Helper()
	app := newApp()
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, f := range append(app.Flags, bridgeCommand.Flags...) {
		require.NoError(t, f.Apply(set))
	}
	require.NoError(t, set.Parse(args))
	return cli.NewContext(app, set, nil)
}

func TestLoadConfigPrecedence(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: warn
executable_path: /from/file
bridge:
  listen_addr: 127.0.0.1:1111
`), 0644))

	cfg, err := loadConfig(testContext(t, "--config", path))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "/from/file", cfg.ExecutablePath)
	assert.Equal(t, "127.0.0.1:1111", cfg.Bridge.ListenAddr)

	cfg, err = loadConfig(testContext(t,
		"--config", path,
		"--log-level", "debug",
		"--fabric-path", "/from/flag",
		"--search-dir", "/a", "--search-dir", "/b",
		"--listen-addr", "127.0.0.1:2222",
	))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/from/flag", cfg.ExecutablePath)
	assert.Equal(t, []string{"/a", "/b"}, cfg.SearchDirs)
	assert.Equal(t, "127.0.0.1:2222", cfg.Bridge.ListenAddr)
}

func TestLoadConfigDefaultsWithoutFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := loadConfig(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoadConfigErrors(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	_, err := loadConfig(testContext(t, "--config", filepath.Join(t.TempDir(), "missing.yaml")))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = loadConfig(testContext(t, "--max-message-size", "0"))
	assert.ErrorContains(t, err, "max_message_size")
}

func TestHostArgs(t *testing.T) {
	c := testContext(t, "--log-level", "debug", "--search-dir", "/x")
	assert.Equal(t, []string{"--log-level", "debug", "--search-dir", "/x", "run"}, hostArgs(c))
}
