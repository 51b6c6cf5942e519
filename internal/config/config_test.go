package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"fabric-ai", "fabric"}, cfg.BinaryNames)
	assert.Equal(t, 1024*1024, cfg.MaxMessageSize)

	l, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, l)
}

func TestLoadOverlaysFile(t *testing.T) {
	t.Setenv("NATIVEHOST_TEST_DIR", "/srv/tools")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
executable_path: /opt/fabric/bin/fabric-ai
search_dirs: ["${NATIVEHOST_TEST_DIR}/bin"]
log_level: debug
bridge:
  listen_addr: 127.0.0.1:9999
`), 0644))

	cfg, err := Load(path, true)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/opt/fabric/bin/fabric-ai", cfg.ExecutablePath)
	assert.Equal(t, []string{"/srv/tools/bin"}, cfg.SearchDirs)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:9999", cfg.Bridge.ListenAddr)
	assert.Equal(t, Default().BinaryNames, cfg.BinaryNames, "unset keys keep defaults")
	assert.Equal(t, Default().MaxMessageSize, cfg.MaxMessageSize)
}

func TestLoadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.yaml")

	cfg, err := Load(path, false)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(path, true)
	assert.ErrorIs(t, err, os.ErrNotExist)

	cfg, err = Load("", true)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	cfg := Default()
	err := Parse(strings.NewReader("log_levle: debug\n"), &cfg)
	require.Error(t, err)
}

func TestParseEmptyDocument(t *testing.T) {
	cfg := Default()
	require.NoError(t, Parse(strings.NewReader(""), &cfg))
	assert.Equal(t, Default(), cfg)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{name: "zero max size", mutate: func(c *Config) { c.MaxMessageSize = 0 }, errMsg: "max_message_size"},
		{name: "bad level", mutate: func(c *Config) { c.LogLevel = "loud" }, errMsg: "log_level"},
		{name: "no binary names", mutate: func(c *Config) { c.BinaryNames = nil }, errMsg: "binary_names"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := Default()
			c.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), c.errMsg)
		})
	}
}
