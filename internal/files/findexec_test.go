package files

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindExecutable(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(first, "tool"), []byte("data"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(second, "tool"), []byte("#!/bin/sh\n"), 0755))
	require.NoError(t, os.Mkdir(filepath.Join(first, "dir"), 0755))

	assert.Equal(t, filepath.Join(second, "tool"), FindExecutable("tool", []string{"", first, second}))
	assert.Empty(t, FindExecutable("dir", []string{first}))
	assert.Empty(t, FindExecutable("missing", []string{first, second}))
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "go/bin"), ExpandHome("~/go/bin"))
	assert.Equal(t, "/usr/bin", ExpandHome("/usr/bin"))
	assert.Equal(t, "~", ExpandHome("~"))
}
