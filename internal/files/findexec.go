package files

import (
	"os"
	"path/filepath"
)

// FindExecutable returns the first dir/name, in dir order, that is a regular file with an execute bit set.
// It returns "" if there is none.
func FindExecutable(name string, dirs []string) string {
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		p := filepath.Join(ExpandHome(dir), name)
		if IsExecutable(p) {
			return p
		}
	}
	return ""
}

// IsExecutable reports whether path is a regular file with any execute bit set.
func IsExecutable(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	return fi.Mode().IsRegular() && fi.Mode().Perm()&0111 != 0
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	if len(path) < 2 || path[:2] != "~/" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
