package fabric

import (
	"errors"
	"fmt"
	"os/exec"

	"github.com/guseggert/nativehost/internal/files"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("fabric executable not found")

// Resolver finds the executable to run.
//
// An explicit path (per request, else DefaultPath) is used when it points at an executable.
// Otherwise each of BinaryNames is looked up in PATH and then in SearchDirs.
// Hosts launched by a browser often inherit a minimal PATH, hence SearchDirs.
type Resolver struct {
	Log *zap.SugaredLogger

	DefaultPath string
	BinaryNames []string
	SearchDirs  []string
}

func (r *Resolver) Resolve(override *string) (string, error) {
	log := r.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	explicit := r.DefaultPath
	if override != nil && *override != "" {
		explicit = *override
	}
	if explicit != "" {
		p := files.ExpandHome(explicit)
		if files.IsExecutable(p) {
			return p, nil
		}
		log.Debugw("configured path is not executable, searching", "Path", explicit)
	}

	names := r.BinaryNames
	if len(names) == 0 {
		names = DefaultBinaryNames
	}
	for _, name := range names {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	for _, name := range names {
		if p := files.FindExecutable(name, r.SearchDirs); p != "" {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: searched PATH and %v for %v", ErrNotFound, r.SearchDirs, names)
}
