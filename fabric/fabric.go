// Package fabric knows how to invoke the fabric command line tool: which flags to pass,
// where to find the binary, and how to read its listing output.
package fabric

import (
	"strings"

	"github.com/guseggert/nativehost/runner"
)

// DefaultBinaryNames are searched for, in order, when no explicit path is configured.
var DefaultBinaryNames = []string{"fabric-ai", "fabric"}

// StreamOptions selects how content is processed.
// Pattern takes precedence over CustomPrompt.
type StreamOptions struct {
	Model        *string
	Pattern      *string
	Context      *string
	CustomPrompt *string
}

// VersionCommand asks the tool for its version.
func VersionCommand(path string) runner.Command {
	return runner.Command{Path: path, Args: []string{"--version"}}
}

// ListPatternsCommand lists the available patterns, one per line.
func ListPatternsCommand(path string) runner.Command {
	return runner.Command{Path: path, Args: []string{"--listpatterns"}}
}

// ListContextsCommand lists the available contexts, one per line.
func ListContextsCommand(path string) runner.Command {
	return runner.Command{Path: path, Args: []string{"--listcontexts"}}
}

// StreamCommand processes stdin and streams the result on stdout.
func StreamCommand(path string, opts StreamOptions) runner.Command {
	args := []string{"--stream"}
	if opts.Model != nil {
		args = append(args, "--model", *opts.Model)
	}
	if opts.Pattern != nil {
		args = append(args, "--pattern", *opts.Pattern)
	} else if opts.CustomPrompt != nil {
		args = append(args, *opts.CustomPrompt)
	}
	if opts.Context != nil {
		args = append(args, "--context", *opts.Context)
	}
	return runner.Command{Path: path, Args: args}
}

// ParseList splits listing output into its non-empty trimmed lines, in order.
func ParseList(stdout string) []string {
	names := []string{}
	for _, line := range strings.Split(stdout, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	return names
}
