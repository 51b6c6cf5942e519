package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/guseggert/nativehost/bridge"
	"github.com/guseggert/nativehost/client"
	"github.com/guseggert/nativehost/protocol"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

var callCommand = &cli.Command{
	Name:      "call",
	Usage:     "Start a host (or connect to a bridge), send one request and print the result.",
	ArgsUsage: "<ping|patterns|contexts|process>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "path", Usage: "Per-request override of the fabric executable."},
		&cli.StringFlag{Name: "content", Usage: "Content to process. Read from stdin when unset."},
		&cli.StringFlag{Name: "pattern", Usage: "Pattern to apply."},
		&cli.StringFlag{Name: "model", Usage: "Model to use."},
		&cli.StringFlag{Name: "context", Usage: "Context to use."},
		&cli.StringFlag{Name: "prompt", Usage: "Custom prompt, used when no pattern is given."},
		&cli.StringFlag{Name: "bridge-url", Usage: "Connect to a running bridge, e.g. ws://127.0.0.1:8765/ws, instead of starting a host."},
	},
	Action: callAction,
}

func optional(c *cli.Context, name string) *string {
	if !c.IsSet(name) {
		return nil
	}
	return protocol.Ptr(c.String(name))
}

func callAction(c *cli.Context) error {
	kind := c.Args().First()
	if kind == "" {
		return cli.Exit("missing request type, one of [ping,patterns,contexts,process]", 2)
	}
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.logger.Sync()

	req := callRequest{kind: kind, path: optional(c, "path")}
	if kind == "process" {
		content := c.String("content")
		if !c.IsSet("content") {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("reading content from stdin: %w", err)
			}
			content = string(b)
		}
		req.process = protocol.ProcessContent{
			Content:      content,
			Pattern:      optional(c, "pattern"),
			Model:        optional(c, "model"),
			Context:      optional(c, "context"),
			CustomPrompt: optional(c, "prompt"),
		}
	}

	if url := c.String("bridge-url"); url != "" {
		conn, err := bridge.Dial(c.Context, e.log, url, nil)
		if err != nil {
			return err
		}
		defer conn.Close()
		return req.do(c.Context, conn.Client)
	}

	// run this binary as a host over a pipe pair, like a browser would
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("finding own executable: %w", err)
	}
	cmd := exec.CommandContext(c.Context, self, hostArgs(c)...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting host: %w", err)
	}
	cl := client.New(e.logger.Named("client").Sugar(), stdout, stdin, nil)

	var callErr error
	g := &errgroup.Group{}
	g.Go(func() error {
		// closing stdin lets the host exit once the request is answered
		defer stdin.Close()
		callErr = req.do(c.Context, cl)
		return nil
	})
	g.Go(func() error {
		<-cl.Done()
		if err := cmd.Wait(); err != nil {
			return fmt.Errorf("host exited: %w", err)
		}
		return nil
	})
	waitErr := g.Wait()
	if callErr != nil {
		return callErr
	}
	return waitErr
}

// hostArgs forwards the global flags to the child host.
func hostArgs(c *cli.Context) []string {
	var args []string
	for _, name := range []string{"config", "log-level", "log-file", "fabric-path", "max-message-size"} {
		if c.IsSet(name) {
			args = append(args, "--"+name, c.String(name))
		}
	}
	for _, dir := range c.StringSlice("search-dir") {
		args = append(args, "--search-dir", dir)
	}
	return append(args, "run")
}

type callRequest struct {
	kind    string
	path    *string
	process protocol.ProcessContent
}

func (r callRequest) do(ctx context.Context, cl *client.Client) error {
	switch r.kind {
	case "ping":
		pong, err := cl.Ping(ctx, r.path)
		if err != nil {
			return err
		}
		return json.NewEncoder(os.Stdout).Encode(pong)
	case "patterns", "contexts":
		list := cl.ListPatterns
		if r.kind == "contexts" {
			list = cl.ListContexts
		}
		names, err := list(ctx, r.path)
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	case "process":
		done, err := cl.Process(ctx, r.path, r.process, func(line string) {
			fmt.Print(line)
		})
		if err != nil {
			return err
		}
		if done.ExitCode == nil {
			return cli.Exit("fabric was terminated by a signal", 1)
		}
		if *done.ExitCode != 0 {
			return cli.Exit("fabric exited with code "+strconv.Itoa(*done.ExitCode), *done.ExitCode)
		}
		return nil
	}
	return cli.Exit(fmt.Sprintf("unknown request type %q", r.kind), 2)
}
