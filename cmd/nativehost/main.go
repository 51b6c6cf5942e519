package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "nativehost",
		Usage: "native messaging host that streams fabric output to a browser extension",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to the YAML config file. Defaults to nativehost/config.yaml in the user config dir.",
				EnvVars: []string{"NATIVEHOST_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "One of [debug,info,warn,error].",
				EnvVars: []string{"NATIVEHOST_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-file",
				Usage:   "Write logs to this file instead of stderr.",
				EnvVars: []string{"NATIVEHOST_LOG_FILE"},
			},
			&cli.StringFlag{
				Name:    "fabric-path",
				Usage:   "Path to the fabric executable, used when a request does not name one.",
				EnvVars: []string{"NATIVEHOST_FABRIC_PATH"},
			},
			&cli.StringSliceFlag{
				Name:    "search-dir",
				Usage:   "Directory to search for fabric when it is not in PATH. Repeatable.",
				EnvVars: []string{"NATIVEHOST_SEARCH_DIRS"},
			},
			&cli.IntFlag{
				Name:    "max-message-size",
				Usage:   "Maximum size of a message body in bytes.",
				EnvVars: []string{"NATIVEHOST_MAX_MESSAGE_SIZE"},
			},
			// Chrome on Windows passes the handle of the calling window.
			&cli.StringFlag{
				Name:   "parent-window",
				Hidden: true,
			},
		},
		// Browsers pass the caller origin as a positional argument; it is only logged.
		Action: runStdio,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Serve the protocol on stdin/stdout (the default).",
				Action: runStdio,
			},
			bridgeCommand,
			callCommand,
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
