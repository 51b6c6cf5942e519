package main

import (
	"fmt"
	"os"

	"github.com/guseggert/nativehost/bridge"
	"github.com/guseggert/nativehost/codec"
	"github.com/guseggert/nativehost/fabric"
	"github.com/guseggert/nativehost/host"
	"github.com/guseggert/nativehost/internal/config"
	"github.com/guseggert/nativehost/internal/logging"
	"github.com/guseggert/nativehost/registry"
	"github.com/guseggert/nativehost/runner"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

type env struct {
	cfg    config.Config
	logger *zap.Logger
	log    *zap.SugaredLogger
}

// loadConfig layers the config file, then flags and env vars, over the defaults.
func loadConfig(c *cli.Context) (config.Config, error) {
	path, required := c.String("config"), c.IsSet("config")
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path, required)
	if err != nil {
		return cfg, err
	}

	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.IsSet("log-file") {
		cfg.LogFile = c.String("log-file")
	}
	if c.IsSet("fabric-path") {
		cfg.ExecutablePath = c.String("fabric-path")
	}
	if c.IsSet("search-dir") {
		cfg.SearchDirs = c.StringSlice("search-dir")
	}
	if c.IsSet("max-message-size") {
		cfg.MaxMessageSize = c.Int("max-message-size")
	}
	if c.IsSet("listen-addr") {
		cfg.Bridge.ListenAddr = c.String("listen-addr")
	}
	if c.IsSet("origin") {
		cfg.Bridge.OriginPatterns = c.StringSlice("origin")
	}
	return cfg, cfg.Validate()
}

func setup(c *cli.Context) (*env, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(level, cfg.LogFile)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, log: logger.Named("nativehost").Sugar()}, nil
}

func (e *env) newHost() *host.Host {
	return host.New(
		host.WithLogger(e.logger.Named("host").Sugar()),
		host.WithRunner(&runner.Exec{Log: e.logger.Named("runner").Sugar()}),
		host.WithResolver(&fabric.Resolver{
			Log:         e.logger.Named("resolver").Sugar(),
			DefaultPath: e.cfg.ExecutablePath,
			BinaryNames: e.cfg.BinaryNames,
			SearchDirs:  e.cfg.SearchDirs,
		}),
		host.WithRegistry(registry.New()),
		host.WithCodec(&codec.Codec{MaxMessageSize: e.cfg.MaxMessageSize}),
	)
}

func runStdio(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.logger.Sync()

	e.log.Infow("serving on stdio", "PID", os.Getpid(), "Args", c.Args().Slice())
	err = e.newHost().Serve(c.Context, os.Stdin, os.Stdout)
	if err != nil {
		return fmt.Errorf("serving: %w", err)
	}
	e.log.Info("input closed, exiting")
	return nil
}

var bridgeCommand = &cli.Command{
	Name:  "bridge",
	Usage: "Serve the protocol over WebSocket at /ws for development.",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "listen-addr",
			Usage:   "The address for the HTTP server to listen on.",
			EnvVars: []string{"NATIVEHOST_LISTEN_ADDR"},
		},
		&cli.StringSliceFlag{
			Name:  "origin",
			Usage: "Browser origin pattern allowed to connect, e.g. localhost:*. Repeatable.",
		},
	},
	Action: func(c *cli.Context) error {
		e, err := setup(c)
		if err != nil {
			return err
		}
		defer e.logger.Sync()

		s := &bridge.Server{
			Log:            e.logger.Named("bridge").Sugar(),
			Host:           e.newHost(),
			MaxMessageSize: e.cfg.MaxMessageSize,
			OriginPatterns: e.cfg.Bridge.OriginPatterns,
		}
		return s.ListenAndServe(c.Context, e.cfg.Bridge.ListenAddr)
	},
}
