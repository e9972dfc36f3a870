package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/guseggert/procrelay/agent"
	"github.com/guseggert/procrelay/config"
	"github.com/guseggert/procrelay/internal/files"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	app := &cli.App{
		Name:  "procrelay",
		Usage: "supervise processes and relay their standard streams to controllers over WebSocket",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: fmt.Sprintf("Path to the config file. Defaults to the nearest %s in the working directory or its parents.", config.FileName),
			},
			&cli.StringFlag{
				Name:  "listen-addr",
				Usage: "The address for the HTTP server to listen on. Overrides the config file.",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "One of [debug,info,warn,error]. Overrides the config file.",
			},
			&cli.IntFlag{
				Name:  "buffer-size",
				Usage: "Number of events buffered per controller connection before the oldest are dropped. Overrides the config file.",
			},
			&cli.DurationFlag{
				Name:  "drain-timeout",
				Usage: "How long to wait for output to drain after a process exits. Overrides the config file.",
			},
			&cli.DurationFlag{
				Name:  "shutdown-timeout",
				Usage: "How long to wait for processes to exit on shutdown. Overrides the config file.",
			},
			&cli.BoolFlag{
				Name:  "production-logs",
				Usage: "Log JSON instead of human-readable lines.",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(c *cli.Context) (config.Config, error) {
	path := c.String("config")
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return config.Config{}, fmt.Errorf("getting working dir: %w", err)
		}
		path, err = files.FindUp(config.FileName, wd)
		if err != nil {
			return config.Config{}, fmt.Errorf("finding %s: %w", config.FileName, err)
		}
		if path == "" {
			return config.Config{}, fmt.Errorf("no %s found, pass --config", config.FileName)
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("loading %s: %w", path, err)
	}

	if c.IsSet("listen-addr") {
		cfg.ListenAddr = c.String("listen-addr")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.IsSet("buffer-size") {
		cfg.BufferSize = c.Int("buffer-size")
	}
	if c.IsSet("drain-timeout") {
		cfg.DrainTimeout = c.Duration("drain-timeout")
	}
	if c.IsSet("shutdown-timeout") {
		cfg.ShutdownTimeout = c.Duration("shutdown-timeout")
	}
	return cfg, cfg.Validate()
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}

	var logger *zap.Logger
	if c.Bool("production-logs") {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	a, err := agent.New(
		cfg.SupervisorConfigs(),
		agent.WithLogger(logger),
		agent.WithLogLevel(level),
		agent.WithListenAddr(cfg.ListenAddr),
		agent.WithBufferSize(cfg.BufferSize),
	)
	if err != nil {
		return fmt.Errorf("building agent: %w", err)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(a.Run)
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Sugar().Infow("shutting down", "Timeout", cfg.ShutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return a.Stop(shutdownCtx)
	})
	err = group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
