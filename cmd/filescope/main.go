package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/bryanwahyu/filescope/internal/bootstrap"
	"github.com/bryanwahyu/filescope/internal/config"
	"github.com/bryanwahyu/filescope/internal/logging"
	"github.com/bryanwahyu/filescope/internal/observability"
)

const defaultConfigPath = "config.yaml"

func main() {
	app := &cli.App{
		Name:  "filescope",
		Usage: "submit datasets for AI quality analysis and register them on-chain",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				EnvVars: []string{"CONFIG_PATH"},
				Usage:   "path to config.yaml (optional when ./config.yaml is absent)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "overrides log.level",
			},
		},
		Commands: []*cli.Command{
			submitCmd,
			resumeCmd,
			retryCmd,
			resetCmd,
			statusCmd,
			serveCmd,
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "filescope:", err)
		os.Exit(1)
	}
}

// loadConfig resolves --config, falling back to ./config.yaml when present.
func loadConfig(cctx *cli.Context) (*config.Config, error) {
	path := cctx.String("config")
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			path = defaultConfigPath
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config load error: %w", err)
	}
	if lvl := cctx.String("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	return cfg, nil
}

// env is the per-command runtime: config, logger and tracing.
type env struct {
	cfg      *config.Config
	log      *zap.Logger
	shutdown func(context.Context) error
}

func setup(cctx *cli.Context) (*env, error) {
	cfg, err := loadConfig(cctx)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	shutdown, err := observability.InitTracing(bootstrap.TracingConfig(cfg))
	if err != nil {
		log.Warn("tracing disabled", zap.Error(err))
	}
	return &env{cfg: cfg, log: log, shutdown: shutdown}, nil
}

func (e *env) close() {
	if e.shutdown != nil {
		if err := e.shutdown(context.Background()); err != nil {
			e.log.Warn("tracing shutdown", zap.Error(err))
		}
	}
	_ = e.log.Sync()
}

// openApp wires the full pipeline for commands that drive it.
func openApp(cctx *cli.Context) (*env, *bootstrap.App, error) {
	e, err := setup(cctx)
	if err != nil {
		return nil, nil, err
	}
	a, err := bootstrap.New(cctx.Context, e.cfg, e.log)
	if err != nil {
		e.close()
		return nil, nil, err
	}
	return e, a, nil
}

func closeApp(e *env, a *bootstrap.App) {
	if err := a.Close(); err != nil && !errors.Is(err, context.Canceled) {
		e.log.Warn("close", zap.Error(err))
	}
	e.close()
}
