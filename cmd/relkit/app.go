package main

import (
	"context"
	"os"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/relkit/internal/ci"
	"github.com/fyrsmithlabs/relkit/internal/config"
	"github.com/fyrsmithlabs/relkit/internal/dist"
	"github.com/fyrsmithlabs/relkit/internal/execx"
	"github.com/fyrsmithlabs/relkit/internal/forge"
	"github.com/fyrsmithlabs/relkit/internal/gitx"
	"github.com/fyrsmithlabs/relkit/internal/logging"
	"github.com/fyrsmithlabs/relkit/internal/plan"
	"github.com/fyrsmithlabs/relkit/internal/readiness"
	"github.com/fyrsmithlabs/relkit/internal/release"
	"github.com/fyrsmithlabs/relkit/internal/resolve"
	"github.com/fyrsmithlabs/relkit/internal/ui"
)

// app bundles the service graph behind the commands that talk to the forge.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	fs       afero.Fs
	printer  *ui.Printer
	forge    forge.Client
	git      *gitx.Git
	prober   *readiness.Prober
	resolver *resolve.Resolver
	planner  *plan.Planner
	runner   *release.Runner
}

// loadConfig loads the layered configuration and applies the CLI log
// overrides on top.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.Log.Format = flagLogFormat
	}
	return cfg, nil
}

// buildApp wires every release service. Commands that never touch the forge
// use loadConfig directly instead.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	if err := config.EnsureStateDirs(); err != nil {
		return nil, err
	}

	fc, err := forge.NewGitHubClient(ctx, cfg.GitHub.Token, logger)
	if err != nil {
		return nil, err
	}
	git, err := gitx.New(execx.NewRunner(logger), logger)
	if err != nil {
		return nil, err
	}
	prober, err := readiness.NewProber(cfg, git, fc, logger)
	if err != nil {
		return nil, err
	}
	resolver, err := resolve.NewResolver(cfg, prober, fc, logger)
	if err != nil {
		return nil, err
	}
	planner, err := plan.NewPlanner(cfg, fc, logger)
	if err != nil {
		return nil, err
	}
	gate, err := ci.NewGate(prober, logger)
	if err != nil {
		return nil, err
	}
	dispatcher, err := ci.NewDispatcher(cfg, fc, logger)
	if err != nil {
		return nil, err
	}

	fs := afero.NewOsFs()
	publisher, err := dist.NewPublisher(cfg, fs, git, fc, logger)
	if err != nil {
		return nil, err
	}
	printer := ui.NewPrinter(os.Stderr)
	runner, err := release.NewRunner(cfg, fs, gate, planner, publisher, dispatcher, printer, logger)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		fs:       fs,
		printer:  printer,
		forge:    fc,
		git:      git,
		prober:   prober,
		resolver: resolver,
		planner:  planner,
		runner:   runner,
	}, nil
}

func (a *app) close() {
	logging.Sync(a.logger)
}
