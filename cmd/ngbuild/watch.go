// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/buke/esbuild-plugin-ng-go/watch"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"w"},
	Short:   "Rebuild the application on every change",
	Long: `Build the application, then rebuild it incrementally whenever a source,
template, stylesheet or translation file changes. Changes below
node_modules, .git and the output directory are ignored.

When metrics_addr is set, build metrics are served on /metrics.

Examples:
  ngbuild watch
  NGBUILD_METRICS_ADDR=:9090 ngbuild watch`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	logger := cfg.newLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var reg prometheus.Registerer
	if cfg.MetricsAddr != "" {
		r := prometheus.NewRegistry()
		serveMetrics(ctx, cfg.MetricsAddr, r, logger)
		reg = r
	}

	p, err := newCompilerPlugin(cfg, logger, reg)
	if err != nil {
		return err
	}
	defer p.Close()

	buildCtx, ctxErr := api.Context(cfg.buildOptions(p.Plugin()))
	if ctxErr != nil {
		report(cmd.ErrOrStderr(), api.BuildResult{Errors: ctxErr.Errors})
		return fmt.Errorf("failed to create build context")
	}
	defer buildCtx.Dispose()

	printResult := func(result api.BuildResult) {
		report(cmd.ErrOrStderr(), result)
	}
	printResult(buildCtx.Rebuild())

	watcher, err := watch.NewFileWatcher(watch.DefaultDelay, watch.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	watcher.AddFilter(watch.SourceFilter)
	watcher.AddFilter(watch.NoNodeModulesFilter)
	watcher.AddFilter(watch.NoGitFilter)
	watcher.AddFilter(watch.NoOutputFilter(cfg.OutDir))
	watcher.AddHandler(watch.RebuildHandler(p, buildCtx, logger, printResult))
	if err := watcher.AddRecursive(p.BasePath()); err != nil {
		watcher.Stop()
		return fmt.Errorf("failed to watch %s: %w", p.BasePath(), err)
	}

	watcher.Start(ctx)
	logger.Info("Watching for changes", "dir", p.BasePath())
	<-ctx.Done()
	logger.Info("Stopping")
	return watcher.Stop()
}
