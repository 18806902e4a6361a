// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	ngplugin "github.com/buke/esbuild-plugin-ng-go"
)

var buildCmd = &cobra.Command{
	Use:     "build",
	Aliases: []string{"b"},
	Short:   "Build the application once",
	Long: `Build the application once into the output directory.

The command exits with a non-zero status when the build has errors.

Examples:
  ngbuild build
  ngbuild build --jit=false --minify --out-dir dist/prod`,
	RunE: runBuild,
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	logger := cfg.newLogger()

	p, err := newCompilerPlugin(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer p.Close()

	start := time.Now()
	result := api.Build(cfg.buildOptions(p.Plugin()))
	report(cmd.ErrOrStderr(), result)
	if len(result.Errors) > 0 {
		return fmt.Errorf("build failed with %d errors", len(result.Errors))
	}
	logger.Info("Build finished", "outDir", cfg.OutDir, "duration", time.Since(start).Round(time.Millisecond))
	return nil
}

func newCompilerPlugin(cfg *Config, logger *slog.Logger, reg prometheus.Registerer) (*ngplugin.CompilerPlugin, error) {
	opts, err := cfg.pluginOptions(afero.NewOsFs(), logger, reg)
	if err != nil {
		return nil, err
	}
	return ngplugin.New(opts...)
}

// report prints the errors and warnings of result the way esbuild does.
func report(w io.Writer, result api.BuildResult) {
	for _, kind := range []struct {
		kind     api.MessageKind
		messages []api.Message
	}{
		{api.WarningMessage, result.Warnings},
		{api.ErrorMessage, result.Errors},
	} {
		if len(kind.messages) == 0 {
			continue
		}
		formatted := api.FormatMessages(kind.messages, api.FormatMessagesOptions{
			Kind:          kind.kind,
			TerminalWidth: 100,
		})
		for _, msg := range formatted {
			fmt.Fprint(w, msg)
		}
	}
}

// serveMetrics serves the metrics of reg on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		logger.Info("Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "error", err)
			fmt.Fprintln(os.Stderr, err)
		}
	}()
}
