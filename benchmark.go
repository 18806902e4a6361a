// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package ngplugin

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/buke/esbuild-plugin-ng-go/compiler"
)

// EnvProfiling raises build phase timings from debug to info level.
const EnvProfiling = "NG_BUILD_PROFILING"

type metrics struct {
	builds      *prometheus.CounterVec
	phases      *prometheus.HistogramVec
	diagnostics *prometheus.CounterVec
}

// newMetrics creates the build collectors and registers them with reg.
// A nil reg leaves them unregistered.
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		builds: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ngplugin_builds_total",
				Help: "Total number of builds by result",
			},
			[]string{"result"},
		),
		phases: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ngplugin_phase_duration_seconds",
				Help:    "Duration of build phases in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"phase"},
		),
		diagnostics: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ngplugin_diagnostics_total",
				Help: "Total number of reported diagnostics by category",
			},
			[]string{"category"},
		),
	}
}

func (m *metrics) observeDiagnostics(diags compiler.Diagnostics) {
	for _, d := range diags {
		m.diagnostics.WithLabelValues(d.Category.String()).Inc()
	}
}

// time starts timing phase. Call the returned function when it is done.
func (p *CompilerPlugin) time(phase string) func() {
	start := time.Now()
	return func() {
		elapsed := time.Since(start)
		p.metrics.phases.WithLabelValues(phase).Observe(elapsed.Seconds())
		level := slog.LevelDebug
		if os.Getenv(EnvProfiling) != "" {
			level = slog.LevelInfo
		}
		p.logger.Log(context.Background(), level, "ngplugin."+phase, "duration", elapsed)
	}
}
