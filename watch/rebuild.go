// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package watch

import (
	"log/slog"

	"github.com/evanw/esbuild/pkg/api"
)

// Invalidator is told which files changed before a rebuild.
// *ngplugin.CompilerPlugin implements it.
type Invalidator interface {
	Invalidate(paths ...string)
}

// Rebuilder runs an incremental build. api.BuildContext implements it.
type Rebuilder interface {
	Rebuild() api.BuildResult
}

// RebuildHandler returns a handler that invalidates the changed files and
// rebuilds. Each result is passed to report when it is not nil.
func RebuildHandler(inv Invalidator, rb Rebuilder, logger *slog.Logger, report func(api.BuildResult)) ChangeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(events []ChangeEvent) error {
		paths := Paths(events)
		logger.Info("Files changed, rebuilding", "count", len(paths))
		for _, event := range events {
			logger.Debug("File changed", "file", event.Path, "type", event.Type)
		}

		inv.Invalidate(paths...)
		result := rb.Rebuild()
		if len(result.Errors) > 0 {
			logger.Warn("Rebuild finished with errors", "errors", len(result.Errors), "warnings", len(result.Warnings))
		} else {
			logger.Info("Rebuild finished", "warnings", len(result.Warnings))
		}
		if report != nil {
			report(result)
		}
		return nil
	}
}
