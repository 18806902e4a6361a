// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package ngplugin

import (
	"context"
	"errors"

	"github.com/evanw/esbuild/pkg/api"
)

// NewPlugin creates an esbuild plugin compiling an Angular project.
// It accepts a list of OptionFunc to customize plugin behavior such as:
// - the tsconfig and entry module of the project
// - ahead-of-time or just-in-time compilation
// - internationalization settings
// - custom processor chains for various build phases
//
// Example usage:
//
//	plugin := NewPlugin(
//	  WithTsConfigPath("src/tsconfig.app.json"),
//	  WithMainPath("src/main.ts"),
//	  WithSkipCodeGeneration(true),
//	)
//
// Panics if the configuration is invalid, see New.
func NewPlugin(optsFunc ...OptionFunc) api.Plugin {
	p, err := New(optsFunc...)
	if err != nil {
		panic(err)
	}
	return p.Plugin()
}

// Plugin returns the esbuild plugin driven by p. Every build of the
// returned plugin is a build of p, so rebuilds of an esbuild context are
// incremental.
func (p *CompilerPlugin) Plugin() api.Plugin {
	opts := p.opts
	return api.Plugin{
		Name: opts.name,
		Setup: func(build api.PluginBuild) {
			// Step 1: Set the compile time flags the framework reads
			normalizeEsbuildOptions(build.InitialOptions, p.jitMode)

			// Step 2: Run the start processors, then start the compilation.
			// The build runs alongside esbuild; resolve and load callbacks
			// wait for it.
			var current *Compilation
			build.OnStart(func() (api.OnStartResult, error) {
				for _, processor := range opts.onStartProcessors {
					if err := processor(build.InitialOptions); err != nil {
						opts.logger.Error("Start processor failed", "error", err)
						return api.OnStartResult{}, err
					}
				}

				p.mu.Lock()
				if p.builds > 0 {
					p.firstRun = false
				}
				p.mu.Unlock()

				c := NewCompilation()
				run, err := p.begin(c)
				if errors.Is(err, ErrCompilationInUse) {
					return api.OnStartResult{Errors: []api.Message{{Text: err.Error()}}}, nil
				}
				if err != nil {
					return api.OnStartResult{}, err
				}
				current = c
				go run(context.Background())
				return api.OnStartResult{}, nil
			})

			// Step 3: Route resolution and loading of compiled sources
			setupResolveHandler(p, &build)
			setupLoadHandler(p, &build)

			// Step 4: Report the compilation, then run the end processors
			build.OnEnd(func(result *api.BuildResult) (api.OnEndResult, error) {
				var endResult api.OnEndResult
				if c := current; c != nil {
					p.waitForBuild()
					endResult.Errors = p.toMessages(c.Errors())
					endResult.Warnings = p.toMessages(c.Warnings())
					p.Finish(c)
					current = nil
				}

				for _, processor := range opts.onEndProcessors {
					if err := processor(result, build.InitialOptions); err != nil {
						opts.logger.Error("End processor failed", "error", err)
						return endResult, err
					}
				}
				return endResult, nil
			})

			// Step 5: Write index.html from the build outputs
			setupHtmlHandler(opts, &build)

			// Step 6: Cleanup once the build context is disposed
			build.OnDispose(func() {
				for _, processor := range opts.onDisposeProcessors {
					processor(build.InitialOptions)
				}
				if err := p.Close(); err != nil {
					opts.logger.Warn("Cannot close the plugin", "error", err)
				}
			})
		},
	}
}
