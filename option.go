// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package ngplugin

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	jsexecutor "github.com/buke/js-executor"
	"github.com/evanw/esbuild/pkg/api"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"golang.org/x/net/html"

	"github.com/buke/esbuild-plugin-ng-go/compiler"
	"github.com/buke/esbuild-plugin-ng-go/compiler/esbuildc"
	"github.com/buke/esbuild-plugin-ng-go/resource"
	"github.com/buke/esbuild-plugin-ng-go/typechecker"
)

// Platform is the environment the application is compiled for.
type Platform int

const (
	PlatformBrowser Platform = iota
	PlatformServer
)

func (p Platform) String() string {
	if p == PlatformServer {
		return "server"
	}
	return "browser"
}

// OnStartProcessor is a function type for processing logic before the build starts.
// Receives the esbuild BuildOptions as input and can perform pre-build initialization,
// configuration validation, or environment setup.
// Returns an error if the processing fails, which will abort the build.
type OnStartProcessor func(buildOptions *api.BuildOptions) error

// OnEndProcessor is a function type for processing logic after the build ends.
// Receives the BuildResult and BuildOptions as input and can perform post-build processing,
// asset manipulation, file copying, or result analysis.
type OnEndProcessor func(result *api.BuildResult, buildOptions *api.BuildOptions) error

// OnDisposeProcessor is a function type for cleanup logic after the build is disposed.
// Dispose processors should not return errors as cleanup is best-effort.
type OnDisposeProcessor func(buildOptions *api.BuildOptions)

// IndexHtmlProcessor is a function type for processing the index.html after build.
// Receives the HTML document node, BuildResult, plugin options, and PluginBuild context.
type IndexHtmlProcessor func(doc *html.Node, result *api.BuildResult, opts *Options, build *api.PluginBuild) error

// IndexHtmlOptions holds configuration options for index.html processing.
type IndexHtmlOptions struct {
	SourceFile          string               // Source HTML file path to process
	OutFile             string               // Output HTML file path after processing
	BaseHref            string               // Value of <base href>, set or replaced when not empty
	DeployURL           string               // Prefix for injected script and stylesheet URLs
	RemoveTagXPaths     []string             // XPath expressions for removing specific HTML nodes
	IndexHtmlProcessors []IndexHtmlProcessor // Custom processors for HTML transformation
}

// Options holds all plugin configuration and processor chains.
type Options struct {
	name string // Plugin name for identification

	// Project
	tsConfigPath         string
	basePath             string
	entryModule          string
	mainPath             string
	skipCodeGeneration   bool
	platform             Platform
	sourceMap            *bool
	hostReplacementPaths map[string]string
	singleFileIncludes   []string

	// Internationalization
	i18nInFile         string
	i18nInFormat       string
	i18nOutFile        string
	i18nOutFormat      string
	locale             string
	missingTranslation string

	// Compiler and type checking
	registry           *compiler.Registry
	compilerName       string
	forkTypeChecker    bool
	typeCheckerOptions []typechecker.ClientOption

	// Resources
	resourceCompilers        map[string]resource.Compiler
	stylePreprocessorOptions map[string]any
	styleExtensions          []string
	jsExecutor               *jsexecutor.JsExecutor
	styleCompilerScript      string

	indexHtmlOptions IndexHtmlOptions

	// Processor chains for plugin extension points
	onStartProcessors   []OnStartProcessor   // Executed before build starts
	onEndProcessors     []OnEndProcessor     // Executed after build completes
	onDisposeProcessors []OnDisposeProcessor // Executed during cleanup

	fs                afero.Fs
	metricsRegisterer prometheus.Registerer
	logger            *slog.Logger
}

// OptionFunc is a function type for configuring plugin options using the functional options pattern.
type OptionFunc func(*Options)

// newOptions creates a new options struct with sensible default values.
func newOptions() *Options {
	return &Options{
		name:                     "ng-plugin",
		forkTypeChecker:          true,
		hostReplacementPaths:     make(map[string]string),
		resourceCompilers:        make(map[string]resource.Compiler),
		stylePreprocessorOptions: make(map[string]any),
		styleExtensions:          []string{".scss", ".sass", ".less", ".styl"},
		fs:                       afero.NewOsFs(),
		logger:                   slog.Default(),
	}
}

// WithName sets a custom plugin name for identification in esbuild logs and error messages.
func WithName(name string) OptionFunc {
	return func(opts *Options) {
		opts.name = name
	}
}

// WithTsConfigPath sets the tsconfig file of the project. It is required.
func WithTsConfigPath(tsConfigPath string) OptionFunc {
	return func(opts *Options) {
		opts.tsConfigPath = tsConfigPath
	}
}

// WithBasePath overrides the project root, which defaults to the directory
// of the tsconfig file.
func WithBasePath(basePath string) OptionFunc {
	return func(opts *Options) {
		opts.basePath = basePath
	}
}

// WithEntryModule sets the root module as "path/to/app.module#AppModule".
// Without it the module is taken from angularCompilerOptions.entryModule or
// found by analyzing the bootstrap call in the main file.
func WithEntryModule(entryModule string) OptionFunc {
	return func(opts *Options) {
		opts.entryModule = entryModule
	}
}

// WithMainPath sets the file that bootstraps the application.
func WithMainPath(mainPath string) OptionFunc {
	return func(opts *Options) {
		opts.mainPath = mainPath
	}
}

// WithSkipCodeGeneration selects just-in-time mode, where templates are
// compiled at run time and no factories are generated.
func WithSkipCodeGeneration(skip bool) OptionFunc {
	return func(opts *Options) {
		opts.skipCodeGeneration = skip
	}
}

// WithPlatform sets the target platform. It defaults to PlatformBrowser.
func WithPlatform(platform Platform) OptionFunc {
	return func(opts *Options) {
		opts.platform = platform
	}
}

// WithSourceMap forces source maps on or off. Without it the tsconfig
// sourceMap flag decides.
func WithSourceMap(enabled bool) OptionFunc {
	return func(opts *Options) {
		opts.sourceMap = &enabled
	}
}

// WithHostReplacementPaths serves the content of each value under the path
// of its key, e.g. environment.prod.ts in place of environment.ts.
func WithHostReplacementPaths(replacements map[string]string) OptionFunc {
	return func(opts *Options) {
		for original, replacement := range replacements {
			opts.hostReplacementPaths[original] = replacement
		}
	}
}

// WithSingleFileIncludes adds root files beyond those the tsconfig lists,
// such as polyfills.
func WithSingleFileIncludes(files ...string) OptionFunc {
	return func(opts *Options) {
		opts.singleFileIncludes = append(opts.singleFileIncludes, files...)
	}
}

// WithI18nInFile sets the translation file and its format.
func WithI18nInFile(file, format string) OptionFunc {
	return func(opts *Options) {
		opts.i18nInFile = file
		opts.i18nInFormat = format
	}
}

// WithI18nOutFile makes every build extract translatable messages to file.
func WithI18nOutFile(file, format string) OptionFunc {
	return func(opts *Options) {
		opts.i18nOutFile = file
		opts.i18nOutFormat = format
	}
}

// WithLocale sets the locale the application is built for. It is validated
// against the locale data shipped with @angular/common.
func WithLocale(locale string) OptionFunc {
	return func(opts *Options) {
		opts.locale = locale
	}
}

// WithMissingTranslation sets the strategy for missing translations
// ("error", "warning" or "ignore").
func WithMissingTranslation(strategy string) OptionFunc {
	return func(opts *Options) {
		opts.missingTranslation = strategy
	}
}

// WithCompilerRegistry sets the registry compilers are looked up in. The
// same registry must be passed to typechecker.MaybeRunWorker. It defaults
// to a registry holding only the esbuild transpiler.
func WithCompilerRegistry(registry *compiler.Registry) OptionFunc {
	return func(opts *Options) {
		opts.registry = registry
	}
}

// WithCompilerName selects a compiler from the registry. An empty name
// selects the registry default.
func WithCompilerName(name string) OptionFunc {
	return func(opts *Options) {
		opts.compilerName = name
	}
}

// WithForkTypeChecker controls whether full diagnostics after the first
// build run in a separate process. It is on by default.
func WithForkTypeChecker(fork bool) OptionFunc {
	return func(opts *Options) {
		opts.forkTypeChecker = fork
	}
}

// WithTypeCheckerOptions passes options to the type checker client.
func WithTypeCheckerOptions(clientOpts ...typechecker.ClientOption) OptionFunc {
	return func(opts *Options) {
		opts.typeCheckerOptions = append(opts.typeCheckerOptions, clientOpts...)
	}
}

// WithResourceCompiler registers a compiler for component resources with
// the given extension. Resources without one are loaded as plain text.
func WithResourceCompiler(ext string, c resource.Compiler) OptionFunc {
	return func(opts *Options) {
		opts.resourceCompilers[strings.ToLower(ext)] = c
	}
}

// WithStylePreprocessorOptions sets the style preprocessor options.
// These options are passed to the style compilation service and can include:
// - includePaths: []string - Additional paths for @import resolution
// - style: string - CSS output style (expanded, compressed, etc.)
// - sourceMap: boolean - Generate source maps for styles
func WithStylePreprocessorOptions(stylePreprocessorOptions map[string]any) OptionFunc {
	return func(opts *Options) {
		opts.stylePreprocessorOptions = stylePreprocessorOptions
	}
}

// WithJsExecutor compiles stylesheets with the ngStyle.compile service of
// an executor the caller owns.
func WithJsExecutor(jsExecutor *jsexecutor.JsExecutor) OptionFunc {
	return func(opts *Options) {
		opts.jsExecutor = jsExecutor
	}
}

// WithStyleCompilerScript compiles stylesheets with script, run in QuickJS
// engines the plugin starts itself. The script reads imported files
// through the compiler host, so generated and replaced files are visible
// to it.
func WithStyleCompilerScript(script string) OptionFunc {
	return func(opts *Options) {
		opts.styleCompilerScript = script
	}
}

// WithIndexHtmlOptions sets the index.html processing options.
func WithIndexHtmlOptions(indexHtmlOptions IndexHtmlOptions) OptionFunc {
	return func(opts *Options) {
		opts.indexHtmlOptions = indexHtmlOptions
	}
}

// WithOnStartProcessor adds an OnStartProcessor to the processor chain.
func WithOnStartProcessor(processor OnStartProcessor) OptionFunc {
	return func(opts *Options) {
		opts.onStartProcessors = append(opts.onStartProcessors, processor)
	}
}

// WithOnEndProcessor adds an OnEndProcessor to the processor chain.
func WithOnEndProcessor(processor OnEndProcessor) OptionFunc {
	return func(opts *Options) {
		opts.onEndProcessors = append(opts.onEndProcessors, processor)
	}
}

// WithOnDisposeProcessor adds an OnDisposeProcessor to the processor chain.
func WithOnDisposeProcessor(processor OnDisposeProcessor) OptionFunc {
	return func(opts *Options) {
		opts.onDisposeProcessors = append(opts.onDisposeProcessors, processor)
	}
}

// WithFs sets the filesystem the compiler host reads from. It defaults to
// the operating system filesystem.
func WithFs(fsys afero.Fs) OptionFunc {
	return func(opts *Options) {
		opts.fs = fsys
	}
}

// WithMetricsRegisterer registers build metrics with reg.
func WithMetricsRegisterer(reg prometheus.Registerer) OptionFunc {
	return func(opts *Options) {
		opts.metricsRegisterer = reg
	}
}

// WithLogger sets a custom logger for the plugin.
// Defaults to slog.Default() if not specified.
func WithLogger(logger *slog.Logger) OptionFunc {
	return func(opts *Options) {
		opts.logger = logger
	}
}

// defaultRegistry holds the transpile-only esbuild compiler.
func defaultRegistry() *compiler.Registry {
	registry := compiler.NewRegistry()
	_ = esbuildc.Register(registry)
	return registry
}

// normalizeEsbuildOptions sets the global flags the framework reads at run
// time and enables the metafile the index.html processing needs.
func normalizeEsbuildOptions(initialOptions *api.BuildOptions, jitMode bool) {
	if initialOptions.Define == nil {
		initialOptions.Define = make(map[string]string)
	}
	if _, ok := initialOptions.Define["ngJitMode"]; !ok {
		initialOptions.Define["ngJitMode"] = fmt.Sprintf(`%t`, jitMode)
	}
	if _, ok := initialOptions.Define["ngI18nClosureMode"]; !ok {
		initialOptions.Define["ngI18nClosureMode"] = "false"
	}
	if _, ok := initialOptions.Define["ngDevMode"]; !ok && (initialOptions.MinifySyntax || initialOptions.MinifyIdentifiers) {
		initialOptions.Define["ngDevMode"] = "false"
	}

	// Enable metafile generation for build analysis and HTML processing
	initialOptions.Metafile = true
}

// CopyAssets returns an OnEndProcessor that copies files after the build.
// Each key-value pair in fileMap represents srcFile -> outFile mapping.
//
// Example usage:
//
//	processor := CopyAssets(map[string]string{
//	  "src/favicon.ico": "dist/favicon.ico",
//	  "src/robots.txt":  "dist/robots.txt",
//	})
func CopyAssets(fileMap map[string]string) OnEndProcessor {
	return func(result *api.BuildResult, initialOptions *api.BuildOptions) error {
		for srcFile, outFile := range fileMap {
			if err := copyFile(srcFile, outFile); err != nil {
				return err
			}
		}
		return nil
	}
}

func copyFile(srcFile, outFile string) error {
	src, err := os.Open(srcFile)
	if err != nil {
		return fmt.Errorf("failed to open source file %s: %w", srcFile, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(outFile), 0o755); err != nil {
		return fmt.Errorf("failed to create output dir for %s: %w", outFile, err)
	}
	dst, err := os.Create(outFile)
	if err != nil {
		return fmt.Errorf("failed to create output file %s: %w", outFile, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("failed to copy from %s to %s: %w", srcFile, outFile, err)
	}
	return dst.Close()
}
