// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package ngplugin

import (
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cespare/xxhash"
	jsexecutor "github.com/buke/js-executor"
	"github.com/spf13/afero"

	"github.com/buke/esbuild-plugin-ng-go/compiler"
	qjscompiler "github.com/buke/esbuild-plugin-ng-go/engines/quickjs-go"
	"github.com/buke/esbuild-plugin-ng-go/host"
	"github.com/buke/esbuild-plugin-ng-go/resource"
	"github.com/buke/esbuild-plugin-ng-go/transform"
	"github.com/buke/esbuild-plugin-ng-go/typechecker"
)

// CompilerPlugin drives a whole-program compiler from esbuild builds. It
// keeps the compiler host, the program of the last build and the lazy
// route map alive between builds, so a rebuild only redoes the work its
// changed files require.
type CompilerPlugin struct {
	opts   *Options
	logger *slog.Logger

	compiler           compiler.Compiler
	compilerOptions    *compiler.Options
	tsConfigPath       string
	basePath           string
	mainPath           string
	singleFileIncludes []string
	replacements       map[string]string // original -> replacement
	jitMode            bool
	platform           Platform
	locale             string

	host         *host.Host
	resolver     *compiler.Resolver
	resources    *resource.Loader
	transformers []transform.Transformer
	metrics      *metrics
	styleExec    *jsexecutor.JsExecutor // owned, started by New

	// buildMu serializes builds.
	buildMu sync.Mutex

	mu             sync.Mutex
	program        compiler.Program
	rootNames      []string
	entryModule    *transform.EntryModule
	lazyRoutes     *LazyRouteMap
	firstRun       bool
	builds         int
	emitSkipped    bool
	compilation    *Compilation
	done           chan struct{}
	typeChecker    *typechecker.Client
	inlined        map[string]string   // resource contents for this build
	resourceOwners map[string][]string // resource -> files referencing it
	warnedNoRoutes bool
	closed         bool
}

// New resolves the configuration once. Everything it computes drives every
// build of the plugin; changing it requires a new plugin.
func New(optsFunc ...OptionFunc) (*CompilerPlugin, error) {
	opts := newOptions()
	for _, fn := range optsFunc {
		fn(opts)
	}
	if opts.tsConfigPath == "" {
		return nil, ErrMissingTsConfigPath
	}
	if opts.registry == nil {
		opts.registry = defaultRegistry()
	}

	tsConfigPath, err := filepath.Abs(opts.tsConfigPath)
	if err != nil {
		return nil, fmt.Errorf("resolve tsconfig path: %w", err)
	}
	tsConfigPath = filepath.ToSlash(tsConfigPath)
	cfg, err := compiler.ReadConfiguration(opts.fs, tsConfigPath)
	if err != nil {
		return nil, err
	}
	if cfg.Errors.HasErrors() {
		return nil, fmt.Errorf("invalid tsconfig %s: %s", tsConfigPath, cfg.Errors.Format())
	}

	p := &CompilerPlugin{
		opts:           opts,
		logger:         opts.logger.With("plugin", opts.name),
		tsConfigPath:   tsConfigPath,
		basePath:       path.Dir(tsConfigPath),
		replacements:   make(map[string]string),
		jitMode:        opts.skipCodeGeneration,
		platform:       opts.platform,
		lazyRoutes:     NewLazyRouteMap(),
		firstRun:       true,
		inlined:        make(map[string]string),
		resourceOwners: make(map[string][]string),
	}
	if opts.basePath != "" {
		abs, err := filepath.Abs(opts.basePath)
		if err != nil {
			return nil, fmt.Errorf("resolve base path: %w", err)
		}
		p.basePath = filepath.ToSlash(abs)
	}

	p.compiler, err = opts.registry.Lookup(opts.compilerName)
	if err != nil {
		return nil, err
	}
	if !p.jitMode && !p.compiler.SupportsCodeGeneration() {
		return nil, fmt.Errorf("%s: %w", p.compiler.Name(), ErrCodeGenerationUnsupported)
	}

	p.compilerOptions = p.resolveCompilerOptions(cfg.Options)
	if opts.locale != "" {
		locale, err := validateLocale(opts.fs, localesDir(opts.fs, p.basePath), opts.locale)
		if err != nil {
			return nil, err
		}
		p.locale = locale
		p.compilerOptions.I18nInLocale = locale
	}

	p.host = host.New(opts.fs, p.basePath)
	p.host.EnableCaching()
	p.resolver = compiler.NewResolver(p.host, p.compilerOptions)

	for _, f := range opts.singleFileIncludes {
		p.singleFileIncludes = append(p.singleFileIncludes, p.host.Resolve(f))
	}
	p.rootNames = append(append([]string(nil), cfg.RootNames...), p.singleFileIncludes...)

	for original, replacement := range opts.hostReplacementPaths {
		original, replacement = p.host.Resolve(original), p.host.Resolve(replacement)
		p.replacements[original] = replacement
		if err := p.applyReplacement(original, replacement); err != nil {
			return nil, err
		}
	}

	if opts.mainPath != "" {
		p.mainPath = p.host.Resolve(opts.mainPath)
	}
	switch {
	case opts.entryModule != "":
		p.entryModule = parseEntryModule(opts.entryModule, p.basePath)
	case p.compilerOptions.EntryModule != "":
		p.entryModule = parseEntryModule(p.compilerOptions.EntryModule, p.basePath)
	}

	if err := p.setupResources(); err != nil {
		return nil, err
	}
	p.transformers = p.makeTransformers()
	p.metrics = newMetrics(opts.metricsRegisterer)
	return p, nil
}

// resolveCompilerOptions applies the settings the plugin depends on over
// the tsconfig options.
func (p *CompilerPlugin) resolveCompilerOptions(base *compiler.Options) *compiler.Options {
	options := base.Clone()
	options.BasePath = p.basePath

	// Outputs live next to their sources in the host.
	options.OutDir = ""
	options.NoEmitOnError = false

	sourceMap := options.SourceMap
	if p.opts.sourceMap != nil {
		sourceMap = *p.opts.sourceMap
	}
	options.SourceMap = sourceMap
	options.InlineSources = sourceMap
	options.InlineSourceMap = false
	options.MapRoot = ""
	options.SourceRoot = ""

	if p.opts.i18nInFile != "" {
		options.I18nInFile = p.opts.i18nInFile
	}
	if p.opts.i18nInFormat != "" {
		options.I18nInFormat = p.opts.i18nInFormat
	}
	if p.opts.i18nOutFile != "" {
		options.I18nOutFile = p.opts.i18nOutFile
	}
	if p.opts.i18nOutFormat != "" {
		options.I18nOutFormat = p.opts.i18nOutFormat
	}
	if p.opts.missingTranslation != "" {
		options.MissingTranslation = p.opts.missingTranslation
	}
	return options
}

// applyReplacement serves the content of replacement under original.
func (p *CompilerPlugin) applyReplacement(original, replacement string) error {
	content, err := p.host.ReadFile(replacement)
	if err != nil {
		return fmt.Errorf("cannot read replacement %s for %s: %w", replacement, original, err)
	}
	p.host.WriteFile(original, content)
	return nil
}

func (p *CompilerPlugin) setupResources() error {
	loaderOpts := []resource.Option{resource.WithLogger(p.logger)}

	executor := p.opts.jsExecutor
	if executor == nil && p.opts.styleCompilerScript != "" {
		exec, err := jsexecutor.NewExecutor(
			jsexecutor.WithJsEngine(qjscompiler.NewStyleCompilerFactory(p.opts.styleCompilerScript, p.host)),
		)
		if err != nil {
			return fmt.Errorf("cannot create style compiler: %w", err)
		}
		if err := exec.Start(); err != nil {
			return fmt.Errorf("cannot start style compiler: %w", err)
		}
		p.styleExec = exec
		executor = exec
	}
	if executor != nil {
		styles := resource.NewExecutorCompiler(executor, resource.WithPreprocessorOptions(p.opts.stylePreprocessorOptions))
		for _, ext := range p.opts.styleExtensions {
			loaderOpts = append(loaderOpts, resource.WithCompiler(ext, styles))
		}
	}
	for ext, c := range p.opts.resourceCompilers {
		loaderOpts = append(loaderOpts, resource.WithCompiler(ext, c))
	}
	p.resources = resource.NewLoader(p.host, loaderOpts...)
	return nil
}

func isAppPath(fileName string) bool {
	return !strings.HasSuffix(fileName, ".ngfactory.ts") && !strings.HasSuffix(fileName, ".ngstyle.ts")
}

func (p *CompilerPlugin) isMainPath(fileName string) bool {
	return p.mainPath != "" && fileName == p.mainPath
}

// makeTransformers builds the pipeline run on every emitted file. Locale
// registration looks for the bootstrap call that the bootstrap replacement
// rewrites, so it comes first.
func (p *CompilerPlugin) makeTransformers() []transform.Transformer {
	var transformers []transform.Transformer
	if p.jitMode {
		transformers = append(transformers, transform.ReplaceResources(isAppPath, p.inlinedResource))
	}
	switch p.platform {
	case PlatformBrowser:
		if p.locale != "" {
			transformers = append(transformers, transform.RegisterLocaleData(isAppPath, p.EntryModule, p.locale))
		}
		if !p.jitMode {
			transformers = append(transformers, transform.ReplaceBootstrap(isAppPath, p.EntryModule))
		}
	case PlatformServer:
		transformers = append(transformers, transform.ExportLazyModuleMap(p.isMainPath, p.lazyRouteList))
		if !p.jitMode {
			transformers = append(transformers, transform.ExportNgFactory(p.isMainPath, p.EntryModule))
		}
	}
	return transformers
}

// EntryModule returns the root module, or nil while it is unknown.
func (p *CompilerPlugin) EntryModule() *transform.EntryModule {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.entryModule == nil {
		return nil
	}
	entry := *p.entryModule
	return &entry
}

// LazyRoutes returns the lazy routes known so far, in discovery order.
func (p *CompilerPlugin) LazyRoutes() []transform.LazyRoute {
	return p.lazyRouteList()
}

func (p *CompilerPlugin) lazyRouteList() []transform.LazyRoute {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lazyRoutes.Routes()
}

func (p *CompilerPlugin) inlinedResource(file string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	content, ok := p.inlined[file]
	return content, ok
}

// Host returns the compiler host. Writes to it are seen by the next build.
func (p *CompilerPlugin) Host() *host.Host {
	return p.host
}

// BasePath returns the project root.
func (p *CompilerPlugin) BasePath() string {
	return p.basePath
}

// JITMode reports whether code generation is skipped.
func (p *CompilerPlugin) JITMode() bool {
	return p.jitMode
}

// Done returns a channel closed when the build in flight completes. With
// no build in flight the channel is already closed.
func (p *CompilerPlugin) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return p.done
}

// Invalidate tells the plugin files changed on disk. It ends the first run,
// so the next build is incremental. Files whose content matches what the
// host already holds are skipped; files the host never saw are read so
// that new files enter the change set.
func (p *CompilerPlugin) Invalidate(paths ...string) {
	p.mu.Lock()
	p.firstRun = false
	p.mu.Unlock()

	for _, raw := range paths {
		file := p.host.Resolve(raw)
		if _, replaced := p.replacements[file]; replaced {
			continue
		}
		if hash, ok := p.host.Hash(file); ok {
			data, err := afero.ReadFile(p.opts.fs, filepath.FromSlash(file))
			if err == nil && xxhash.Sum64(data) == hash {
				continue
			}
		}

		p.host.Invalidate(file)
		if !p.host.IsChanged(file) && p.host.FileExists(file, true) {
			_, _ = p.host.ReadFile(file)
		}
		for original, replacement := range p.replacements {
			if replacement != file {
				continue
			}
			if err := p.applyReplacement(original, replacement); err != nil {
				p.logger.Warn("Cannot refresh file replacement", "file", original, "error", err)
			}
		}
		p.logger.Debug("File invalidated", "file", file)
	}
}

// Close stops the type checker and the style compiler.
func (p *CompilerPlugin) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	checker := p.typeChecker
	p.typeChecker = nil
	p.mu.Unlock()

	if p.styleExec != nil {
		p.styleExec.Stop()
	}
	if checker != nil {
		return checker.Close()
	}
	return nil
}

// startTypeChecker creates the client. The worker process itself starts
// with the first update.
func (p *CompilerPlugin) startTypeChecker(rootNames []string) *typechecker.Client {
	clientOpts := append([]typechecker.ClientOption{typechecker.WithClientLogger(p.logger)}, p.opts.typeCheckerOptions...)
	return typechecker.NewClient(typechecker.InitMessage{
		Compiler:        p.opts.compilerName,
		CompilerOptions: p.compilerOptions,
		BasePath:        p.basePath,
		JITMode:         p.jitMode,
		RootNames:       rootNames,
	}, clientOpts...)
}
