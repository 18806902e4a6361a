// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package ngplugin

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"github.com/rs/xid"

	"github.com/buke/esbuild-plugin-ng-go/compiler"
	"github.com/buke/esbuild-plugin-ng-go/transform"
	"github.com/buke/esbuild-plugin-ng-go/typechecker"
)

// BuildState is the state of a Compilation.
type BuildState int32

const (
	StateIdle BuildState = iota
	StateBuilding
	StateEmitSucceeded
	StateEmitFailedWithErrors
)

func (s BuildState) String() string {
	switch s {
	case StateBuilding:
		return "building"
	case StateEmitSucceeded:
		return "emit-succeeded"
	case StateEmitFailedWithErrors:
		return "emit-failed"
	}
	return "idle"
}

// Compilation is one build as esbuild sees it. It collects what the build
// reports and admits one plugin at a time.
type Compilation struct {
	id string

	mu          sync.Mutex
	state       BuildState
	owner       *CompilerPlugin
	diagnostics compiler.Diagnostics
}

// NewCompilation returns an idle compilation.
func NewCompilation() *Compilation {
	return &Compilation{id: xid.New().String()}
}

// ID identifies the compilation in logs.
func (c *Compilation) ID() string {
	return c.id
}

// State returns the current state.
func (c *Compilation) State() BuildState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Errors returns the errors reported so far.
func (c *Compilation) Errors() compiler.Diagnostics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.diagnostics.Errors()
}

// Warnings returns the warnings reported so far.
func (c *Compilation) Warnings() compiler.Diagnostics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.diagnostics.Warnings()
}

// HasErrors reports whether any error was reported.
func (c *Compilation) HasErrors() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.diagnostics.HasErrors()
}

func (c *Compilation) addDiagnostics(diags ...compiler.Diagnostic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.diagnostics = append(c.diagnostics, diags...)
}

func (c *Compilation) addError(err error) {
	var se *compiler.SyntaxError
	if errors.As(err, &se) {
		c.addDiagnostics(syntaxDiagnostic(se))
		return
	}
	c.addDiagnostics(compiler.NewError(compiler.UnknownErrorCode, err.Error()))
}

func (c *Compilation) addWarning(message string) {
	c.addDiagnostics(compiler.NewWarning(message))
}

func (c *Compilation) enter(p *CompilerPlugin) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.owner != nil {
		return ErrCompilationInUse
	}
	c.owner = p
	c.state = StateBuilding
	return nil
}

func (c *Compilation) complete() BuildState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.diagnostics.HasErrors() {
		c.state = StateEmitFailedWithErrors
	} else {
		c.state = StateEmitSucceeded
	}
	return c.state
}

func (c *Compilation) release(p *CompilerPlugin) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.owner == p {
		c.owner = nil
		c.state = StateIdle
	}
}

// Make runs a build on c and blocks until it is done. Build problems are
// reported on c, not returned; Make only fails when the build cannot start.
func (p *CompilerPlugin) Make(ctx context.Context, c *Compilation) error {
	run, err := p.begin(c)
	if err != nil {
		return err
	}
	run(ctx)
	return nil
}

// begin attaches c and publishes the build future, so that callers see
// Done block from the moment begin returns. The returned function runs the
// build and must be called exactly once.
func (p *CompilerPlugin) begin(c *Compilation) (func(ctx context.Context), error) {
	if err := c.enter(p); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		c.release(p)
		return nil, ErrPluginClosed
	}
	p.compilation = c
	p.emitSkipped = true
	done := make(chan struct{})
	p.done = done
	p.builds++
	if p.opts.forkTypeChecker && !p.firstRun && p.typeChecker == nil {
		p.typeChecker = p.startTypeChecker(p.rootNames)
	}
	p.mu.Unlock()

	return func(ctx context.Context) {
		defer close(done)

		p.buildMu.Lock()
		defer p.buildMu.Unlock()

		p.logger.Debug("Build started", "compilation", c.ID())
		stop := p.time("make")
		err := p.update(ctx, c)
		stop()
		if err != nil {
			p.logger.Debug("Build failed", "compilation", c.ID(), "error", err)
			c.addError(err)
		}

		if c.complete() == StateEmitSucceeded {
			p.metrics.builds.WithLabelValues("success").Inc()
		} else {
			p.metrics.builds.WithLabelValues("failure").Inc()
		}
	}, nil
}

// Finish detaches the plugin from c once esbuild consumed its results.
func (p *CompilerPlugin) Finish(c *Compilation) {
	c.release(p)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.compilation == c {
		p.compilation = nil
		p.done = nil
	}
}

// EmitSkipped reports whether the last build skipped emitting.
func (p *CompilerPlugin) EmitSkipped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.emitSkipped
}

var compilationFile = regexp.MustCompile(`\.(?:ts|html|css|scss|sass|less|styl)$`)

func (p *CompilerPlugin) changedCompilationFiles() []string {
	var files []string
	for _, f := range p.host.ChangedFilePaths() {
		if compilationFile.MatchString(f) {
			files = append(files, f)
		}
	}
	return files
}

func (p *CompilerPlugin) changedTsFiles() []string {
	var files []string
	for _, f := range p.host.ChangedFilePaths() {
		if strings.HasSuffix(f, ".ts") && !strings.HasSuffix(f, ".d.ts") && p.host.FileExists(f, true) {
			files = append(files, f)
		}
	}
	return files
}

func (p *CompilerPlugin) update(ctx context.Context, c *Compilation) error {
	p.mu.Lock()
	firstRun := p.firstRun
	p.mu.Unlock()

	// Step 1: Collect the changes since the last clean build
	changed := p.changedCompilationFiles()
	if len(changed) == 0 && !firstRun {
		p.logger.Debug("Nothing changed, skipping build")
		return nil
	}

	// Step 2: Create the program, reusing the previous one where possible
	program, err := p.createOrUpdateProgram(ctx, firstRun, changed)
	if err != nil {
		return err
	}

	// Step 3: Discover lazy routes from the entry module
	changedTs := p.changedTsFiles()
	if entry := p.EntryModule(); entry != nil {
		stop := p.time("update.lazyRoutes")
		discovered, err := p.discoverLazyRoutes(ctx, program, entry, firstRun, changedTs)
		stop()
		if err != nil {
			return err
		}
		processed := p.processLazyRoutes(discovered)
		p.mu.Lock()
		warnings := p.lazyRoutes.Merge(processed)
		p.mu.Unlock()
		for _, w := range warnings {
			c.addWarning(w)
		}
	} else if p.platform == PlatformServer {
		p.mu.Lock()
		warn := !p.warnedNoRoutes
		p.warnedNoRoutes = true
		p.mu.Unlock()
		if warn {
			c.addWarning("Lazy routes discovery is not enabled. Because there is neither an entry module " +
				"nor a statically analyzable bootstrap code in the main file.")
		}
	}

	// Step 4: Read the templates and styles of the files to emit
	files := p.filesToEmit(changedTs, changed)
	if err := p.loadResources(ctx, c, program, files); err != nil {
		return err
	}

	// Step 5: Emit only when nothing failed so far. A skipped emit keeps
	// the change set for the next build.
	var result *compiler.EmitResult
	if !c.HasErrors() {
		var diags compiler.Diagnostics
		diags, result = p.emit(ctx, program, firstRun, files)
		c.addDiagnostics(diags...)
		p.metrics.observeDiagnostics(diags)
	}

	skipped := result == nil || result.EmitSkipped
	p.mu.Lock()
	p.emitSkipped = skipped
	p.mu.Unlock()

	// Step 6: Forget the changes once they were emitted cleanly
	if !skipped && !c.HasErrors() {
		p.host.ResetChangedFileTracker()
	}
	return nil
}

func (p *CompilerPlugin) createOrUpdateProgram(ctx context.Context, firstRun bool, changed []string) (compiler.Program, error) {
	stop := p.time("createOrUpdateProgram")
	defer stop()

	// New root files, such as newly added lazy routes, may not be reachable
	// through the imports of the existing ones.
	cfg, err := compiler.ReadConfiguration(p.opts.fs, p.tsConfigPath)
	if err != nil {
		return nil, err
	}
	rootNames := append(append([]string(nil), cfg.RootNames...), p.singleFileIncludes...)

	p.mu.Lock()
	p.rootNames = rootNames
	checker := p.typeChecker
	old := p.program
	p.program = nil
	p.mu.Unlock()

	if checker != nil && !firstRun {
		if err := checker.Update(typechecker.UpdateMessage{RootNames: rootNames, ChangedCompilationFiles: changed}); err != nil {
			p.logger.Warn("Cannot update type checker", "error", err)
		}
	}

	p.resolver.Reset()
	program, err := p.compiler.CreateProgram(ctx, compiler.ProgramConfig{
		RootNames:  rootNames,
		Options:    p.compilerOptions,
		Host:       p.host,
		Resolver:   p.resolver,
		Logger:     p.logger,
		OldProgram: old,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot create program: %w", err)
	}
	p.mu.Lock()
	p.program = program
	p.mu.Unlock()

	if !p.jitMode {
		if loader, ok := program.(compiler.StructureLoader); ok {
			stopStructure := p.time("createOrUpdateProgram.loadStructure")
			err := loader.LoadStructure(ctx)
			stopStructure()
			if err != nil {
				return nil, err
			}
		}
	}

	if p.EntryModule() == nil && p.mainPath != "" {
		stopEntry := p.time("createOrUpdateProgram.resolveEntryModuleFromMain")
		entry, err := resolveEntryModuleFromMain(p.mainPath, p.host, p.resolver)
		stopEntry()
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.entryModule = entry
		p.mu.Unlock()
	}
	return program, nil
}

// filesToEmit adds to the changed sources the files whose templates or
// styles depend on a changed file.
func (p *CompilerPlugin) filesToEmit(changedTs, changed []string) []string {
	seen := make(map[string]bool, len(changedTs))
	files := make([]string, 0, len(changedTs))
	add := func(f string) {
		if !seen[f] {
			seen[f] = true
			files = append(files, f)
		}
	}
	for _, f := range changedTs {
		add(f)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	var owners []string
	for _, f := range changed {
		if strings.HasSuffix(f, ".ts") {
			continue
		}
		for _, res := range p.resources.Dependents(f) {
			owners = append(owners, p.resourceOwners[res]...)
		}
	}
	sort.Strings(owners)
	for _, f := range owners {
		add(f)
	}
	return files
}

// loadResources reads the templates and styles of files through the
// resource loader, so they take part in change tracking and, in JIT mode,
// can be inlined.
func (p *CompilerPlugin) loadResources(ctx context.Context, c *Compilation, program compiler.Program, files []string) error {
	stop := p.time("update.loadResources")
	defer stop()

	inlined := make(map[string]string)
	owners := make(map[string][]string)
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		sf := program.SourceFile(file)
		if sf == nil {
			continue
		}
		for _, res := range transform.FindResources(sf) {
			for _, rp := range res.Paths {
				owners[rp] = append(owners[rp], file)
				content, err := p.resources.Get(ctx, rp)
				if err != nil {
					c.addDiagnostics(compiler.Diagnostic{
						Category: compiler.CategoryError,
						Code:     compiler.DefaultErrorCode,
						Message:  err.Error(),
						File:     file,
						Source:   compiler.SourceAngular,
					})
					continue
				}
				inlined[rp] = content
			}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.inlined = inlined
	for rp, files := range owners {
		p.resourceOwners[rp] = mergeSorted(p.resourceOwners[rp], files)
	}
	return nil
}

func mergeSorted(a, b []string) []string {
	set := make(map[string]bool, len(a)+len(b))
	for _, s := range a {
		set[s] = true
	}
	for _, s := range b {
		set[s] = true
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// emit gathers the diagnostics this build is responsible for and, when
// there are no errors, emits files. A panic or an error other than a
// syntax error leaves the program in an unknown state, so it is dropped
// and the next build starts from scratch.
func (p *CompilerPlugin) emit(ctx context.Context, program compiler.Program, firstRun bool, files []string) (diags compiler.Diagnostics, result *compiler.EmitResult) {
	stop := p.time("emit")
	defer stop()

	p.mu.Lock()
	forked := p.opts.forkTypeChecker
	p.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			p.discardProgram(program)
			diags = append(diags, compiler.NewError(compiler.UnknownErrorCode, fmt.Sprintf("%v\n%s", r, debug.Stack())))
			result = nil
		}
	}()

	if firstRun {
		diags = append(diags, program.OptionsDiagnostics()...)
	}
	if !p.jitMode {
		diags = append(diags, program.StructuralDiagnostics()...)
	}
	if firstRun || !forked {
		stopDiag := p.time("emit.gatherDiagnostics")
		semantic, err := program.SemanticDiagnostics(ctx)
		stopDiag()
		if err != nil {
			p.discardProgram(program)
			return append(diags, compiler.NewError(compiler.UnknownErrorCode, err.Error())), nil
		}
		diags = append(diags, semantic...)
	}
	if diags.HasErrors() {
		return diags, nil
	}

	if p.compilerOptions.I18nOutFile != "" {
		if err := p.extractI18n(ctx, program); err != nil {
			diags = append(diags, compiler.NewError(compiler.UnknownErrorCode, err.Error()))
			return diags, nil
		}
	}

	if len(files) == 0 {
		return diags, nil
	}

	res, err := program.Emit(ctx, compiler.EmitRequest{Files: files, Transformers: p.transformers})
	if err != nil {
		var se *compiler.SyntaxError
		if errors.As(err, &se) {
			return append(diags, syntaxDiagnostic(se)), nil
		}
		p.discardProgram(program)
		return append(diags, compiler.NewError(compiler.UnknownErrorCode, fmt.Sprintf("%+v\n%s", err, debug.Stack()))), nil
	}
	return append(diags, res.Diagnostics...), res
}

func syntaxDiagnostic(se *compiler.SyntaxError) compiler.Diagnostic {
	return compiler.Diagnostic{
		Category: compiler.CategoryError,
		Code:     compiler.DefaultErrorCode,
		Message:  se.Message,
		File:     se.File,
		Line:     se.Line,
		Column:   se.Column,
		Source:   compiler.SourceAngular,
	}
}

func (p *CompilerPlugin) discardProgram(program compiler.Program) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.program == program {
		p.program = nil
	}
	p.logger.Debug("Program discarded, the next build starts over")
}
