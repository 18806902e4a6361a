// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package esbuildc

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash"
	"github.com/evanw/esbuild/pkg/api"
	"github.com/sourcegraph/conc/pool"

	"github.com/buke/esbuild-plugin-ng-go/compiler"
	"github.com/buke/esbuild-plugin-ng-go/lazyroutes"
	"github.com/buke/esbuild-plugin-ng-go/syntax"
)

// TypeScript diagnostic codes reported by the program.
const (
	codeFileNotFound   = 6053
	codeModuleNotFound = 2307
	codeInvalidTarget  = 6046
	codeOptionConflict = 5053
)

type sourceEntry struct {
	sf   *syntax.SourceFile
	hash uint64
	// relative imports that did not resolve
	unresolved []string
}

type cachedDiagnostics struct {
	hash        uint64
	diagnostics compiler.Diagnostics
}

type program struct {
	rootNames   []string
	options     *compiler.Options
	host        compiler.Host
	resolver    *compiler.Resolver
	logger      *slog.Logger
	concurrency int

	files      map[string]*sourceEntry
	order      []string
	structural compiler.Diagnostics

	mu        sync.Mutex
	diagCache map[string]cachedDiagnostics
}

// load walks the import graph from the root names. Declaration files and
// packages under node_modules are not part of the program.
func (p *program) load(ctx context.Context) error {
	queue := make([]string, 0, len(p.rootNames))
	seen := make(map[string]bool)
	for _, name := range p.rootNames {
		name = p.host.Resolve(name)
		if !seen[name] {
			seen[name] = true
			queue = append(queue, name)
		}
	}
	roots := len(queue)

	for i := 0; i < len(queue); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		file := queue[i]
		sf, err := p.host.GetSourceFile(file)
		if err != nil {
			if i < roots {
				p.structural = append(p.structural, compiler.Diagnostic{
					Category: compiler.CategoryError,
					Code:     codeFileNotFound,
					Message:  fmt.Sprintf("File '%s' not found.", file),
					Source:   compiler.SourceTypeScript,
				})
			}
			continue
		}

		entry := &sourceEntry{sf: sf, hash: xxhash.Sum64String(sf.Text)}
		p.files[file] = entry
		p.order = append(p.order, file)

		for _, spec := range lazyroutes.ImportedModules(sf) {
			resolved, ok := p.resolver.ResolveModule(spec, file)
			if !ok {
				if strings.HasPrefix(spec, ".") {
					entry.unresolved = append(entry.unresolved, spec)
				}
				continue
			}
			if !isProgramSource(resolved) || seen[resolved] {
				continue
			}
			seen[resolved] = true
			queue = append(queue, resolved)
		}
	}

	p.logger.Debug("Program created", "roots", roots, "files", len(p.order))
	return nil
}

func isProgramSource(p string) bool {
	return !strings.HasSuffix(p, ".d.ts") && !strings.Contains(p, "/node_modules/")
}

func (p *program) RootNames() []string {
	return append([]string(nil), p.rootNames...)
}

func (p *program) Options() *compiler.Options {
	return p.options
}

func (p *program) SourceFile(file string) *syntax.SourceFile {
	if e, ok := p.files[p.host.Resolve(file)]; ok {
		return e.sf
	}
	return nil
}

func (p *program) SourceFiles() []*syntax.SourceFile {
	out := make([]*syntax.SourceFile, len(p.order))
	for i, file := range p.order {
		out[i] = p.files[file].sf
	}
	return out
}

func (p *program) OptionsDiagnostics() compiler.Diagnostics {
	var diags compiler.Diagnostics
	if _, ok := esbuildTarget(p.options.Target); !ok {
		diags = append(diags, compiler.Diagnostic{
			Category: compiler.CategoryError,
			Code:     codeInvalidTarget,
			Message:  fmt.Sprintf("Argument for '--target' option must be one of es5, es2015 to es2022 or esnext, got '%s'.", p.options.Target),
			Source:   compiler.SourceTypeScript,
		})
	}
	if p.options.SourceMap && p.options.InlineSourceMap {
		diags = append(diags, compiler.Diagnostic{
			Category: compiler.CategoryError,
			Code:     codeOptionConflict,
			Message:  "Option 'sourceMap' cannot be specified with option 'inlineSourceMap'.",
			Source:   compiler.SourceTypeScript,
		})
	}
	return diags
}

func (p *program) StructuralDiagnostics() compiler.Diagnostics {
	return append(compiler.Diagnostics(nil), p.structural...)
}

// SemanticDiagnostics transpiles every file and reports what esbuild
// rejects, plus relative imports that do not resolve. Results of files whose
// content did not change since the previous program are reused.
func (p *program) SemanticDiagnostics(ctx context.Context) (compiler.Diagnostics, error) {
	workers := pool.NewWithResults[compiler.Diagnostics]().
		WithMaxGoroutines(p.concurrency).
		WithContext(ctx).
		WithCancelOnError()

	for _, file := range p.order {
		file, entry := file, p.files[file]
		workers.Go(func(ctx context.Context) (compiler.Diagnostics, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return p.fileDiagnostics(file, entry), nil
		})
	}

	results, err := workers.Wait()
	if err != nil {
		return nil, err
	}

	var diags compiler.Diagnostics
	for _, r := range results {
		diags = append(diags, r...)
	}
	sortDiagnostics(diags)
	return diags, nil
}

func (p *program) fileDiagnostics(file string, entry *sourceEntry) compiler.Diagnostics {
	p.mu.Lock()
	cached, ok := p.diagCache[file]
	p.mu.Unlock()
	if ok && cached.hash == entry.hash {
		return cached.diagnostics
	}

	var diags compiler.Diagnostics
	for _, spec := range entry.unresolved {
		diags = append(diags, compiler.Diagnostic{
			Category: compiler.CategoryError,
			Code:     codeModuleNotFound,
			Message:  fmt.Sprintf("Cannot find module '%s'.", spec),
			File:     file,
			Line:     importLine(entry.sf, spec),
			Column:   1,
			Source:   compiler.SourceTypeScript,
		})
	}

	target, _ := esbuildTarget(p.options.Target)
	result := api.Transform(entry.sf.Text, api.TransformOptions{
		Loader:      loaderFor(file),
		Sourcefile:  file,
		Target:      target,
		TsconfigRaw: p.tsconfigRaw(),
		LogLevel:    api.LogLevelSilent,
	})
	diags = append(diags, messagesToDiagnostics(result.Errors, compiler.CategoryError, file)...)
	diags = append(diags, messagesToDiagnostics(result.Warnings, compiler.CategoryWarning, file)...)

	p.mu.Lock()
	if p.diagCache != nil {
		p.diagCache[file] = cachedDiagnostics{hash: entry.hash, diagnostics: diags}
	}
	p.mu.Unlock()
	return diags
}

func importLine(sf *syntax.SourceFile, spec string) int {
	for _, stmt := range sf.Statements() {
		if stmt.Kind != syntax.KindImportDeclaration && stmt.Kind != syntax.KindExportDeclaration {
			continue
		}
		if m := stmt.ModuleSpecifier(); m != nil && m.Value == spec {
			line, _ := sf.Position(m.Pos)
			return line + 1
		}
	}
	return 0
}

func loaderFor(file string) api.Loader {
	switch path.Ext(file) {
	case ".tsx":
		return api.LoaderTSX
	case ".js":
		return api.LoaderJS
	case ".jsx":
		return api.LoaderJSX
	}
	return api.LoaderTS
}

// tsconfigRaw passes the flags esbuild honours when transpiling.
func (p *program) tsconfigRaw() string {
	useDefine := false
	if p.options.UseDefineForClassFields != nil {
		useDefine = *p.options.UseDefineForClassFields
	}
	return fmt.Sprintf(`{"compilerOptions":{"experimentalDecorators":true,"useDefineForClassFields":%t}}`, useDefine)
}

func messagesToDiagnostics(messages []api.Message, category compiler.Category, file string) compiler.Diagnostics {
	diags := make(compiler.Diagnostics, 0, len(messages))
	for _, m := range messages {
		d := compiler.Diagnostic{
			Category: category,
			Code:     compiler.DefaultErrorCode,
			Message:  m.Text,
			File:     file,
			Source:   compiler.SourceTypeScript,
		}
		if m.Location != nil {
			d.Line = m.Location.Line
			d.Column = m.Location.Column + 1
			d.LineText = m.Location.LineText
		}
		diags = append(diags, d)
	}
	return diags
}

func sortDiagnostics(diags compiler.Diagnostics) {
	sort.SliceStable(diags, func(i, j int) bool {
		a, b := diags[i], diags[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Column < b.Column
	})
}
