// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package ngplugin

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/buke/esbuild-plugin-ng-go/lazyroutes"
	"github.com/buke/esbuild-plugin-ng-go/transform"
)

// CompiledFile is the output of one source file.
type CompiledFile struct {
	OutputText string
	SourceMap  string

	// ErrorDependencies lists the changed files when no output could be
	// served. Watching them lets the bundler retry once they settle.
	ErrorDependencies []string

	// Warning explains an empty output. It wraps ErrNotInCompilation or
	// ErrNotInOutput.
	Warning error
}

// Empty reports whether there is no output to serve.
func (cf *CompiledFile) Empty() bool {
	return cf.OutputText == ""
}

var nodeModulesDir = regexp.MustCompile(`[\\/]node_modules[\\/]`)

func outputPath(fileName string) string {
	return strings.TrimSuffix(fileName, path.Ext(fileName)) + ".js"
}

// GetCompiledFile returns the emitted JavaScript of fileName. When the last
// build did not emit, the output of an earlier build is served if there is
// one. A file without output gets an empty result carrying the changed
// files as ErrorDependencies.
func (p *CompilerPlugin) GetCompiledFile(fileName string) *CompiledFile {
	fileName = p.host.Resolve(fileName)
	outFile := outputPath(fileName)

	if out, ok := p.host.File(outFile); ok {
		cf := &CompiledFile{OutputText: out.Content()}
		if m, ok := p.host.File(outFile + ".map"); ok {
			cf.SourceMap = m.Content()
		}
		return cf
	}

	cf := &CompiledFile{}
	for _, f := range p.changedCompilationFiles() {
		cf.ErrorDependencies = append(cf.ErrorDependencies, p.host.DenormalizePath(f))
	}
	switch {
	case p.EmitSkipped():
		// The errors of the build explain the missing output.
	case strings.HasSuffix(fileName, ".ts") && !p.host.FileExists(fileName, false):
		msg := fmt.Sprintf("%s is missing from the compilation. Please make sure it is in your tsconfig via the 'files' or 'include' property", fileName)
		if nodeModulesDir.MatchString(fileName) {
			msg += ". The missing file seems to be part of a third party library. " +
				"TS files in published libraries are often a sign of a badly packaged library"
		}
		cf.Warning = fmt.Errorf("%s: %w", msg, ErrNotInCompilation)
	default:
		cf.Warning = fmt.Errorf("%s is missing from the compilation output, please check the other error messages for details: %w", fileName, ErrNotInOutput)
	}
	return cf
}

// GetDependencies returns the files fileName depends on: the modules it
// imports that resolve to project sources, its templates and styles, and
// the files those were built from.
func (p *CompilerPlugin) GetDependencies(fileName string) []string {
	fileName = p.host.Resolve(fileName)
	sf, err := p.host.GetSourceFile(fileName)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var deps []string
	add := func(f string) {
		if f != "" && !seen[f] {
			seen[f] = true
			deps = append(deps, p.host.DenormalizePath(f))
		}
	}

	for _, spec := range lazyroutes.ImportedModules(sf) {
		if resolved, ok := p.resolver.ResolveModule(spec, fileName); ok {
			add(resolved)
		}
	}
	for _, res := range transform.FindResources(sf) {
		for _, rp := range res.Paths {
			add(rp)
			for _, dep := range p.resources.ResourceDependencies(rp) {
				add(dep)
			}
		}
	}
	return deps
}

// GetResourceDependencies returns what the resource fileName was built
// from in its last load, or nil.
func (p *CompilerPlugin) GetResourceDependencies(fileName string) []string {
	deps := p.resources.ResourceDependencies(p.host.Resolve(fileName))
	for i, d := range deps {
		deps[i] = p.host.DenormalizePath(d)
	}
	return deps
}
