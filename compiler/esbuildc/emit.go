// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package esbuildc

import (
	"context"
	"log/slog"
	"path"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/buke/esbuild-plugin-ng-go/compiler"
	"github.com/buke/esbuild-plugin-ng-go/transform"
)

// OutputPath returns the file the emitter writes for source file p.
func OutputPath(p string) string {
	return strings.TrimSuffix(p, path.Ext(p)) + ".js"
}

// Emit transforms and transpiles the requested files and writes the output
// next to each source into the host. Source files esbuild cannot parse stop
// the emit with a *compiler.SyntaxError.
func (p *program) Emit(ctx context.Context, req compiler.EmitRequest) (*compiler.EmitResult, error) {
	files := req.Files
	if len(files) == 0 {
		files = p.order
	}

	target, _ := esbuildTarget(p.options.Target)
	withMap := p.options.SourceMap || p.options.InlineSourceMap
	sourcesContent := api.SourcesContentExclude
	if p.options.InlineSources {
		sourcesContent = api.SourcesContentInclude
	}

	result := &compiler.EmitResult{}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		file = p.host.Resolve(file)
		entry, ok := p.files[file]
		if !ok || strings.HasSuffix(file, ".d.ts") {
			continue
		}

		text, changed := transform.Run(entry.sf, req.Transformers...)
		if changed && p.logger.Enabled(ctx, slog.LevelDebug) {
			p.logTransformDiff(file, entry.sf.Text, text)
		}

		opts := api.TransformOptions{
			Loader:      loaderFor(file),
			Sourcefile:  file,
			Target:      target,
			TsconfigRaw: p.tsconfigRaw(),
			LogLevel:    api.LogLevelSilent,
		}
		if withMap {
			opts.Sourcemap = api.SourceMapExternal
			opts.SourcesContent = sourcesContent
			opts.SourceRoot = p.options.SourceRoot
		}

		out := api.Transform(text, opts)
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			se := &compiler.SyntaxError{File: file, Message: first.Text}
			if first.Location != nil {
				se.Line = first.Location.Line
				se.Column = first.Location.Column + 1
			}
			return nil, se
		}
		result.Diagnostics = append(result.Diagnostics, messagesToDiagnostics(out.Warnings, compiler.CategoryWarning, file)...)

		outFile := OutputPath(file)
		p.host.WriteFile(outFile, string(out.Code))
		result.EmittedFiles = append(result.EmittedFiles, outFile)
		if withMap && len(out.Map) > 0 {
			p.host.WriteFile(outFile+".map", string(out.Map))
			result.EmittedFiles = append(result.EmittedFiles, outFile+".map")
		}
	}

	return result, nil
}

func (p *program) logTransformDiff(file, before, after string) {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: file,
		ToFile:   file + " (transformed)",
		Context:  1,
	})
	if err != nil {
		return
	}
	p.logger.Debug("Source transformed", "file", file, "diff", diff)
}
