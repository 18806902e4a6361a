// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package ngplugin

import (
	"context"
	"fmt"
	"path"

	"github.com/buke/esbuild-plugin-ng-go/compiler"
)

// defaultI18nOutFormat is used when an output file is set without a format.
const defaultI18nOutFormat = "xlf"

// extractI18n writes the translatable messages of the program to the
// configured output file. Relative output paths are relative to the
// project root.
func (p *CompilerPlugin) extractI18n(ctx context.Context, program compiler.Program) error {
	extractor, ok := program.(compiler.I18nExtractor)
	if !ok {
		return fmt.Errorf("compiler %q cannot extract i18n messages", p.compiler.Name())
	}

	outFile := p.compilerOptions.I18nOutFile
	if !path.IsAbs(outFile) {
		outFile = path.Join(p.basePath, outFile)
	}
	format := p.compilerOptions.I18nOutFormat
	if format == "" {
		format = defaultI18nOutFormat
	}

	stop := p.time("emit.extractI18n")
	defer stop()
	if err := extractor.ExtractI18n(ctx, format, outFile); err != nil {
		return fmt.Errorf("i18n extraction to %s failed: %w", outFile, err)
	}
	p.logger.Info("Extracted i18n messages", "file", outFile, "format", format)
	return nil
}
