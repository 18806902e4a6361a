// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package compiler

import (
	"context"
	"log/slog"

	"github.com/buke/esbuild-plugin-ng-go/syntax"
	"github.com/buke/esbuild-plugin-ng-go/transform"
)

// Host is the file surface a compiler works against. *host.Host satisfies
// it, so the in-memory overlay can stand in for the disk transparently.
type Host interface {
	Resolve(p string) string
	ReadFile(p string) (string, error)
	WriteFile(p, content string)
	FileExists(p string, delegate bool) bool
	DirectoryExists(p string, delegate bool) bool
	GetDirectories(dir string) []string
	GetSourceFile(p string) (*syntax.SourceFile, error)
	Invalidate(p string)
	CurrentDirectory() string
	CanonicalFileName(p string) string
	UseCaseSensitiveFileNames() bool
	NewLine() string
}

// ProgramConfig carries everything CreateProgram needs.
type ProgramConfig struct {
	RootNames []string
	Options   *Options
	Host      Host
	Resolver  *Resolver
	Logger    *slog.Logger

	// OldProgram is consumed by CreateProgram. Callers must not use it
	// afterwards.
	OldProgram Program
}

// EmitRequest selects what Emit writes. An empty Files list emits every
// source file of the program.
type EmitRequest struct {
	Files        []string
	Transformers []transform.Transformer
}

// EmitResult reports the outcome of an emit.
type EmitResult struct {
	EmitSkipped  bool
	Diagnostics  Diagnostics
	EmittedFiles []string
}

// Program is one compiled snapshot of a project.
type Program interface {
	RootNames() []string
	Options() *Options
	SourceFile(p string) *syntax.SourceFile
	SourceFiles() []*syntax.SourceFile
	OptionsDiagnostics() Diagnostics
	StructuralDiagnostics() Diagnostics
	SemanticDiagnostics(ctx context.Context) (Diagnostics, error)
	Emit(ctx context.Context, req EmitRequest) (*EmitResult, error)
}

// StructureLoader is implemented by programs that analyze their structure
// asynchronously after creation.
type StructureLoader interface {
	LoadStructure(ctx context.Context) error
}

// LazyRoute is one lazily loaded route reported by a compiler.
type LazyRoute struct {
	Route                string
	ReferencedModulePath string
}

// LazyRouteLister is implemented by programs that can list the lazy routes
// of the whole project themselves.
type LazyRouteLister interface {
	ListLazyRoutes(ctx context.Context) ([]LazyRoute, error)
}

// I18nExtractor is implemented by programs that extract translatable
// messages into a translation file.
type I18nExtractor interface {
	ExtractI18n(ctx context.Context, format, outFile string) error
}

// Compiler creates programs.
type Compiler interface {
	Name() string
	// SupportsCodeGeneration reports whether the compiler generates factory
	// code ahead of time.
	SupportsCodeGeneration() bool
	CreateProgram(ctx context.Context, cfg ProgramConfig) (Program, error)
}
