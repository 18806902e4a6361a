// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Package esbuildc is the default compiler: it follows the import graph of
// a project and transpiles every file with esbuild's transform API. It does
// no type checking beyond what the parser reports and cannot generate
// factory code ahead of time.
package esbuildc

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/buke/esbuild-plugin-ng-go/compiler"
)

// Name is the registry name of the compiler.
const Name = "esbuild"

// Compiler creates transpile-only programs.
type Compiler struct {
	concurrency int
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithConcurrency bounds the number of files checked in parallel.
func WithConcurrency(n int) Option {
	return func(c *Compiler) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// New returns a compiler.
func New(opts ...Option) *Compiler {
	c := &Compiler{concurrency: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Factory is the registry factory of the default compiler.
func Factory() (compiler.Compiler, error) {
	return New(), nil
}

// Register adds the compiler to r under Name.
func Register(r *compiler.Registry) error {
	return r.Register(Name, Factory)
}

func (c *Compiler) Name() string { return Name }

func (c *Compiler) SupportsCodeGeneration() bool { return false }

// CreateProgram builds the program closure of cfg.RootNames. A previous
// program passed as cfg.OldProgram hands over its diagnostic cache.
func (c *Compiler) CreateProgram(ctx context.Context, cfg compiler.ProgramConfig) (compiler.Program, error) {
	if cfg.Host == nil {
		return nil, fmt.Errorf("esbuildc: program requires a host")
	}
	options := cfg.Options
	if options == nil {
		options = &compiler.Options{}
	}
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = compiler.NewResolver(cfg.Host, options)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &program{
		rootNames:   append([]string(nil), cfg.RootNames...),
		options:     options,
		host:        cfg.Host,
		resolver:    resolver,
		logger:      logger.With("compiler", Name),
		concurrency: c.concurrency,
		files:       make(map[string]*sourceEntry),
		diagCache:   make(map[string]cachedDiagnostics),
	}
	if old, ok := cfg.OldProgram.(*program); ok && old != nil {
		p.diagCache = old.diagCache
		old.diagCache = nil
	}
	if err := p.load(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

var targets = map[string]api.Target{
	"es3":    api.ES5,
	"es5":    api.ES5,
	"es6":    api.ES2015,
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"esnext": api.ESNext,
}

// esbuildTarget maps a tsconfig target to esbuild. An empty target means
// es2020.
func esbuildTarget(target string) (api.Target, bool) {
	if target == "" {
		return api.ES2020, true
	}
	t, ok := targets[strings.ToLower(target)]
	return t, ok
}
