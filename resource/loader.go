// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Package resource loads component templates and stylesheets and remembers
// which files each of them was built from.
package resource

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Host is the file access the loader goes through. *host.Host implements it.
type Host interface {
	Resolve(p string) string
	ReadFile(p string) (string, error)
	IsChanged(p string) bool
}

type entry struct {
	content      string
	dependencies []string
}

// Loader caches compiled resources. An entry stays valid until one of its
// dependencies shows up in the host's change set.
type Loader struct {
	host      Host
	compilers map[string]Compiler
	fallback  Compiler
	logger    *slog.Logger

	mu    sync.Mutex
	cache map[string]*entry
}

// Option configures a Loader.
type Option func(*Loader)

// WithCompiler registers a compiler for resources with the given extension
// (".scss", ".less" and so on).
func WithCompiler(ext string, c Compiler) Option {
	return func(l *Loader) {
		l.compilers[strings.ToLower(ext)] = c
	}
}

// WithDefaultCompiler replaces the compiler used for extensions without a
// registered one. It defaults to TextCompiler.
func WithDefaultCompiler(c Compiler) Option {
	return func(l *Loader) {
		l.fallback = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// NewLoader returns a loader reading through h.
func NewLoader(h Host, opts ...Option) *Loader {
	l := &Loader{
		host:      h,
		compilers: make(map[string]Compiler),
		fallback:  TextCompiler{},
		logger:    slog.Default(),
		cache:     make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Get returns the compiled content of the resource at p.
func (l *Loader) Get(ctx context.Context, p string) (string, error) {
	p = l.host.Resolve(p)

	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.cache[p]; ok && !l.stale(e) {
		return e.content, nil
	}

	source, err := l.host.ReadFile(p)
	if err != nil {
		delete(l.cache, p)
		return "", fmt.Errorf("cannot read resource %s: %w", p, err)
	}

	result, err := l.compilerFor(p).Compile(ctx, p, source)
	if err != nil {
		delete(l.cache, p)
		return "", fmt.Errorf("cannot compile resource %s: %w", p, err)
	}

	deps := make([]string, 0, len(result.Dependencies)+1)
	seen := map[string]bool{p: true}
	deps = append(deps, p)
	for _, dep := range result.Dependencies {
		dep = l.host.Resolve(dep)
		if seen[dep] {
			continue
		}
		seen[dep] = true
		deps = append(deps, dep)
		// Read through the host so later edits show up in the change set.
		if _, err := l.host.ReadFile(dep); err != nil {
			l.logger.Warn("Resource dependency is not readable", "resource", p, "dependency", dep, "error", err)
		}
	}

	l.cache[p] = &entry{content: result.Content, dependencies: deps}
	l.logger.Debug("Resource loaded", "resource", p, "dependencies", len(deps))
	return result.Content, nil
}

func (l *Loader) stale(e *entry) bool {
	for _, dep := range e.dependencies {
		if l.host.IsChanged(dep) {
			return true
		}
	}
	return false
}

func (l *Loader) compilerFor(p string) Compiler {
	if c, ok := l.compilers[strings.ToLower(filepath.Ext(p))]; ok {
		return c
	}
	return l.fallback
}

// ResourceDependencies returns the files the resource at p was last built
// from. Never-loaded resources have none.
func (l *Loader) ResourceDependencies(p string) []string {
	p = l.host.Resolve(p)

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.cache[p]
	if !ok {
		return nil
	}
	return append([]string(nil), e.dependencies...)
}

// Dependents lists the loaded resources that depend on p, sorted.
func (l *Loader) Dependents(p string) []string {
	p = l.host.Resolve(p)

	l.mu.Lock()
	defer l.mu.Unlock()

	var out []string
	for resource, e := range l.cache {
		for _, dep := range e.dependencies {
			if dep == p {
				out = append(out, resource)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}
