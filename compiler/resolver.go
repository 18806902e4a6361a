// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package compiler

import (
	"encoding/json"
	"path"
	"strings"
	"sync"
)

// Resolver resolves module specifiers to source files the way the
// TypeScript module resolver does for "node" resolution, caching results
// per containing directory.
type Resolver struct {
	host    Host
	options *Options
	aliases PathAliases

	mu    sync.Mutex
	cache map[string]string
}

// NewResolver returns a resolver for the given options.
func NewResolver(h Host, options *Options) *Resolver {
	if options == nil {
		options = &Options{}
	}
	return &Resolver{
		host:    h,
		options: options,
		aliases: NewPathAliases(options.Paths),
		cache:   make(map[string]string),
	}
}

// Aliases returns the compiled tsconfig "paths" of the resolver.
func (r *Resolver) Aliases() PathAliases {
	return r.aliases
}

// Reset drops every cached resolution. Files created since the last build
// may change the outcome of earlier lookups.
func (r *Resolver) Reset() {
	r.mu.Lock()
	r.cache = make(map[string]string)
	r.mu.Unlock()
}

// ResolveModule resolves specifier as imported from containingFile. It
// reports false when no file could be found.
func (r *Resolver) ResolveModule(specifier, containingFile string) (string, bool) {
	dir := path.Dir(r.host.Resolve(containingFile))
	key := dir + "\x00" + specifier

	r.mu.Lock()
	if cached, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return cached, cached != ""
	}
	r.mu.Unlock()

	resolved := r.resolve(specifier, dir)

	r.mu.Lock()
	r.cache[key] = resolved
	r.mu.Unlock()
	return resolved, resolved != ""
}

func (r *Resolver) resolve(specifier, dir string) string {
	if specifier == "" {
		return ""
	}
	if isRelativeSpecifier(specifier) || path.IsAbs(specifier) || driveRoot.MatchString(specifier) {
		p := specifier
		if !path.IsAbs(p) && !driveRoot.MatchString(p) {
			p = path.Join(dir, p)
		}
		return r.loadFileOrDirectory(r.host.Resolve(p))
	}

	for _, candidate := range r.aliases.Candidates(specifier) {
		if found := r.loadFileOrDirectory(r.host.Resolve(candidate)); found != "" {
			return found
		}
	}

	if r.options.BaseURL != "" {
		if found := r.loadFileOrDirectory(path.Join(r.options.BaseURL, specifier)); found != "" {
			return found
		}
	}

	return r.loadNodeModule(specifier, dir)
}

func isRelativeSpecifier(s string) bool {
	return s == "." || s == ".." || strings.HasPrefix(s, "./") || strings.HasPrefix(s, "../")
}

func (r *Resolver) extensions() []string {
	exts := []string{".ts", ".tsx", ".d.ts"}
	if r.options.AllowJs {
		exts = append(exts, ".js", ".jsx")
	}
	return exts
}

func (r *Resolver) loadFileOrDirectory(p string) string {
	if found := r.loadFile(p); found != "" {
		return found
	}
	return r.loadDirectory(p)
}

func (r *Resolver) loadFile(p string) string {
	// "./a.js" may name the output of "./a.ts"
	switch ext := path.Ext(p); ext {
	case ".js", ".jsx", ".mjs":
		stem := strings.TrimSuffix(p, ext)
		for _, e := range r.extensions() {
			if r.host.FileExists(stem+e, true) {
				return stem + e
			}
		}
	case ".ts", ".tsx":
		if r.host.FileExists(p, true) {
			return p
		}
	}
	for _, e := range r.extensions() {
		if r.host.FileExists(p+e, true) {
			return p + e
		}
	}
	return ""
}

func (r *Resolver) loadDirectory(dir string) string {
	if !r.host.DirectoryExists(dir, true) {
		return ""
	}
	if content, err := r.host.ReadFile(path.Join(dir, "package.json")); err == nil {
		var pkg struct {
			Typings string `json:"typings"`
			Types   string `json:"types"`
			Module  string `json:"module"`
			Main    string `json:"main"`
		}
		if json.Unmarshal([]byte(content), &pkg) == nil {
			for _, entry := range []string{pkg.Typings, pkg.Types, pkg.Module, pkg.Main} {
				if entry == "" {
					continue
				}
				target := path.Join(dir, entry)
				if r.host.FileExists(target, true) && r.isSource(target) {
					return target
				}
				if found := r.loadFile(target); found != "" {
					return found
				}
			}
		}
	}
	return r.loadFile(path.Join(dir, "index"))
}

func (r *Resolver) isSource(p string) bool {
	return isSupportedSource(p, r.options.AllowJs) || strings.HasSuffix(p, ".d.ts")
}

func (r *Resolver) loadNodeModule(specifier, dir string) string {
	for {
		if path.Base(dir) != "node_modules" {
			candidate := path.Join(dir, "node_modules", specifier)
			if found := r.loadFileOrDirectory(candidate); found != "" {
				return found
			}
			// @types packages shadow untyped ones
			if !strings.HasPrefix(specifier, "@types/") {
				typed := path.Join(dir, "node_modules", "@types", mangleScopedName(specifier))
				if found := r.loadFileOrDirectory(typed); found != "" {
					return found
				}
			}
		}
		parent := path.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// mangleScopedName maps "@scope/name" to the "scope__name" form used under
// @types.
func mangleScopedName(name string) string {
	if strings.HasPrefix(name, "@") {
		if i := strings.IndexByte(name, '/'); i > 0 {
			return name[1:i] + "__" + name[i+1:]
		}
	}
	return name
}
