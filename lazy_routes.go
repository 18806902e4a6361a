// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package ngplugin

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/buke/esbuild-plugin-ng-go/compiler"
	"github.com/buke/esbuild-plugin-ng-go/lazyroutes"
	"github.com/buke/esbuild-plugin-ng-go/transform"
)

// LazyRouteMap maps route keys such as "./lazy/lazy.module#LazyModule" to
// the module file they load. Iteration follows insertion order, so aliases
// generated from the map are stable between builds.
type LazyRouteMap struct {
	keys  []string
	paths map[string]string
}

// NewLazyRouteMap returns an empty map.
func NewLazyRouteMap() *LazyRouteMap {
	return &LazyRouteMap{paths: make(map[string]string)}
}

// Len returns the number of routes.
func (m *LazyRouteMap) Len() int {
	return len(m.keys)
}

// Get returns the module path of key.
func (m *LazyRouteMap) Get(key string) (string, bool) {
	p, ok := m.paths[key]
	return p, ok
}

// Set maps key to modulePath. An existing key keeps its position.
func (m *LazyRouteMap) Set(key, modulePath string) {
	if _, ok := m.paths[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.paths[key] = modulePath
}

// Keys returns the keys in insertion order.
func (m *LazyRouteMap) Keys() []string {
	return append([]string(nil), m.keys...)
}

// Routes returns the map in insertion order.
func (m *LazyRouteMap) Routes() []transform.LazyRoute {
	routes := make([]transform.LazyRoute, 0, len(m.keys))
	for _, key := range m.keys {
		routes = append(routes, transform.LazyRoute{Key: key, Path: m.paths[key]})
	}
	return routes
}

// Merge adds discovered routes, newest value first. A key that already
// maps to a different module is replaced and reported in the returned
// warnings, because only a full build can tell which one is right.
func (m *LazyRouteMap) Merge(discovered *LazyRouteMap) []string {
	var warnings []string
	for _, key := range discovered.keys {
		modulePath := discovered.paths[key]
		if existing, ok := m.paths[key]; ok && existing != modulePath {
			warnings = append(warnings, fmt.Sprintf("Duplicated path in loadChildren detected during a rebuild. "+
				"We will take the latest version detected and override it to save rebuild time. "+
				"You should perform a full build to validate that your routes don't overlap. (%q: %s replaces %s)",
				key, modulePath, existing))
		}
		m.Set(key, modulePath)
	}
	return warnings
}

// routeBatch collects the routes of one discovery pass.
func routeBatch(routes []compiler.LazyRoute) *LazyRouteMap {
	batch := NewLazyRouteMap()
	for _, route := range routes {
		batch.Set(route.Route, filepath.ToSlash(route.ReferencedModulePath))
	}
	return batch
}

// strictRouteBatch is routeBatch for a listing of the whole program, in
// which the same key pointing at two modules cannot be resolved.
func strictRouteBatch(routes []compiler.LazyRoute) (*LazyRouteMap, error) {
	batch := NewLazyRouteMap()
	for _, route := range routes {
		modulePath := filepath.ToSlash(route.ReferencedModulePath)
		if existing, ok := batch.Get(route.Route); ok && existing != modulePath {
			return nil, &DuplicateRouteError{Key: route.Route, First: existing, Second: modulePath}
		}
		batch.Set(route.Route, modulePath)
	}
	return batch, nil
}

var tsExtension = regexp.MustCompile(`(\.d)?\.ts$`)

// processLazyRoutes turns discovered routes into module map keys. Ahead of
// time, a route loads the emitted factory of its module instead. Keys
// without both a module and a #Symbol are dropped.
func (p *CompilerPlugin) processLazyRoutes(discovered *LazyRouteMap) *LazyRouteMap {
	processed := NewLazyRouteMap()
	for _, key := range discovered.keys {
		routeModule, moduleName, _ := strings.Cut(key, "#")
		if routeModule == "" || moduleName == "" {
			continue
		}
		modulePath := discovered.paths[key]
		if p.jitMode {
			processed.Set(key, modulePath)
			continue
		}
		factoryKey := routeModule + ".ngfactory#" + moduleName + "NgFactory"
		processed.Set(factoryKey, tsExtension.ReplaceAllString(modulePath, "")+".ngfactory.js")
	}
	return processed
}

// discoverLazyRoutes picks the cheapest strategy that is still accurate
// enough for this build. A program that lists its own routes is asked on
// every build. Otherwise the first build walks the whole program and later
// builds only rescan the files that changed.
func (p *CompilerPlugin) discoverLazyRoutes(ctx context.Context, program compiler.Program, entry *transform.EntryModule, firstRun bool, changedTsFiles []string) (*LazyRouteMap, error) {
	if lister, ok := program.(compiler.LazyRouteLister); ok && !p.jitMode {
		routes, err := lister.ListLazyRoutes(ctx)
		if err != nil {
			return nil, err
		}
		return strictRouteBatch(routes)
	}

	if firstRun {
		routes, err := lazyroutes.ListFromProgram(ctx, program, p.host, p.resolver, entry.Path+".ts", lazyroutes.DefaultRouterModule)
		if errors.Is(err, lazyroutes.ErrRouterNotFound) {
			return NewLazyRouteMap(), nil
		}
		if err != nil {
			return nil, err
		}
		return routeBatch(routes), nil
	}

	var routes []compiler.LazyRoute
	for _, file := range changedTsFiles {
		found, err := lazyroutes.FindLazyRoutes(file, p.host, p.resolver)
		if err != nil {
			p.logger.Debug("Skipping file in lazy route scan", "file", file, "error", err)
			continue
		}
		routes = append(routes, found...)
	}
	return routeBatch(routes), nil
}

// lazyRouteModuleSource generates the module behind the lazy route context
// import. It loads a route by the module path part of its key.
func lazyRouteModuleSource(routes []transform.LazyRoute) string {
	type target struct{ importPath, modulePath string }
	seen := make(map[string]bool)
	var targets []target
	for _, route := range routes {
		importPath, _, _ := strings.Cut(route.Key, "#")
		if seen[importPath] {
			continue
		}
		seen[importPath] = true
		targets = append(targets, target{importPath, route.Path})
	}
	sort.SliceStable(targets, func(i, j int) bool { return targets[i].importPath < targets[j].importPath })

	var b strings.Builder
	b.WriteString("const routes = {\n")
	for _, t := range targets {
		fmt.Fprintf(&b, "  %s: () => import(%s),\n", strconv.Quote(t.importPath), strconv.Quote(t.modulePath))
	}
	b.WriteString("};\n")
	b.WriteString("export default function load(path) {\n")
	b.WriteString("  const loader = routes[path];\n")
	b.WriteString("  if (!loader) {\n")
	b.WriteString("    return Promise.reject(new Error(\"Cannot find module '\" + path + \"'\"));\n")
	b.WriteString("  }\n")
	b.WriteString("  return loader();\n")
	b.WriteString("}\n")
	b.WriteString("export const keys = Object.keys(routes);\n")
	return b.String()
}
