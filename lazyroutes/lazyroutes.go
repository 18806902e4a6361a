// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Package lazyroutes discovers lazily loaded routes, that is
// `loadChildren: './path/to/module#ModuleName'` properties, in sources.
package lazyroutes

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/buke/esbuild-plugin-ng-go/compiler"
	"github.com/buke/esbuild-plugin-ng-go/syntax"
)

// ErrRouterNotFound is returned by ListFromProgram when the router module
// cannot be resolved. Such a project has no lazy routes.
var ErrRouterNotFound = errors.New("router module not found")

// DefaultRouterModule is the module whose presence enables lazy routing.
const DefaultRouterModule = "@angular/router"

// FindLazyRoutes scans a single file for loadChildren strings and resolves
// the modules they reference. Routes whose module cannot be found are
// dropped. The result keeps source order.
func FindLazyRoutes(filePath string, h compiler.Host, resolver *compiler.Resolver) ([]compiler.LazyRoute, error) {
	fileName := h.Resolve(filePath)
	sf, err := h.GetSourceFile(fileName)
	if err != nil {
		return nil, fmt.Errorf("source file not found: '%s': %w", fileName, err)
	}
	return findInSourceFile(sf, h, resolver), nil
}

func findInSourceFile(sf *syntax.SourceFile, h compiler.Host, resolver *compiler.Resolver) []compiler.LazyRoute {
	var routes []compiler.LazyRoute
	for _, obj := range syntax.CollectDeepNodes(sf.Node, syntax.KindObjectLiteralExpression) {
		for _, prop := range obj.Children {
			if prop.Kind != syntax.KindPropertyAssignment {
				continue
			}
			name := prop.Name()
			if name == nil || name.Value != "loadChildren" || !prop.Initializer().IsStringLike() {
				continue
			}
			routePath := prop.Initializer().Value
			moduleName, _, _ := strings.Cut(routePath, "#")
			if resolved, ok := resolveRouteModule(moduleName, sf.FileName, h, resolver); ok {
				routes = append(routes, compiler.LazyRoute{Route: routePath, ReferencedModulePath: resolved})
			}
		}
	}
	return routes
}

func resolveRouteModule(moduleName, containingFile string, h compiler.Host, resolver *compiler.Resolver) (string, bool) {
	if moduleName == "" {
		return "", false
	}
	if strings.HasPrefix(moduleName, ".") {
		candidate := path.Join(path.Dir(containingFile), moduleName) + ".ts"
		if h.FileExists(candidate, true) {
			return candidate, true
		}
	}
	if resolver == nil {
		return "", false
	}
	resolved, ok := resolver.ResolveModule(moduleName, containingFile)
	if !ok || !h.FileExists(resolved, true) {
		return "", false
	}
	return resolved, true
}

// ListFromProgram walks the import graph of the program once, starting at
// the entry module file, and collects the lazy routes of every reachable
// file. It returns ErrRouterNotFound when routerModule does not resolve
// from the entry module.
func ListFromProgram(ctx context.Context, program compiler.Program, h compiler.Host, resolver *compiler.Resolver, entryModuleFile, routerModule string) ([]compiler.LazyRoute, error) {
	if routerModule == "" {
		routerModule = DefaultRouterModule
	}
	// Step 1: Routes only exist when the router resolves from the entry module
	entry := h.Resolve(entryModuleFile)
	if _, ok := resolver.ResolveModule(routerModule, entry); !ok {
		return nil, ErrRouterNotFound
	}

	sourceFile := func(p string) (*syntax.SourceFile, error) {
		if sf := program.SourceFile(p); sf != nil {
			return sf, nil
		}
		return h.GetSourceFile(p)
	}

	// Step 2: Walk the files reachable from the entry module breadth first
	var routes []compiler.LazyRoute
	visited := map[string]bool{entry: true}
	queue := []string{entry}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		current := queue[0]
		queue = queue[1:]

		sf, err := sourceFile(current)
		if err != nil {
			if current == entry {
				return nil, fmt.Errorf("entry module %s: %w", entry, err)
			}
			continue
		}

		// Step 3: Collect the routes of the file, then follow them and its imports
		found := findInSourceFile(sf, h, resolver)
		routes = append(routes, found...)
		next := make([]string, 0, len(found))
		for _, route := range found {
			next = append(next, route.ReferencedModulePath)
		}
		for _, spec := range ImportedModules(sf) {
			if resolved, ok := resolver.ResolveModule(spec, current); ok {
				next = append(next, resolved)
			}
		}
		for _, p := range next {
			if visited[p] || strings.HasSuffix(p, ".d.ts") || strings.Contains(p, "/node_modules/") {
				continue
			}
			visited[p] = true
			queue = append(queue, p)
		}
	}
	return routes, nil
}

// ImportedModules returns the module specifiers of the import and
// re-export declarations of sf, in source order.
func ImportedModules(sf *syntax.SourceFile) []string {
	var specs []string
	for _, stmt := range sf.Statements() {
		if stmt.Kind != syntax.KindImportDeclaration && stmt.Kind != syntax.KindExportDeclaration {
			continue
		}
		if spec := stmt.ModuleSpecifier(); spec.IsStringLike() {
			specs = append(specs, spec.Value)
		}
	}
	return specs
}
