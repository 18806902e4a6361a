// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package transform

import (
	"fmt"
	"path"
	"strings"

	"github.com/buke/esbuild-plugin-ng-go/syntax"
)

// LazyRoute maps a route reference such as "./lazy/lazy.module#LazyModule"
// to the absolute path of the module it loads.
type LazyRoute struct {
	Key  string
	Path string
}

// ExportLazyModuleMap adds to the main server entry one namespace import
// per lazy route and an exported map from route key to module symbol:
//
//	import * as __lazy_0__ from "./app/lazy/lazy.module.ts";
//	...
//	export var LAZY_MODULE_MAP = { "./lazy/lazy.module#LazyModule": __lazy_0__.LazyModule };
//
// Aliases are numbered in route order. Keys of generated factories are
// reported under the name of the module they were generated from.
func ExportLazyModuleMap(shouldTransform func(fileName string) bool, getLazyRoutes func() []LazyRoute) Transformer {
	return func(sf *syntax.SourceFile) []Operation {
		if !shouldTransform(sf.FileName) {
			return nil
		}
		routes := getLazyRoutes()
		if len(routes) == 0 {
			return nil
		}

		// Step 1: Import every route module under a numbered alias
		dir := path.Dir(sf.FileName)
		firstNode := syntax.FirstNode(sf)
		ops := make([]Operation, 0, len(routes)+1)
		entries := make([]string, 0, len(routes))
		for i, route := range routes {
			alias := fmt.Sprintf("__lazy_%d__", i)
			ops = append(ops, Add(firstNode,
				fmt.Sprintf("import * as %s from %s;", alias, quote(relativeImport(dir, route.Path))), ""))

			modulePath, moduleName, _ := strings.Cut(route.Key, "#")
			symbol := moduleName
			if strings.Contains(modulePath, ".ngfactory") {
				modulePath = strings.Replace(modulePath, ".ngfactory", "", 1)
				moduleName = strings.Replace(moduleName, "NgFactory", "", 1)
			}
			entries = append(entries, fmt.Sprintf("%s: %s.%s", quote(modulePath+"#"+moduleName), alias, symbol))
		}

		// Step 2: Export the map from route keys to module symbols
		ops = append(ops, Add(syntax.LastNode(sf), "",
			"export var LAZY_MODULE_MAP = { "+strings.Join(entries, ", ")+" };"))
		return ops
	}
}
