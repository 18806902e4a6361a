// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package transform

import (
	"path"

	"github.com/buke/esbuild-plugin-ng-go/syntax"
)

// ReplaceBootstrap rewrites
//
//	platformBrowserDynamic().bootstrapModule(AppModule)
//
// into a bootstrap of the statically generated factory:
//
//	__NgCli_bootstrap_1.platformBrowser().bootstrapModuleFactory(__NgCli_bootstrap_2.AppModuleNgFactory)
//
// Only files accepted by shouldTransform are touched, which keeps the
// generated factory files themselves out of it.
func ReplaceBootstrap(shouldTransform func(fileName string) bool, getEntryModule func() *EntryModule) Transformer {
	return func(sf *syntax.SourceFile) []Operation {
		entryModule := getEntryModule()
		if entryModule == nil || !shouldTransform(sf.FileName) {
			return nil
		}

		// Step 1: Find the references to the entry module
		identifiers := syntax.FindIdentifiers(sf.Node, entryModule.ClassName)
		if len(identifiers) == 0 {
			return nil
		}

		factoryModulePath := relativeImport(path.Dir(sf.FileName), entryModule.Path) + ".ngfactory"
		factoryClassName := entryModule.ClassName + "NgFactory"
		names := newNameAllocator(sf)

		// Step 2: Rewrite every bootstrapModule call to bootstrap the factory
		var ops []Operation
		for _, id := range identifiers {
			call, ok := matchBootstrapCall(id)
			if !ok {
				continue
			}
			idPlatformBrowser := names.unique("__NgCli_bootstrap_")
			idNgFactory := names.unique("__NgCli_bootstrap_")

			ops = append(ops,
				insertStarImport(sf, idNgFactory, factoryModulePath, nil, false),
				Replace(call.entry, idNgFactory+"."+factoryClassName),
				insertStarImport(sf, idPlatformBrowser, "@angular/platform-browser", nil, false),
				Replace(call.platform, idPlatformBrowser+".platformBrowser"),
				Replace(call.method, "bootstrapModuleFactory"),
			)
		}
		return ops
	}
}
