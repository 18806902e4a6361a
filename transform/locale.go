// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package transform

import (
	"fmt"

	"github.com/buke/esbuild-plugin-ng-go/syntax"
)

// RegisterLocaleData registers the data of locale in the file that
// bootstraps the entry module:
//
//	import * as __NgCli_locale_1 from "@angular/common/locales/fr";
//	import * as __NgCli_locale_2 from "@angular/common";
//	__NgCli_locale_2.registerLocaleData(__NgCli_locale_1.default);
//
// It looks for the same bootstrap call ReplaceBootstrap rewrites, so it
// must run on the untransformed tree, which Run guarantees.
func RegisterLocaleData(shouldTransform func(fileName string) bool, getEntryModule func() *EntryModule, locale string) Transformer {
	return func(sf *syntax.SourceFile) []Operation {
		entryModule := getEntryModule()
		if locale == "" || entryModule == nil || !shouldTransform(sf.FileName) {
			return nil
		}

		var ops []Operation
		names := newNameAllocator(sf)
		for _, id := range syntax.FindIdentifiers(sf.Node, entryModule.ClassName) {
			if _, ok := matchBootstrapCall(id); !ok {
				continue
			}
			firstNode := syntax.FirstNode(sf)
			localeID := names.unique("__NgCli_locale_")
			registerID := names.unique("__NgCli_locale_")
			ops = append(ops,
				insertStarImport(sf, localeID, "@angular/common/locales/"+locale, firstNode, true),
				insertStarImport(sf, registerID, "@angular/common", firstNode, true),
				Add(firstNode, fmt.Sprintf("%s.registerLocaleData(%s.default);", registerID, localeID), ""),
			)
		}
		return ops
	}
}
