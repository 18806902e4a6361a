// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package transform

import (
	"fmt"
	"path"

	"github.com/buke/esbuild-plugin-ng-go/syntax"
)

// ExportNgFactory re-exports the generated factory of the entry module
// from the file that exports the entry module itself, so a server bundle
// can reach it:
//
//	export { AppModuleNgFactory } from "./app/app.module.ngfactory";
func ExportNgFactory(shouldTransform func(fileName string) bool, getEntryModule func() *EntryModule) Transformer {
	return func(sf *syntax.SourceFile) []Operation {
		entryModule := getEntryModule()
		if entryModule == nil || !shouldTransform(sf.FileName) {
			return nil
		}

		identifiers := syntax.FindIdentifiers(sf.Node, entryModule.ClassName)
		if len(identifiers) == 0 {
			return nil
		}

		factoryModulePath := relativeImport(path.Dir(sf.FileName), entryModule.Path) + ".ngfactory"
		factoryClassName := entryModule.ClassName + "NgFactory"

		var ops []Operation
		for _, id := range identifiers {
			spec := id.Parent
			if spec == nil || spec.Kind != syntax.KindExportSpecifier || spec.Parent == nil || spec.Parent.Parent == nil {
				continue
			}
			if !spec.Parent.Parent.ModuleSpecifier().IsStringLike() {
				continue
			}
			ops = append(ops, Add(syntax.FirstNode(sf),
				fmt.Sprintf("export { %s } from %s;", factoryClassName, quote(factoryModulePath)), ""))
		}
		return ops
	}
}
