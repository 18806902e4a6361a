// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package ngplugin

import (
	"fmt"
	"path"
	"strings"

	"github.com/buke/esbuild-plugin-ng-go/compiler"
	"github.com/buke/esbuild-plugin-ng-go/syntax"
	"github.com/buke/esbuild-plugin-ng-go/transform"
)

// maxReexportDepth bounds how many `export ... from` hops are followed.
const maxReexportDepth = 16

// parseEntryModule splits "path#ClassName". The path is made absolute
// against basePath and loses its .ts extension.
func parseEntryModule(entry, basePath string) *transform.EntryModule {
	if entry == "" {
		return nil
	}
	p, className, _ := strings.Cut(entry, "#")
	if !path.IsAbs(p) {
		p = path.Join(basePath, p)
	}
	return &transform.EntryModule{Path: tsExtension.ReplaceAllString(path.Clean(p), ""), ClassName: className}
}

// resolveEntryModuleFromMain finds `bootstrapModule(X)` in the main file
// and follows the import of X to the file that declares it.
func resolveEntryModuleFromMain(mainPath string, h compiler.Host, resolver *compiler.Resolver) (*transform.EntryModule, error) {
	sf, err := h.GetSourceFile(mainPath)
	if err != nil {
		return nil, fmt.Errorf("cannot read main file %s: %w", mainPath, err)
	}

	var className string
	for _, call := range syntax.CollectDeepNodes(sf.Node, syntax.KindCallExpression) {
		access := call.Expression()
		if access == nil || access.Kind != syntax.KindPropertyAccessExpression {
			continue
		}
		if name := access.Name(); name == nil || name.Value != "bootstrapModule" {
			continue
		}
		if args := call.Arguments(); len(args) > 0 && args[0].Kind == syntax.KindIdentifier {
			className = args[0].Value
			break
		}
	}
	if className == "" {
		return nil, ErrEntryModuleNotFound
	}

	modulePath, symbol, ok := lookupImport(sf, className, h, resolver)
	if !ok {
		return nil, ErrEntryModuleNotFound
	}
	modulePath, symbol = followReexports(modulePath, symbol, h, resolver, 0)
	return &transform.EntryModule{Path: tsExtension.ReplaceAllString(modulePath, ""), ClassName: symbol}, nil
}

// lookupImport returns the resolved module and exported name that the
// local binding name is imported from.
func lookupImport(sf *syntax.SourceFile, name string, h compiler.Host, resolver *compiler.Resolver) (string, string, bool) {
	for _, stmt := range sf.Statements() {
		if stmt.Kind != syntax.KindImportDeclaration {
			continue
		}
		spec := stmt.ModuleSpecifier()
		if !spec.IsStringLike() {
			continue
		}
		for _, local := range stmt.ImportedNames() {
			if local == nil || local.Value != name {
				continue
			}
			exported := name
			if local.Parent != nil && local.Parent.Kind == syntax.KindImportSpecifier {
				if prop := local.Parent.PropertyName(); prop != nil {
					exported = prop.Value
				}
			}
			resolved, ok := resolver.ResolveModule(spec.Value, sf.FileName)
			if !ok {
				return "", "", false
			}
			return h.Resolve(resolved), exported, true
		}
	}
	return "", "", false
}

// followReexports walks `export { X } from` and `export * from` chains
// until it reaches the module that does not re-export symbol.
func followReexports(modulePath, symbol string, h compiler.Host, resolver *compiler.Resolver, depth int) (string, string) {
	if depth >= maxReexportDepth {
		return modulePath, symbol
	}
	sf, err := h.GetSourceFile(modulePath)
	if err != nil {
		return modulePath, symbol
	}

	var starExports []string
	for _, stmt := range sf.Statements() {
		if stmt.Kind != syntax.KindExportDeclaration {
			continue
		}
		spec := stmt.ModuleSpecifier()
		if !spec.IsStringLike() {
			continue
		}
		if stmt.Value == "*" {
			starExports = append(starExports, spec.Value)
			continue
		}
		for _, named := range syntax.CollectDeepNodes(stmt, syntax.KindExportSpecifier) {
			if name := named.Name(); name == nil || name.Value != symbol {
				continue
			}
			original := symbol
			if prop := named.PropertyName(); prop != nil {
				original = prop.Value
			}
			if resolved, ok := resolver.ResolveModule(spec.Value, sf.FileName); ok {
				return followReexports(h.Resolve(resolved), original, h, resolver, depth+1)
			}
		}
	}

	if declares(sf, symbol) {
		return modulePath, symbol
	}
	for _, star := range starExports {
		resolved, ok := resolver.ResolveModule(star, sf.FileName)
		if !ok {
			continue
		}
		target, name := followReexports(h.Resolve(resolved), symbol, h, resolver, depth+1)
		if other, err := h.GetSourceFile(target); err == nil && declares(other, name) {
			return target, name
		}
	}
	return modulePath, symbol
}

// declares reports whether sf mentions symbol outside import and export
// declarations.
func declares(sf *syntax.SourceFile, symbol string) bool {
	for _, id := range syntax.FindIdentifiers(sf.Node, symbol) {
		inModuleDecl := false
		for n := id.Parent; n != nil; n = n.Parent {
			if n.Kind == syntax.KindImportDeclaration || n.Kind == syntax.KindExportDeclaration {
				inModuleDecl = true
				break
			}
		}
		if !inModuleDecl {
			return true
		}
	}
	return false
}
