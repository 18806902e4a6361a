// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package transform

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/buke/esbuild-plugin-ng-go/syntax"
)

// nameAllocator hands out identifiers that do not occur in a file.
type nameAllocator struct {
	text string
	next map[string]int
}

func newNameAllocator(sf *syntax.SourceFile) *nameAllocator {
	return &nameAllocator{text: sf.Text, next: make(map[string]int)}
}

func (a *nameAllocator) unique(base string) string {
	for {
		a.next[base]++
		name := fmt.Sprintf("%s%d", base, a.next[base])
		if !strings.Contains(a.text, name) {
			return name
		}
	}
}

// insertStarImport returns the operation adding
// `import * as <name> from "<module>";`. Without a target the import goes
// after the last import declaration, or before the first statement.
func insertStarImport(sf *syntax.SourceFile, name, module string, target *syntax.Node, before bool) Operation {
	stmt := fmt.Sprintf("import * as %s from %s;", name, quote(module))
	if target != nil {
		if before {
			return Add(target, stmt, "")
		}
		return Add(target, "", stmt)
	}
	var lastImport *syntax.Node
	for _, s := range sf.Statements() {
		if s.Kind == syntax.KindImportDeclaration {
			lastImport = s
		}
	}
	if lastImport != nil {
		return Add(lastImport, "", stmt)
	}
	return Add(syntax.FirstNode(sf), stmt, "")
}

// quote renders s as a double quoted JavaScript string literal.
func quote(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return strings.TrimSuffix(buf.String(), "\n")
}

// relativeImport returns the specifier importing target from a file in
// dir, always starting with "./" or "../".
func relativeImport(dir, target string) string {
	rel := relativePath(dir, target)
	if rel != ".." && !strings.HasPrefix(rel, "../") {
		rel = "./" + rel
	}
	return rel
}

func relativePath(from, to string) string {
	rel, err := filepath.Rel(filepath.FromSlash(from), filepath.FromSlash(to))
	if err != nil {
		return to
	}
	return filepath.ToSlash(rel)
}

// bootstrapCall matches `platformBrowserDynamic().bootstrapModule(<id>)`
// around the identifier id and returns the nodes the bootstrap rewrites
// touch.
type bootstrapCall struct {
	platform  *syntax.Node // platformBrowserDynamic identifier
	method    *syntax.Node // bootstrapModule identifier
	entry     *syntax.Node // entry module identifier
	statement *syntax.Node
}

func matchBootstrapCall(id *syntax.Node) (*bootstrapCall, bool) {
	call := id.Parent
	if call == nil || call.Kind != syntax.KindCallExpression || call.Expression() == id {
		return nil, false
	}
	access := call.Expression()
	if access == nil || access.Kind != syntax.KindPropertyAccessExpression {
		return nil, false
	}
	method := access.Name()
	inner := access.Expression()
	if method == nil || method.Value != "bootstrapModule" || inner == nil || inner.Kind != syntax.KindCallExpression {
		return nil, false
	}
	platform := inner.Expression()
	if platform == nil || platform.Kind != syntax.KindIdentifier || platform.Value != "platformBrowserDynamic" {
		return nil, false
	}
	stmt := call
	for stmt.Parent != nil && stmt.Parent.Kind != syntax.KindSourceFile {
		stmt = stmt.Parent
	}
	return &bootstrapCall{platform: platform, method: method, entry: id, statement: stmt}, true
}
