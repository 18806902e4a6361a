// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Package syntax exposes the parts of a TypeScript syntax tree the compiler
// transforms work with. Files are parsed by tree-sitter and converted into
// Nodes carrying byte offsets into the source text.
package syntax

import (
	"sort"
	"strings"
)

// Kind identifies the shape of a Node.
type Kind uint8

const (
	KindSourceFile Kind = iota
	KindStatement
	KindBlock
	KindImportDeclaration
	KindImportClause
	KindNamespaceImport
	KindNamedImports
	KindImportSpecifier
	KindExportDeclaration
	KindNamedExports
	KindExportSpecifier
	KindIdentifier
	KindStringLiteral
	KindTemplateExpression
	KindNumericLiteral
	KindRegExpLiteral
	KindPropertyAccessExpression
	KindElementAccessExpression
	KindCallExpression
	KindParenthesizedExpression
	KindObjectLiteralExpression
	KindPropertyAssignment
	KindShorthandPropertyAssignment
	KindArrayLiteralExpression
	KindDecorator
	KindSequence
)

var kindNames = [...]string{
	KindSourceFile:                  "SourceFile",
	KindStatement:                   "Statement",
	KindBlock:                       "Block",
	KindImportDeclaration:           "ImportDeclaration",
	KindImportClause:                "ImportClause",
	KindNamespaceImport:             "NamespaceImport",
	KindNamedImports:                "NamedImports",
	KindImportSpecifier:             "ImportSpecifier",
	KindExportDeclaration:           "ExportDeclaration",
	KindNamedExports:                "NamedExports",
	KindExportSpecifier:             "ExportSpecifier",
	KindIdentifier:                  "Identifier",
	KindStringLiteral:               "StringLiteral",
	KindTemplateExpression:          "TemplateExpression",
	KindNumericLiteral:              "NumericLiteral",
	KindRegExpLiteral:               "RegExpLiteral",
	KindPropertyAccessExpression:    "PropertyAccessExpression",
	KindElementAccessExpression:     "ElementAccessExpression",
	KindCallExpression:              "CallExpression",
	KindParenthesizedExpression:     "ParenthesizedExpression",
	KindObjectLiteralExpression:     "ObjectLiteralExpression",
	KindPropertyAssignment:          "PropertyAssignment",
	KindShorthandPropertyAssignment: "ShorthandPropertyAssignment",
	KindArrayLiteralExpression:      "ArrayLiteralExpression",
	KindDecorator:                   "Decorator",
	KindSequence:                    "Sequence",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Unknown"
}

// Node is an element of the loose syntax tree.
//
// Children layout by kind:
//
//	ImportDeclaration        [ImportClause?, StringLiteral?]
//	ImportClause             [Identifier?, NamespaceImport | NamedImports?]
//	ImportSpecifier          [Identifier] or [property Identifier, local Identifier]
//	ExportDeclaration        [NamedExports | Identifier?, StringLiteral?]
//	ExportSpecifier          [Identifier] or [local Identifier, exported Identifier]
//	PropertyAccessExpression [expression, Identifier]
//	CallExpression           [callee, arguments...]
//	PropertyAssignment       [name, initializer]
//
// Value holds the name of identifiers, the decoded contents of string
// literals and "*" on star exports.
type Node struct {
	Kind     Kind
	Pos      int
	End      int
	Value    string
	Parent   *Node
	Children []*Node

	file *SourceFile
}

// Text returns the source text covered by the node.
func (n *Node) Text() string {
	if n == nil || n.file == nil {
		return ""
	}
	return n.file.Text[n.Pos:n.End]
}

// SourceFile returns the file the node belongs to.
func (n *Node) SourceFile() *SourceFile {
	return n.file
}

func (n *Node) child(i int) *Node {
	if i < 0 || i >= len(n.Children) {
		return nil
	}
	return n.Children[i]
}

func (n *Node) childOfKind(kind Kind) *Node {
	for _, c := range n.Children {
		if c.Kind == kind {
			return c
		}
	}
	return nil
}

// Expression returns the target of a property access or the callee of a call.
func (n *Node) Expression() *Node {
	switch n.Kind {
	case KindPropertyAccessExpression, KindCallExpression, KindElementAccessExpression, KindDecorator:
		return n.child(0)
	}
	return nil
}

// Name returns the accessed name of a property access, the key of a
// property assignment or the local name of an import or export specifier.
func (n *Node) Name() *Node {
	switch n.Kind {
	case KindPropertyAccessExpression, KindImportSpecifier, KindExportSpecifier:
		return n.child(len(n.Children) - 1)
	case KindPropertyAssignment, KindShorthandPropertyAssignment, KindNamespaceImport:
		return n.child(0)
	}
	return nil
}

// PropertyName returns the original name of a renamed import or export
// specifier, or nil.
func (n *Node) PropertyName() *Node {
	if (n.Kind == KindImportSpecifier || n.Kind == KindExportSpecifier) && len(n.Children) == 2 {
		return n.Children[0]
	}
	return nil
}

// Arguments returns the arguments of a call expression.
func (n *Node) Arguments() []*Node {
	if n.Kind != KindCallExpression || len(n.Children) == 0 {
		return nil
	}
	return n.Children[1:]
}

// Initializer returns the value of a property assignment.
func (n *Node) Initializer() *Node {
	if n.Kind == KindPropertyAssignment {
		return n.child(1)
	}
	return nil
}

// ModuleSpecifier returns the string literal naming the module of an import
// or export declaration, or nil.
func (n *Node) ModuleSpecifier() *Node {
	if n.Kind != KindImportDeclaration && n.Kind != KindExportDeclaration {
		return nil
	}
	return n.childOfKind(KindStringLiteral)
}

// ImportClause returns the clause of an import declaration, or nil for
// side-effect imports.
func (n *Node) ImportClause() *Node {
	if n.Kind != KindImportDeclaration {
		return nil
	}
	return n.childOfKind(KindImportClause)
}

// ImportedNames returns the local identifiers bound by an import declaration.
func (n *Node) ImportedNames() []*Node {
	clause := n.ImportClause()
	if clause == nil {
		return nil
	}
	var names []*Node
	for _, c := range clause.Children {
		switch c.Kind {
		case KindIdentifier:
			names = append(names, c)
		case KindNamespaceImport:
			names = append(names, c.Name())
		case KindNamedImports:
			for _, spec := range c.Children {
				names = append(names, spec.Name())
			}
		}
	}
	return names
}

// IsStringLike reports whether the node is a string literal or a template
// without substitutions.
func (n *Node) IsStringLike() bool {
	return n != nil && n.Kind == KindStringLiteral
}

// SourceFile is the root of a parsed file.
type SourceFile struct {
	*Node
	FileName string
	Text     string

	lineStarts []int
}

// Statements returns the top level statements of the file.
func (sf *SourceFile) Statements() []*Node {
	return sf.Node.Children
}

// Position converts a byte offset into a zero based line and column.
func (sf *SourceFile) Position(offset int) (line, column int) {
	if sf.lineStarts == nil {
		sf.lineStarts = []int{0}
		for i := 0; i < len(sf.Text); i++ {
			if sf.Text[i] == '\n' {
				sf.lineStarts = append(sf.lineStarts, i+1)
			}
		}
	}
	line = sort.Search(len(sf.lineStarts), func(i int) bool { return sf.lineStarts[i] > offset }) - 1
	if line < 0 {
		line = 0
	}
	return line, offset - sf.lineStarts[line]
}

// LineText returns the text of the given zero based line.
func (sf *SourceFile) LineText(line int) string {
	sf.Position(0)
	if line < 0 || line >= len(sf.lineStarts) {
		return ""
	}
	text := sf.Text[sf.lineStarts[line]:]
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSuffix(text, "\r")
}

// FirstNode returns the first statement of the file, or nil if it has none.
func FirstNode(sf *SourceFile) *Node {
	if stmts := sf.Statements(); len(stmts) > 0 {
		return stmts[0]
	}
	return nil
}

// LastNode returns the last statement of the file, or nil if it has none.
func LastNode(sf *SourceFile) *Node {
	if stmts := sf.Statements(); len(stmts) > 0 {
		return stmts[len(stmts)-1]
	}
	return nil
}

// Walk visits the descendants of n in source order. Returning false from
// fn skips the children of the visited node.
func Walk(n *Node, fn func(*Node) bool) {
	for _, c := range n.Children {
		if fn(c) {
			Walk(c, fn)
		}
	}
}

// CollectDeepNodes returns every descendant of n with the given kind.
func CollectDeepNodes(n *Node, kind Kind) []*Node {
	var nodes []*Node
	Walk(n, func(c *Node) bool {
		if c.Kind == kind {
			nodes = append(nodes, c)
		}
		return true
	})
	return nodes
}

// FindIdentifiers returns the identifiers of n whose name equals text.
func FindIdentifiers(n *Node, text string) []*Node {
	var nodes []*Node
	for _, id := range CollectDeepNodes(n, KindIdentifier) {
		if id.Value == text {
			nodes = append(nodes, id)
		}
	}
	return nodes
}
