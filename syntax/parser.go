// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package syntax

import (
	"context"
	"strconv"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Parsers are not safe for concurrent use, so each Parse call borrows one.
var parsers = sync.Pool{
	New: func() any {
		p := sitter.NewParser()
		p.SetLanguage(typescript.GetLanguage())
		return p
	},
}

// Parse builds a loose syntax tree for text from the tree-sitter TypeScript
// grammar. It never fails: tree-sitter recovers from syntax errors, and
// constructs the tree does not model become generic statements and
// sequences holding the nodes found inside them.
func Parse(fileName, text string) *SourceFile {
	sf := &SourceFile{FileName: fileName, Text: text}
	sf.Node = &Node{Kind: KindSourceFile, End: len(text), file: sf}

	p := parsers.Get().(*sitter.Parser)
	defer parsers.Put(p)

	src := []byte(text)
	tree, err := p.ParseCtx(context.Background(), nil, src)
	if err != nil || tree == nil {
		return sf
	}
	b := &builder{file: sf, src: src}
	for _, c := range namedChildren(tree.RootNode()) {
		add(sf.Node, b.statement(c))
	}
	return sf
}

// builder converts tree-sitter nodes into Nodes.
type builder struct {
	file *SourceFile
	src  []byte
}

func (b *builder) newNode(kind Kind, ts *sitter.Node) *Node {
	return &Node{Kind: kind, Pos: int(ts.StartByte()), End: int(ts.EndByte()), file: b.file}
}

func add(parent, child *Node) {
	if child == nil {
		return
	}
	child.Parent = parent
	parent.Children = append(parent.Children, child)
}

// namedChildren skips comments and the zero width nodes inserted by error
// recovery.
func namedChildren(ts *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	for i := 0; i < int(ts.NamedChildCount()); i++ {
		c := ts.NamedChild(i)
		if c == nil || c.IsMissing() || c.Type() == "comment" {
			continue
		}
		out = append(out, c)
	}
	return out
}

func childOfType(ts *sitter.Node, typ string) *sitter.Node {
	for _, c := range namedChildren(ts) {
		if c.Type() == typ {
			return c
		}
	}
	return nil
}

// hasToken reports whether an anonymous child of ts is token.
func hasToken(ts *sitter.Node, token string) bool {
	for i := 0; i < int(ts.ChildCount()); i++ {
		if c := ts.Child(i); c != nil && !c.IsNamed() && c.Type() == token {
			return true
		}
	}
	return false
}

func (b *builder) statement(ts *sitter.Node) *Node {
	switch ts.Type() {
	case "empty_statement", "hash_bang_line":
		return nil
	case "import_statement":
		if childOfType(ts, "import_require_clause") == nil {
			return b.importDeclaration(ts)
		}
	case "export_statement":
		if childOfType(ts, "export_clause") != nil || childOfType(ts, "namespace_export") != nil || hasToken(ts, "*") {
			return b.exportDeclaration(ts)
		}
	}
	stmt := b.newNode(KindStatement, ts)
	b.flatten(stmt, ts)
	return stmt
}

func (b *builder) importDeclaration(ts *sitter.Node) *Node {
	decl := b.newNode(KindImportDeclaration, ts)
	for _, c := range namedChildren(ts) {
		switch c.Type() {
		case "import_clause":
			add(decl, b.importClause(c))
		case "string":
			add(decl, b.expression(c))
		}
	}
	return decl
}

func (b *builder) importClause(ts *sitter.Node) *Node {
	clause := b.newNode(KindImportClause, ts)
	for _, c := range namedChildren(ts) {
		switch c.Type() {
		case "identifier":
			add(clause, b.expression(c))
		case "namespace_import":
			ns := b.newNode(KindNamespaceImport, c)
			if id := childOfType(c, "identifier"); id != nil {
				add(ns, b.expression(id))
			}
			add(clause, ns)
		case "named_imports":
			add(clause, b.specifiers(c, KindNamedImports, KindImportSpecifier))
		}
	}
	return clause
}

func (b *builder) exportDeclaration(ts *sitter.Node) *Node {
	decl := b.newNode(KindExportDeclaration, ts)
	if hasToken(ts, "*") {
		decl.Value = "*"
	}
	for _, c := range namedChildren(ts) {
		switch c.Type() {
		case "export_clause":
			add(decl, b.specifiers(c, KindNamedExports, KindExportSpecifier))
		case "namespace_export":
			for _, name := range namedChildren(c) {
				add(decl, b.expression(name))
			}
		case "string":
			add(decl, b.expression(c))
		}
	}
	return decl
}

// specifiers converts the braces of an import or export. A renamed
// specifier keeps the original name first.
func (b *builder) specifiers(ts *sitter.Node, listKind, specKind Kind) *Node {
	list := b.newNode(listKind, ts)
	for _, c := range namedChildren(ts) {
		spec := b.newNode(specKind, c)
		if name := c.ChildByFieldName("name"); name != nil {
			add(spec, b.expression(name))
		}
		if alias := c.ChildByFieldName("alias"); alias != nil {
			add(spec, b.expression(alias))
		}
		add(list, spec)
	}
	return list
}

func isIdentifier(typ string) bool {
	switch typ {
	case "identifier", "property_identifier", "type_identifier",
		"shorthand_property_identifier", "shorthand_property_identifier_pattern",
		"private_property_identifier", "statement_identifier", "this", "super":
		return true
	}
	return false
}

// expression converts the node types the tree models and returns nil for
// the others.
func (b *builder) expression(ts *sitter.Node) *Node {
	typ := ts.Type()
	if isIdentifier(typ) {
		n := b.newNode(KindIdentifier, ts)
		n.Value = ts.Content(b.src)
		return n
	}

	switch typ {
	case "string":
		n := b.newNode(KindStringLiteral, ts)
		n.Value = unescape(unquote(ts.Content(b.src)))
		return n

	case "template_string":
		if childOfType(ts, "template_substitution") == nil {
			n := b.newNode(KindStringLiteral, ts)
			n.Value = unescape(unquote(ts.Content(b.src)))
			return n
		}
		n := b.newNode(KindTemplateExpression, ts)
		b.flatten(n, ts)
		return n

	case "number":
		n := b.newNode(KindNumericLiteral, ts)
		n.Value = ts.Content(b.src)
		return n

	case "regex":
		n := b.newNode(KindRegExpLiteral, ts)
		n.Value = ts.Content(b.src)
		return n

	case "member_expression":
		n := b.newNode(KindPropertyAccessExpression, ts)
		if object := ts.ChildByFieldName("object"); object != nil {
			add(n, b.slot(object))
		}
		if property := ts.ChildByFieldName("property"); property != nil && !property.IsMissing() {
			add(n, b.slot(property))
		}
		return n

	case "subscript_expression":
		n := b.newNode(KindElementAccessExpression, ts)
		if object := ts.ChildByFieldName("object"); object != nil {
			add(n, b.slot(object))
		}
		if index := ts.ChildByFieldName("index"); index != nil {
			add(n, b.slot(index))
		}
		return n

	case "call_expression":
		n := b.newNode(KindCallExpression, ts)
		if callee := ts.ChildByFieldName("function"); callee != nil {
			add(n, b.slot(callee))
		}
		if args := ts.ChildByFieldName("arguments"); args != nil {
			if args.Type() == "arguments" {
				for _, arg := range namedChildren(args) {
					add(n, b.slot(arg))
				}
			} else {
				// Tagged template.
				add(n, b.slot(args))
			}
		}
		return n

	case "parenthesized_expression":
		n := b.newNode(KindParenthesizedExpression, ts)
		for _, c := range namedChildren(ts) {
			add(n, b.slot(c))
		}
		return n

	case "object":
		n := b.newNode(KindObjectLiteralExpression, ts)
		for _, c := range namedChildren(ts) {
			switch c.Type() {
			case "pair":
				prop := b.newNode(KindPropertyAssignment, c)
				if key := c.ChildByFieldName("key"); key != nil {
					add(prop, b.slot(key))
				}
				if value := c.ChildByFieldName("value"); value != nil {
					add(prop, b.slot(value))
				}
				add(n, prop)
			case "shorthand_property_identifier":
				prop := b.newNode(KindShorthandPropertyAssignment, c)
				add(prop, b.expression(c))
				add(n, prop)
			default:
				add(n, b.slot(c))
			}
		}
		return n

	case "array":
		n := b.newNode(KindArrayLiteralExpression, ts)
		for _, c := range namedChildren(ts) {
			add(n, b.slot(c))
		}
		return n

	case "decorator":
		n := b.newNode(KindDecorator, ts)
		for _, c := range namedChildren(ts) {
			add(n, b.slot(c))
		}
		return n

	case "statement_block", "class_body":
		n := b.newNode(KindBlock, ts)
		for _, c := range namedChildren(ts) {
			add(n, b.statement(c))
		}
		return n
	}
	return nil
}

// slot converts a node that takes a fixed position in its parent, such as
// an argument or an initializer. Unmodelled nodes become a sequence of the
// nodes found inside them.
func (b *builder) slot(ts *sitter.Node) *Node {
	if n := b.expression(ts); n != nil {
		return n
	}
	seq := b.newNode(KindSequence, ts)
	b.flatten(seq, ts)
	if len(seq.Children) == 1 {
		if only := seq.Children[0]; only.Pos == seq.Pos && only.End == seq.End {
			only.Parent = nil
			return only
		}
	}
	return seq
}

// flatten adds the modelled descendants of ts to parent, dropping the
// unmodelled nodes in between.
func (b *builder) flatten(parent *Node, ts *sitter.Node) {
	for _, c := range namedChildren(ts) {
		if n := b.expression(c); n != nil {
			add(parent, n)
			continue
		}
		b.flatten(parent, c)
	}
}

// unquote strips the delimiters of a string or template literal. An
// unterminated literal keeps everything after the opening quote.
func unquote(text string) string {
	if text == "" {
		return text
	}
	q := text[0]
	if q != '\'' && q != '"' && q != '`' {
		return text
	}
	body := text[1:]
	if n := len(body); n > 0 && body[n-1] == q {
		body = body[:n-1]
	}
	return body
}

// unescape decodes the escape sequences of a literal body.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			sb.WriteByte(c)
			continue
		}
		i++
		switch e := s[i]; e {
		case 'n':
			sb.WriteByte('\n')
		case 't':
			sb.WriteByte('\t')
		case 'r':
			sb.WriteByte('\r')
		case 'b':
			sb.WriteByte('\b')
		case 'f':
			sb.WriteByte('\f')
		case 'v':
			sb.WriteByte('\v')
		case '0':
			sb.WriteByte(0)
		case '\r':
			// Line continuation.
			if i+1 < len(s) && s[i+1] == '\n' {
				i++
			}
		case '\n':
		case 'x':
			if r, ok := parseHex(s, i+1, i+3); ok {
				sb.WriteRune(r)
				i += 2
			} else {
				sb.WriteByte(e)
			}
		case 'u':
			if i+1 < len(s) && s[i+1] == '{' {
				if end := strings.IndexByte(s[i:], '}'); end > 0 {
					if r, ok := parseHex(s, i+2, i+end); ok {
						sb.WriteRune(r)
						i += end
						continue
					}
				}
			} else if r, ok := parseHex(s, i+1, i+5); ok {
				sb.WriteRune(r)
				i += 4
				continue
			}
			sb.WriteByte(e)
		default:
			sb.WriteByte(e)
		}
	}
	return sb.String()
}

func parseHex(s string, from, to int) (rune, bool) {
	if from >= to || to > len(s) {
		return 0, false
	}
	v, err := strconv.ParseUint(s[from:to], 16, 32)
	if err != nil {
		return 0, false
	}
	return rune(v), true
}
