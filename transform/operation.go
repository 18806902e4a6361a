// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Package transform rewrites sources before they are emitted.
//
// A Transformer inspects a parsed file and returns edit operations. The
// operations of every transformer are computed against the same
// unmodified tree, concatenated, and applied to the text in a single pass,
// so no transformer ever sees the output of another.
package transform

import (
	"sort"
	"strings"

	"github.com/buke/esbuild-plugin-ng-go/syntax"
)

// OperationKind tags the variants of Operation.
type OperationKind uint8

const (
	OperationAdd OperationKind = iota
	OperationReplace
	OperationRemove
)

func (k OperationKind) String() string {
	switch k {
	case OperationAdd:
		return "add"
	case OperationReplace:
		return "replace"
	}
	return "remove"
}

// Operation is one edit of a source file.
//
// An Add inserts whole statements: Before goes in front of Target and
// After behind it. A nil Target stands for the start (Before) or the end
// (After) of the file. A Replace swaps the text of Target for Text, a
// Remove deletes it.
type Operation struct {
	Kind   OperationKind
	Target *syntax.Node
	Before string
	After  string
	Text   string
}

// Add returns an operation inserting statements around target.
func Add(target *syntax.Node, before, after string) Operation {
	return Operation{Kind: OperationAdd, Target: target, Before: before, After: after}
}

// Replace returns an operation replacing target with text.
func Replace(target *syntax.Node, text string) Operation {
	return Operation{Kind: OperationReplace, Target: target, Text: text}
}

// Remove returns an operation deleting target.
func Remove(target *syntax.Node) Operation {
	return Operation{Kind: OperationRemove, Target: target}
}

// Transformer computes the operations for one file. Finding nothing to
// rewrite is not an error and yields no operations.
type Transformer func(sf *syntax.SourceFile) []Operation

// EntryModule names the root module of an application. Path is absolute
// and has no extension.
type EntryModule struct {
	Path      string
	ClassName string
}

type edit struct {
	start, end int
	text       string
}

func (e edit) insertion() bool {
	return e.start == e.end
}

// Apply applies ops to the text of sf.
//
// Edits are ordered by position. Insertions at the same position keep the
// order of ops and precede a replacement starting there. When replacements
// overlap, the first one wins and the others are dropped, together with
// any insertion falling inside a replaced range.
func Apply(sf *syntax.SourceFile, ops []Operation) string {
	if len(ops) == 0 {
		return sf.Text
	}
	text := sf.Text

	// Step 1: Turn operations into edits on byte ranges
	edits := make([]edit, 0, len(ops))
	for _, op := range ops {
		switch op.Kind {
		case OperationAdd:
			if op.Before != "" {
				pos := 0
				if op.Target != nil {
					pos = op.Target.Pos
				}
				edits = append(edits, edit{start: pos, end: pos, text: op.Before + "\n"})
			}
			if op.After != "" {
				if op.Target != nil {
					edits = append(edits, edit{start: op.Target.End, end: op.Target.End, text: "\n" + op.After})
					continue
				}
				insert := op.After + "\n"
				if text != "" && !strings.HasSuffix(text, "\n") {
					insert = "\n" + insert
				}
				edits = append(edits, edit{start: len(text), end: len(text), text: insert})
			}
		case OperationReplace, OperationRemove:
			if op.Target == nil {
				continue
			}
			edits = append(edits, edit{start: op.Target.Pos, end: op.Target.End, text: op.Text})
		}
	}

	// Step 2: Order the edits, insertions first at equal positions
	sort.SliceStable(edits, func(i, j int) bool {
		a, b := edits[i], edits[j]
		if a.start != b.start {
			return a.start < b.start
		}
		return a.insertion() && !b.insertion()
	})

	// Step 3: Splice the edits, dropping those overlapping an earlier one
	var sb strings.Builder
	sb.Grow(len(text))
	last := 0
	for _, e := range edits {
		if e.start < last {
			continue
		}
		sb.WriteString(text[last:e.start])
		sb.WriteString(e.text)
		last = e.end
	}
	sb.WriteString(text[last:])
	return sb.String()
}

// Run applies every transformer to sf. It reports false, and returns the
// text unchanged, when no transformer produced an operation.
func Run(sf *syntax.SourceFile, transformers ...Transformer) (string, bool) {
	var ops []Operation
	for _, t := range transformers {
		if t == nil {
			continue
		}
		ops = append(ops, t(sf)...)
	}
	if len(ops) == 0 {
		return sf.Text, false
	}
	return Apply(sf, ops), true
}
