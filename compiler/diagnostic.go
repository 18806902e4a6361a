// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package compiler

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes reported for failures that do not come from the compiler.
const (
	DefaultErrorCode = 100
	UnknownErrorCode = 500
)

// Diagnostic sources.
const (
	SourceAngular    = "angular"
	SourceTypeScript = "typescript"
)

// Category classifies a diagnostic.
type Category int

const (
	CategoryError Category = iota
	CategoryWarning
	CategoryMessage
)

func (c Category) String() string {
	switch c {
	case CategoryError:
		return "error"
	case CategoryWarning:
		return "warning"
	}
	return "message"
}

// Diagnostic is a message reported by the compiler or the plugin. Line and
// Column are one based; zero means the position is unknown.
type Diagnostic struct {
	Category Category `json:"category"`
	Code     int      `json:"code"`
	Message  string   `json:"message"`
	File     string   `json:"file,omitempty"`
	Line     int      `json:"line,omitempty"`
	Column   int      `json:"column,omitempty"`
	LineText string   `json:"lineText,omitempty"`
	Source   string   `json:"source,omitempty"`
}

// Format renders d the way the command line compiler prints it.
func (d Diagnostic) Format() string {
	var sb strings.Builder
	if d.File != "" {
		sb.WriteString(d.File)
		if d.Line > 0 {
			fmt.Fprintf(&sb, "(%d,%d)", d.Line, d.Column)
		}
		sb.WriteString(": ")
	}
	prefix := "TS"
	if d.Source == SourceAngular {
		prefix = "NG"
	}
	fmt.Fprintf(&sb, "%s %s%d: %s", d.Category, prefix, d.Code, d.Message)
	return sb.String()
}

// Diagnostics is a list of diagnostics.
type Diagnostics []Diagnostic

// HasErrors reports whether any diagnostic is an error.
func (ds Diagnostics) HasErrors() bool {
	for _, d := range ds {
		if d.Category == CategoryError {
			return true
		}
	}
	return false
}

// Errors returns the error diagnostics.
func (ds Diagnostics) Errors() Diagnostics {
	return ds.filter(CategoryError)
}

// Warnings returns the warning diagnostics.
func (ds Diagnostics) Warnings() Diagnostics {
	return ds.filter(CategoryWarning)
}

func (ds Diagnostics) filter(c Category) Diagnostics {
	var out Diagnostics
	for _, d := range ds {
		if d.Category == c {
			out = append(out, d)
		}
	}
	return out
}

// Format renders every diagnostic on its own line.
func (ds Diagnostics) Format() string {
	lines := make([]string, len(ds))
	for i, d := range ds {
		lines[i] = d.Format()
	}
	return strings.Join(lines, "\n")
}

// NewError returns an error diagnostic from the plugin itself.
func NewError(code int, message string) Diagnostic {
	return Diagnostic{Category: CategoryError, Code: code, Message: message, Source: SourceAngular}
}

// NewWarning returns a warning diagnostic from the plugin itself.
func NewWarning(message string) Diagnostic {
	return Diagnostic{Category: CategoryWarning, Code: DefaultErrorCode, Message: message, Source: SourceAngular}
}

// SyntaxError is returned by emitters for source the compiler could not
// parse. Unlike other emit failures it leaves the program usable.
type SyntaxError struct {
	File    string
	Line    int
	Column  int
	Message string
}

func (e *SyntaxError) Error() string {
	if e.File == "" {
		return e.Message
	}
	return fmt.Sprintf("%s(%d,%d): %s", e.File, e.Line, e.Column, e.Message)
}

// IsSyntaxError reports whether err wraps a *SyntaxError.
func IsSyntaxError(err error) bool {
	var se *SyntaxError
	return errors.As(err, &se)
}
