// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package transform

import (
	"path"
	"regexp"
	"strings"

	"github.com/buke/esbuild-plugin-ng-go/syntax"
)

// Resource is a templateUrl or styleUrls property found in a file.
type Resource struct {
	// Key is "templateUrl" or "styleUrls".
	Key string
	// Node is the property assignment.
	Node *syntax.Node
	// URLs are the referenced files as written, prefixed with "./" when
	// they are not already relative.
	URLs []string
	// Paths are the URLs resolved against the directory of the file.
	Paths []string

	dynamic bool
}

var relativeURL = regexp.MustCompile(`^\.?\./`)

// FindResources lists the external templates and styles referenced by
// object literals in sf. Elements that are not string literals are
// skipped.
func FindResources(sf *syntax.SourceFile) []Resource {
	dir := path.Dir(sf.FileName)
	var resources []Resource
	for _, obj := range syntax.CollectDeepNodes(sf.Node, syntax.KindObjectLiteralExpression) {
		for _, prop := range obj.Children {
			if prop.Kind != syntax.KindPropertyAssignment {
				continue
			}
			name := prop.Name()
			if name == nil || (name.Kind != syntax.KindIdentifier && name.Kind != syntax.KindStringLiteral) {
				continue
			}
			var elements []*syntax.Node
			switch name.Value {
			case "templateUrl":
				elements = []*syntax.Node{prop.Initializer()}
			case "styleUrls":
				arr := prop.Initializer()
				if arr == nil || arr.Kind != syntax.KindArrayLiteralExpression || len(arr.Children) == 0 {
					continue
				}
				elements = arr.Children
			default:
				continue
			}

			res := Resource{Key: name.Value, Node: prop}
			for _, el := range elements {
				if !el.IsStringLike() {
					res.dynamic = true
					continue
				}
				url := el.Value
				if !relativeURL.MatchString(url) && !strings.HasPrefix(url, "/") {
					url = "./" + url
				}
				res.URLs = append(res.URLs, url)
				if strings.HasPrefix(url, "/") {
					res.Paths = append(res.Paths, path.Clean(url))
				} else {
					res.Paths = append(res.Paths, path.Join(dir, url))
				}
			}
			if len(res.URLs) > 0 {
				resources = append(resources, res)
			}
		}
	}
	return resources
}

// ReplaceResources inlines external templates and styles:
//
//	templateUrl: './app.component.html'  ->  template: "<h1>...</h1>"
//	styleUrls: ['./app.component.css']   ->  styles: ["h1 { ... }"]
//
// getResource returns the loaded content of an absolute resource path. A
// property with an expression element, or with a resource that cannot be
// loaded, is left untouched.
func ReplaceResources(shouldTransform func(fileName string) bool, getResource func(path string) (string, bool)) Transformer {
	return func(sf *syntax.SourceFile) []Operation {
		if !shouldTransform(sf.FileName) {
			return nil
		}

		var ops []Operation
		for _, res := range FindResources(sf) {
			if res.dynamic {
				continue
			}
			contents := make([]string, 0, len(res.Paths))
			for _, p := range res.Paths {
				content, ok := getResource(p)
				if !ok {
					break
				}
				contents = append(contents, quote(content))
			}
			if len(contents) != len(res.Paths) {
				continue
			}
			switch res.Key {
			case "templateUrl":
				ops = append(ops, Replace(res.Node, "template: "+contents[0]))
			case "styleUrls":
				ops = append(ops, Replace(res.Node, "styles: ["+strings.Join(contents, ", ")+"]"))
			}
		}
		return ops
	}
}
