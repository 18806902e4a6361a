// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package ngplugin

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/antchfx/htmlquery"
	"github.com/evanw/esbuild/pkg/api"
	"github.com/spf13/afero"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"
)

// HtmlProcessorOptions holds builder functions for script and CSS tag attributes.
type HtmlProcessorOptions struct {
	ScriptAttrBuilder func(url string) []html.Attribute // JS script tag attribute builder
	CssAttrBuilder    func(url string) []html.Attribute // CSS link tag attribute builder
}

// IndexHtml returns the index.html settings of the plugin.
func (o *Options) IndexHtml() IndexHtmlOptions {
	return o.indexHtmlOptions
}

// NewHtmlProcessor returns an IndexHtmlProcessor that sets <base href>,
// injects the script and stylesheet tags of the entry point outputs and
// removes the nodes matched by RemoveTagXPaths.
func NewHtmlProcessor(htmlProcessorOptions HtmlProcessorOptions) IndexHtmlProcessor {
	if htmlProcessorOptions.ScriptAttrBuilder == nil {
		htmlProcessorOptions.ScriptAttrBuilder = func(url string) []html.Attribute {
			return []html.Attribute{
				{Key: "type", Val: "module"},
				{Key: "src", Val: url},
			}
		}
	}
	if htmlProcessorOptions.CssAttrBuilder == nil {
		htmlProcessorOptions.CssAttrBuilder = func(url string) []html.Attribute {
			return []html.Attribute{
				{Key: "rel", Val: "stylesheet"},
				{Key: "href", Val: url},
			}
		}
	}

	return func(doc *html.Node, result *api.BuildResult, opts *Options, build *api.PluginBuild) error {
		indexOpts := opts.IndexHtml()
		headNode := htmlquery.FindOne(doc, "//head")
		if headNode == nil {
			return fmt.Errorf("%s has no <head> element", indexOpts.SourceFile)
		}

		if indexOpts.BaseHref != "" {
			setBaseHref(headNode, indexOpts.BaseHref)
		}

		htmlFile, _ := filepath.Abs(indexOpts.OutFile)
		for _, outputFile := range result.OutputFiles {
			outputPath, _ := filepath.Abs(outputFile.Path)
			if !fromEntryPoint(outputPath, build.InitialOptions.EntryPoints) {
				continue
			}

			url := outputURL(outputPath, htmlFile, indexOpts.DeployURL)
			switch filepath.Ext(outputPath) {
			case ".js":
				appendElement(headNode, "script", htmlProcessorOptions.ScriptAttrBuilder(url))
			case ".css":
				appendElement(headNode, "link", htmlProcessorOptions.CssAttrBuilder(url))
			}
		}

		for _, xpath := range indexOpts.RemoveTagXPaths {
			for _, node := range htmlquery.Find(doc, xpath) {
				if node.Parent != nil {
					node.Parent.RemoveChild(node)
				}
			}
		}
		return nil
	}
}

// fromEntryPoint reports whether the output file was produced for one of
// the entry points, judged by its base name.
func fromEntryPoint(outputPath string, entryPoints []string) bool {
	base := filepath.Base(outputPath)
	for _, entryPoint := range entryPoints {
		entry := filepath.Base(entryPoint)
		if strings.HasPrefix(base, strings.TrimSuffix(entry, filepath.Ext(entry))) {
			return true
		}
	}
	return false
}

// outputURL returns the URL of outputPath as referenced from htmlFile.
func outputURL(outputPath, htmlFile, deployURL string) string {
	url := outputPath
	if rel, err := filepath.Rel(filepath.Dir(htmlFile), outputPath); err == nil {
		url = filepath.ToSlash(rel)
	}
	if deployURL != "" {
		url = strings.TrimSuffix(deployURL, "/") + "/" + strings.TrimPrefix(url, "./")
	}
	return url
}

func appendElement(parent *html.Node, tag string, attrs []html.Attribute) {
	parent.AppendChild(&html.Node{Type: html.ElementNode, Data: tag, Attr: attrs})
	parent.AppendChild(&html.Node{Type: html.TextNode, Data: "\n"})
}

// setBaseHref updates the existing <base> element or inserts one at the top
// of <head>.
func setBaseHref(head *html.Node, href string) {
	if base := htmlquery.FindOne(head, "./base"); base != nil {
		for i := range base.Attr {
			if base.Attr[i].Key == "href" {
				base.Attr[i].Val = href
				return
			}
		}
		base.Attr = append(base.Attr, html.Attribute{Key: "href", Val: href})
		return
	}
	base := &html.Node{Type: html.ElementNode, Data: "base", Attr: []html.Attribute{{Key: "href", Val: href}}}
	head.InsertBefore(base, head.FirstChild)
}

// setupHtmlHandler writes the processed index.html once a build finished.
func setupHtmlHandler(opts *Options, build *api.PluginBuild) {
	build.OnEnd(func(result *api.BuildResult) (api.OnEndResult, error) {
		// Nothing to do without an index.html or when esbuild writes nothing
		if opts.indexHtmlOptions.SourceFile == "" || !build.InitialOptions.Write {
			return api.OnEndResult{}, nil
		}
		if len(result.Errors) > 0 {
			return api.OnEndResult{}, nil
		}
		if result.Metafile == "" {
			return api.OnEndResult{}, fmt.Errorf("metafile is empty")
		}
		if opts.indexHtmlOptions.OutFile == "" {
			return api.OnEndResult{}, fmt.Errorf("index.html output file is not set")
		}

		processors := opts.indexHtmlOptions.IndexHtmlProcessors
		if len(processors) == 0 {
			processors = []IndexHtmlProcessor{NewHtmlProcessor(HtmlProcessorOptions{})}
		}

		sourceFile, err := opts.fs.Open(opts.indexHtmlOptions.SourceFile)
		if err != nil {
			return api.OnEndResult{}, fmt.Errorf("failed to open source file: %w", err)
		}
		defer sourceFile.Close()

		utf8Reader, err := detectAndConvertToUTF8(sourceFile)
		if err != nil {
			return api.OnEndResult{}, fmt.Errorf("failed to convert source file to UTF-8: %w", err)
		}
		doc, err := htmlquery.Parse(utf8Reader)
		if err != nil {
			return api.OnEndResult{}, fmt.Errorf("failed to parse %s: %w", opts.indexHtmlOptions.SourceFile, err)
		}

		for _, processor := range processors {
			if err := processor(doc, result, opts, build); err != nil {
				return api.OnEndResult{}, err
			}
		}

		var buf bytes.Buffer
		if err := html.Render(&buf, doc); err != nil {
			return api.OnEndResult{}, err
		}
		if err := opts.fs.MkdirAll(filepath.Dir(opts.indexHtmlOptions.OutFile), 0o755); err != nil {
			return api.OnEndResult{}, err
		}
		if err := afero.WriteFile(opts.fs, opts.indexHtmlOptions.OutFile, buf.Bytes(), 0o644); err != nil {
			return api.OnEndResult{}, err
		}
		return api.OnEndResult{}, nil
	})
}

func detectAndConvertToUTF8(r io.Reader) (io.Reader, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	encoding, _, _ := charset.DetermineEncoding(b, "")
	return transform.NewReader(bytes.NewReader(b), encoding.NewDecoder()), nil
}
