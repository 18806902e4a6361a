// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package ngplugin

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/antchfx/htmlquery"
	"github.com/evanw/esbuild/pkg/api"
	"github.com/spf13/afero"
	"golang.org/x/net/html"
	"golang.org/x/text/encoding/charmap"
)

const testIndexHtml = `<!DOCTYPE html><html><head><title>Test</title></head><body><app-root></app-root></body></html>`

func parseHtml(t *testing.T, content string) *html.Node {
	t.Helper()
	doc, err := htmlquery.Parse(strings.NewReader(content))
	if err != nil {
		t.Fatalf("Failed to parse HTML: %v", err)
	}
	return doc
}

func renderHtml(t *testing.T, doc *html.Node) string {
	t.Helper()
	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		t.Fatalf("Failed to render HTML: %v", err)
	}
	return buf.String()
}

// runProcessor applies processor to content as if main.ts had been built
// into dist next to dist/index.html.
func runProcessor(t *testing.T, processor IndexHtmlProcessor, content string, htmlOptions IndexHtmlOptions, outputs ...string) (string, error) {
	t.Helper()
	if htmlOptions.OutFile == "" {
		htmlOptions.OutFile = "/project/dist/index.html"
	}
	opts := newOptions()
	WithIndexHtmlOptions(htmlOptions)(opts)

	result := &api.BuildResult{}
	for _, output := range outputs {
		result.OutputFiles = append(result.OutputFiles, api.OutputFile{Path: output})
	}
	build := &api.PluginBuild{InitialOptions: &api.BuildOptions{EntryPoints: []string{"/project/src/main.ts"}}}

	doc := parseHtml(t, content)
	if err := processor(doc, result, opts, build); err != nil {
		return "", err
	}
	return renderHtml(t, doc), nil
}

func TestHtmlProcessor(t *testing.T) {
	t.Run("injects_entry_outputs", func(t *testing.T) {
		out, err := runProcessor(t, NewHtmlProcessor(HtmlProcessorOptions{}), testIndexHtml, IndexHtmlOptions{},
			"/project/dist/main.js", "/project/dist/main.css", "/project/dist/chunk-ABC.js")
		if err != nil {
			t.Fatalf("Processor failed: %v", err)
		}
		if !strings.Contains(out, `<script type="module" src="main.js"></script>`) {
			t.Errorf("Expected the entry script, got:\n%s", out)
		}
		if !strings.Contains(out, `<link rel="stylesheet" href="main.css"/>`) {
			t.Errorf("Expected the entry stylesheet, got:\n%s", out)
		}
		if strings.Contains(out, "chunk-ABC") {
			t.Errorf("Expected chunks to be left to the loader, got:\n%s", out)
		}
	})

	t.Run("custom_attribute_builders", func(t *testing.T) {
		processor := NewHtmlProcessor(HtmlProcessorOptions{
			ScriptAttrBuilder: func(url string) []html.Attribute {
				return []html.Attribute{{Key: "defer", Val: ""}, {Key: "src", Val: url}}
			},
			CssAttrBuilder: func(url string) []html.Attribute {
				return []html.Attribute{{Key: "rel", Val: "preload"}, {Key: "href", Val: url}}
			},
		})
		out, err := runProcessor(t, processor, testIndexHtml, IndexHtmlOptions{}, "/project/dist/main.js", "/project/dist/main.css")
		if err != nil {
			t.Fatalf("Processor failed: %v", err)
		}
		if !strings.Contains(out, `<script defer="" src="main.js"></script>`) {
			t.Errorf("Expected the custom script tag, got:\n%s", out)
		}
		if !strings.Contains(out, `<link rel="preload" href="main.css"/>`) {
			t.Errorf("Expected the custom link tag, got:\n%s", out)
		}
	})

	t.Run("deploy_url", func(t *testing.T) {
		out, err := runProcessor(t, NewHtmlProcessor(HtmlProcessorOptions{}), testIndexHtml,
			IndexHtmlOptions{DeployURL: "https://cdn.example.com/app/"}, "/project/dist/main.js")
		if err != nil {
			t.Fatalf("Processor failed: %v", err)
		}
		if !strings.Contains(out, `src="https://cdn.example.com/app/main.js"`) {
			t.Errorf("Expected the deploy URL prefix, got:\n%s", out)
		}
	})

	t.Run("base_href_inserted", func(t *testing.T) {
		out, err := runProcessor(t, NewHtmlProcessor(HtmlProcessorOptions{}), testIndexHtml, IndexHtmlOptions{BaseHref: "/app/"})
		if err != nil {
			t.Fatalf("Processor failed: %v", err)
		}
		if !strings.Contains(out, `<head><base href="/app/"/><title>`) {
			t.Errorf("Expected <base> at the top of <head>, got:\n%s", out)
		}
	})

	t.Run("base_href_replaced", func(t *testing.T) {
		content := `<html><head><base href="/"><title>Test</title></head><body></body></html>`
		out, err := runProcessor(t, NewHtmlProcessor(HtmlProcessorOptions{}), content, IndexHtmlOptions{BaseHref: "/admin/"})
		if err != nil {
			t.Fatalf("Processor failed: %v", err)
		}
		if strings.Count(out, "<base") != 1 || !strings.Contains(out, `<base href="/admin/"/>`) {
			t.Errorf("Expected the existing <base> to be updated, got:\n%s", out)
		}
	})

	t.Run("remove_tag_xpaths", func(t *testing.T) {
		content := `<html><head><script src="dev-only.js"></script><title>Test</title></head><body><div class="remove-me">x</div></body></html>`
		out, err := runProcessor(t, NewHtmlProcessor(HtmlProcessorOptions{}), content,
			IndexHtmlOptions{RemoveTagXPaths: []string{`//script[@src="dev-only.js"]`, `//div[@class="remove-me"]`}})
		if err != nil {
			t.Fatalf("Processor failed: %v", err)
		}
		if strings.Contains(out, "dev-only.js") || strings.Contains(out, "remove-me") {
			t.Errorf("Expected matched nodes to be removed, got:\n%s", out)
		}
	})

	t.Run("missing_head", func(t *testing.T) {
		opts := newOptions()
		WithIndexHtmlOptions(IndexHtmlOptions{SourceFile: "index.html"})(opts)
		doc := &html.Node{Type: html.DocumentNode}
		err := NewHtmlProcessor(HtmlProcessorOptions{})(doc, &api.BuildResult{}, opts, &api.PluginBuild{InitialOptions: &api.BuildOptions{}})
		if err == nil || !strings.Contains(err.Error(), "has no <head> element") {
			t.Errorf("Expected a missing head error, got %v", err)
		}
	})
}

func TestOutputURL(t *testing.T) {
	tests := []struct {
		output, htmlFile, deployURL, want string
	}{
		{"/dist/main.js", "/dist/index.html", "", "main.js"},
		{"/dist/js/main.js", "/dist/index.html", "", "js/main.js"},
		{"/dist/main.js", "/dist/index.html", "/static", "/static/main.js"},
		{"/dist/main.js", "/dist/index.html", "/static/", "/static/main.js"},
	}
	for _, tt := range tests {
		if got := outputURL(filepath.FromSlash(tt.output), filepath.FromSlash(tt.htmlFile), tt.deployURL); got != tt.want {
			t.Errorf("outputURL(%s, %s, %q) = %s, want %s", tt.output, tt.htmlFile, tt.deployURL, got, tt.want)
		}
	}
}

// runHtmlHandler runs the index.html end callback against an in-memory
// filesystem.
func runHtmlHandler(t *testing.T, fsys afero.Fs, htmlOptions IndexHtmlOptions, initial *api.BuildOptions, result *api.BuildResult) error {
	t.Helper()
	opts := newOptions()
	WithFs(fsys)(opts)
	WithIndexHtmlOptions(htmlOptions)(opts)

	var onEnd func(*api.BuildResult) (api.OnEndResult, error)
	build := &api.PluginBuild{
		InitialOptions: initial,
		OnEnd: func(callback func(*api.BuildResult) (api.OnEndResult, error)) {
			onEnd = callback
		},
	}
	setupHtmlHandler(opts, build)
	_, err := onEnd(result)
	return err
}

func TestHtmlHandler(t *testing.T) {
	written := func() (*api.BuildOptions, *api.BuildResult) {
		return &api.BuildOptions{EntryPoints: []string{"/project/src/main.ts"}, Write: true},
			&api.BuildResult{Metafile: "{}", OutputFiles: []api.OutputFile{{Path: "/project/dist/main.js"}}}
	}

	t.Run("writes_processed_html", func(t *testing.T) {
		fsys := newMemProject(t, map[string]string{"src/index.html": testIndexHtml})
		initial, result := written()
		err := runHtmlHandler(t, fsys, IndexHtmlOptions{
			SourceFile: "/project/src/index.html",
			OutFile:    "/project/dist/index.html",
			BaseHref:   "/",
		}, initial, result)
		if err != nil {
			t.Fatalf("Handler failed: %v", err)
		}
		out, err := afero.ReadFile(fsys, "/project/dist/index.html")
		if err != nil {
			t.Fatalf("Expected index.html to be written: %v", err)
		}
		if !strings.Contains(string(out), `<script type="module" src="main.js"></script>`) {
			t.Errorf("Expected the entry script, got:\n%s", out)
		}
		if !strings.Contains(string(out), `<base href="/"/>`) {
			t.Errorf("Expected <base>, got:\n%s", out)
		}
	})

	t.Run("custom_processors_replace_the_default", func(t *testing.T) {
		fsys := newMemProject(t, map[string]string{"src/index.html": testIndexHtml})
		initial, result := written()
		var called int
		err := runHtmlHandler(t, fsys, IndexHtmlOptions{
			SourceFile: "/project/src/index.html",
			OutFile:    "/project/dist/index.html",
			IndexHtmlProcessors: []IndexHtmlProcessor{
				func(doc *html.Node, result *api.BuildResult, opts *Options, build *api.PluginBuild) error {
					called++
					title := htmlquery.FindOne(doc, "//title")
					title.FirstChild.Data = "Custom"
					return nil
				},
			},
		}, initial, result)
		if err != nil {
			t.Fatalf("Handler failed: %v", err)
		}
		out, _ := afero.ReadFile(fsys, "/project/dist/index.html")
		if called != 1 || !strings.Contains(string(out), "<title>Custom</title>") || strings.Contains(string(out), "<script") {
			t.Errorf("Expected only the custom processor to run, got:\n%s", out)
		}
	})

	t.Run("processor_error", func(t *testing.T) {
		fsys := newMemProject(t, map[string]string{"src/index.html": testIndexHtml})
		initial, result := written()
		err := runHtmlHandler(t, fsys, IndexHtmlOptions{
			SourceFile: "/project/src/index.html",
			OutFile:    "/project/dist/index.html",
			IndexHtmlProcessors: []IndexHtmlProcessor{
				func(*html.Node, *api.BuildResult, *Options, *api.PluginBuild) error {
					return fmt.Errorf("processor failed")
				},
			},
		}, initial, result)
		if err == nil || err.Error() != "processor failed" {
			t.Errorf("Expected the processor error, got %v", err)
		}
	})

	t.Run("converts_legacy_charsets", func(t *testing.T) {
		legacy, err := charmap.ISO8859_1.NewEncoder().String(`<html><head><meta charset="iso-8859-1"><title>Café</title></head><body></body></html>`)
		if err != nil {
			t.Fatalf("Failed to encode HTML: %v", err)
		}
		fsys := newMemProject(t, map[string]string{"src/index.html": legacy})
		initial, result := written()
		if err := runHtmlHandler(t, fsys, IndexHtmlOptions{
			SourceFile: "/project/src/index.html",
			OutFile:    "/project/dist/index.html",
		}, initial, result); err != nil {
			t.Fatalf("Handler failed: %v", err)
		}
		out, _ := afero.ReadFile(fsys, "/project/dist/index.html")
		if !strings.Contains(string(out), "<title>Café</title>") {
			t.Errorf("Expected UTF-8 output, got:\n%s", out)
		}
	})

	t.Run("skipped_without_source_or_write", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		initial, result := written()
		if err := runHtmlHandler(t, fsys, IndexHtmlOptions{}, initial, result); err != nil {
			t.Errorf("Expected no error without a source file, got %v", err)
		}
		initial.Write = false
		if err := runHtmlHandler(t, fsys, IndexHtmlOptions{SourceFile: "/project/src/index.html", OutFile: "/project/dist/index.html"}, initial, result); err != nil {
			t.Errorf("Expected no error when esbuild does not write, got %v", err)
		}
		if exists, _ := afero.Exists(fsys, "/project/dist/index.html"); exists {
			t.Error("Expected no index.html to be written")
		}
	})

	t.Run("skipped_after_build_errors", func(t *testing.T) {
		fsys := newMemProject(t, map[string]string{"src/index.html": testIndexHtml})
		initial, result := written()
		result.Errors = []api.Message{{Text: "boom"}}
		if err := runHtmlHandler(t, fsys, IndexHtmlOptions{SourceFile: "/project/src/index.html", OutFile: "/project/dist/index.html"}, initial, result); err != nil {
			t.Errorf("Expected no error, got %v", err)
		}
		if exists, _ := afero.Exists(fsys, "/project/dist/index.html"); exists {
			t.Error("Expected no index.html after a failed build")
		}
	})

	t.Run("configuration_errors", func(t *testing.T) {
		fsys := newMemProject(t, map[string]string{"src/index.html": testIndexHtml})
		initial, result := written()
		result.Metafile = ""
		err := runHtmlHandler(t, fsys, IndexHtmlOptions{SourceFile: "/project/src/index.html", OutFile: "/project/dist/index.html"}, initial, result)
		if err == nil || !strings.Contains(err.Error(), "metafile is empty") {
			t.Errorf("Expected a metafile error, got %v", err)
		}

		initial, result = written()
		err = runHtmlHandler(t, fsys, IndexHtmlOptions{SourceFile: "/project/src/index.html"}, initial, result)
		if err == nil || !strings.Contains(err.Error(), "output file is not set") {
			t.Errorf("Expected an output file error, got %v", err)
		}

		initial, result = written()
		err = runHtmlHandler(t, fsys, IndexHtmlOptions{SourceFile: "/project/src/missing.html", OutFile: "/project/dist/index.html"}, initial, result)
		if err == nil || !strings.Contains(err.Error(), "failed to open source file") {
			t.Errorf("Expected an open error, got %v", err)
		}
	})
}

// TestHtmlWithEsbuild builds a project and checks the written index.html.
func TestHtmlWithEsbuild(t *testing.T) {
	files := jitProject()
	files["src/index.html"] = testIndexHtml
	dir := writeProject(t, files)
	outDir := filepath.Join(dir, "dist")

	plugin := NewPlugin(
		WithTsConfigPath(filepath.Join(dir, "tsconfig.json")),
		WithSkipCodeGeneration(true),
		WithForkTypeChecker(false),
		WithLogger(discardLogger()),
		WithIndexHtmlOptions(IndexHtmlOptions{
			SourceFile: filepath.Join(dir, "src", "index.html"),
			OutFile:    filepath.Join(outDir, "index.html"),
			BaseHref:   "/",
		}),
	)

	result := api.Build(api.BuildOptions{
		EntryPoints:   []string{filepath.Join(dir, "src", "main.ts")},
		Bundle:        true,
		Write:         true,
		Outdir:        outDir,
		LogLevel:      api.LogLevelSilent,
		Plugins:       []api.Plugin{plugin},
		AbsWorkingDir: dir,
	})
	if len(result.Errors) > 0 {
		t.Fatalf("Build failed: %v", result.Errors)
	}

	out, err := os.ReadFile(filepath.Join(outDir, "index.html"))
	if err != nil {
		t.Fatalf("Expected index.html to be written: %v", err)
	}
	if !strings.Contains(string(out), `src="main.js"`) {
		t.Errorf("Expected the bundle to be referenced, got:\n%s", out)
	}
}
