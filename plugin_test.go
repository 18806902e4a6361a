// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package ngplugin

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/evanw/esbuild/pkg/api"
)

// capturedBuild records the callbacks a plugin registers.
type capturedBuild struct {
	build     api.PluginBuild
	onStart   []func() (api.OnStartResult, error)
	onEnd     []func(*api.BuildResult) (api.OnEndResult, error)
	onDispose []func()
	resolvers []capturedResolver
	loaders   []capturedLoader
}

type capturedResolver struct {
	options  api.OnResolveOptions
	callback func(api.OnResolveArgs) (api.OnResolveResult, error)
}

type capturedLoader struct {
	options  api.OnLoadOptions
	callback func(api.OnLoadArgs) (api.OnLoadResult, error)
}

func setupCaptured(plugin api.Plugin, initial *api.BuildOptions) *capturedBuild {
	cb := &capturedBuild{}
	cb.build = api.PluginBuild{
		InitialOptions: initial,
		OnStart: func(callback func() (api.OnStartResult, error)) {
			cb.onStart = append(cb.onStart, callback)
		},
		OnEnd: func(callback func(*api.BuildResult) (api.OnEndResult, error)) {
			cb.onEnd = append(cb.onEnd, callback)
		},
		OnDispose: func(callback func()) {
			cb.onDispose = append(cb.onDispose, callback)
		},
		OnResolve: func(options api.OnResolveOptions, callback func(api.OnResolveArgs) (api.OnResolveResult, error)) {
			cb.resolvers = append(cb.resolvers, capturedResolver{options, callback})
		},
		OnLoad: func(options api.OnLoadOptions, callback func(api.OnLoadArgs) (api.OnLoadResult, error)) {
			cb.loaders = append(cb.loaders, capturedLoader{options, callback})
		},
	}
	plugin.Setup(cb.build)
	return cb
}

func (cb *capturedBuild) start(t *testing.T) {
	t.Helper()
	for _, fn := range cb.onStart {
		result, err := fn()
		if err != nil {
			t.Fatalf("OnStart failed: %v", err)
		}
		if len(result.Errors) > 0 {
			t.Fatalf("OnStart reported errors: %v", result.Errors)
		}
	}
}

func (cb *capturedBuild) end(t *testing.T) api.OnEndResult {
	t.Helper()
	var merged api.OnEndResult
	for _, fn := range cb.onEnd {
		result, err := fn(&api.BuildResult{})
		if err != nil {
			t.Fatalf("OnEnd failed: %v", err)
		}
		merged.Errors = append(merged.Errors, result.Errors...)
		merged.Warnings = append(merged.Warnings, result.Warnings...)
	}
	return merged
}

// resolve runs the resolve callbacks the way esbuild does: the first
// callback returning a path wins.
func (cb *capturedBuild) resolve(t *testing.T, args api.OnResolveArgs) api.OnResolveResult {
	t.Helper()
	if args.Namespace == "" {
		args.Namespace = "file"
	}
	for _, r := range cb.resolvers {
		if r.options.Namespace != "" && r.options.Namespace != args.Namespace {
			continue
		}
		if !matches(t, r.options.Filter, args.Path) {
			continue
		}
		result, err := r.callback(args)
		if err != nil {
			t.Fatalf("OnResolve failed for %s: %v", args.Path, err)
		}
		if result.Path != "" {
			return result
		}
	}
	return api.OnResolveResult{}
}

func (cb *capturedBuild) load(t *testing.T, args api.OnLoadArgs) api.OnLoadResult {
	t.Helper()
	if args.Namespace == "" {
		args.Namespace = "file"
	}
	for _, l := range cb.loaders {
		if l.options.Namespace != "" && l.options.Namespace != args.Namespace {
			continue
		}
		if !matches(t, l.options.Filter, args.Path) {
			continue
		}
		result, err := l.callback(args)
		if err != nil {
			t.Fatalf("OnLoad failed for %s: %v", args.Path, err)
		}
		if result.Contents != nil {
			return result
		}
	}
	return api.OnLoadResult{}
}

// matches reports whether an esbuild callback filter accepts path.
func matches(t *testing.T, filter, path string) bool {
	t.Helper()
	re, err := regexp.Compile(filter)
	if err != nil {
		t.Fatalf("Invalid filter %q: %v", filter, err)
	}
	return re.MatchString(path)
}

func (cb *capturedBuild) dispose() {
	for _, fn := range cb.onDispose {
		fn()
	}
}

func TestNewPlugin(t *testing.T) {
	t.Run("panic_without_tsconfig", func(t *testing.T) {
		defer func() {
			r := recover()
			if r == nil {
				t.Fatal("Expected panic without a tsconfig path, but no panic occurred")
			}
			err, ok := r.(error)
			if !ok || !errors.Is(err, ErrMissingTsConfigPath) {
				t.Errorf("Expected ErrMissingTsConfigPath, got %v", r)
			}
		}()
		NewPlugin()
	})

	t.Run("ahead_of_time_requires_code_generation", func(t *testing.T) {
		fsys := newMemProject(t, jitProject())
		_, err := New(WithFs(fsys), WithTsConfigPath("/project/tsconfig.json"), WithLogger(discardLogger()))
		if !errors.Is(err, ErrCodeGenerationUnsupported) {
			t.Errorf("Expected ErrCodeGenerationUnsupported, got %v", err)
		}
	})

	t.Run("tsconfig_without_inputs", func(t *testing.T) {
		fsys := newMemProject(t, map[string]string{"tsconfig.json": `{"include": ["src/**/*.ts"]}`})
		_, err := New(WithFs(fsys), WithTsConfigPath("/project/tsconfig.json"), WithSkipCodeGeneration(true))
		if err == nil || !strings.Contains(err.Error(), "No inputs were found") {
			t.Errorf("Expected a missing inputs error, got %v", err)
		}
	})

	t.Run("with_custom_name", func(t *testing.T) {
		p := newTestPlugin(t, newMemProject(t, jitProject()), WithName("custom-ng-plugin"))
		plugin := p.Plugin()
		if plugin.Name != "custom-ng-plugin" {
			t.Errorf("Expected plugin name to be 'custom-ng-plugin', got '%s'", plugin.Name)
		}
		if plugin.Setup == nil {
			t.Error("Expected plugin.Setup to be non-nil")
		}
	})
}

func TestPluginSetupHandlers(t *testing.T) {
	t.Run("build_lifecycle", func(t *testing.T) {
		p := newTestPlugin(t, newMemProject(t, jitProject()))
		initial := &api.BuildOptions{}
		cb := setupCaptured(p.Plugin(), initial)

		if initial.Define["ngJitMode"] != "true" {
			t.Errorf("Expected ngJitMode to be defined, got %v", initial.Define)
		}
		if !initial.Metafile {
			t.Error("Expected the metafile to be enabled")
		}
		if len(cb.onStart) == 0 || len(cb.onEnd) == 0 || len(cb.onDispose) == 0 {
			t.Fatal("Expected start, end and dispose callbacks to be registered")
		}

		cb.start(t)
		<-p.Done()

		main := cb.resolve(t, api.OnResolveArgs{Path: "./app/app.component", Importer: "/project/src/main.ts", Kind: api.ResolveJSImportStatement})
		if main.Path != filepath.FromSlash("/project/src/app/app.component.ts") {
			t.Errorf("Expected the component source, got %+v", main)
		}

		loaded := cb.load(t, api.OnLoadArgs{Path: main.Path, Namespace: main.Namespace})
		if loaded.Contents == nil || !strings.Contains(*loaded.Contents, "hello template") {
			t.Fatalf("Expected the compiled component, got %+v", loaded)
		}
		if loaded.Loader != api.LoaderJS {
			t.Errorf("Expected the JS loader, got %v", loaded.Loader)
		}
		found := false
		for _, f := range loaded.WatchFiles {
			if strings.HasSuffix(filepath.ToSlash(f), "app.component.html") {
				found = true
			}
		}
		if !found {
			t.Errorf("Expected the template among the watch files, got %v", loaded.WatchFiles)
		}

		result := cb.end(t)
		if len(result.Errors) > 0 {
			t.Errorf("Expected no errors, got %v", result.Errors)
		}
		cb.dispose()
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if !closed {
			t.Error("Expected dispose to close the plugin")
		}
	})

	t.Run("build_errors_reach_esbuild", func(t *testing.T) {
		files := jitProject()
		files["src/main.ts"] = "import { missing } from './missing';\nconsole.log(missing);\n"
		p := newTestPlugin(t, newMemProject(t, files))
		cb := setupCaptured(p.Plugin(), &api.BuildOptions{})

		cb.start(t)
		result := cb.end(t)
		if len(result.Errors) == 0 {
			t.Fatal("Expected build errors")
		}
		msg := result.Errors[0]
		if !strings.Contains(msg.Text, "Cannot find module './missing'") {
			t.Errorf("Expected a missing module error, got %q", msg.Text)
		}
		if msg.Location == nil || msg.Location.Line != 1 {
			t.Errorf("Expected the error on line 1, got %+v", msg.Location)
		}
		if msg.ID != "TS2307" {
			t.Errorf("Expected id TS2307, got %q", msg.ID)
		}
	})

	t.Run("host_only_files_use_the_virtual_namespace", func(t *testing.T) {
		p := newTestPlugin(t, newMemProject(t, jitProject()))
		cb := setupCaptured(p.Plugin(), &api.BuildOptions{})
		cb.start(t)
		defer cb.end(t)

		p.Host().WriteFile("/project/src/app/generated.ts", "export const generated = true;\n")
		result := cb.resolve(t, api.OnResolveArgs{Path: "./generated", Importer: "/project/src/app/app.component.ts"})
		if result.Namespace != virtualNamespace || result.Path != "/project/src/app/generated.ts" {
			t.Errorf("Expected the generated file in %s, got %+v", virtualNamespace, result)
		}
	})

	t.Run("bare_imports_fall_through", func(t *testing.T) {
		p := newTestPlugin(t, newMemProject(t, jitProject()))
		cb := setupCaptured(p.Plugin(), &api.BuildOptions{})
		cb.start(t)
		defer cb.end(t)

		result := cb.resolve(t, api.OnResolveArgs{Path: "@angular/core", Importer: "/project/src/main.ts"})
		if result.Path != "" {
			t.Errorf("Expected esbuild to resolve packages, got %+v", result)
		}
	})

	t.Run("lazy_route_resource", func(t *testing.T) {
		p := newTestPlugin(t, newMemProject(t, jitProject()))
		cb := setupCaptured(p.Plugin(), &api.BuildOptions{})
		cb.start(t)
		defer cb.end(t)
		<-p.Done()

		p.mu.Lock()
		p.lazyRoutes.Set("./lazy/lazy.module#LazyModule", "/project/src/app/lazy/lazy.module.ts")
		p.mu.Unlock()

		result := cb.resolve(t, api.OnResolveArgs{Path: LazyRouteResource, Importer: "/project/src/main.ts"})
		if result.Namespace != lazyRoutesNamespace {
			t.Fatalf("Expected the lazy routes namespace, got %+v", result)
		}
		loaded := cb.load(t, api.OnLoadArgs{Path: result.Path, Namespace: result.Namespace})
		if loaded.Contents == nil || !strings.Contains(*loaded.Contents, `"./lazy/lazy.module": () => import("/project/src/app/lazy/lazy.module.ts")`) {
			t.Errorf("Expected the route loader, got %+v", loaded.Contents)
		}
	})
}

// Test processor error handling
func TestProcessorErrors(t *testing.T) {
	t.Run("start_processor_error", func(t *testing.T) {
		p := newTestPlugin(t, newMemProject(t, jitProject()), WithOnStartProcessor(func(*api.BuildOptions) error {
			return fmt.Errorf("start processor failed: custom error")
		}))
		cb := setupCaptured(p.Plugin(), &api.BuildOptions{})
		if _, err := cb.onStart[0](); err == nil || !strings.Contains(err.Error(), "custom error") {
			t.Errorf("Expected start processor error, got %v", err)
		}
	})

	t.Run("end_processor_error", func(t *testing.T) {
		p := newTestPlugin(t, newMemProject(t, jitProject()), WithOnEndProcessor(func(*api.BuildResult, *api.BuildOptions) error {
			return fmt.Errorf("end processor failed: custom error")
		}))
		cb := setupCaptured(p.Plugin(), &api.BuildOptions{})
		cb.start(t)
		if _, err := cb.onEnd[0](&api.BuildResult{}); err == nil || !strings.Contains(err.Error(), "custom error") {
			t.Errorf("Expected end processor error, got %v", err)
		}
	})
}

// Test multiple processors
func TestMultipleProcessors(t *testing.T) {
	var callOrder []string
	p := newTestPlugin(t, newMemProject(t, jitProject()),
		WithOnStartProcessor(func(*api.BuildOptions) error {
			callOrder = append(callOrder, "start1")
			return nil
		}),
		WithOnStartProcessor(func(*api.BuildOptions) error {
			callOrder = append(callOrder, "start2")
			return nil
		}),
		WithOnEndProcessor(func(*api.BuildResult, *api.BuildOptions) error {
			callOrder = append(callOrder, "end1")
			return nil
		}),
		WithOnEndProcessor(func(*api.BuildResult, *api.BuildOptions) error {
			callOrder = append(callOrder, "end2")
			return nil
		}),
		WithOnDisposeProcessor(func(*api.BuildOptions) {
			callOrder = append(callOrder, "dispose")
		}),
	)
	cb := setupCaptured(p.Plugin(), &api.BuildOptions{})
	cb.start(t)
	cb.end(t)
	cb.dispose()

	expectedOrder := []string{"start1", "start2", "end1", "end2", "dispose"}
	if strings.Join(callOrder, ",") != strings.Join(expectedOrder, ",") {
		t.Errorf("Expected processor call order %v, got %v", expectedOrder, callOrder)
	}
}

// Integration test with a real esbuild context
func TestEsbuildIntegration(t *testing.T) {
	dir := writeProject(t, jitProject())
	p, err := New(
		WithTsConfigPath(filepath.Join(dir, "tsconfig.json")),
		WithSkipCodeGeneration(true),
		WithForkTypeChecker(false),
		WithLogger(discardLogger()),
	)
	if err != nil {
		t.Fatalf("Failed to create plugin: %v", err)
	}

	ctx, ctxErr := api.Context(api.BuildOptions{
		EntryPoints:   []string{filepath.Join(dir, "src", "main.ts")},
		Bundle:        true,
		Write:         false,
		LogLevel:      api.LogLevelSilent,
		Plugins:       []api.Plugin{p.Plugin()},
		Outdir:        filepath.Join(dir, "dist"),
		AbsWorkingDir: dir,
	})
	if ctxErr != nil {
		t.Fatalf("Failed to create build context: %v", ctxErr)
	}
	defer ctx.Dispose()

	result := ctx.Rebuild()
	if len(result.Errors) > 0 {
		t.Fatalf("Expected successful build, got errors: %v", result.Errors)
	}
	if len(result.OutputFiles) == 0 {
		t.Fatal("Expected output files, got none")
	}
	output := string(result.OutputFiles[0].Contents)
	if !strings.Contains(output, "hello template") || !strings.Contains(output, "app-title") {
		t.Errorf("Expected the compiled application, got:\n%s", output)
	}

	htmlFile := filepath.Join(dir, "src", "app", "app.component.html")
	if err := os.WriteFile(htmlFile, []byte("<h1>rebuilt template</h1>"), 0o644); err != nil {
		t.Fatalf("Failed to update template: %v", err)
	}
	p.Invalidate(htmlFile)

	result = ctx.Rebuild()
	if len(result.Errors) > 0 {
		t.Fatalf("Expected successful rebuild, got errors: %v", result.Errors)
	}
	output = string(result.OutputFiles[0].Contents)
	if !strings.Contains(output, "rebuilt template") {
		t.Errorf("Expected the rebuilt template, got:\n%s", output)
	}
}
