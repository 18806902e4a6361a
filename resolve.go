// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package ngplugin

import (
	"encoding/base64"
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/buke/esbuild-plugin-ng-go/compiler"
)

const (
	// virtualNamespace holds files that only exist in the compiler host,
	// such as generated factories and file replacements.
	virtualNamespace = "ng-virtual"

	// lazyRoutesNamespace holds the generated lazy route loader.
	lazyRoutesNamespace = "ng-lazy-routes"

	// LazyRouteResource is the import specifier of the lazy route loader.
	// Its default export loads a route module by the path part of its key.
	LazyRouteResource = "$$_lazy_route_resource"
)

var (
	compilerImporter = regexp.MustCompile(`\.ts$|ngfactory\.js$`)
	lazyRouteFilter  = "^" + regexp.QuoteMeta(LazyRouteResource) + "$"
)

// waitForBuild blocks until the build in flight is done.
func (p *CompilerPlugin) waitForBuild() {
	<-p.Done()
}

// setupResolveHandler routes module resolution of compiled sources through
// the compiler host. Requests the compiler has no opinion on fall through
// to esbuild.
func setupResolveHandler(p *CompilerPlugin, build *api.PluginBuild) {
	build.OnResolve(api.OnResolveOptions{Filter: lazyRouteFilter},
		func(args api.OnResolveArgs) (api.OnResolveResult, error) {
			return api.OnResolveResult{Path: LazyRouteResource, Namespace: lazyRoutesNamespace}, nil
		})

	build.OnResolve(api.OnResolveOptions{Filter: `.*`},
		func(args api.OnResolveArgs) (api.OnResolveResult, error) {
			if args.Namespace != "file" && args.Namespace != virtualNamespace && args.Namespace != lazyRoutesNamespace {
				return api.OnResolveResult{}, nil
			}
			importer := filepath.ToSlash(args.Importer)
			if strings.HasSuffix(args.Path, ".ts") || compilerImporter.MatchString(importer) {
				p.waitForBuild()
			}
			if args.Namespace == lazyRoutesNamespace {
				return p.resolveSource(args.Path)
			}
			if !strings.HasSuffix(importer, ".ts") {
				return api.OnResolveResult{}, nil
			}

			if resolved, ok := p.resolver.ResolveModule(args.Path, importer); ok {
				if strings.HasSuffix(resolved, ".d.ts") || !strings.HasSuffix(resolved, ".ts") {
					return api.OnResolveResult{}, nil
				}
				return p.resolveSource(resolved)
			}

			// Aliased assets such as JSON or styles.
			for _, candidate := range p.resolver.Aliases().Candidates(args.Path) {
				candidate = p.host.Resolve(candidate)
				if p.host.FileExists(candidate, true) {
					return p.resolveSource(candidate)
				}
			}
			return api.OnResolveResult{}, nil
		})
}

// resolveSource claims file, serving it from the host when it does not
// exist on disk.
func (p *CompilerPlugin) resolveSource(file string) (api.OnResolveResult, error) {
	file = p.host.Resolve(file)
	_, replaced := p.replacements[file]
	info, err := p.opts.fs.Stat(filepath.FromSlash(file))
	if replaced || err != nil || info.IsDir() {
		if !p.host.FileExists(file, false) {
			return api.OnResolveResult{}, fmt.Errorf("cannot resolve %s", file)
		}
		return api.OnResolveResult{Path: file, Namespace: virtualNamespace}, nil
	}
	return api.OnResolveResult{Path: p.host.DenormalizePath(file)}, nil
}

// setupLoadHandler serves compiled sources, host-only files and the lazy
// route loader.
func setupLoadHandler(p *CompilerPlugin, build *api.PluginBuild) {
	build.OnLoad(api.OnLoadOptions{Filter: `\.tsx?$`},
		func(args api.OnLoadArgs) (api.OnLoadResult, error) {
			if args.Namespace != "file" && args.Namespace != virtualNamespace {
				return api.OnLoadResult{}, nil
			}
			p.waitForBuild()
			return p.loadCompiled(args.Path), nil
		})

	build.OnLoad(api.OnLoadOptions{Filter: `.*`, Namespace: virtualNamespace},
		func(args api.OnLoadArgs) (api.OnLoadResult, error) {
			p.waitForBuild()
			content, err := p.host.ReadFile(args.Path)
			if err != nil {
				return api.OnLoadResult{}, err
			}
			return api.OnLoadResult{
				Contents:   &content,
				ResolveDir: p.host.DenormalizePath(path.Dir(p.host.Resolve(args.Path))),
				Loader:     loaderFor(args.Path),
			}, nil
		})

	build.OnLoad(api.OnLoadOptions{Filter: `.*`, Namespace: lazyRoutesNamespace},
		func(args api.OnLoadArgs) (api.OnLoadResult, error) {
			p.waitForBuild()
			contents := lazyRouteModuleSource(p.LazyRoutes())
			return api.OnLoadResult{
				Contents:   &contents,
				ResolveDir: p.host.DenormalizePath(p.basePath),
				Loader:     api.LoaderJS,
			}, nil
		})
}

func (p *CompilerPlugin) loadCompiled(file string) api.OnLoadResult {
	cf := p.GetCompiledFile(file)
	result := api.OnLoadResult{
		ResolveDir: p.host.DenormalizePath(path.Dir(p.host.Resolve(file))),
		Loader:     api.LoaderJS,
		WatchFiles: append(cf.ErrorDependencies, p.GetDependencies(file)...),
	}
	if cf.Warning != nil {
		result.Warnings = []api.Message{{Text: cf.Warning.Error()}}
	}

	contents := cf.OutputText
	if cf.SourceMap != "" {
		contents += "\n//# sourceMappingURL=data:application/json;base64," +
			base64.StdEncoding.EncodeToString([]byte(cf.SourceMap)) + "\n"
	}
	result.Contents = &contents
	return result
}

func loaderFor(file string) api.Loader {
	switch path.Ext(file) {
	case ".ts":
		return api.LoaderTS
	case ".tsx":
		return api.LoaderTSX
	case ".json":
		return api.LoaderJSON
	case ".css":
		return api.LoaderCSS
	case ".html":
		return api.LoaderText
	default:
		return api.LoaderJS
	}
}

// toMessages converts diagnostics to esbuild messages.
func (p *CompilerPlugin) toMessages(diags compiler.Diagnostics) []api.Message {
	messages := make([]api.Message, 0, len(diags))
	for _, d := range diags {
		msg := api.Message{
			ID:         diagnosticID(d),
			PluginName: p.opts.name,
			Text:       d.Message,
		}
		if d.File != "" {
			loc := &api.Location{
				File:     p.host.DenormalizePath(d.File),
				Line:     d.Line,
				LineText: d.LineText,
			}
			if d.Column > 0 {
				loc.Column = d.Column - 1
			}
			msg.Location = loc
		}
		messages = append(messages, msg)
	}
	return messages
}

func diagnosticID(d compiler.Diagnostic) string {
	if d.Source == compiler.SourceAngular {
		return fmt.Sprintf("NG%d", d.Code)
	}
	return fmt.Sprintf("TS%d", d.Code)
}
