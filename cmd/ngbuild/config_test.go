// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	ngplugin "github.com/buke/esbuild-plugin-ng-go"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), ".ngbuild.yml")
	require.NoError(t, os.WriteFile(file, []byte(content), 0o644))
	return file
}

func TestLoadConfigDefaults(t *testing.T) {
	v := viper.New()
	configureViper(v, "")
	v.Set("main", "src/main.ts")

	cfg, err := loadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, "tsconfig.json", cfg.TsConfig)
	assert.True(t, cfg.JIT)
	assert.True(t, cfg.ForkTypeChecker)
	assert.Equal(t, "dist", cfg.OutDir)
	assert.Equal(t, "index.html", cfg.Index.Out)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfigFile(t *testing.T) {
	file := writeConfig(t, `
tsconfig: src/tsconfig.app.json
main: src/main.ts
jit: false
platform: server
out_dir: build
locale: fr
i18n:
  in_file: src/locale/messages.fr.xlf
  in_format: xlf
  missing_translation: error
file_replacements:
  - replace: src/environments/environment.ts
    with: src/environments/environment.prod.ts
index:
  source: src/index.html
  base_href: /app/
assets:
  src/favicon.ico: favicon.ico
`)
	v := viper.New()
	require.NoError(t, readConfig(v, file))

	cfg, err := loadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, "src/tsconfig.app.json", cfg.TsConfig)
	assert.False(t, cfg.JIT)
	assert.Equal(t, "build", cfg.OutDir)
	assert.Equal(t, "src/locale/messages.fr.xlf", cfg.I18n.InFile)
	assert.Equal(t, "error", cfg.I18n.MissingTranslation)
	require.Len(t, cfg.FileReplacements, 1)
	assert.Equal(t, "src/environments/environment.prod.ts", cfg.FileReplacements[0].With)
	assert.Equal(t, "/app/", cfg.Index.BaseHref)
	assert.Equal(t, "favicon.ico", cfg.Assets["src/favicon.ico"])

	platform, err := cfg.platform()
	require.NoError(t, err)
	assert.Equal(t, ngplugin.PlatformServer, platform)
}

func TestLoadConfigEnvironment(t *testing.T) {
	t.Setenv("NGBUILD_OUT_DIR", "out")
	t.Setenv("NGBUILD_INDEX_BASE_HREF", "/env/")
	t.Setenv("NGBUILD_JIT", "false")

	file := writeConfig(t, "main: src/main.ts\nout_dir: build\n")
	v := viper.New()
	require.NoError(t, readConfig(v, file))

	cfg, err := loadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, "out", cfg.OutDir, "the environment overrides the file")
	assert.Equal(t, "/env/", cfg.Index.BaseHref)
	assert.False(t, cfg.JIT)
}

func TestReadConfigMissingFile(t *testing.T) {
	err := readConfig(viper.New(), filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name  string
		set   map[string]any
		error string
	}{
		{"no_entry", map[string]any{}, "either main or entry_module is required"},
		{"bad_platform", map[string]any{"main": "src/main.ts", "platform": "desktop"}, "unknown platform"},
		{"bad_log_level", map[string]any{"main": "src/main.ts", "log_level": "loud"}, "invalid log_level"},
		{"empty_tsconfig", map[string]any{"main": "src/main.ts", "tsconfig": ""}, "tsconfig is required"},
		{"half_replacement", map[string]any{
			"main":              "src/main.ts",
			"file_replacements": []map[string]any{{"replace": "a.ts"}},
		}, "file_replacements[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			configureViper(v, "")
			for key, value := range tt.set {
				v.Set(key, value)
			}
			_, err := loadConfig(v)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.error)
		})
	}
}

func TestBuildOptions(t *testing.T) {
	plugin := api.Plugin{Name: "test"}

	cfg := &Config{Main: "src/main.ts", OutDir: "dist", Minify: true, SourceMap: true, Platform: "browser"}
	opts := cfg.buildOptions(plugin)
	assert.Equal(t, []string{"src/main.ts"}, opts.EntryPoints)
	assert.True(t, opts.Bundle)
	assert.True(t, opts.Metafile)
	assert.True(t, opts.Splitting)
	assert.True(t, opts.MinifyWhitespace)
	assert.Equal(t, api.SourceMapLinked, opts.Sourcemap)
	assert.Equal(t, api.PlatformBrowser, opts.Platform)
	require.Len(t, opts.Plugins, 1)

	cfg = &Config{EntryModule: "src/app/app.server.module#AppServerModule", OutDir: "dist", Platform: "server"}
	opts = cfg.buildOptions(plugin)
	assert.Equal(t, []string{"src/app/app.server.module.ts"}, opts.EntryPoints)
	assert.Equal(t, api.PlatformNode, opts.Platform)
	assert.False(t, opts.Splitting)
	assert.Equal(t, api.SourceMapNone, opts.Sourcemap)
}

func TestPluginOptions(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("style_compiler_script_is_read", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fsys, "style.js", []byte("globalThis.compile = () => ({css: ''})"), 0o644))
		cfg := &Config{TsConfig: "tsconfig.json", Main: "src/main.ts", StyleCompilerScript: "style.js"}
		opts, err := cfg.pluginOptions(fsys, logger, nil)
		require.NoError(t, err)
		assert.NotEmpty(t, opts)
	})

	t.Run("missing_style_compiler_script", func(t *testing.T) {
		cfg := &Config{TsConfig: "tsconfig.json", Main: "src/main.ts", StyleCompilerScript: "missing.js"}
		_, err := cfg.pluginOptions(afero.NewMemMapFs(), logger, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read style compiler script")
	})

	t.Run("optional_settings_add_options", func(t *testing.T) {
		base := &Config{TsConfig: "tsconfig.json", Main: "src/main.ts"}
		baseOpts, err := base.pluginOptions(afero.NewMemMapFs(), logger, nil)
		require.NoError(t, err)

		full := *base
		full.Locale = "fr"
		full.I18n = I18nConfig{InFile: "messages.fr.xlf", OutFile: "messages.xlf", MissingTranslation: "warning"}
		full.FileReplacements = []FileReplacement{{Replace: "a.ts", With: "b.ts"}}
		full.Index = IndexConfig{Source: "src/index.html", Out: "index.html"}
		full.Assets = map[string]string{"src/favicon.ico": "favicon.ico"}
		fullOpts, err := full.pluginOptions(afero.NewMemMapFs(), logger, nil)
		require.NoError(t, err)
		assert.Len(t, fullOpts, len(baseOpts)+7)
	})
}

func TestReport(t *testing.T) {
	var buf bytes.Buffer
	report(&buf, api.BuildResult{
		Errors:   []api.Message{{Text: "Cannot find module './missing'", Location: &api.Location{File: "src/main.ts", Line: 1, LineText: "import './missing';"}}},
		Warnings: []api.Message{{Text: "unused import"}},
	})
	out := buf.String()
	assert.Contains(t, out, "Cannot find module './missing'")
	assert.Contains(t, out, "unused import")
	assert.Contains(t, out, "src/main.ts:1")

	buf.Reset()
	report(&buf, api.BuildResult{})
	assert.Empty(t, buf.String())
}

func TestConfigYAML(t *testing.T) {
	cfg := Config{TsConfig: "tsconfig.json", Main: "src/main.ts", JIT: true, Index: IndexConfig{Out: "index.html"}}
	out, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(out), "tsconfig: tsconfig.json")
	assert.Contains(t, string(out), "out: index.html")
}

func TestBindFlags(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	for _, name := range flagKeys {
		flags.String(name, "", "")
	}
	v := viper.New()
	configureViper(v, "")
	require.NoError(t, bindFlags(v, flags))
	require.NoError(t, flags.Parse([]string{"--out-dir", "flag-out", "--main", "src/main.ts"}))

	cfg, err := loadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, "flag-out", cfg.OutDir)
	assert.Equal(t, "src/main.ts", cfg.Main)

	assert.Error(t, bindFlags(viper.New(), pflag.NewFlagSet("empty", pflag.ContinueOnError)))
}
