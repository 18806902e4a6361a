// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	ngplugin "github.com/buke/esbuild-plugin-ng-go"
)

// Config is the configuration of a build.
type Config struct {
	TsConfig            string            `mapstructure:"tsconfig" yaml:"tsconfig"`
	Main                string            `mapstructure:"main" yaml:"main"`
	EntryModule         string            `mapstructure:"entry_module" yaml:"entry_module"`
	JIT                 bool              `mapstructure:"jit" yaml:"jit"`
	Platform            string            `mapstructure:"platform" yaml:"platform"`
	SourceMap           bool              `mapstructure:"source_map" yaml:"source_map"`
	OutDir              string            `mapstructure:"out_dir" yaml:"out_dir"`
	Minify              bool              `mapstructure:"minify" yaml:"minify"`
	Locale              string            `mapstructure:"locale" yaml:"locale"`
	I18n                I18nConfig        `mapstructure:"i18n" yaml:"i18n"`
	FileReplacements    []FileReplacement `mapstructure:"file_replacements" yaml:"file_replacements"`
	Index               IndexConfig       `mapstructure:"index" yaml:"index"`
	Assets              map[string]string `mapstructure:"assets" yaml:"assets"`
	StyleCompilerScript string            `mapstructure:"style_compiler_script" yaml:"style_compiler_script"`
	ForkTypeChecker     bool              `mapstructure:"fork_type_checker" yaml:"fork_type_checker"`
	LogLevel            string            `mapstructure:"log_level" yaml:"log_level"`
	MetricsAddr         string            `mapstructure:"metrics_addr" yaml:"metrics_addr"`
}

type I18nConfig struct {
	InFile             string `mapstructure:"in_file" yaml:"in_file"`
	InFormat           string `mapstructure:"in_format" yaml:"in_format"`
	OutFile            string `mapstructure:"out_file" yaml:"out_file"`
	OutFormat          string `mapstructure:"out_format" yaml:"out_format"`
	MissingTranslation string `mapstructure:"missing_translation" yaml:"missing_translation"`
}

// FileReplacement replaces a source file with another one, e.g. an
// environment file with its production variant.
type FileReplacement struct {
	Replace string `mapstructure:"replace" yaml:"replace"`
	With    string `mapstructure:"with" yaml:"with"`
}

type IndexConfig struct {
	Source    string `mapstructure:"source" yaml:"source"`
	Out       string `mapstructure:"out" yaml:"out"`
	BaseHref  string `mapstructure:"base_href" yaml:"base_href"`
	DeployURL string `mapstructure:"deploy_url" yaml:"deploy_url"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("tsconfig", "tsconfig.json")
	v.SetDefault("main", "")
	v.SetDefault("entry_module", "")
	v.SetDefault("jit", true)
	v.SetDefault("platform", "browser")
	v.SetDefault("source_map", false)
	v.SetDefault("out_dir", "dist")
	v.SetDefault("minify", false)
	v.SetDefault("locale", "")
	v.SetDefault("i18n.in_file", "")
	v.SetDefault("i18n.in_format", "")
	v.SetDefault("i18n.out_file", "")
	v.SetDefault("i18n.out_format", "")
	v.SetDefault("i18n.missing_translation", "")
	v.SetDefault("index.source", "")
	v.SetDefault("index.out", "index.html")
	v.SetDefault("index.base_href", "")
	v.SetDefault("index.deploy_url", "")
	v.SetDefault("style_compiler_script", "")
	v.SetDefault("fork_type_checker", true)
	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_addr", "")
}

// loadConfig decodes and validates the configuration held by v.
func loadConfig(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.TsConfig == "" {
		return nil, fmt.Errorf("tsconfig is required")
	}
	if _, err := cfg.platform(); err != nil {
		return nil, err
	}
	if _, err := cfg.logLevel(); err != nil {
		return nil, err
	}
	if cfg.Main == "" && cfg.EntryModule == "" {
		return nil, fmt.Errorf("either main or entry_module is required")
	}
	for i, r := range cfg.FileReplacements {
		if r.Replace == "" || r.With == "" {
			return nil, fmt.Errorf("file_replacements[%d] needs both replace and with", i)
		}
	}
	return &cfg, nil
}

func (c *Config) platform() (ngplugin.Platform, error) {
	switch strings.ToLower(c.Platform) {
	case "", "browser":
		return ngplugin.PlatformBrowser, nil
	case "server":
		return ngplugin.PlatformServer, nil
	default:
		return 0, fmt.Errorf("unknown platform %q, expected browser or server", c.Platform)
	}
}

func (c *Config) logLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

func (c *Config) newLogger() *slog.Logger {
	level, _ := c.logLevel()
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// pluginOptions maps the configuration onto plugin options. reg may be nil.
func (c *Config) pluginOptions(fsys afero.Fs, logger *slog.Logger, reg prometheus.Registerer) ([]ngplugin.OptionFunc, error) {
	platform, err := c.platform()
	if err != nil {
		return nil, err
	}
	opts := []ngplugin.OptionFunc{
		ngplugin.WithFs(fsys),
		ngplugin.WithLogger(logger),
		ngplugin.WithCompilerRegistry(registry),
		ngplugin.WithTsConfigPath(c.TsConfig),
		ngplugin.WithSkipCodeGeneration(c.JIT),
		ngplugin.WithPlatform(platform),
		ngplugin.WithSourceMap(c.SourceMap),
		ngplugin.WithForkTypeChecker(c.ForkTypeChecker),
	}
	if c.Main != "" {
		opts = append(opts, ngplugin.WithMainPath(c.Main))
	}
	if c.EntryModule != "" {
		opts = append(opts, ngplugin.WithEntryModule(c.EntryModule))
	}
	if c.Locale != "" {
		opts = append(opts, ngplugin.WithLocale(c.Locale))
	}
	if c.I18n.InFile != "" {
		opts = append(opts, ngplugin.WithI18nInFile(c.I18n.InFile, c.I18n.InFormat))
	}
	if c.I18n.OutFile != "" {
		opts = append(opts, ngplugin.WithI18nOutFile(c.I18n.OutFile, c.I18n.OutFormat))
	}
	if c.I18n.MissingTranslation != "" {
		opts = append(opts, ngplugin.WithMissingTranslation(c.I18n.MissingTranslation))
	}
	if len(c.FileReplacements) > 0 {
		replacements := make(map[string]string, len(c.FileReplacements))
		for _, r := range c.FileReplacements {
			replacements[r.Replace] = r.With
		}
		opts = append(opts, ngplugin.WithHostReplacementPaths(replacements))
	}
	if c.StyleCompilerScript != "" {
		script, err := afero.ReadFile(fsys, c.StyleCompilerScript)
		if err != nil {
			return nil, fmt.Errorf("failed to read style compiler script: %w", err)
		}
		opts = append(opts, ngplugin.WithStyleCompilerScript(string(script)))
	}
	if c.Index.Source != "" {
		opts = append(opts, ngplugin.WithIndexHtmlOptions(ngplugin.IndexHtmlOptions{
			SourceFile: c.Index.Source,
			OutFile:    filepath.Join(c.OutDir, c.Index.Out),
			BaseHref:   c.Index.BaseHref,
			DeployURL:  c.Index.DeployURL,
		}))
	}
	if len(c.Assets) > 0 {
		assets := make(map[string]string, len(c.Assets))
		for src, out := range c.Assets {
			assets[src] = filepath.Join(c.OutDir, out)
		}
		opts = append(opts, ngplugin.WithOnEndProcessor(ngplugin.CopyAssets(assets)))
	}
	if reg != nil {
		opts = append(opts, ngplugin.WithMetricsRegisterer(reg))
	}
	return opts, nil
}

// buildOptions returns the esbuild options of the configuration.
func (c *Config) buildOptions(plugin api.Plugin) api.BuildOptions {
	entry := c.Main
	if entry == "" {
		entry, _, _ = strings.Cut(c.EntryModule, "#")
		entry += ".ts"
	}
	opts := api.BuildOptions{
		EntryPoints:       []string{entry},
		Bundle:            true,
		Outdir:            c.OutDir,
		Write:             true,
		Metafile:          true,
		Format:            api.FormatESModule,
		Splitting:         true,
		MinifyWhitespace:  c.Minify,
		MinifyIdentifiers: c.Minify,
		MinifySyntax:      c.Minify,
		LogLevel:          api.LogLevelSilent,
		Plugins:           []api.Plugin{plugin},
	}
	if c.SourceMap {
		opts.Sourcemap = api.SourceMapLinked
	}
	if p, _ := c.platform(); p == ngplugin.PlatformServer {
		opts.Platform = api.PlatformNode
		opts.Splitting = false
	} else {
		opts.Platform = api.PlatformBrowser
	}
	return opts
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved configuration",
	Long: `Print the configuration after merging the config file, the environment
and the flags, in the format of .ngbuild.yml.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(viper.GetViper())
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	},
}
