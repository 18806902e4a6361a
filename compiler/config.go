// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package compiler

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// Configuration is a parsed tsconfig file.
type Configuration struct {
	Path      string
	Options   *Options
	RootNames []string
	Errors    Diagnostics
}

type rawConfig struct {
	Extends                json.RawMessage            `json:"extends"`
	CompilerOptions        map[string]json.RawMessage `json:"compilerOptions"`
	AngularCompilerOptions map[string]json.RawMessage `json:"angularCompilerOptions"`
	Files                  *[]string                  `json:"files"`
	Include                *[]string                  `json:"include"`
	Exclude                *[]string                  `json:"exclude"`
}

// loadedConfig is a config file merged with everything it extends. Path
// valued options are already absolute.
type loadedConfig struct {
	compilerOptions map[string]json.RawMessage
	angularOptions  map[string]json.RawMessage
	pathsBase       string

	files   []string
	include []string
	exclude []string
	specDir string
}

var pathOptions = []string{"baseUrl", "outDir", "rootDir", "genDir"}

// ReadConfiguration parses the tsconfig file at tsconfigPath, following
// "extends" chains and expanding "files", "include" and "exclude" into the
// list of root files.
func ReadConfiguration(fsys afero.Fs, tsconfigPath string) (*Configuration, error) {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	abs, err := filepath.Abs(tsconfigPath)
	if err != nil {
		return nil, fmt.Errorf("resolve tsconfig path %s: %w", tsconfigPath, err)
	}
	abs = filepath.ToSlash(abs)

	loaded, err := loadConfig(fsys, abs, map[string]bool{})
	if err != nil {
		return nil, err
	}

	options := &Options{}
	if err := decodeOptions(loaded.compilerOptions, options); err != nil {
		return nil, fmt.Errorf("invalid compilerOptions in %s: %w", abs, err)
	}
	if err := decodeOptions(loaded.angularOptions, options); err != nil {
		return nil, fmt.Errorf("invalid angularCompilerOptions in %s: %w", abs, err)
	}
	options.BasePath = path.Dir(abs)

	if len(options.Paths) > 0 {
		base := loaded.pathsBase
		if options.BaseURL != "" {
			base = options.BaseURL
		}
		for alias, targets := range options.Paths {
			for i, target := range targets {
				targets[i] = joinAbs(base, target)
			}
			options.Paths[alias] = targets
		}
	}

	cfg := &Configuration{Path: abs, Options: options}
	cfg.RootNames = expandRootNames(fsys, loaded, options)
	if len(cfg.RootNames) == 0 {
		cfg.Errors = append(cfg.Errors, Diagnostic{
			Category: CategoryError,
			Code:     18003,
			Message:  fmt.Sprintf("No inputs were found in config file '%s'.", abs),
			Source:   SourceTypeScript,
		})
	}
	return cfg, nil
}

func loadConfig(fsys afero.Fs, file string, seen map[string]bool) (*loadedConfig, error) {
	if seen[file] {
		return nil, fmt.Errorf("circularity detected while resolving configuration: %s", file)
	}
	seen[file] = true

	data, err := afero.ReadFile(fsys, filepath.FromSlash(file))
	if err != nil {
		return nil, fmt.Errorf("cannot read tsconfig %s: %w", file, err)
	}
	var raw rawConfig
	if err := json.Unmarshal([]byte(StripJSONComments(string(data))), &raw); err != nil {
		return nil, fmt.Errorf("cannot parse tsconfig %s: %w", file, err)
	}

	dir := path.Dir(file)
	loaded := &loadedConfig{
		compilerOptions: map[string]json.RawMessage{},
		angularOptions:  map[string]json.RawMessage{},
		pathsBase:       dir,
		specDir:         dir,
		exclude:         nil,
	}

	if len(raw.Extends) > 0 {
		var bases []string
		var single string
		if err := json.Unmarshal(raw.Extends, &single); err == nil {
			bases = []string{single}
		} else if err := json.Unmarshal(raw.Extends, &bases); err != nil {
			return nil, fmt.Errorf("invalid extends in %s: %w", file, err)
		}
		for _, ext := range bases {
			basePath, err := resolveExtends(fsys, dir, ext)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", file, err)
			}
			base, err := loadConfig(fsys, basePath, seen)
			if err != nil {
				return nil, err
			}
			mergeLoaded(loaded, base)
		}
	}

	for _, key := range pathOptions {
		if v, ok := raw.CompilerOptions[key]; ok {
			var s string
			if json.Unmarshal(v, &s) == nil {
				raw.CompilerOptions[key], _ = json.Marshal(joinAbs(dir, s))
			}
		}
	}
	if _, ok := raw.CompilerOptions["paths"]; ok {
		loaded.pathsBase = dir
	}
	for k, v := range raw.CompilerOptions {
		loaded.compilerOptions[k] = v
	}
	for k, v := range raw.AngularCompilerOptions {
		loaded.angularOptions[k] = v
	}

	if raw.Files != nil || raw.Include != nil || raw.Exclude != nil {
		loaded.specDir = dir
	}
	if raw.Files != nil {
		loaded.files = *raw.Files
	}
	if raw.Include != nil {
		loaded.include = *raw.Include
	}
	if raw.Exclude != nil {
		loaded.exclude = *raw.Exclude
	}
	return loaded, nil
}

func mergeLoaded(dst, base *loadedConfig) {
	for k, v := range base.compilerOptions {
		dst.compilerOptions[k] = v
	}
	for k, v := range base.angularOptions {
		dst.angularOptions[k] = v
	}
	dst.pathsBase = base.pathsBase
	dst.files, dst.include, dst.exclude = base.files, base.include, base.exclude
	dst.specDir = base.specDir
}

func resolveExtends(fsys afero.Fs, dir, ext string) (string, error) {
	var candidates []string
	if strings.HasPrefix(ext, ".") || strings.HasPrefix(ext, "/") {
		p := joinAbs(dir, ext)
		candidates = append(candidates, p, p+".json")
	} else {
		for d := dir; ; d = path.Dir(d) {
			p := path.Join(d, "node_modules", ext)
			candidates = append(candidates, p, p+".json", path.Join(p, "tsconfig.json"))
			if d == path.Dir(d) {
				break
			}
		}
	}
	for _, c := range candidates {
		if info, err := fsys.Stat(filepath.FromSlash(c)); err == nil && !info.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("file '%s' not found", ext)
}

func decodeOptions(raw map[string]json.RawMessage, options *Options) error {
	if len(raw) == 0 {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, options)
}

func joinAbs(dir, p string) string {
	p = filepath.ToSlash(p)
	if path.IsAbs(p) || driveRoot.MatchString(p) {
		return path.Clean(p)
	}
	return path.Join(dir, p)
}

var driveRoot = regexp.MustCompile(`^\w:/`)

var defaultExcludes = []string{"node_modules", "bower_components", "jspm_packages"}

func expandRootNames(fsys afero.Fs, loaded *loadedConfig, options *Options) []string {
	seen := make(map[string]bool)
	var roots []string
	addRoot := func(p string) {
		if !seen[p] {
			seen[p] = true
			roots = append(roots, p)
		}
	}

	for _, f := range loaded.files {
		addRoot(joinAbs(loaded.specDir, f))
	}

	include := loaded.include
	if loaded.files == nil && loaded.include == nil {
		include = []string{"**/*"}
	}
	if len(include) == 0 {
		return roots
	}

	exclude := loaded.exclude
	if exclude == nil {
		exclude = append([]string(nil), defaultExcludes...)
		if options.OutDir != "" {
			exclude = append(exclude, options.OutDir)
		}
	}
	var excludeRes []*regexp.Regexp
	for _, e := range exclude {
		excludeRes = append(excludeRes, globToRegexp(joinAbs(loaded.specDir, e), true))
	}

	var matched []string
	for _, inc := range include {
		pattern := joinAbs(loaded.specDir, inc)
		if !hasWildcard(path.Base(pattern)) && path.Ext(pattern) == "" {
			pattern = path.Join(pattern, "**/*")
		}
		re := globToRegexp(pattern, false)
		root := globRoot(pattern)

		_ = afero.Walk(fsys, filepath.FromSlash(root), func(p string, info fs.FileInfo, err error) error {
			if err != nil {
				return nil
			}
			p = filepath.ToSlash(p)
			for _, ex := range excludeRes {
				if ex.MatchString(p) {
					if info.IsDir() {
						return filepath.SkipDir
					}
					return nil
				}
			}
			if info.IsDir() || !isSupportedSource(p, options.AllowJs) {
				return nil
			}
			if re.MatchString(p) {
				matched = append(matched, p)
			}
			return nil
		})
	}
	sort.Strings(matched)
	for _, m := range matched {
		addRoot(m)
	}
	return roots
}

func isSupportedSource(p string, allowJs bool) bool {
	switch {
	case strings.HasSuffix(p, ".ts"), strings.HasSuffix(p, ".tsx"):
		return true
	case allowJs && (strings.HasSuffix(p, ".js") || strings.HasSuffix(p, ".jsx")):
		return true
	}
	return false
}

func hasWildcard(s string) bool {
	return strings.ContainsAny(s, "*?")
}

// globRoot returns the longest leading directory of pattern without
// wildcards.
func globRoot(pattern string) string {
	parts := strings.Split(pattern, "/")
	var fixed []string
	for _, part := range parts[:len(parts)-1] {
		if hasWildcard(part) {
			break
		}
		fixed = append(fixed, part)
	}
	root := strings.Join(fixed, "/")
	if root == "" {
		return "/"
	}
	return root
}

// globToRegexp converts a tsconfig glob to a regular expression. Prefix
// patterns also match everything below the matched path, as excludes do.
func globToRegexp(pattern string, prefix bool) *regexp.Regexp {
	var sb strings.Builder
	sb.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch {
		case c == '*' && strings.HasPrefix(pattern[i:], "**/"):
			sb.WriteString("(?:[^/]+/)*")
			i += 2
		case c == '*' && strings.HasPrefix(pattern[i:], "**") && i+2 == len(pattern):
			sb.WriteString(".*")
			i++
		case c == '*':
			sb.WriteString("[^/]*")
		case c == '?':
			sb.WriteString("[^/]")
		default:
			sb.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	if prefix {
		sb.WriteString("(?:/.*)?")
	}
	sb.WriteString("$")
	return regexp.MustCompile(sb.String())
}

// StripJSONComments removes comments and trailing commas from JSON text
// the way tsconfig files allow them, keeping string contents intact.
func StripJSONComments(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))
	inString := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			sb.WriteByte(c)
			if c == '\\' && i+1 < len(text) {
				i++
				sb.WriteByte(text[i])
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch {
		case c == '"':
			inString = true
			sb.WriteByte(c)
		case c == '/' && i+1 < len(text) && text[i+1] == '/':
			for i < len(text) && text[i] != '\n' {
				i++
			}
			if i < len(text) {
				sb.WriteByte('\n')
			}
		case c == '/' && i+1 < len(text) && text[i+1] == '*':
			end := strings.Index(text[i+2:], "*/")
			if end < 0 {
				i = len(text)
			} else {
				i += end + 3
			}
		case c == ',':
			j := skipSpaceAndComments(text, i+1)
			if j < len(text) && (text[j] == '}' || text[j] == ']') {
				continue
			}
			sb.WriteByte(c)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

func skipSpaceAndComments(text string, i int) int {
	for i < len(text) {
		switch {
		case strings.IndexByte(" \t\r\n", text[i]) >= 0:
			i++
		case strings.HasPrefix(text[i:], "//"):
			for i < len(text) && text[i] != '\n' {
				i++
			}
		case strings.HasPrefix(text[i:], "/*"):
			end := strings.Index(text[i+2:], "*/")
			if end < 0 {
				return len(text)
			}
			i += end + 4
		default:
			return i
		}
	}
	return i
}
