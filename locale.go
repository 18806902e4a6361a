// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package ngplugin

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/text/language"
)

// validateLocale maps locale to the name of its data file under
// @angular/common/locales. It tries the exact id, then the canonical
// BCP 47 form, then a case-insensitive match, and finally the parent
// language. When the locale directory cannot be listed the canonical id
// is returned unchecked.
func validateLocale(fsys afero.Fs, localesDir, locale string) (string, error) {
	entries, err := afero.ReadDir(fsys, filepath.FromSlash(localesDir))
	if err != nil {
		return canonicalLocale(locale), nil
	}
	available := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".js" {
			continue
		}
		available[strings.TrimSuffix(e.Name(), ".js")] = true
	}

	if available[locale] {
		return locale, nil
	}
	dashed := strings.ReplaceAll(locale, "_", "-")
	if canonical := canonicalLocale(dashed); available[canonical] {
		return canonical, nil
	}
	lower := strings.ToLower(dashed)
	for name := range available {
		if strings.ToLower(name) == lower {
			return name, nil
		}
	}
	parent, _, _ := strings.Cut(dashed, "-")
	if tag, err := language.Parse(dashed); err == nil {
		if base, conf := tag.Base(); conf != language.No {
			parent = base.String()
		}
	}
	if available[parent] {
		return parent, nil
	}
	return "", &LocaleError{Locale: locale}
}

func canonicalLocale(locale string) string {
	tag, err := language.Parse(strings.ReplaceAll(locale, "_", "-"))
	if err != nil {
		return locale
	}
	return tag.String()
}

// localesDir locates @angular/common/locales by walking up from basePath
// through node_modules directories.
func localesDir(fsys afero.Fs, basePath string) string {
	dir := basePath
	for {
		candidate := path.Join(dir, "node_modules", "@angular", "common", "locales")
		if ok, _ := afero.DirExists(fsys, filepath.FromSlash(candidate)); ok {
			return candidate
		}
		parent := path.Dir(dir)
		if parent == dir {
			return path.Join(basePath, "node_modules", "@angular", "common", "locales")
		}
		dir = parent
	}
}
