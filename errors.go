// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package ngplugin

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingTsConfigPath is returned by New without WithTsConfigPath.
	ErrMissingTsConfigPath = errors.New(`must specify "tsConfigPath" in the configuration of ngplugin`)

	// ErrCompilationInUse is returned by Make when another build is already
	// running on the same compilation.
	ErrCompilationInUse = errors.New("an ngplugin instance already exists for this compilation")

	// ErrCodeGenerationUnsupported is returned by New when ahead-of-time mode
	// is requested from a compiler that only transpiles.
	ErrCodeGenerationUnsupported = errors.New("compiler does not support ahead-of-time code generation, use WithSkipCodeGeneration(true)")

	// ErrEntryModuleNotFound is returned when the main file has no
	// statically analyzable bootstrap call.
	ErrEntryModuleNotFound = errors.New("tried to find bootstrap code, but could not; specify either statically analyzable bootstrap code or pass in an entry module with WithEntryModule")

	// ErrNotInCompilation and ErrNotInOutput are wrapped by the Warning of an
	// empty CompiledFile.
	ErrNotInCompilation = errors.New("not part of the compilation")
	ErrNotInOutput      = errors.New("not part of the compilation output")

	// ErrPluginClosed is returned by Make after Close.
	ErrPluginClosed = errors.New("ngplugin is closed")
)

// DuplicateRouteError reports a lazy route key that points at two different
// modules within one full listing of the routes.
type DuplicateRouteError struct {
	Key    string
	First  string
	Second string
}

func (e *DuplicateRouteError) Error() string {
	return fmt.Sprintf("duplicated path in loadChildren detected: %q is used in 2 loadChildren, "+
		"but they point to different modules (%q and %q); the bundler cannot distinguish "+
		"on context and would fail to load the proper one", e.Key, e.First, e.Second)
}

// LocaleError reports a locale without data in @angular/common/locales.
type LocaleError struct {
	Locale string
}

func (e *LocaleError) Error() string {
	return fmt.Sprintf(`unable to load the locale data file "@angular/common/locales/%s", please check that %q is a valid locale id`, e.Locale, e.Locale)
}
