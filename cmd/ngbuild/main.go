// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Command ngbuild builds and watches Angular projects with esbuild.
package main

import (
	"fmt"
	"os"

	"github.com/buke/esbuild-plugin-ng-go/compiler"
	"github.com/buke/esbuild-plugin-ng-go/compiler/esbuildc"
	"github.com/buke/esbuild-plugin-ng-go/typechecker"
)

// registry holds the compilers available to the plugin and to the forked
// type checker, which runs this same binary.
var registry = compiler.NewRegistry()

func main() {
	if err := esbuildc.Register(registry); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	// Does not return when started as the type checker.
	typechecker.MaybeRunWorker(registry)

	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
