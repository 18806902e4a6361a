// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package qjscompiler

import (
	"fmt"
	"os"
	"path/filepath"

	quickjsengine "github.com/buke/js-executor/engines/quickjs-go"
	"github.com/buke/quickjs-go"
)

// FileSystem is what preprocessor scripts read through. *host.Host
// implements it, so in-memory content shadows the disk.
type FileSystem interface {
	FileExists(p string, delegate bool) bool
	ReadFile(p string) (string, error)
}

// osFileSystem reads straight from disk.
type osFileSystem struct{}

func (osFileSystem) FileExists(p string, _ bool) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

func (osFileSystem) ReadFile(p string) (string, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func argString(args []*quickjs.Value) string {
	if len(args) == 0 {
		return ""
	}
	return args[0].String()
}

func (c *StyleCompiler) fileExistsFunc(ctx *quickjs.Context, this *quickjs.Value, args []*quickjs.Value) *quickjs.Value {
	file := argString(args)
	if file == "" {
		return ctx.Bool(false)
	}
	return ctx.Bool(c.fsys.FileExists(file, true))
}

func (c *StyleCompiler) readFileFunc(ctx *quickjs.Context, this *quickjs.Value, args []*quickjs.Value) *quickjs.Value {
	file := argString(args)
	if file == "" {
		return ctx.ThrowError(fmt.Errorf("readFile: empty path"))
	}
	data, err := c.fsys.ReadFile(file)
	if err != nil {
		return ctx.ThrowError(err)
	}
	return ctx.String(data)
}

// realpathFunc resolves symbolic links of files on disk. Files that only
// exist in memory resolve to their absolute path.
func (c *StyleCompiler) realpathFunc(ctx *quickjs.Context, this *quickjs.Value, args []*quickjs.Value) *quickjs.Value {
	file := argString(args)
	if resolved, err := filepath.EvalSymlinks(file); err == nil {
		realpath, _ := filepath.Abs(resolved)
		return ctx.String(realpath)
	}
	if file != "" && c.fsys.FileExists(file, false) {
		abs, _ := filepath.Abs(file)
		return ctx.String(filepath.ToSlash(abs))
	}
	return ctx.ThrowError(fmt.Errorf("realpath: no such file: %s", file))
}

// loadFsModule injects a 'compilerFs' object with fileExists, readFile and
// realpath into the JS context.
func (c *StyleCompiler) loadFsModule(jse *quickjsengine.Engine) error {
	globalsObj := jse.Ctx.Globals()
	compilerFsObj := jse.Ctx.Object()
	compilerFsObj.Set("fileExists", jse.Ctx.Function(c.fileExistsFunc))
	compilerFsObj.Set("readFile", jse.Ctx.Function(c.readFileFunc))
	compilerFsObj.Set("realpath", jse.Ctx.Function(c.realpathFunc))
	globalsObj.Set("compilerFs", compilerFsObj)
	return nil
}
