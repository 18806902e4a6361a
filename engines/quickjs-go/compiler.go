// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Package qjscompiler provides QuickJS engines that run style preprocessors
// (sass, less and the like) for component resources.
package qjscompiler

import (
	"sync"

	jsexecutor "github.com/buke/js-executor"
	quickjsengine "github.com/buke/js-executor/engines/quickjs-go"
	quickjs "github.com/buke/quickjs-go"
)

// DefaultScriptName is the file name compile errors of the script report.
const DefaultScriptName = "style-compiler.js"

// StyleCompiler is a preprocessor script compiled once and evaluated in
// every engine the factory creates.
type StyleCompiler struct {
	script     string
	scriptName string
	fsys       FileSystem

	once     sync.Once
	bytecode []byte
	err      error
}

// NewStyleCompiler returns a style compiler for script. The script is
// expected to register the services it offers on globalThis, for example
// `globalThis.ngStyle = { compile(options) { ... } }`, and may read files
// through the injected compilerFs global. A nil fsys reads from disk.
func NewStyleCompiler(script string, fsys FileSystem) *StyleCompiler {
	if fsys == nil {
		fsys = osFileSystem{}
	}
	return &StyleCompiler{script: script, scriptName: DefaultScriptName, fsys: fsys}
}

// Factory returns a JsEngineFactory for the executor. Additional QuickJS
// engine options can be passed and run after the script is loaded.
func (c *StyleCompiler) Factory(options ...quickjsengine.Option) jsexecutor.JsEngineFactory {
	opts := []quickjsengine.Option{c.loadFsModule, c.loadScript}
	opts = append(opts, options...)
	return quickjsengine.NewFactory(opts...)
}

// NewStyleCompilerFactory is a shorthand for NewStyleCompiler(script, fsys).Factory(options...).
func NewStyleCompilerFactory(script string, fsys FileSystem, options ...quickjsengine.Option) jsexecutor.JsEngineFactory {
	return NewStyleCompiler(script, fsys).Factory(options...)
}

// compile turns the script into bytecode once per StyleCompiler.
func (c *StyleCompiler) compile(jse *quickjsengine.Engine) ([]byte, error) {
	c.once.Do(func() {
		c.bytecode, c.err = jse.Ctx.Compile(c.script, quickjs.EvalFileName(c.scriptName))
	})
	return c.bytecode, c.err
}

// loadScript evaluates the compiled script in the engine context.
func (c *StyleCompiler) loadScript(jse *quickjsengine.Engine) error {
	bytecode, err := c.compile(jse)
	if err != nil {
		return err
	}

	ret := jse.Ctx.EvalBytecode(bytecode)
	defer ret.Free()

	if ret.IsException() {
		return jse.Ctx.Exception()
	}
	return nil
}
