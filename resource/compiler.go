// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package resource

import (
	"context"
	"fmt"
	"path/filepath"

	jsexecutor "github.com/buke/js-executor"
	"github.com/rs/xid"
	"github.com/spf13/cast"
)

// DefaultStyleService is the JS service ExecutorCompiler calls unless
// configured otherwise.
const DefaultStyleService = "ngStyle.compile"

// Result is the output of compiling one resource.
type Result struct {
	Content      string
	Dependencies []string // files the content was built from, the resource itself included
}

// Compiler turns the source of a resource into the content inlined into
// components.
type Compiler interface {
	Compile(ctx context.Context, path, source string) (*Result, error)
}

// CompilerFunc adapts a function to the Compiler interface.
type CompilerFunc func(ctx context.Context, path, source string) (*Result, error)

func (f CompilerFunc) Compile(ctx context.Context, path, source string) (*Result, error) {
	return f(ctx, path, source)
}

// TextCompiler passes html and css through untouched.
type TextCompiler struct{}

func (TextCompiler) Compile(_ context.Context, path, source string) (*Result, error) {
	return &Result{Content: source, Dependencies: []string{path}}, nil
}

// Executor is the part of *jsexecutor.JsExecutor the compiler needs.
type Executor interface {
	Execute(req *jsexecutor.JsRequest) (*jsexecutor.JsResponse, error)
}

// ExecutorCompiler compiles stylesheets with a preprocessor running in a JS
// engine pool. The service receives a single options object
// {data, filename, location, sourceMap, style} and must answer with
// {css, stats: {includedFiles}}.
type ExecutorCompiler struct {
	executor Executor
	service  string
	options  map[string]any
}

// ExecutorOption configures an ExecutorCompiler.
type ExecutorOption func(*ExecutorCompiler)

// WithService overrides the dotted service path called in the JS engine.
func WithService(service string) ExecutorOption {
	return func(c *ExecutorCompiler) {
		c.service = service
	}
}

// WithPreprocessorOptions merges extra options (includePaths, style and so
// on) into every request.
func WithPreprocessorOptions(options map[string]any) ExecutorOption {
	return func(c *ExecutorCompiler) {
		for k, v := range options {
			c.options[k] = v
		}
	}
}

// NewExecutorCompiler returns a style compiler backed by executor.
func NewExecutorCompiler(executor Executor, opts ...ExecutorOption) *ExecutorCompiler {
	c := &ExecutorCompiler{
		executor: executor,
		service:  DefaultStyleService,
		options: map[string]any{
			"sourceMap": false,
			"style":     "expanded",
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ExecutorCompiler) Compile(ctx context.Context, path, source string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	args := make(map[string]any, len(c.options)+3)
	for k, v := range c.options {
		args[k] = v
	}
	args["data"] = source
	args["filename"] = path
	args["location"] = filepath.Dir(path)

	jsResponse, err := c.executor.Execute(&jsexecutor.JsRequest{
		Id:      xid.New().String(),
		Service: c.service,
		Args:    []interface{}{args},
	})
	if err != nil {
		return nil, fmt.Errorf("style compilation service failed: %w", err)
	}

	result, ok := jsResponse.Result.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid response from style compilation service")
	}
	css, ok := result["css"].(string)
	if !ok {
		return nil, fmt.Errorf("failed to extract CSS from compilation result")
	}

	deps := []string{path}
	if stats, ok := result["stats"].(map[string]interface{}); ok && stats["includedFiles"] != nil {
		included, err := cast.ToStringSliceE(stats["includedFiles"])
		if err != nil {
			return nil, fmt.Errorf("invalid includedFiles in compilation result: %w", err)
		}
		for _, dep := range included {
			if !filepath.IsAbs(dep) {
				dep = filepath.Join(filepath.Dir(path), dep)
			}
			dep = filepath.ToSlash(dep)
			if dep != path {
				deps = append(deps, dep)
			}
		}
	}

	return &Result{Content: css, Dependencies: deps}, nil
}
