// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package resource

import (
	"fmt"
	"sync"

	jsexecutor "github.com/buke/js-executor"
)

// MockEngineConfig defines the configuration for a mock engine
type MockEngineConfig struct {
	// Error to return from Execute method
	ExecuteError error
	// Whether to return invalid result type
	InvalidResult bool
	// Compiled CSS output, defaults to the source with a marker comment
	CSS string
	// Files reported in stats.includedFiles
	IncludedFiles interface{}
	// Service-specific responses for different services
	ServiceResponses map[string]interface{}

	mu       sync.Mutex
	requests []*jsexecutor.JsRequest
}

func (c *MockEngineConfig) record(req *jsexecutor.JsRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
}

// Requests returns the requests the engines have seen.
func (c *MockEngineConfig) Requests() []*jsexecutor.JsRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*jsexecutor.JsRequest(nil), c.requests...)
}

// MockEngine is a configurable mock engine
type MockEngine struct {
	config *MockEngineConfig
}

func (e *MockEngine) Init(scripts []*jsexecutor.InitScript) error   { return nil }
func (e *MockEngine) Reload(scripts []*jsexecutor.InitScript) error { return nil }
func (e *MockEngine) Close() error                                  { return nil }

func (e *MockEngine) Execute(req *jsexecutor.JsRequest) (*jsexecutor.JsResponse, error) {
	e.config.record(req)

	if e.config.ExecuteError != nil {
		return nil, e.config.ExecuteError
	}
	if e.config.InvalidResult {
		return &jsexecutor.JsResponse{Id: req.Id, Result: "This is not a map[string]interface{}"}, nil
	}
	if e.config.ServiceResponses != nil {
		if serviceResponse, exists := e.config.ServiceResponses[req.Service]; exists {
			return &jsexecutor.JsResponse{Id: req.Id, Result: serviceResponse}, nil
		}
	}

	switch req.Service {
	case DefaultStyleService:
		return e.handleStyleCompile(req)
	default:
		return nil, fmt.Errorf("unknown service %s", req.Service)
	}
}

// handleStyleCompile handles the style compilation service
func (e *MockEngine) handleStyleCompile(req *jsexecutor.JsRequest) (*jsexecutor.JsResponse, error) {
	args, ok := req.Args[0].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("style compilation expects an options object")
	}

	css := e.config.CSS
	if css == "" {
		css = fmt.Sprintf("/* %s */\n%s", args["filename"], args["data"])
	}
	included := e.config.IncludedFiles
	if included == nil {
		included = []interface{}{}
	}

	return &jsexecutor.JsResponse{
		Id: req.Id,
		Result: map[string]interface{}{
			"css": css,
			"stats": map[string]interface{}{
				"includedFiles": included,
			},
		},
	}, nil
}

// NewMockEngineFactory creates a factory that returns MockEngine with given config
func NewMockEngineFactory(config *MockEngineConfig) jsexecutor.JsEngineFactory {
	return func() (jsexecutor.JsEngine, error) {
		return &MockEngine{config: config}, nil
	}
}
