// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Package typechecker runs full diagnostics in a separate process so they
// never hold up emitting a build. The parent sends one Init message and then
// an Update per build as newline delimited JSON over the worker's stdin. The
// worker prints its reports to its own stdout and stderr; nothing is sent
// back.
package typechecker

import (
	"encoding/json"
	"fmt"

	"github.com/buke/esbuild-plugin-ng-go/compiler"
)

// Kind discriminates messages on the wire.
type Kind string

const (
	KindInit   Kind = "init"
	KindUpdate Kind = "update"
)

// Message is either *InitMessage or *UpdateMessage.
type Message interface {
	Kind() Kind
	message()
}

// InitMessage configures the worker. It is sent once.
type InitMessage struct {
	Compiler        string            `json:"compiler,omitempty"`
	CompilerOptions *compiler.Options `json:"compilerOptions"`
	BasePath        string            `json:"basePath"`
	JITMode         bool              `json:"jitMode"`
	RootNames       []string          `json:"rootNames"`
}

// UpdateMessage starts a diagnostic pass over the new root names after
// dropping the cached content of the changed files.
type UpdateMessage struct {
	RootNames               []string `json:"rootNames"`
	ChangedCompilationFiles []string `json:"changedCompilationFiles"`
}

func (*InitMessage) Kind() Kind   { return KindInit }
func (*UpdateMessage) Kind() Kind { return KindUpdate }
func (*InitMessage) message()     {}
func (*UpdateMessage) message()   {}

type envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Encode renders msg as one line of JSON without the trailing newline.
func Encode(msg Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", msg.Kind(), err)
	}
	return json.Marshal(envelope{Kind: msg.Kind(), Payload: payload})
}

// Decode parses a line produced by Encode.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	var msg Message
	switch env.Kind {
	case KindInit:
		msg = &InitMessage{}
	case KindUpdate:
		msg = &UpdateMessage{}
	default:
		return nil, fmt.Errorf("unexpected message kind %q", env.Kind)
	}
	if err := json.Unmarshal(env.Payload, msg); err != nil {
		return nil, fmt.Errorf("decode %s message: %w", env.Kind, err)
	}
	return msg, nil
}
