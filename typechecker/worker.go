// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package typechecker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/afero"

	"github.com/buke/esbuild-plugin-ng-go/compiler"
	"github.com/buke/esbuild-plugin-ng-go/host"
)

// ErrNotInitialized is returned when an update arrives before Init.
var ErrNotInitialized = errors.New("type checker: update message received before initialization")

// maxMessageSize bounds a single message line.
const maxMessageSize = 64 << 20

// Worker owns its own host and program. Everything it knows about the
// project arrives through messages.
type Worker struct {
	registry *compiler.Registry
	fsys     afero.Fs
	stdout   io.Writer
	stderr   io.Writer
	logger   *slog.Logger

	host      *host.Host
	resolver  *compiler.Resolver
	compiler  compiler.Compiler
	options   *compiler.Options
	jitMode   bool
	rootNames []string
	program   compiler.Program
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithFs sets the filesystem the worker host delegates to.
func WithFs(fsys afero.Fs) WorkerOption {
	return func(w *Worker) {
		w.fsys = fsys
	}
}

// WithOutput sets where reports are printed: errors go to stderr, warnings
// to stdout.
func WithOutput(stdout, stderr io.Writer) WorkerOption {
	return func(w *Worker) {
		w.stdout = stdout
		w.stderr = stderr
	}
}

// WithWorkerLogger sets the logger.
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = logger
	}
}

// NewWorker returns a worker that looks compilers up in registry.
func NewWorker(registry *compiler.Registry, opts ...WorkerOption) *Worker {
	w := &Worker{
		registry: registry,
		fsys:     afero.NewOsFs(),
		stdout:   os.Stdout,
		stderr:   os.Stderr,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

type pass struct {
	msg    Message
	ctx    context.Context
	cancel context.CancelFunc
}

// Serve reads messages from r until it is exhausted. Messages are applied
// one at a time, but the arrival of an Update revokes the right of the pass
// still running to report.
func (w *Worker) Serve(ctx context.Context, r io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan pass, 64)
	readErr := make(chan error, 1)
	go func() {
		defer close(queue)
		readErr <- w.read(ctx, r, queue)
	}()

	for p := range queue {
		err := w.handle(ctx, p)
		if p.cancel != nil {
			p.cancel()
		}
		if err != nil {
			return err
		}
	}
	return <-readErr
}

func (w *Worker) read(ctx context.Context, r io.Reader, queue chan<- pass) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxMessageSize)

	var cancelLast context.CancelFunc
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		msg, err := Decode(line)
		if err != nil {
			return err
		}

		p := pass{msg: msg, ctx: ctx}
		if _, ok := msg.(*UpdateMessage); ok {
			if cancelLast != nil {
				cancelLast()
			}
			p.ctx, p.cancel = context.WithCancel(ctx)
			cancelLast = p.cancel
		}

		select {
		case queue <- p:
		case <-ctx.Done():
			return nil
		}
	}
	return scanner.Err()
}

func (w *Worker) handle(ctx context.Context, p pass) error {
	start := time.Now()
	defer func() {
		w.logger.Debug("TypeChecker.message", "kind", p.msg.Kind(), "duration", time.Since(start))
	}()

	switch msg := p.msg.(type) {
	case *InitMessage:
		return w.init(msg)
	case *UpdateMessage:
		if w.host == nil {
			return ErrNotInitialized
		}
		w.update(ctx, p.ctx, msg)
		return nil
	default:
		return fmt.Errorf("type checker: unexpected message %T", msg)
	}
}

func (w *Worker) init(msg *InitMessage) error {
	c, err := w.registry.Lookup(msg.Compiler)
	if err != nil {
		return fmt.Errorf("type checker: %w", err)
	}

	options := msg.CompilerOptions
	if options == nil {
		options = &compiler.Options{}
	}

	w.compiler = c
	w.options = options
	w.jitMode = msg.JITMode
	w.rootNames = msg.RootNames
	w.host = host.New(w.fsys, msg.BasePath)
	w.host.EnableCaching()
	w.resolver = compiler.NewResolver(w.host, options)
	w.program = nil
	return nil
}

// update runs one type check pass on ctx. A pass superseded by a newer
// Update still finishes computing, so its program can be reused, but
// report is cancelled and nothing is printed.
func (w *Worker) update(ctx, report context.Context, msg *UpdateMessage) {
	// Step 1: Apply the changes reported by the plugin
	w.rootNames = msg.RootNames
	for _, file := range msg.ChangedCompilationFiles {
		w.host.Invalidate(file)
	}
	w.resolver.Reset()

	// Step 2: Rebuild the program from the previous one
	old := w.program
	w.program = nil
	program, err := w.compiler.CreateProgram(ctx, compiler.ProgramConfig{
		RootNames:  w.rootNames,
		Options:    w.options,
		Host:       w.host,
		Resolver:   w.resolver,
		Logger:     w.logger,
		OldProgram: old,
	})
	if err != nil {
		if report.Err() == nil {
			fmt.Fprintf(w.stderr, "ERROR in %v\n", err)
		}
		return
	}
	w.program = program

	// Step 3: Gather and report the diagnostics
	w.diagnose(ctx, report)
}

// diagnose gathers every diagnostic of the program. Cancellation of report
// is only honoured when reporting.
func (w *Worker) diagnose(ctx, report context.Context) {
	diags := w.program.OptionsDiagnostics()
	if !w.jitMode {
		diags = append(diags, w.program.StructuralDiagnostics()...)
	}
	semantic, err := w.program.SemanticDiagnostics(ctx)
	if err != nil {
		diags = append(diags, compiler.NewError(compiler.UnknownErrorCode, err.Error()))
	}
	diags = append(diags, semantic...)

	if report.Err() != nil {
		w.logger.Debug("Type check pass superseded, report suppressed")
		return
	}

	if errs := diags.Errors(); len(errs) > 0 {
		fmt.Fprintf(w.stderr, "ERROR in %s\n", errs.Format())
	} else {
		w.host.ResetChangedFileTracker()
	}
	if warnings := diags.Warnings(); len(warnings) > 0 {
		fmt.Fprintf(w.stdout, "WARNING in %s\n", warnings.Format())
	}
}
