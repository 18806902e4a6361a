// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package typechecker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"github.com/buke/esbuild-plugin-ng-go/compiler"
)

// EnvWorker is set to "1" in the environment of worker processes.
const EnvWorker = "NGPLUGIN_TYPE_CHECKER"

// ErrClientClosed is returned by Update after Close.
var ErrClientClosed = errors.New("type checker client is closed")

// terminateGrace is how long a worker gets to exit after SIGTERM.
const terminateGrace = 3 * time.Second

// CommandFunc builds the command that starts a worker. The client adds the
// worker environment variable and wires the standard streams.
type CommandFunc func() (*exec.Cmd, error)

// Client starts the worker process on the first Update and feeds it.
type Client struct {
	init    InitMessage
	command CommandFunc
	stdout  io.Writer
	stderr  io.Writer
	logger  *slog.Logger
	signals bool

	mu       sync.Mutex
	proc     *process
	closed   bool
	restarts int

	signalOnce sync.Once
	stopSignal chan struct{}
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithCommand replaces the default command, which re-executes the running
// binary.
func WithCommand(command CommandFunc) ClientOption {
	return func(c *Client) {
		c.command = command
	}
}

// WithWorkerOutput sets where the worker's stdout and stderr go.
func WithWorkerOutput(stdout, stderr io.Writer) ClientOption {
	return func(c *Client) {
		c.stdout = stdout
		c.stderr = stderr
	}
}

// WithClientLogger sets the logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSignalTeardown controls whether SIGINT and SIGTERM terminate the
// worker before the signal is delivered again to this process. It is on by
// default.
func WithSignalTeardown(enabled bool) ClientOption {
	return func(c *Client) {
		c.signals = enabled
	}
}

// NewClient returns a client that sends init before the first update.
func NewClient(init InitMessage, opts ...ClientOption) *Client {
	c := &Client{
		init:       init,
		command:    selfCommand,
		stdout:     os.Stdout,
		stderr:     os.Stderr,
		logger:     slog.Default(),
		signals:    true,
		stopSignal: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func selfCommand() (*exec.Cmd, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("cannot locate executable for type checker: %w", err)
	}
	return exec.Command(exe), nil
}

// Running reports whether a worker process is alive.
func (c *Client) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proc != nil && !c.proc.exited()
}

// Restarts returns how many times a crashed worker was replaced.
func (c *Client) Restarts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.restarts
}

// Update sends msg to the worker, starting it when needed. A worker that
// died since the previous update is replaced and initialized again.
func (c *Client) Update(msg UpdateMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}

	if c.proc != nil && c.proc.exited() {
		c.logger.Warn("Type checker exited unexpectedly, restarting", "error", c.proc.err)
		c.proc = nil
		c.restarts++
	}

	if c.proc == nil {
		p, err := c.spawn()
		if err != nil {
			return err
		}
		c.proc = p
	}

	if err := c.proc.send(&msg); err != nil {
		c.logger.Warn("Type checker is not accepting messages, restarting", "error", err)
		_ = c.proc.stop()
		c.proc = nil
		c.restarts++

		p, err := c.spawn()
		if err != nil {
			return err
		}
		c.proc = p
		return p.send(&msg)
	}
	return nil
}

func (c *Client) spawn() (*process, error) {
	cmd, err := c.command()
	if err != nil {
		return nil, err
	}
	cmd.Env = append(os.Environ(), EnvWorker+"=1")
	cmd.Stdout = c.stdout
	cmd.Stderr = c.stderr
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("type checker stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("cannot start type checker: %w", err)
	}

	p := &process{cmd: cmd, stdin: stdin, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	c.logger.Debug("Type checker started", "pid", cmd.Process.Pid)

	if c.signals {
		c.signalOnce.Do(c.watchSignals)
	}

	init := c.init
	if err := p.send(&init); err != nil {
		_ = p.stop()
		return nil, err
	}
	return p, nil
}

// watchSignals tears the worker down on SIGINT or SIGTERM and then lets
// the signal take its default course.
func (c *Client) watchSignals() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(ch)
		select {
		case sig := <-ch:
			_ = c.Close()
			signal.Stop(ch)
			if self, err := os.FindProcess(os.Getpid()); err == nil {
				_ = self.Signal(sig)
			}
		case <-c.stopSignal:
		}
	}()
}

// Close terminates the worker process group. It is safe to call more than
// once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.stopSignal)

	if c.proc == nil {
		return nil
	}
	err := c.proc.stop()
	c.proc = nil
	return err
}

type process struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	done  chan struct{}
	err   error
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *process) send(msg Message) error {
	if p.exited() {
		return fmt.Errorf("type checker exited: %v", p.err)
	}
	line, err := Encode(msg)
	if err != nil {
		return err
	}
	if _, err := p.stdin.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write to type checker: %w", err)
	}
	return nil
}

// stop closes stdin and terminates the process group, escalating to
// SIGKILL when the worker does not exit in time.
func (p *process) stop() error {
	_ = p.stdin.Close()
	if p.exited() {
		return nil
	}
	err := terminateProcessGroup(p.cmd.Process)

	ctx, cancel := context.WithTimeout(context.Background(), terminateGrace)
	defer cancel()
	select {
	case <-p.done:
	case <-ctx.Done():
		err = multierr.Append(err, killProcessGroup(p.cmd.Process))
		<-p.done
	}
	return err
}

// MaybeRunWorker turns the current process into a worker when it was
// started by a Client, and exits when the parent closes stdin. Call it at
// the very start of main. It returns immediately in any other process.
func MaybeRunWorker(registry *compiler.Registry, opts ...WorkerOption) {
	if os.Getenv(EnvWorker) != "1" {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewWorker(registry, opts...).Serve(ctx, os.Stdin)
	stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "type checker: %v\n", err)
		os.Exit(1)
	}
	os.Exit(0)
}
