// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package typechecker

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buke/esbuild-plugin-ng-go/compiler"
	"github.com/buke/esbuild-plugin-ng-go/compiler/esbuildc"
)

// The test binary doubles as the worker executable.
func TestMain(m *testing.M) {
	if os.Getenv(EnvWorker) == "1" {
		registry := compiler.NewRegistry()
		if err := esbuildc.Register(registry); err != nil {
			panic(err)
		}
		MaybeRunWorker(registry)
	}
	os.Exit(m.Run())
}

func helperCommand() (*exec.Cmd, error) {
	return exec.Command(os.Args[0], "-test.run=^$"), nil
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestClient(t *testing.T) (*Client, *syncBuffer, []string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("worker process tests use unix paths")
	}

	dir := filepath.ToSlash(t.TempDir())
	main := dir + "/main.ts"
	require.NoError(t, os.WriteFile(main, []byte("export const a = ;\n"), 0o644))

	var stdout syncBuffer
	stderr := &syncBuffer{}
	client := NewClient(InitMessage{
		CompilerOptions: &compiler.Options{},
		BasePath:        dir,
		JITMode:         true,
		RootNames:       []string{main},
	},
		WithCommand(helperCommand),
		WithWorkerOutput(&stdout, stderr),
		WithSignalTeardown(false),
	)
	t.Cleanup(func() { client.Close() })
	return client, stderr, []string{main}
}

func TestClient(t *testing.T) {
	t.Run("spawns_lazily_and_reports_from_the_worker", func(t *testing.T) {
		client, stderr, roots := newTestClient(t)
		assert.False(t, client.Running())

		require.NoError(t, client.Update(UpdateMessage{RootNames: roots}))
		assert.True(t, client.Running())

		require.Eventually(t, func() bool {
			return strings.Contains(stderr.String(), "ERROR in")
		}, 20*time.Second, 20*time.Millisecond)
		assert.Contains(t, stderr.String(), "main.ts")

		require.NoError(t, client.Close())
		assert.False(t, client.Running())
		assert.ErrorIs(t, client.Update(UpdateMessage{RootNames: roots}), ErrClientClosed)
	})

	t.Run("restarts_a_crashed_worker", func(t *testing.T) {
		client, stderr, roots := newTestClient(t)
		require.NoError(t, client.Update(UpdateMessage{RootNames: roots}))
		require.Eventually(t, func() bool {
			return strings.Contains(stderr.String(), "ERROR in")
		}, 20*time.Second, 20*time.Millisecond)

		client.mu.Lock()
		proc := client.proc
		client.mu.Unlock()
		require.NoError(t, proc.cmd.Process.Kill())
		<-proc.done

		require.NoError(t, client.Update(UpdateMessage{RootNames: roots}))
		assert.Equal(t, 1, client.Restarts())
		require.Eventually(t, func() bool {
			return strings.Count(stderr.String(), "ERROR in") >= 2
		}, 20*time.Second, 20*time.Millisecond)
	})
}
