// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package watch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeString(t *testing.T) {
	testCases := []struct {
		eventType EventType
		expected  string
	}{
		{EventTypeCreated, "created"},
		{EventTypeModified, "modified"},
		{EventTypeDeleted, "deleted"},
		{EventTypeRenamed, "renamed"},
		{EventType(42), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.eventType.String())
		})
	}
}

func TestNewFileWatcher(t *testing.T) {
	watcher, err := NewFileWatcher(DefaultDelay)
	require.NoError(t, err)
	defer watcher.Stop()

	assert.NotNil(t, watcher.watcher)
	assert.NotNil(t, watcher.debouncer)
	assert.Empty(t, watcher.filters)
	assert.Empty(t, watcher.handlers)
}

func TestDebouncer(t *testing.T) {
	t.Run("batches_and_deduplicates", func(t *testing.T) {
		d := NewDebouncer(20 * time.Millisecond)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go d.Run(ctx)

		d.Add(ChangeEvent{Type: EventTypeModified, Path: "/b.ts"})
		d.Add(ChangeEvent{Type: EventTypeCreated, Path: "/a.ts"})
		d.Add(ChangeEvent{Type: EventTypeDeleted, Path: "/b.ts"})

		select {
		case events := <-d.Output():
			require.Len(t, events, 2)
			assert.Equal(t, "/a.ts", events[0].Path)
			assert.Equal(t, "/b.ts", events[1].Path)
			assert.Equal(t, EventTypeDeleted, events[1].Type, "the latest event of a path wins")
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for a batch")
		}
	})

	t.Run("quiet_period_restarts", func(t *testing.T) {
		d := NewDebouncer(50 * time.Millisecond)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go d.Run(ctx)

		for i := 0; i < 3; i++ {
			d.Add(ChangeEvent{Path: "/a.ts"})
			time.Sleep(10 * time.Millisecond)
		}
		select {
		case events := <-d.Output():
			assert.Len(t, events, 1)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for a batch")
		}
		select {
		case events := <-d.Output():
			t.Fatalf("expected a single batch, got another: %v", events)
		case <-time.After(100 * time.Millisecond):
		}
	})
}

func TestFilters(t *testing.T) {
	assert.True(t, SourceFilter("src/app/app.component.ts"))
	assert.True(t, SourceFilter("src/app/app.component.SCSS"))
	assert.True(t, SourceFilter("src/locale/messages.fr.xlf"))
	assert.True(t, SourceFilter("src/app"), "directories have no extension")
	assert.False(t, SourceFilter("src/app/app.component.ts~"))
	assert.False(t, SourceFilter("logo.png"))

	assert.False(t, NoNodeModulesFilter("/p/node_modules/@angular/core/index.d.ts"))
	assert.True(t, NoNodeModulesFilter("/p/src/node_modules_like.ts"))

	assert.False(t, NoGitFilter("/p/.git/HEAD"))
	assert.True(t, NoGitFilter("/p/.gitignore"))

	dir := t.TempDir()
	noDist := NoOutputFilter(filepath.Join(dir, "dist"))
	assert.False(t, noDist(filepath.Join(dir, "dist")))
	assert.False(t, noDist(filepath.Join(dir, "dist", "main.js")))
	assert.True(t, noDist(filepath.Join(dir, "dist-src", "main.ts")))
	assert.True(t, noDist(filepath.Join(dir, "src", "main.ts")))
}

func TestPaths(t *testing.T) {
	assert.Equal(t, []string{"/a.ts", "/b.ts"}, Paths([]ChangeEvent{{Path: "/a.ts"}, {Path: "/b.ts"}}))
	assert.Empty(t, Paths(nil))
}

func TestFileWatcherReportsChanges(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src", "node_modules"), 0o755))

	watcher, err := NewFileWatcher(30*time.Millisecond, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	watcher.AddFilter(SourceFilter)
	watcher.AddFilter(NoNodeModulesFilter)

	batches := make(chan []ChangeEvent, 10)
	watcher.AddHandler(func(events []ChangeEvent) error {
		batches <- events
		return nil
	})
	watcher.AddHandler(func(events []ChangeEvent) error {
		return errors.New("handler errors are logged, not fatal")
	})
	require.NoError(t, watcher.AddRecursive(dir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watcher.Start(ctx)
	defer watcher.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "logo.png"), []byte("png"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "main.ts"), []byte("export {};"), 0o644))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case events := <-batches:
			for _, event := range events {
				assert.NotEqual(t, "logo.png", filepath.Base(event.Path), "filtered files are not reported")
				if filepath.Base(event.Path) == "main.ts" {
					return
				}
			}
		case <-deadline:
			t.Fatal("timed out waiting for main.ts")
		}
	}
}

func TestFileWatcherWatchesNewDirectories(t *testing.T) {
	dir := t.TempDir()
	watcher, err := NewFileWatcher(30 * time.Millisecond)
	require.NoError(t, err)

	batches := make(chan []ChangeEvent, 10)
	watcher.AddHandler(func(events []ChangeEvent) error {
		batches <- events
		return nil
	})
	require.NoError(t, watcher.AddRecursive(dir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watcher.Start(ctx)
	defer watcher.Stop()

	sub := filepath.Join(dir, "feature")
	require.NoError(t, os.Mkdir(sub, 0o755))
	// Give the watcher a moment to pick up the directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "feature.ts"), []byte("export {};"), 0o644))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case events := <-batches:
			for _, event := range events {
				if filepath.Base(event.Path) == "feature.ts" {
					return
				}
			}
		case <-deadline:
			t.Fatal("timed out waiting for feature.ts")
		}
	}
}

type recordingInvalidator struct {
	mu    sync.Mutex
	paths []string
}

func (r *recordingInvalidator) Invalidate(paths ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, paths...)
}

type rebuilderFunc func() api.BuildResult

func (f rebuilderFunc) Rebuild() api.BuildResult { return f() }

func TestRebuildHandler(t *testing.T) {
	inv := &recordingInvalidator{}
	var order []string
	rb := rebuilderFunc(func() api.BuildResult {
		inv.mu.Lock()
		order = append(order, "rebuild after "+inv.paths[len(inv.paths)-1])
		inv.mu.Unlock()
		return api.BuildResult{Errors: []api.Message{{Text: "boom"}}}
	})

	var reported []api.BuildResult
	handler := RebuildHandler(inv, rb, slog.New(slog.NewTextHandler(io.Discard, nil)), func(result api.BuildResult) {
		reported = append(reported, result)
	})

	err := handler([]ChangeEvent{{Path: "/p/a.ts"}, {Path: "/p/b.html"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"/p/a.ts", "/p/b.html"}, inv.paths)
	assert.Equal(t, []string{"rebuild after /p/b.html"}, order)
	require.Len(t, reported, 1)
	assert.Equal(t, "boom", reported[0].Errors[0].Text)

	// A nil logger and reporter are allowed.
	require.NoError(t, RebuildHandler(inv, rb, nil, nil)([]ChangeEvent{{Path: "/p/c.ts"}}))
}
