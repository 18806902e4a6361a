// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Package host provides the virtual compiler host: an in-memory overlay over
// a delegate filesystem that tracks which files changed since the last
// successful compilation.
package host

import (
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/buke/esbuild-plugin-ng-go/syntax"
	"github.com/spf13/afero"
)

var driveRoot = regexp.MustCompile(`^\w:/`)

// Host is an overlay filesystem for the compiler.
//
// Entries in the overlay are either live files or tombstones. A tombstone
// is left by Invalidate and makes the next read miss the overlay and go to
// the delegate again, which is different from a path never seen at all.
type Host struct {
	mu sync.Mutex

	delegate   afero.Fs
	basePath   string
	currentDir string
	newLine    string
	cache      bool

	files       map[string]*VirtualFile
	directories map[string]*VirtualDirectory

	changedFiles pathSet
	changedDirs  pathSet
}

// Option configures a Host.
type Option func(*Host)

// WithCurrentDirectory sets the directory dot-relative paths resolve
// against. It defaults to the base path.
func WithCurrentDirectory(dir string) Option {
	return func(h *Host) {
		h.currentDir = filepath.ToSlash(dir)
	}
}

// WithNewLine sets the newline sequence reported to the compiler.
func WithNewLine(newLine string) Option {
	return func(h *Host) {
		h.newLine = newLine
	}
}

// New creates a host layered over delegate. A nil delegate uses the
// operating system filesystem.
func New(delegate afero.Fs, basePath string, opts ...Option) *Host {
	if delegate == nil {
		delegate = afero.NewOsFs()
	}
	basePath = filepath.ToSlash(basePath)
	h := &Host{
		delegate:    delegate,
		basePath:    basePath,
		currentDir:  basePath,
		newLine:     "\n",
		files:       make(map[string]*VirtualFile),
		directories: make(map[string]*VirtualDirectory),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// EnableCaching makes reads that fall through to the delegate populate the
// overlay.
func (h *Host) EnableCaching() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cache = true
}

// Delegate returns the underlying filesystem.
func (h *Host) Delegate() afero.Fs {
	return h.delegate
}

// Resolve normalizes p to forward slashes and makes it absolute. Dot
// relative paths resolve against the current directory, rooted and drive
// rooted paths are returned as is, anything else resolves against the base
// path.
func (h *Host) Resolve(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	switch {
	case strings.HasPrefix(p, "."):
		return path.Join(h.currentDir, p)
	case strings.HasPrefix(p, "/") || driveRoot.MatchString(p):
		return p
	default:
		return path.Join(h.basePath, p)
	}
}

// setFileContent stores content for p and records p and every ancestor
// directory not yet known as changed. The caller holds h.mu.
func (h *Host) setFileContent(p, content string) *VirtualFile {
	// Step 1: Replace the file entry, which drops its cached syntax tree
	f := newVirtualFile(p, content)
	h.files[p] = f

	// Step 2: Synthesize the ancestor directories the overlay does not know yet
	for dir := path.Dir(p); ; dir = path.Dir(dir) {
		if _, ok := h.directories[dir]; ok {
			break
		}
		h.directories[dir] = &VirtualDirectory{path: dir, mtime: f.mtime}
		h.changedDirs.add(dir)
	}
	// Step 3: Record the file in the change set
	h.changedFiles.add(p)
	return f
}

// WriteFile stores content in the overlay. The delegate is never written.
func (h *Host) WriteFile(p, content string) {
	p = h.Resolve(p)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.setFileContent(p, content)
}

// ReadFile returns the overlay content of p, falling back to the delegate.
func (h *Host) ReadFile(p string) (string, error) {
	f, err := h.readFile(h.Resolve(p))
	if err != nil {
		return "", err
	}
	return f.content, nil
}

func (h *Host) readFile(p string) (*VirtualFile, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Step 1: Serve live overlay entries
	if f := h.files[p]; f != nil {
		return f, nil
	}

	// Step 2: Fall back to the delegate, caching the content when enabled
	data, err := afero.ReadFile(h.delegate, filepath.FromSlash(p))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	if h.cache {
		return h.setFileContent(p, string(data)), nil
	}
	return newVirtualFile(p, string(data)), nil
}

// Invalidate tombstones the overlay entry of p and marks it changed. Paths
// never seen by the overlay are left alone.
func (h *Host) Invalidate(p string) {
	p = h.Resolve(p)
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.files[p]; ok {
		h.files[p] = nil
		h.changedFiles.add(p)
	}
}

// FileExists reports whether p is a live overlay file or, when delegate is
// set, exists on the delegate filesystem.
func (h *Host) FileExists(p string, delegate bool) bool {
	p = h.Resolve(p)
	h.mu.Lock()
	live := h.files[p] != nil
	h.mu.Unlock()
	if live {
		return true
	}
	if !delegate {
		return false
	}
	info, err := h.delegate.Stat(filepath.FromSlash(p))
	return err == nil && !info.IsDir()
}

// DirectoryExists reports whether p is a synthesized directory or, when
// delegate is set, a directory on the delegate filesystem.
func (h *Host) DirectoryExists(p string, delegate bool) bool {
	p = h.Resolve(p)
	h.mu.Lock()
	_, known := h.directories[p]
	h.mu.Unlock()
	if known {
		return true
	}
	if !delegate {
		return false
	}
	ok, err := afero.DirExists(h.delegate, filepath.FromSlash(p))
	return err == nil && ok
}

// GetFiles lists the live overlay files directly inside dir.
func (h *Host) GetFiles(dir string) []string {
	dir = h.Resolve(dir)
	h.mu.Lock()
	defer h.mu.Unlock()

	var names []string
	for p, f := range h.files {
		if f != nil && path.Dir(p) == dir {
			names = append(names, path.Base(p))
		}
	}
	sort.Strings(names)
	return names
}

// GetDirectories lists the subdirectories of dir from the delegate together
// with the synthesized overlay directories. A delegate error counts as an
// empty listing since overlay directories may not exist on disk yet.
func (h *Host) GetDirectories(dir string) []string {
	dir = h.Resolve(dir)

	seen := make(map[string]bool)
	var names []string
	if entries, err := afero.ReadDir(h.delegate, filepath.FromSlash(dir)); err == nil {
		for _, e := range entries {
			if e.IsDir() && !seen[e.Name()] {
				seen[e.Name()] = true
				names = append(names, e.Name())
			}
		}
	}

	h.mu.Lock()
	for p := range h.directories {
		if p != dir && path.Dir(p) == dir && !seen[path.Base(p)] {
			seen[path.Base(p)] = true
			names = append(names, path.Base(p))
		}
	}
	h.mu.Unlock()

	sort.Strings(names)
	return names
}

// GetSourceFile returns the parsed tree of p. With caching the tree is kept
// until the content is written again.
func (h *Host) GetSourceFile(p string) (*syntax.SourceFile, error) {
	f, err := h.readFile(h.Resolve(p))
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return f.SourceFile(), nil
}

// File returns the live overlay entry of p without touching the delegate.
func (h *Host) File(p string) (*VirtualFile, bool) {
	p = h.Resolve(p)
	h.mu.Lock()
	defer h.mu.Unlock()
	f := h.files[p]
	return f, f != nil
}

// Hash returns the content hash of a live overlay file.
func (h *Host) Hash(p string) (uint64, bool) {
	f, ok := h.File(p)
	if !ok {
		return 0, false
	}
	return f.hash, true
}

// Stat describes p from the overlay, falling back to the delegate.
func (h *Host) Stat(p string) (fs.FileInfo, error) {
	p = h.Resolve(p)
	h.mu.Lock()
	if f := h.files[p]; f != nil {
		h.mu.Unlock()
		return f.info(), nil
	}
	if d, ok := h.directories[p]; ok {
		h.mu.Unlock()
		return d.info(), nil
	}
	h.mu.Unlock()
	return h.delegate.Stat(filepath.FromSlash(p))
}

// ChangedFilePaths returns the files touched since the last reset, in the
// order they were first touched.
func (h *Host) ChangedFilePaths() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.changedFiles.list()
}

// ChangedDirectoryPaths returns the directories synthesized since the last
// reset.
func (h *Host) ChangedDirectoryPaths() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.changedDirs.list()
}

// IsChanged reports whether p is in the change set.
func (h *Host) IsChanged(p string) bool {
	p = h.Resolve(p)
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.changedFiles.has(p)
}

// Dirty reports whether any file changed since the last reset.
func (h *Host) Dirty() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.changedFiles.order) > 0
}

// ResetChangedFileTracker clears the change set. Only call it after an
// emit that was not skipped and produced no errors.
func (h *Host) ResetChangedFileTracker() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.changedFiles.reset()
	h.changedDirs.reset()
}

// DenormalizePath converts p to the platform separator.
func (h *Host) DenormalizePath(p string) string {
	return filepath.FromSlash(p)
}

func (h *Host) CurrentDirectory() string {
	return h.currentDir
}

func (h *Host) BasePath() string {
	return h.basePath
}

func (h *Host) UseCaseSensitiveFileNames() bool {
	return runtime.GOOS != "windows" && runtime.GOOS != "darwin"
}

func (h *Host) CanonicalFileName(p string) string {
	if h.UseCaseSensitiveFileNames() {
		return p
	}
	return strings.ToLower(p)
}

func (h *Host) NewLine() string {
	return h.newLine
}
