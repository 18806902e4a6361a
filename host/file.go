// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"io/fs"
	"path"
	"time"

	"github.com/buke/esbuild-plugin-ng-go/syntax"
	"github.com/cespare/xxhash"
)

// VirtualFile is the content of one file as known to the compiler.
type VirtualFile struct {
	path    string
	content string
	mtime   time.Time
	hash    uint64

	sourceFile *syntax.SourceFile
}

func newVirtualFile(p, content string) *VirtualFile {
	return &VirtualFile{
		path:    p,
		content: content,
		mtime:   time.Now(),
		hash:    xxhash.Sum64String(content),
	}
}

func (f *VirtualFile) Path() string       { return f.path }
func (f *VirtualFile) Content() string    { return f.content }
func (f *VirtualFile) ModTime() time.Time { return f.mtime }
func (f *VirtualFile) Hash() uint64       { return f.hash }

// SourceFile returns the parsed tree of the file, parsing it on first use.
func (f *VirtualFile) SourceFile() *syntax.SourceFile {
	if f.sourceFile == nil {
		f.sourceFile = syntax.Parse(f.path, f.content)
	}
	return f.sourceFile
}

// VirtualDirectory is synthesized for every ancestor of a virtual file.
type VirtualDirectory struct {
	path  string
	mtime time.Time
}

func (d *VirtualDirectory) Path() string       { return d.path }
func (d *VirtualDirectory) ModTime() time.Time { return d.mtime }

// fileInfo adapts virtual entries to fs.FileInfo.
type fileInfo struct {
	name  string
	size  int64
	mtime time.Time
	dir   bool
}

func (i fileInfo) Name() string       { return i.name }
func (i fileInfo) Size() int64        { return i.size }
func (i fileInfo) ModTime() time.Time { return i.mtime }
func (i fileInfo) IsDir() bool        { return i.dir }
func (i fileInfo) Sys() any           { return nil }

func (i fileInfo) Mode() fs.FileMode {
	if i.dir {
		return fs.ModeDir | 0o755
	}
	return 0o644
}

func (f *VirtualFile) info() fs.FileInfo {
	return fileInfo{name: path.Base(f.path), size: int64(len(f.content)), mtime: f.mtime}
}

func (d *VirtualDirectory) info() fs.FileInfo {
	return fileInfo{name: path.Base(d.path), mtime: d.mtime, dir: true}
}

// pathSet is an insertion ordered set of paths.
type pathSet struct {
	index map[string]struct{}
	order []string
}

func (s *pathSet) add(p string) {
	if s.index == nil {
		s.index = make(map[string]struct{})
	}
	if _, ok := s.index[p]; ok {
		return
	}
	s.index[p] = struct{}{}
	s.order = append(s.order, p)
}

func (s *pathSet) has(p string) bool {
	_, ok := s.index[p]
	return ok
}

func (s *pathSet) list() []string {
	return append([]string(nil), s.order...)
}

func (s *pathSet) reset() {
	s.index = nil
	s.order = nil
}
