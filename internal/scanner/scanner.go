// Package scanner finds the Python modules under a set of paths. It honours
// .pystructignore files with gitignore style patterns and reads module
// sources through an afs storage service.
package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/viant/afs"

	"github.com/l3aro/pystruct/pkg/symbols"
)

// FileInfo represents a discovered Python module.
type FileInfo struct {
	Path     string // Relative path from the scanned root, slash separated
	FullPath string // Absolute path
	Module   string // Dotted module name derived from Path
	Size     int64  // File size in bytes
	Stub     bool   // A .pyi type stub
}

// Options configures the scanner behavior.
type Options struct {
	SkipHidden      bool     // Skip hidden files and directories (starting with .)
	FollowSymlinks  bool     // Follow file symlinks that stay inside the root
	IncludeStubs    bool     // Also return .pyi stubs
	DefaultExcludes []string // Directory names never descended into
	IgnoreFileName  string   // Name of the ignore file (default: .pystructignore)
}

// DefaultOptions returns scanner options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		SkipHidden:     true,
		IgnoreFileName: ".pystructignore",
		DefaultExcludes: []string{
			"__pycache__",
			".git",
			".hg",
			".svn",
			".venv",
			"venv",
			"env",
			".tox",
			".nox",
			".mypy_cache",
			".pytest_cache",
			".ruff_cache",
			"site-packages",
			"node_modules",
			"build",
			"dist",
		},
	}
}

// Scanner walks file trees and loads module sources.
type Scanner struct {
	opts Options
	fs   afs.Service
}

// New creates a new Scanner with the given options.
func New(opts Options) *Scanner {
	if opts.IgnoreFileName == "" {
		opts.IgnoreFileName = DefaultOptions().IgnoreFileName
	}
	return &Scanner{opts: opts, fs: afs.New()}
}

// Scan returns the Python modules under root sorted by path. A root naming
// a single file yields that file whatever its extension.
func (s *Scanner) Scan(root string) ([]FileInfo, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}
	if !info.IsDir() {
		name := filepath.Base(absRoot)
		return []FileInfo{{
			Path:     name,
			FullPath: absRoot,
			Module:   symbols.ModuleName(name),
			Size:     info.Size(),
			Stub:     strings.HasSuffix(name, ".pyi"),
		}}, nil
	}

	patterns, err := s.loadIgnorePatterns(absRoot, "")
	if err != nil {
		return nil, fmt.Errorf("loading ignore patterns: %w", err)
	}

	var files []FileInfo
	err = filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// unreadable entries are skipped, the walk goes on
			return nil
		}
		rel, err := filepath.Rel(absRoot, p)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if s.opts.SkipHidden && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if s.isDefaultExcluded(d.Name()) || ignored(rel, true, patterns) {
				return filepath.SkipDir
			}
			nested, err := s.loadIgnorePatterns(p, rel)
			if err == nil {
				patterns = append(patterns, nested...)
			}
			return nil
		}
		if !s.isSource(d.Name()) || ignored(rel, false, patterns) {
			return nil
		}

		info, ok := s.fileInfo(absRoot, p, d)
		if !ok {
			return nil
		}
		files = append(files, FileInfo{
			Path:     rel,
			FullPath: p,
			Module:   symbols.ModuleName(rel),
			Size:     info.Size(),
			Stub:     strings.HasSuffix(d.Name(), ".pyi"),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// fileInfo stats a regular file or a symlink allowed by the options
func (s *Scanner) fileInfo(absRoot, p string, d fs.DirEntry) (os.FileInfo, bool) {
	if d.Type()&os.ModeSymlink == 0 {
		info, err := d.Info()
		return info, err == nil
	}
	if !s.opts.FollowSymlinks {
		return nil, false
	}
	real, err := filepath.EvalSymlinks(p)
	if err != nil {
		return nil, false
	}
	if !strings.HasPrefix(real, absRoot+string(filepath.Separator)) {
		return nil, false
	}
	info, err := os.Stat(real)
	if err != nil || info.IsDir() {
		return nil, false
	}
	return info, true
}

func (s *Scanner) isSource(name string) bool {
	switch path.Ext(name) {
	case ".py":
		return true
	case ".pyi":
		return s.opts.IncludeStubs
	}
	return false
}

// isDefaultExcluded checks if the name matches default exclusion patterns.
func (s *Scanner) isDefaultExcluded(name string) bool {
	for _, exclude := range s.opts.DefaultExcludes {
		if strings.EqualFold(name, exclude) {
			return true
		}
	}
	return false
}

// loadIgnorePatterns loads the ignore file of dir. rel is dir relative to the root.
func (s *Scanner) loadIgnorePatterns(dir, rel string) ([]IgnorePattern, error) {
	f, err := os.Open(filepath.Join(dir, s.opts.IgnoreFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	return ParseIgnoreFile(f, rel)
}

// Read loads the source of a scanned module
func (s *Scanner) Read(ctx context.Context, f FileInfo) ([]byte, error) {
	data, err := s.fs.DownloadWithURL(ctx, f.FullPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.Path, err)
	}
	return data, nil
}

// Scan is a convenience function that scans a directory with default options.
func Scan(root string) ([]FileInfo, error) {
	return New(DefaultOptions()).Scan(root)
}
