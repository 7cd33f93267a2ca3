// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package evidence

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// DefaultSourceExtensions are the file extensions sampled for cache keys.
var DefaultSourceExtensions = map[string]bool{
	".go":    true,
	".py":    true,
	".ts":    true,
	".tsx":   true,
	".js":    true,
	".jsx":   true,
	".java":  true,
	".kt":    true,
	".rs":    true,
	".c":     true,
	".cpp":   true,
	".h":     true,
	".hpp":   true,
	".rb":    true,
	".swift": true,
}

// DefaultSkipDirectories are never descended into while walking sources.
var DefaultSkipDirectories = map[string]bool{
	".git":          true,
	"node_modules":  true,
	"vendor":        true,
	".venv":         true,
	"__pycache__":   true,
	"target":        true,
	".idea":         true,
	".vscode":       true,
	"build":         true,
	"dist":          true,
	"bin":           true,
	".next":         true,
	"coverage":      true,
	".cache":        true,
	".pytest_cache": true,
	".mypy_cache":   true,
}

// analyzedExtensions are the languages the collector reads and parses.
var analyzedExtensions = map[string]string{
	".go": "go",
	".py": "python",
}

// errWalkLimit stops a walk once enough files were gathered.
var errWalkLimit = errors.New("walk limit reached")

// WalkSourceFiles returns up to limit source file paths under root.
//
// Description:
//
//	Walks in lexical order, skipping DefaultSkipDirectories and symlinks.
//	Paths are absolute when root is absolute. Unreadable entries are
//	skipped. A limit <= 0 means no limit.
//
// Inputs:
//
//	ctx - Checked between entries.
//	root - Directory to walk.
//	extensions - Accepted extensions. Nil means DefaultSourceExtensions.
//	limit - Maximum number of paths.
//
// Outputs:
//
//	[]string - Matching paths in walk order.
//	error - Non-nil on cancellation or if root cannot be walked.
func WalkSourceFiles(ctx context.Context, root string, extensions map[string]bool, limit int) ([]string, error) {
	if extensions == nil {
		extensions = DefaultSourceExtensions
	}

	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			if path == root {
				return err
			}
			slog.Debug("skipping inaccessible path",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			return nil
		}
		if d.IsDir() {
			if path != root && DefaultSkipDirectories[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if !extensions[filepath.Ext(path)] {
			return nil
		}
		paths = append(paths, path)
		if limit > 0 && len(paths) >= limit {
			return errWalkLimit
		}
		return nil
	})
	if err != nil && !errors.Is(err, errWalkLimit) {
		return paths, err
	}
	return paths, nil
}

// LatestModTime returns the newest mtime (Unix nanoseconds) among the first
// limit source files under root. Zero files yield 0.
func LatestModTime(ctx context.Context, root string, limit int) (int64, error) {
	paths, err := WalkSourceFiles(ctx, root, nil, limit)
	if err != nil {
		return 0, err
	}
	var latest int64
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		if mt := info.ModTime().UnixNano(); mt > latest {
			latest = mt
		}
	}
	return latest, nil
}

// readSourceFiles reads up to maxFiles analyzed source files.
//
// Each file's content is truncated to maxBytes. Read failures are recorded
// on the entry rather than returned.
func readSourceFiles(ctx context.Context, root string, maxFiles int, maxBytes int64) ([]SourceFile, error) {
	paths, err := WalkSourceFiles(ctx, root, analyzedSet(), maxFiles)
	if err != nil {
		return nil, err
	}

	files := make([]SourceFile, 0, len(paths))
	for _, p := range paths {
		rel := relPath(root, p)
		sf := SourceFile{Path: rel, Name: filepath.Base(p)}

		content, size, err := readBounded(p, maxBytes)
		if err != nil {
			sf.Error = err.Error()
			files = append(files, sf)
			continue
		}
		sf.Content = content
		sf.Size = size
		sf.Lines = strings.Count(content, "\n")
		if content != "" && !strings.HasSuffix(content, "\n") {
			sf.Lines++
		}
		files = append(files, sf)
	}
	return files, nil
}

func readBounded(path string, maxBytes int64) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", 0, err
	}
	var r io.Reader = f
	if maxBytes > 0 {
		r = io.LimitReader(f, maxBytes)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", info.Size(), err
	}
	if int64(len(data)) < info.Size() {
		data = trimPartialRune(data)
	}
	return string(data), info.Size(), nil
}

// trimPartialRune drops an incomplete UTF-8 sequence cut off at the end of data.
func trimPartialRune(data []byte) []byte {
	for i := len(data) - 1; i >= 0 && i >= len(data)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(data[i]) {
			continue
		}
		if !utf8.FullRune(data[i:]) {
			return data[:i]
		}
		break
	}
	return data
}

func analyzedSet() map[string]bool {
	set := make(map[string]bool, len(analyzedExtensions))
	for ext := range analyzedExtensions {
		set[ext] = true
	}
	return set
}

func relPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}
