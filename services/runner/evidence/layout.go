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
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultIgnorePatterns are excluded from the structure scan. Entries are
// matched against the base name with filepath.Match.
var DefaultIgnorePatterns = []string{
	"__pycache__",
	".git",
	".venv",
	"node_modules",
	".pytest_cache",
	".mypy_cache",
	"*.pyc",
	".DS_Store",
	"vendor",
}

// maxModules caps the module map.
const maxModules = 200

// scanStructure builds the directory tree of root down to maxDepth levels.
//
// The root is depth 0; its children are listed while depth < maxDepth.
// Unreadable directories appear with no children.
func scanStructure(ctx context.Context, root string, maxDepth int, ignore []string) (*Node, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	node := &Node{Name: filepath.Base(root), Type: "directory", Size: info.Size()}
	if err := fillChildren(ctx, node, root, 0, maxDepth, ignore); err != nil {
		return nil, err
	}
	return node, nil
}

func fillChildren(ctx context.Context, node *Node, dir string, depth, maxDepth int, ignore []string) error {
	if depth >= maxDepth {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	for _, e := range entries {
		if ignored(e.Name(), ignore) {
			continue
		}
		full := filepath.Join(dir, e.Name())
		if e.IsDir() {
			child := &Node{Name: e.Name(), Type: "directory"}
			if err := fillChildren(ctx, child, full, depth+1, maxDepth, ignore); err != nil {
				return err
			}
			node.Children = append(node.Children, child)
			continue
		}
		child := &Node{Name: e.Name(), Type: "file"}
		if info, err := e.Info(); err == nil {
			child.Size = info.Size()
		}
		node.Children = append(node.Children, child)
	}
	return nil
}

func ignored(name string, patterns []string) bool {
	for _, p := range patterns {
		if p == name {
			return true
		}
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}

// mapModules finds Go package directories and Python packages.
//
// Description:
//
//	A Go module entry is a directory holding at least one non-test .go
//	file; its name is the import path when goModule is known. A Python
//	entry is a directory holding __init__.py; its name is the dotted path.
//	Results are sorted by path and capped at maxModules.
func mapModules(ctx context.Context, root, goModule string) ([]Module, error) {
	type dirStat struct {
		goFiles int
		pyFiles int
		pyInit  bool
	}
	dirs := make(map[string]*dirStat)

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p != root && DefaultSkipDirectories[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		dir := relPath(root, filepath.Dir(p))
		name := d.Name()
		st := dirs[dir]
		if st == nil {
			st = &dirStat{}
			dirs[dir] = st
		}
		switch {
		case strings.HasSuffix(name, ".go") && !strings.HasSuffix(name, "_test.go"):
			st.goFiles++
		case name == "__init__.py":
			st.pyInit = true
			st.pyFiles++
		case strings.HasSuffix(name, ".py"):
			st.pyFiles++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(dirs))
	for k := range dirs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var modules []Module
	for _, dir := range keys {
		st := dirs[dir]
		if st.goFiles > 0 {
			name := dir
			if goModule != "" {
				name = goModule
				if dir != "." {
					name = path.Join(goModule, dir)
				}
			}
			modules = append(modules, Module{Name: name, Path: dir, Files: st.goFiles, Language: "go"})
		}
		if st.pyInit {
			name := strings.ReplaceAll(dir, "/", ".")
			if dir == "." {
				name = filepath.Base(root)
			}
			modules = append(modules, Module{
				Name:     name,
				Path:     dir,
				Files:    st.pyFiles,
				Language: "python",
			})
		}
		if len(modules) >= maxModules {
			break
		}
	}
	return modules, nil
}
