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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/python"
)

// maxSymbolFileBytes skips generated or vendored giants.
const maxSymbolFileBytes = 1 << 20

// extractSymbols parses up to maxFiles Go and Python files under root.
//
// Description:
//
//	Go: type specs are classes, functions and methods are functions, and
//	Test* functions in _test.go files are tests. Python: class definitions
//	are classes, function definitions are functions, and test_* functions
//	are tests. Files that fail to parse are skipped.
//
// Thread Safety: Creates its own parser per file; safe for concurrent use.
func extractSymbols(ctx context.Context, root string, maxFiles int, logger *slog.Logger) (SymbolTable, error) {
	paths, err := WalkSourceFiles(ctx, root, analyzedSet(), maxFiles)
	if err != nil {
		return SymbolTable{}, err
	}

	var table SymbolTable
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return table, err
		}
		info, err := os.Stat(p)
		if err != nil || info.Size() > maxSymbolFileBytes {
			continue
		}
		content, err := os.ReadFile(p)
		if err != nil {
			continue
		}

		rel := relPath(root, p)
		lang := analyzedExtensions[filepath.Ext(p)]
		syms, err := parseSymbols(ctx, lang, rel, content)
		if err != nil {
			logger.Debug("symbol extraction failed",
				slog.String("file", rel),
				slog.String("error", err.Error()),
			)
			continue
		}

		fs := FileSymbols{Path: rel, Language: lang}
		for _, s := range syms {
			switch s.Kind {
			case KindClass:
				table.Classes = append(table.Classes, s)
				fs.Classes = append(fs.Classes, s.Name)
			case KindTest:
				table.Tests = append(table.Tests, s)
				fs.Functions = append(fs.Functions, s.Name)
			default:
				table.Functions = append(table.Functions, s)
				fs.Functions = append(fs.Functions, s.Name)
			}
		}
		table.Files = append(table.Files, fs)
	}

	table.Summary = SymbolSummary{
		FilesAnalyzed:  len(table.Files),
		TotalClasses:   len(table.Classes),
		TotalFunctions: len(table.Functions),
		TotalTests:     len(table.Tests),
	}
	return table, nil
}

// parseSymbols parses one file with the grammar for lang.
func parseSymbols(ctx context.Context, lang, file string, content []byte) ([]Symbol, error) {
	parser := sitter.NewParser()

	switch lang {
	case "go":
		parser.SetLanguage(golang.GetLanguage())
	case "python":
		parser.SetLanguage(python.GetLanguage())
	default:
		return nil, fmt.Errorf("unsupported language %q", lang)
	}

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", file, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return nil, fmt.Errorf("parse %s: nil root node", file)
	}

	if lang == "go" {
		return goSymbols(root, content, file), nil
	}
	var out []Symbol
	pythonSymbols(root, content, file, &out)
	return out, nil
}

func goSymbols(root *sitter.Node, content []byte, file string) []Symbol {
	isTestFile := strings.HasSuffix(file, "_test.go")
	var out []Symbol

	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		switch child.Type() {
		case "function_declaration":
			nameNode := child.ChildByFieldName("name")
			if nameNode == nil {
				continue
			}
			name := nameNode.Content(content)
			kind := KindFunction
			if isTestFile && strings.HasPrefix(name, "Test") {
				kind = KindTest
			}
			out = append(out, Symbol{Name: name, File: file, Line: line(child), Kind: kind})

		case "method_declaration":
			nameNode := child.ChildByFieldName("name")
			if nameNode == nil {
				continue
			}
			name := nameNode.Content(content)
			if recv := receiverType(child, content); recv != "" {
				name = recv + "." + name
			}
			out = append(out, Symbol{Name: name, File: file, Line: line(child), Kind: KindFunction})

		case "type_declaration":
			for j := 0; j < int(child.NamedChildCount()); j++ {
				spec := child.NamedChild(j)
				if spec.Type() != "type_spec" && spec.Type() != "type_alias" {
					continue
				}
				nameNode := spec.ChildByFieldName("name")
				if nameNode == nil {
					continue
				}
				out = append(out, Symbol{Name: nameNode.Content(content), File: file, Line: line(spec), Kind: KindClass})
			}
		}
	}
	return out
}

// receiverType returns the bare receiver type name of a method.
func receiverType(method *sitter.Node, content []byte) string {
	recv := method.ChildByFieldName("receiver")
	if recv == nil {
		return ""
	}
	for i := 0; i < int(recv.NamedChildCount()); i++ {
		param := recv.NamedChild(i)
		if param.Type() != "parameter_declaration" {
			continue
		}
		typ := param.ChildByFieldName("type")
		if typ == nil {
			continue
		}
		name := strings.TrimPrefix(typ.Content(content), "*")
		if i := strings.Index(name, "["); i >= 0 {
			name = name[:i]
		}
		return name
	}
	return ""
}

func pythonSymbols(node *sitter.Node, content []byte, file string, out *[]Symbol) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "class_definition":
			if nameNode := child.ChildByFieldName("name"); nameNode != nil {
				*out = append(*out, Symbol{Name: nameNode.Content(content), File: file, Line: line(child), Kind: KindClass})
			}
		case "function_definition":
			if nameNode := child.ChildByFieldName("name"); nameNode != nil {
				name := nameNode.Content(content)
				kind := KindFunction
				if isPythonTest(name, file) {
					kind = KindTest
				}
				*out = append(*out, Symbol{Name: name, File: file, Line: line(child), Kind: kind})
			}
		}
		pythonSymbols(child, content, file, out)
	}
}

func isPythonTest(name, file string) bool {
	if strings.HasPrefix(name, "test_") {
		return true
	}
	return strings.HasPrefix(name, "test") && strings.Contains(strings.ToLower(file), "test")
}

func line(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}
