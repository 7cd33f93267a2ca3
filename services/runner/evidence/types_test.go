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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBundle_TestCount(t *testing.T) {
	tests := []struct {
		name   string
		bundle *Bundle
		want   int
	}{
		{"nil bundle", nil, 0},
		{"pytest summary", &Bundle{Verification: map[string]string{VerifyTestCollect: "a::b\n\n12 tests collected in 0.3s"}}, 12},
		{"node ids only", &Bundle{Verification: map[string]string{VerifyTestCollect: "a.py::t1\na.py::t2\n"}}, 2},
		{"go list", &Bundle{Verification: map[string]string{VerifyTestCollect: "TestA\nTestB\nExampleC\nok  \tx\t0.1s"}}, 3},
		{"symbol fallback", &Bundle{
			Verification: map[string]string{VerifyTestCollect: "ERROR: exit status 1"},
			Symbols:      SymbolTable{Tests: []Symbol{{Name: "test_a"}, {Name: "test_b"}}},
		}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.bundle.TestCount())
		})
	}
}

func TestBundle_CoveragePercent(t *testing.T) {
	py := &Bundle{Verification: map[string]string{VerifyCoverageReport: "Name Stmts Miss Cover\nTOTAL   100   13   87%\n"}}
	v, ok := py.CoveragePercent()
	assert.True(t, ok)
	assert.InDelta(t, 87.0, v, 0.001)

	goOut := &Bundle{Verification: map[string]string{VerifyCoverageReport: "ok a 0.1s coverage: 60.0% of statements\nok b 0.1s coverage: 80.0% of statements\n"}}
	v, ok = goOut.CoveragePercent()
	assert.True(t, ok)
	assert.InDelta(t, 70.0, v, 0.001)

	none := &Bundle{Verification: map[string]string{VerifyCoverageReport: CoverageSkipped}}
	_, ok = none.CoveragePercent()
	assert.False(t, ok)
}

func TestBundle_NilSafeHelpers(t *testing.T) {
	var b *Bundle
	assert.False(t, b.HasStructure())
	assert.False(t, b.HasDependencies())
	assert.Zero(t, b.DependencyCount())
	assert.Nil(t, b.TopLevelItems())
	assert.Nil(t, b.ModuleNames())
}

func TestParseRequirements_Markers(t *testing.T) {
	items := parseRequirements("numpy~=1.26 ; python_version >= '3.9'\n--index-url https://x\nuvicorn[standard]>=0.20\n")
	require.Len(t, items, 2)
	assert.Equal(t, "numpy", items[0].Name)
	assert.Equal(t, "~=", items[0].Operator)
	assert.Equal(t, "1.26", items[0].Version)
	assert.Equal(t, "uvicorn[standard]", items[1].Name)
}

func TestParseGoMod_Invalid(t *testing.T) {
	_, _, err := parseGoMod([]byte("module \nrequire (((("))
	assert.Error(t, err)
}

func TestWalkSourceFiles_LimitAndSkips(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a")
	writeFile(t, root, "b.py", "x = 1")
	writeFile(t, root, "c.txt", "no")
	writeFile(t, root, "vendor/v.go", "package v")
	writeFile(t, root, "sub/d.rs", "fn main() {}")

	all, err := WalkSourceFiles(context.Background(), root, nil, 0)
	require.NoError(t, err)
	var rels []string
	for _, p := range all {
		rels = append(rels, relPath(root, p))
	}
	assert.Equal(t, []string{"a.go", "b.py", "sub/d.rs"}, rels)

	limited, err := WalkSourceFiles(context.Background(), root, nil, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestLatestModTime(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a")
	writeFile(t, root, "b.go", "package a")

	newer := time.Now().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(filepath.Join(root, "b.go"), newer, newer))

	got, err := LatestModTime(context.Background(), root, 100)
	require.NoError(t, err)
	assert.Equal(t, newer.UnixNano(), got)

	empty, err := LatestModTime(context.Background(), t.TempDir(), 100)
	require.NoError(t, err)
	assert.Zero(t, empty)
}

func TestDetectEcosystem(t *testing.T) {
	goRoot := t.TempDir()
	writeFile(t, goRoot, "go.mod", "module x\n")
	assert.Equal(t, EcosystemGo, DetectEcosystem(goRoot))

	pyRoot := t.TempDir()
	writeFile(t, pyRoot, "pyproject.toml", "[project]\n")
	assert.Equal(t, EcosystemPython, DetectEcosystem(pyRoot))

	assert.Equal(t, EcosystemNone, DetectEcosystem(t.TempDir()))
}

func TestTruncateTail_StartsOnRune(t *testing.T) {
	s := "€" + strings.Repeat("x", 10)
	got := truncateTail(s, 11)
	assert.Equal(t, "..."+strings.Repeat("x", 10), got)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, s, truncateTail(s, 13))
}

func TestReadBounded_DropsPartialRune(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.go")
	require.NoError(t, os.WriteFile(path, []byte("ab€cd"), 0644))

	content, size, err := readBounded(path, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(7), size)
	assert.Equal(t, "ab", content)

	content, _, err = readBounded(path, 5)
	require.NoError(t, err)
	assert.Equal(t, "ab€", content)
}
