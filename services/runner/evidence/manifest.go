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
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/mod/modfile"
)

// Manifest file names.
const (
	GoModManifest        = "go.mod"
	RequirementsManifest = "requirements.txt"
)

var requirementRe = regexp.MustCompile(`^([a-zA-Z0-9_.\-\[\]]+)\s*([><=!~]+)?\s*(.+)?`)

// parseManifests reads every known manifest present at root.
//
// Outputs:
//
//	Dependencies - Items from all manifests, in manifest order.
//	string - The Go module path from go.mod, or "".
//	error - Non-nil only if a manifest exists but cannot be parsed.
func parseManifests(root string) (Dependencies, string, error) {
	var deps Dependencies
	var goModule string
	var errs []error

	if data, err := os.ReadFile(filepath.Join(root, GoModManifest)); err == nil {
		items, module, perr := parseGoMod(data)
		if perr != nil {
			errs = append(errs, perr)
		} else {
			deps.Manifests = append(deps.Manifests, GoModManifest)
			deps.Items = append(deps.Items, items...)
			goModule = module
		}
	}

	if data, err := os.ReadFile(filepath.Join(root, RequirementsManifest)); err == nil {
		deps.Manifests = append(deps.Manifests, RequirementsManifest)
		deps.Items = append(deps.Items, parseRequirements(string(data))...)
	}

	return deps, goModule, errors.Join(errs...)
}

// parseGoMod extracts require directives from a go.mod file.
func parseGoMod(data []byte) ([]Dependency, string, error) {
	f, err := modfile.Parse(GoModManifest, data, nil)
	if err != nil {
		return nil, "", fmt.Errorf("parse go.mod: %w", err)
	}

	var module string
	if f.Module != nil {
		module = f.Module.Mod.Path
	}

	items := make([]Dependency, 0, len(f.Require))
	for _, req := range f.Require {
		items = append(items, Dependency{
			Name:     req.Mod.Path,
			Version:  req.Mod.Version,
			Raw:      req.Mod.Path + " " + req.Mod.Version,
			Indirect: req.Indirect,
			Manifest: GoModManifest,
		})
	}
	return items, module, nil
}

// parseRequirements parses a pip requirements file.
//
// Comments, blank lines and option lines (-r, -e, --index-url) are skipped.
// Environment markers after ';' are dropped.
func parseRequirements(content string) []Dependency {
	var items []Dependency
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if i := strings.Index(line, "#"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line == "" || strings.HasPrefix(line, "-") {
			continue
		}
		raw := line
		if i := strings.Index(line, ";"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		m := requirementRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		items = append(items, Dependency{
			Name:     m[1],
			Operator: m[2],
			Version:  strings.TrimSpace(m[3]),
			Raw:      raw,
			Manifest: RequirementsManifest,
		})
	}
	return items
}
