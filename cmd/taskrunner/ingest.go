// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/taskrunner/services/runner/retrieval"
	"github.com/spf13/cobra"
)

// ErrNoKnowledgeStore is returned by ingest when retrieval is disabled or
// the client could not be created.
var ErrNoKnowledgeStore = errors.New("knowledge store is not available")

// ingestExtensions are picked up when walking a directory. Files named
// explicitly are ingested whatever their extension.
var ingestExtensions = map[string]bool{
	".md":  true,
	".txt": true,
	".rst": true,
	".go":  true,
	".py":  true,
}

func newIngestCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest [file or directory...]",
		Short: "Split documents into chunks and add them to the knowledge store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(g.cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.weaviate == nil {
				return ErrNoKnowledgeStore
			}

			files, err := ingestTargets(args)
			if err != nil {
				return err
			}
			ing := retrieval.NewIngester(a.weaviate, a.cfg.Retrieval.ClassName, a.logger)
			if err := ing.EnsureSchema(cmd.Context()); err != nil {
				return fmt.Errorf("prepare knowledge store: %w", err)
			}

			w := cmd.OutOrStdout()
			total, failed := 0, 0
			for _, path := range files {
				data, err := os.ReadFile(path)
				if err != nil {
					failed++
					fmt.Fprintln(w, badStyle.Render(fmt.Sprintf("  %s: %v", path, err)))
					continue
				}
				n, err := ing.Ingest(cmd.Context(), path, string(data))
				if err != nil {
					failed++
					fmt.Fprintln(w, badStyle.Render(fmt.Sprintf("  %s: %v", path, err)))
					continue
				}
				total += n
				fmt.Fprintf(w, "  %s: %d chunks\n", path, n)
			}
			fmt.Fprintf(w, "Ingested %d chunks from %d files (%d failed).\n", total, len(files)-failed, failed)
			if failed == len(files) {
				return errors.New("no file could be ingested")
			}
			return nil
		},
	}
}

// ingestTargets expands directories into the text files they contain.
// Hidden directories are skipped.
func ingestTargets(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != arg && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if ingestExtensions[strings.ToLower(filepath.Ext(path))] {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", arg, err)
		}
	}
	return files, nil
}
