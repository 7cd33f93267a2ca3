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
	"fmt"

	"github.com/spf13/cobra"
)

func newCacheCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the evidence cache",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "clear",
			Short: "Delete every cached evidence bundle",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				a, err := newApp(g.cfg)
				if err != nil {
					return err
				}
				defer a.Close()

				n, err := a.store.Clear(cmd.Context())
				if err != nil {
					return fmt.Errorf("clear cache: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cache entries.\n", n)
				return nil
			},
		},
		&cobra.Command{
			Use:   "stats",
			Short: "Show evidence cache size and location",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				a, err := newApp(g.cfg)
				if err != nil {
					return err
				}
				defer a.Close()

				st, err := a.store.Stats(cmd.Context())
				if err != nil {
					return fmt.Errorf("cache stats: %w", err)
				}
				w := cmd.OutOrStdout()
				fmt.Fprintln(w, titleStyle.Render("Evidence cache"))
				fmt.Fprintf(w, "  Backend:  %s\n", st.Backend)
				fmt.Fprintf(w, "  Location: %s\n", st.Location)
				fmt.Fprintf(w, "  Entries:  %d\n", st.Entries)
				fmt.Fprintf(w, "  Size:     %s\n", humanBytes(st.Bytes))
				fmt.Fprintf(w, "  TTL:      %s\n", st.TTL)
				return nil
			},
		},
	)
	return cmd
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
