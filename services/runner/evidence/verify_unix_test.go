// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build unix

package evidence

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollect_TimeoutKillsGrandchildren(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	root := t.TempDir()
	writeFile(t, root, "notes.txt", "hello")
	c := NewCollector(Config{Commands: []Command{
		{Name: VerifyTestCollect, Args: []string{"sh", "-c", "sleep 8; echo done"}, Timeout: 300 * time.Millisecond},
	}})

	start := time.Now()
	bundle, err := c.Collect(context.Background(), root)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, "Command timed out after 300ms", bundle.Verification[VerifyTestCollect])
	assert.Less(t, elapsed, 4*time.Second, "sleep outlived the timeout")
}

func TestExecRunner_ReturnsOutput(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	out, err := ExecRunner(context.Background(), t.TempDir(), "sh", "-c", "echo ok; echo err >&2")
	require.NoError(t, err)
	assert.Contains(t, out, "ok")
	assert.Contains(t, out, "err")
}
