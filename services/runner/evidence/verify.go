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
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// CoverageSkipped is the placeholder stored when coverage is disabled.
const CoverageSkipped = "Coverage skipped (skip_coverage=true)"

// maxCommandOutput bounds stored command output.
const maxCommandOutput = 8000

// Command is one verification command.
type Command struct {
	// Name is the Verification key the output is stored under.
	Name    string
	Args    []string
	Timeout time.Duration
}

// CommandRunner executes a command in dir and returns its combined output.
type CommandRunner func(ctx context.Context, dir string, name string, args ...string) (string, error)

// waitDelay bounds how long ExecRunner waits for output pipes to close
// after the command was killed.
const waitDelay = 2 * time.Second

// ExecRunner runs commands with os/exec.
//
// Description:
//
//	The command runs in its own process group. When ctx ends the whole
//	group is killed, so grandchildren such as test binaries spawned by
//	`go test` or `sh -c` cannot hold the output pipes open. WaitDelay
//	caps the wait for any straggler that escaped the group.
func ExecRunner(ctx context.Context, dir string, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.WaitDelay = waitDelay
	killProcessGroup(cmd)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// Ecosystem identifies which default verification commands apply.
type Ecosystem string

const (
	EcosystemGo     Ecosystem = "go"
	EcosystemPython Ecosystem = "python"
	EcosystemNone   Ecosystem = "none"
)

// DetectEcosystem picks the ecosystem from the manifests at root.
func DetectEcosystem(root string) Ecosystem {
	if fileExists(filepath.Join(root, GoModManifest)) {
		return EcosystemGo
	}
	for _, name := range []string{RequirementsManifest, "setup.py", "pyproject.toml", "pytest.ini"} {
		if fileExists(filepath.Join(root, name)) {
			return EcosystemPython
		}
	}
	return EcosystemNone
}

// DefaultCommands returns the verification commands for an ecosystem.
func DefaultCommands(eco Ecosystem) []Command {
	switch eco {
	case EcosystemGo:
		return []Command{
			{Name: VerifyTestCollect, Args: []string{"go", "test", "-list", ".", "./..."}, Timeout: 60 * time.Second},
			{Name: VerifyCoverageReport, Args: []string{"go", "test", "-cover", "./..."}, Timeout: 30 * time.Second},
		}
	case EcosystemPython:
		return []Command{
			{Name: VerifyTestCollect, Args: []string{"pytest", "--collect-only", "-q"}, Timeout: 60 * time.Second},
			{Name: VerifyCoverageReport, Args: []string{"coverage", "report"}, Timeout: 5 * time.Second},
		}
	default:
		return nil
	}
}

// runVerification runs the verification commands and returns their output.
//
// Description:
//
//	Never fails: each command's failure or timeout becomes a placeholder
//	string. Python coverage falls back to `coverage run -m pytest` followed
//	by a second report when no data exists yet. The test file count is
//	computed in-process within countTimeout and is "Unknown" on failure.
func (c *Collector) runVerification(ctx context.Context, root string) map[string]string {
	results := make(map[string]string)

	commands := c.config.Commands
	eco := DetectEcosystem(root)
	if len(commands) == 0 {
		commands = DefaultCommands(eco)
	}
	if len(commands) == 0 {
		results[VerifyTestCollect] = "No supported test runner detected"
	}

	for _, cmd := range commands {
		if cmd.Name == VerifyCoverageReport && c.config.SkipCoverage {
			results[cmd.Name] = CoverageSkipped
			verifyCommandsTotal.WithLabelValues(cmd.Name, "skipped").Inc()
			continue
		}
		out, ok := c.runCommand(ctx, root, cmd)
		results[cmd.Name] = out

		if cmd.Name == VerifyCoverageReport && !ok && eco == EcosystemPython && len(c.config.Commands) == 0 {
			runOut, _ := c.runCommand(ctx, root, Command{
				Name:    VerifyCoverageRun,
				Args:    []string{"coverage", "run", "-m", "pytest", "-q"},
				Timeout: 30 * time.Second,
			})
			results[VerifyCoverageRun] = runOut
			report, _ := c.runCommand(ctx, root, Command{
				Name:    VerifyCoverageReport,
				Args:    []string{"coverage", "report"},
				Timeout: 10 * time.Second,
			})
			results[VerifyCoverageReport] = report
		}
	}

	results[VerifyTestFilesCount] = countTestFiles(ctx, root, c.config.CountTimeout)
	return results
}

// runCommand runs one command with its timeout.
//
// Outputs:
//
//	string - Output, or an "ERROR: ..." / "Command timed out after ..." placeholder.
//	bool - True if the command exited successfully.
func (c *Collector) runCommand(ctx context.Context, root string, cmd Command) (string, bool) {
	if len(cmd.Args) == 0 {
		return "ERROR: empty command", false
	}
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := c.run(cctx, root, cmd.Args[0], cmd.Args[1:]...)
	switch {
	case errors.Is(cctx.Err(), context.DeadlineExceeded):
		verifyCommandsTotal.WithLabelValues(cmd.Name, "timeout").Inc()
		return fmt.Sprintf("Command timed out after %s", timeout), false
	case err != nil:
		verifyCommandsTotal.WithLabelValues(cmd.Name, "error").Inc()
		msg := "ERROR: " + err.Error()
		if trimmed := strings.TrimSpace(out); trimmed != "" {
			msg += "\n" + truncateTail(trimmed, maxCommandOutput)
		}
		return msg, false
	}
	verifyCommandsTotal.WithLabelValues(cmd.Name, "ok").Inc()
	return truncateTail(strings.TrimSpace(out), maxCommandOutput), true
}

// countTestFiles counts Go and Python test files under root.
func countTestFiles(ctx context.Context, root string, timeout time.Duration) string {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	count := 0
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if cctx.Err() != nil {
			return cctx.Err()
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
		if isTestFile(d.Name()) {
			count++
		}
		return nil
	})
	if err != nil {
		return "Unknown"
	}
	return strconv.Itoa(count)
}

func isTestFile(name string) bool {
	switch {
	case strings.HasSuffix(name, "_test.go"):
		return true
	case strings.HasSuffix(name, ".py"):
		return strings.HasPrefix(name, "test_") || strings.HasSuffix(name, "_test.py")
	}
	return false
}

// truncateTail keeps at most the last limit bytes of s, starting on a rune
// boundary; test summaries live at the end.
func truncateTail(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	i := len(s) - limit
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return "..." + s[i:]
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
