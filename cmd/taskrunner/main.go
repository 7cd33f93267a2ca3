// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command taskrunner runs tasks through a plan, collect, reason, generate,
// reflect and evaluate pipeline and prints the scored result.
//
// Usage:
//
//	taskrunner run "What is 2+2?"
//	taskrunner run --kind analyze --root ./myrepo "Analyze this repository"
//	taskrunner run --kind content --root . "Write a LinkedIn post about this project"
//	taskrunner chat --root .
//	taskrunner ingest docs/
//	taskrunner cache stats
//
// With no OPENAI_API_KEY, or with llm.provider set to "none", every answer
// comes from the evidence-based templates.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}
