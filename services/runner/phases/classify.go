// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package phases

import (
	"strings"

	"github.com/AleutianAI/taskrunner/services/runner/agent"
)

// keywordSet matches phrases as substrings and short words (three letters
// or fewer) as whole tokens, so "ai" does not match "explain".
type keywordSet []string

func (k keywordSet) matches(lower string, tokens map[string]bool) bool {
	for _, w := range k {
		if len(w) <= 3 && !strings.Contains(w, " ") {
			if tokens[w] {
				return true
			}
			continue
		}
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

var (
	contentKeywords = keywordSet{"linkedin", "post", "write", "generate", "create"}

	repoKeywords = keywordSet{
		"analyze", "analyse", "repository", "repo", "codebase", "structure", "files",
		"what is this", "about this", "this project", "this code",
		"where", "which file", "which class", "which function", "how is", "show me",
		"find", "locate", "used in", "in which", "implemented in", "imported",
		"defined in", "code for", "source of", "implementation",
	}

	repoFollowUpKeywords = keywordSet{
		"classes", "functions", "modules", "components", "architecture",
		"how they connect", "dependencies", "imports", "main files", "key files", "design",
	}

	contextListKeywords = keywordSet{"mention", "list", "show", "tell me", "what are"}

	knowledgeKeywords = keywordSet{
		"embedding", "vector", "ai", "artificial intelligence", "machine learning", "ml",
		"llm", "large language model", "gpt", "openai", "rag", "retrieval", "semantic search",
		"neural network", "transformer", "attention", "fine-tuning", "prompt engineering",
		"tokenization", "weaviate", "vector database", "similarity",
	}

	aboutYouKeywords = keywordSet{"how do you", "how did you", "your evaluation", "your framework", "who are you"}
)

// ClassifyTask picks a task kind for a free-text query.
//
// Description:
//
//	Checked in order: content requests, repository and code questions,
//	follow-ups about a repository already in context, knowledge questions,
//	questions about the assistant itself. Anything else is general.
//
// Inputs:
//
//	query - The user's text.
//	repoContextActive - True when an earlier run in the session collected evidence.
//
// Outputs:
//
//	agent.TaskKind - Never invalid.
func ClassifyTask(query string, repoContextActive bool) agent.TaskKind {
	lower := strings.ToLower(query)
	tokens := make(map[string]bool)
	for _, t := range tokenize(query) {
		tokens[t] = true
	}

	switch {
	case contentKeywords.matches(lower, tokens):
		return agent.TaskKindGenerateContent
	case repoKeywords.matches(lower, tokens):
		return agent.TaskKindAnalyzeEvidence
	case repoContextActive && repoFollowUpKeywords.matches(lower, tokens):
		return agent.TaskKindAnalyzeEvidence
	case repoContextActive && contextListKeywords.matches(lower, tokens):
		return agent.TaskKindAnalyzeEvidence
	case knowledgeKeywords.matches(lower, tokens):
		return agent.TaskKindAnswerFromKnowledgeBase
	case aboutYouKeywords.matches(lower, tokens):
		return agent.TaskKindAnswerFromKnowledgeBase
	default:
		return agent.TaskKindGeneral
	}
}
