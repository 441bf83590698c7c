package ai

import (
	"fmt"
	"strings"
)

// buildAnswerSystemPrompt grounds the model in the invention disclosure so
// answers cite only supplied material.
func buildAnswerSystemPrompt(disclosure, extra string) string {
	extraSection := ""
	if strings.TrimSpace(extra) != "" {
		extraSection = fmt.Sprintf("\n\nAdditional Information:\n%s", extra)
	}

	return fmt.Sprintf(`You are a patent expert helping to verify patent claims against an Invention Disclosure.

Invention Disclosure Document:
---
%s%s
---

Your task is to answer questions about the patent claims based solely on the invention disclosure above. Be precise, specific, and cite relevant parts of the disclosure where applicable.`, disclosure, extraSection)
}

// buildAnswerUserPrompt combines the question with optional reviewer-supplied
// context for a retry.
func buildAnswerUserPrompt(question, reviewerContext string) string {
	var builder strings.Builder
	builder.WriteString("Question to answer:\n")
	builder.WriteString(question)
	if strings.TrimSpace(reviewerContext) != "" {
		builder.WriteString("\n\nAdditional context provided by reviewer:\n")
		builder.WriteString(reviewerContext)
	}
	builder.WriteString("\n\nPlease provide a thorough, well-structured answer.")
	return builder.String()
}

// buildAnalysisPrompt requests the comparative disclosure-vs-claims report.
func buildAnalysisPrompt(disclosure, claims, extra string) string {
	extraSection := ""
	if strings.TrimSpace(extra) != "" {
		extraSection = fmt.Sprintf("\n\n## Additional Information\n%s", extra)
	}

	return fmt.Sprintf(`You are a senior patent expert. Carefully compare the Invention Disclosure with the Patent Claims below and produce a structured analysis report.

## Invention Disclosure
%s%s

## Patent Claims
%s

---

Provide a detailed analysis under these headings:

### 1. Coverage Assessment
How well do the claims cover the invention described in the disclosure? Identify which aspects are covered and which are not.

### 2. Identified Gaps
List specific aspects of the invention that are NOT covered by any claim.

### 3. Strengths
What are the strongest elements of the current claims?

### 4. Weaknesses & Improvement Suggestions
Identify weak or overly broad/narrow claims and suggest concrete improvements.

### 5. Consistency Check
Note any inconsistencies, mismatches, or contradictions between the disclosure and the claims.

Be specific; reference exact claim language and disclosure sections where relevant.`, disclosure, extraSection, claims)
}
