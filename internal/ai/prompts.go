package ai

import (
	"fmt"
	"strings"

	"github.com/steveyegge/bughunter/internal/config"
	"github.com/steveyegge/bughunter/internal/types"
)

const connectionTestPrompt = "Reply with the single word OK."

// maxPromptCode caps the code embedded in a prompt. It matches the largest
// accepted scan.max_file_size_kb, so every discovered file fits whole.
const maxPromptCode = config.MaxFileSizeKBLimit * 1024

func buildAnalysisPrompt(code string, actx types.AnalysisContext) string {
	return fmt.Sprintf(`You are an expert application security auditor. Analyze the following %s file for security vulnerabilities.

File: %s
Deployment environment: %s

Look for, among others: injection (SQL, command, template, path traversal), broken access control, hard-coded secrets, sensitive data exposure, weak cryptography, insecure configuration, race conditions, vulnerable component usage and insufficient logging.

Respond with ONLY a JSON object, no prose and no markdown, in exactly this shape:
{
  "vulnerabilities": [
    {
      "id": "short unique id within this file, e.g. VULN-1",
      "title": "short title",
      "severity": "LOW | MEDIUM | HIGH | CRITICAL",
      "confidence": 0.0 to 1.0,
      "category": "e.g. SQL Injection, Hardcoded Secret, XSS",
      "line": 1-based line number (0 if not applicable),
      "description": "what is wrong",
      "impact": "what an attacker gains",
      "exploitationScenario": "how it would be exploited",
      "recommendation": "how to fix it",
      "secureCodeExample": "corrected code snippet",
      "autoFixSafe": true if a mechanical rewrite of this file can fix it without changing behavior
    }
  ]
}

If there are no vulnerabilities, return {"vulnerabilities": []}.

Source code:
%s`,
		languageName(actx.Language), actx.File, actx.Environment, code)
}

func buildFixPrompt(vuln *types.Vulnerability, code string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a security engineer fixing a vulnerability in %s.\n\n", vuln.File)
	fmt.Fprintf(&b, "Vulnerability: %s (%s, severity %s)\n", vuln.Title, vuln.Category, vuln.Severity)
	if vuln.Line > 0 {
		fmt.Fprintf(&b, "Line: %d\n", vuln.Line)
	}
	fmt.Fprintf(&b, "Description: %s\n", vuln.Description)
	if vuln.Recommendation != "" {
		fmt.Fprintf(&b, "Recommendation: %s\n", vuln.Recommendation)
	}
	if vuln.SecureCodeExample != "" {
		fmt.Fprintf(&b, "Example of secure code:\n%s\n", vuln.SecureCodeExample)
	}
	if !vuln.AutoFixSafe {
		b.WriteString("\nThis finding was NOT marked safe for automatic fixing. Make the smallest change that removes the vulnerability and keep all existing behavior.\n")
	}
	b.WriteString(`
Return the COMPLETE corrected file content. Do not explain, do not omit unchanged parts, and do not wrap the code in markdown fences.

Current file content:
`)
	b.WriteString(code)
	return b.String()
}

func buildExplainPrompt(category string) string {
	return fmt.Sprintf(`Explain the security vulnerability category %q to a software developer.

Cover in plain language:
1. What it is
2. A short example of vulnerable code
3. How it is typically exploited
4. How to prevent it

Keep it under 300 words. Plain text, no markdown headings.`, category)
}

func languageName(lang string) string {
	if lang == "" {
		return "source"
	}
	return lang
}
