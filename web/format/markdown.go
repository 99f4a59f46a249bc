// Package format renders assistant markdown to HTML for storage. Rendering
// happens once, when a message is persisted; the live stream carries raw
// text and the client re-renders incrementally.
package format

import (
	"regexp"
	"strings"

	"github.com/gomarkdown/markdown"
)

// RenderMarkdown converts assistant text to HTML. The text is normalized
// first so lists the model emits without a preceding blank line still parse
// as lists.
func RenderMarkdown(rawContent string) string {
	if strings.TrimSpace(rawContent) == "" {
		return ""
	}
	normalized := normalizeMarkdownLists(PreprocessAssistantText(rawContent))
	return string(markdown.ToHTML([]byte(normalized), nil, nil))
}

// PreprocessAssistantText normalizes LLM output for readability.
func PreprocessAssistantText(text string) string {
	if text == "" {
		return text
	}

	// Replace curly quotes
	return strings.NewReplacer(
		"“", "\"",
		"”", "\"",
		"‘", "'",
		"’", "'",
	).Replace(text)
}

var numberedItem = regexp.MustCompile(`^\d+\.\s`)

func isListLine(line string) bool {
	return strings.HasPrefix(line, "- ") ||
		strings.HasPrefix(line, "* ") ||
		strings.HasPrefix(line, "+ ") ||
		numberedItem.MatchString(line)
}

// normalizeMarkdownLists inserts the blank line markdown requires before a
// list when the model runs it straight into the preceding paragraph.
func normalizeMarkdownLists(text string) string {
	lines := strings.Split(text, "\n")
	var result []string

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if isListLine(trimmed) && i > 0 {
			prev := strings.TrimSpace(lines[i-1])
			if prev != "" && !isListLine(prev) {
				result = append(result, "")
			}
		}
		result = append(result, line)
	}
	return strings.Join(result, "\n")
}
