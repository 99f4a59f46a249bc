package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderMarkdownBasic(t *testing.T) {
	html := RenderMarkdown("**bold** and `code`")
	assert.Contains(t, html, "<strong>bold</strong>")
	assert.Contains(t, html, "<code>code</code>")
}

func TestRenderMarkdownEmpty(t *testing.T) {
	assert.Equal(t, "", RenderMarkdown("   \n"))
}

func TestRenderMarkdownListWithoutBlankLine(t *testing.T) {
	// Models often run a list straight into the preceding paragraph.
	html := RenderMarkdown("Top videos:\n- first\n- second")
	assert.Contains(t, html, "<ul>")
	assert.Contains(t, html, "<li>first</li>")
	assert.Contains(t, html, "<li>second</li>")
}

func TestPreprocessAssistantTextCurlyQuotes(t *testing.T) {
	assert.Equal(t, `"hi" it's`, PreprocessAssistantText("“hi” it’s"))
}
