package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractCodeBlocksBasic(t *testing.T) {
	code := strings.Repeat("print('hello world')\n", 20)
	markdown := "Some intro prose.\n\n```python\n" + code + "```\n\nSome closing prose."

	blocks := ExtractCodeBlocks(markdown, 100)
	require.Len(t, blocks, 1)

	b := blocks[0]
	assert.Equal(t, "python", b.Language)
	assert.Equal(t, strings.Trim(code, "\n"), b.Code)
	assert.Contains(t, b.ContextBefore, "Some intro prose.")
	assert.Contains(t, b.ContextAfter, "Some closing prose.")
	assert.Equal(t, 20, b.LineCount)
}

func TestExtractCodeBlocksMinChars(t *testing.T) {
	markdown := "```go\nshort\n```\n\n```go\n" + strings.Repeat("var x = 42\n", 30) + "```\n"

	blocks := ExtractCodeBlocks(markdown, 250)
	require.Len(t, blocks, 1)
	assert.Contains(t, blocks[0].Code, "var x = 42")
}

func TestExtractCodeBlocksNoLanguage(t *testing.T) {
	body := strings.Repeat("some plain code line\n", 20)
	markdown := "```\n" + body + "```"

	blocks := ExtractCodeBlocks(markdown, 100)
	require.Len(t, blocks, 1)
	assert.Empty(t, blocks[0].Language)
	assert.Equal(t, strings.Trim(body, "\n"), blocks[0].Code)
}

func TestExtractCodeBlocksContextShrinksAtEdges(t *testing.T) {
	code := strings.Repeat("x\n", 200)
	markdown := "hi\n```\n" + code + "```\nbye"

	blocks := ExtractCodeBlocks(markdown, 100)
	require.Len(t, blocks, 1)
	assert.Equal(t, "hi\n", blocks[0].ContextBefore)
	assert.Equal(t, "\nbye", blocks[0].ContextAfter)
}

func TestExtractCodeBlocksUnclosedFenceIgnored(t *testing.T) {
	markdown := "prose\n```python\n" + strings.Repeat("dangling\n", 50)
	assert.Empty(t, ExtractCodeBlocks(markdown, 10))
}

func TestExtractCodeBlocksEmptyInput(t *testing.T) {
	assert.Empty(t, ExtractCodeBlocks("", 250))
	assert.Empty(t, ExtractCodeBlocks("no fences here", 250))
}
