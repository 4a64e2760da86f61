package chunk

import (
	"strings"
)

// contextWindow is how much surrounding markdown is kept around each
// extracted code block, in characters.
const contextWindow = 1000

// CodeBlock is a fenced code block mined from markdown, with the
// surrounding prose retained for summarization.
type CodeBlock struct {
	// Code is the fence body without the language line.
	Code string
	// Language is the word directly after the opening fence, or "".
	Language string
	// ContextBefore is up to contextWindow chars of markdown before the
	// opening fence.
	ContextBefore string
	// ContextAfter is up to contextWindow chars after the closing fence.
	ContextAfter string
	// LineCount is the number of lines in Code.
	LineCount int
}

// ExtractCodeBlocks mines fenced code blocks whose body is at least
// minChars characters long. Unclosed trailing fences are ignored.
func ExtractCodeBlocks(markdown string, minChars int) []CodeBlock {
	regions := fenceRegions(markdown)
	var blocks []CodeBlock

	for _, r := range regions {
		if r.end > len(markdown) || !strings.HasSuffix(markdown[r.open:r.end], fenceMarker) {
			// Unclosed fence; nothing reliable to extract.
			continue
		}

		inner := markdown[r.open+len(fenceMarker) : r.end-len(fenceMarker)]
		language, code := splitFenceHeader(inner)
		if len(code) < minChars {
			continue
		}

		beforeStart := r.open - contextWindow
		if beforeStart < 0 {
			beforeStart = 0
		}
		afterEnd := r.end + contextWindow
		if afterEnd > len(markdown) {
			afterEnd = len(markdown)
		}

		blocks = append(blocks, CodeBlock{
			Code:          code,
			Language:      language,
			ContextBefore: markdown[beforeStart:r.open],
			ContextAfter:  markdown[r.end:afterEnd],
			LineCount:     strings.Count(code, "\n") + 1,
		})
	}

	return blocks
}

// splitFenceHeader separates the language word on the opening fence
// line from the code body.
func splitFenceHeader(inner string) (language, code string) {
	newline := strings.IndexByte(inner, '\n')
	if newline < 0 {
		// Single-line fence: no header line, all body.
		return "", strings.TrimSpace(inner)
	}

	header := strings.TrimSpace(inner[:newline])
	body := inner[newline+1:]

	if header != "" && !strings.ContainsAny(header, " \t") {
		return header, strings.Trim(body, "\n")
	}

	// No language tag: the first line is part of the body.
	return "", strings.Trim(inner, "\n")
}
