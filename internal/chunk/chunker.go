// Package chunk splits crawled markdown into size-bounded pieces and
// mines fenced code blocks for separate indexing.
//
// The chunker guarantees three properties that the rest of the pipeline
// relies on: chunks concatenate back to the exact input, no chunk
// starts or ends inside a fenced code region, and every chunk contains
// an even number of ``` markers.
package chunk

import (
	"regexp"
	"strings"
)

const fenceMarker = "```"

// boundaryFraction is how far into the window a paragraph or sentence
// break must fall to be used as a cut point. Earlier breaks are ignored
// to avoid emitting tiny fragments.
const boundaryFraction = 0.3

// fenceRegion is a half-open byte range covering one fenced code block,
// from the opening ``` through the end of the closing ```.
type fenceRegion struct {
	open int
	end  int
}

// fenceRegions scans text for fenced regions. An unclosed trailing
// fence extends to the end of the text.
func fenceRegions(text string) []fenceRegion {
	var regions []fenceRegion
	offset := 0
	openAt := -1

	for {
		idx := strings.Index(text[offset:], fenceMarker)
		if idx < 0 {
			break
		}
		abs := offset + idx
		if openAt < 0 {
			openAt = abs
		} else {
			regions = append(regions, fenceRegion{open: openAt, end: abs + len(fenceMarker)})
			openAt = -1
		}
		offset = abs + len(fenceMarker)
	}

	if openAt >= 0 {
		regions = append(regions, fenceRegion{open: openAt, end: len(text)})
	}

	return regions
}

// regionContaining returns the fence region whose interior contains
// pos, if any. Positions exactly at a region's open or end boundary are
// valid cut points and report false.
func regionContaining(regions []fenceRegion, pos int) (fenceRegion, bool) {
	for _, r := range regions {
		if pos > r.open && pos < r.end {
			return r, true
		}
	}
	return fenceRegion{}, false
}

// SmartChunk splits markdown into chunks of at most chunkSize
// characters. A chunk may exceed chunkSize only when a single fenced
// region is itself longer than the budget, in which case the boundary
// falls at the fence closure.
//
// Cut-point preference within a window, best first: the last paragraph
// break, the last sentence terminator, the hard window edge. Paragraph
// and sentence candidates are only accepted past 30% of the window and
// never inside a fenced region.
func SmartChunk(markdown string, chunkSize int) []string {
	if strings.TrimSpace(markdown) == "" {
		return nil
	}
	if chunkSize < 1 {
		chunkSize = 1
	}

	regions := fenceRegions(markdown)
	var chunks []string
	pos := 0

	for pos < len(markdown) {
		hardEnd := pos + chunkSize
		if hardEnd >= len(markdown) {
			chunks = append(chunks, markdown[pos:])
			break
		}

		end := hardEnd
		if r, inside := regionContaining(regions, end); inside {
			// The hard edge would split a fence: either cut just
			// before the fence opens, or swallow the whole fence and
			// accept an over-size chunk.
			minCut := pos + int(float64(chunkSize)*boundaryFraction)
			if r.open > minCut {
				end = r.open
			} else {
				end = r.end
				if end > len(markdown) {
					end = len(markdown)
				}
			}
		} else if cut := bestCut(markdown, regions, pos, end); cut > 0 {
			end = cut
		}

		chunks = append(chunks, markdown[pos:end])
		pos = end
	}

	return chunks
}

var sentenceEnd = regexp.MustCompile(`[.!?] `)

// bestCut picks the preferred cut point in markdown[pos:hardEnd].
// Returns 0 when no acceptable candidate exists and the caller should
// cut at the hard edge.
func bestCut(markdown string, regions []fenceRegion, pos, hardEnd int) int {
	window := markdown[pos:hardEnd]
	threshold := int(float64(len(window)) * boundaryFraction)

	// Prefer the last paragraph break past the threshold. The blank
	// line stays with the earlier chunk.
	for idx := strings.LastIndex(window, "\n\n"); idx > threshold; idx = strings.LastIndex(window[:idx], "\n\n") {
		if _, inside := regionContaining(regions, pos+idx); !inside {
			return pos + idx + 2
		}
	}

	// Fall back to the last sentence terminator. The cut lands after
	// the punctuation so the next chunk begins with the space.
	matches := sentenceEnd.FindAllStringIndex(window, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		idx := matches[i][0]
		if idx <= threshold {
			break
		}
		if _, inside := regionContaining(regions, pos+idx); !inside {
			return pos + idx + 1
		}
	}

	return 0
}

var headerLine = regexp.MustCompile(`(?m)^(#+)\s+(.+)$`)

// SectionInfo describes one chunk for metadata purposes.
type SectionInfo struct {
	// Headers is the breadcrumb of markdown headers in the chunk,
	// e.g. "# Guide; ## Install; ### Linux".
	Headers   string
	CharCount int
	WordCount int
}

// ExtractSectionInfo collects header breadcrumbs and size counts for a
// chunk, preserving header order and hash depth.
func ExtractSectionInfo(chunk string) SectionInfo {
	matches := headerLine.FindAllStringSubmatch(chunk, -1)
	headers := make([]string, 0, len(matches))
	for _, m := range matches {
		headers = append(headers, m[1]+" "+strings.TrimSpace(m[2]))
	}

	return SectionInfo{
		Headers:   strings.Join(headers, "; "),
		CharCount: len(chunk),
		WordCount: len(strings.Fields(chunk)),
	}
}
