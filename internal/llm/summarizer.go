package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Aman-CERP/crawlmcp/internal/async"
	"github.com/Aman-CERP/crawlmcp/internal/chunk"
)

// DefaultCodeSummary is stored when the summary call fails.
const DefaultCodeSummary = "Code example for demonstration purposes."

// maxSourceContent caps how much combined content feeds a source
// summary request.
const maxSourceContent = 25000

// maxSourceSummaryChars bounds the stored source summary.
const maxSourceSummaryChars = 500

// Summarizer produces natural-language summaries for code examples and
// crawl sources.
type Summarizer struct {
	llm     Client
	workers int
	logger  *slog.Logger
}

// NewSummarizer creates a summarizer. A nil llm degrades every call to
// its default text.
func NewSummarizer(llm Client, workers int, logger *slog.Logger) *Summarizer {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{llm: llm, workers: workers, logger: logger}
}

// SummarizeCode describes one code block using its surrounding context.
func (s *Summarizer) SummarizeCode(ctx context.Context, block chunk.CodeBlock) string {
	if s.llm == nil {
		return DefaultCodeSummary
	}

	prompt := fmt.Sprintf("<context_before>\n%s\n</context_before>\n\n<code_example>\n%s\n</code_example>\n\n<context_after>\n%s\n</context_after>\n\nBased on the code example and its surrounding context, provide a concise summary (2-3 sentences) that describes what this code example demonstrates and its purpose. Focus on the practical application and key concepts illustrated.",
		tail(block.ContextBefore, 500), block.Code, head(block.ContextAfter, 500))

	summary, err := s.llm.Chat(ctx,
		"You are a helpful assistant that provides concise code example summaries.",
		prompt)
	if err != nil {
		s.logger.Warn("code summary failed, using default",
			slog.String("language", block.Language),
			slog.String("error", err.Error()))
		return DefaultCodeSummary
	}

	summary = strings.TrimSpace(summary)
	if summary == "" {
		return DefaultCodeSummary
	}
	return summary
}

// SummarizeCodeBlocks summarizes blocks with bounded parallelism,
// preserving order.
func (s *Summarizer) SummarizeCodeBlocks(ctx context.Context, blocks []chunk.CodeBlock) []string {
	results := async.RunBatched(ctx, blocks, s.workers, len(blocks), func(ctx context.Context, b chunk.CodeBlock) (string, error) {
		return s.SummarizeCode(ctx, b), nil
	})

	out := make([]string, len(blocks))
	for i, r := range results {
		if r.Err != nil || r.Value == "" {
			out[i] = DefaultCodeSummary
			continue
		}
		out[i] = r.Value
	}
	return out
}

// SummarizeSource describes a source (a crawled host) from a sample of
// its content. Falls back to a generic line naming the source.
func (s *Summarizer) SummarizeSource(ctx context.Context, sourceID, content string) string {
	fallback := fmt.Sprintf("Content from %s", sourceID)
	if s.llm == nil || strings.TrimSpace(content) == "" {
		return fallback
	}

	if len(content) > maxSourceContent {
		content = content[:maxSourceContent]
	}

	prompt := fmt.Sprintf("<source_content>\n%s\n</source_content>\n\nThe above content is from the documentation for '%s'. Please provide a concise summary (3-5 sentences) that describes what this library/tool/framework is about. The summary should help understand what the library/tool/framework accomplishes and the purpose.", content, sourceID)

	summary, err := s.llm.Chat(ctx,
		"You are a helpful assistant that provides concise library/tool/framework summaries.",
		prompt)
	if err != nil {
		s.logger.Warn("source summary failed, using fallback",
			slog.String("source_id", sourceID),
			slog.String("error", err.Error()))
		return fallback
	}

	summary = strings.TrimSpace(summary)
	if summary == "" {
		return fallback
	}
	if len(summary) > maxSourceSummaryChars {
		summary = summary[:maxSourceSummaryChars]
	}
	return summary
}

func head(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func tail(s string, n int) string {
	if len(s) > n {
		return s[len(s)-n:]
	}
	return s
}
