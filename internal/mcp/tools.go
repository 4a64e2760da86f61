package mcp

import (
	"context"
	"net/url"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/crawlmcp/internal/errors"
	"github.com/Aman-CERP/crawlmcp/internal/graph"
)

// Tool defaults per the wire contract.
const (
	defaultMaxDepth      = 3
	defaultMaxConcurrent = 10
	defaultNumResults    = 6
	defaultMatchCount    = 5
)

type ScrapeURLsInput struct {
	URL           string   `json:"url,omitempty" jsonschema:"single URL to scrape"`
	URLs          []string `json:"urls,omitempty" jsonschema:"list of URLs to scrape"`
	MaxConcurrent int      `json:"max_concurrent,omitempty" jsonschema:"maximum concurrent fetches, default 10"`
}

type SmartCrawlInput struct {
	URL           string `json:"url" jsonschema:"start URL: sitemap, .txt file, or regular page"`
	MaxDepth      int    `json:"max_depth,omitempty" jsonschema:"recursion depth for regular pages, default 3"`
	MaxConcurrent int    `json:"max_concurrent,omitempty" jsonschema:"maximum concurrent fetches, default 10"`
}

type SearchInput struct {
	Query             string `json:"query" jsonschema:"the web search query"`
	NumResults        int    `json:"num_results,omitempty" jsonschema:"number of search results to fetch, default 6"`
	ReturnRawMarkdown bool   `json:"return_raw_markdown,omitempty" jsonschema:"return raw markdown per URL instead of RAG results"`
	MaxConcurrent     int    `json:"max_concurrent,omitempty" jsonschema:"maximum concurrent fetches, default 10"`
	// BatchSize is accepted for compatibility; embedding batches are
	// sized by EMBEDDING_BATCH_SIZE.
	BatchSize int `json:"batch_size,omitempty" jsonschema:"accepted but unused; embedding batch size comes from server config"`
}

type RAGQueryInput struct {
	Query      string `json:"query" jsonschema:"the retrieval query"`
	Source     string `json:"source,omitempty" jsonschema:"restrict to one source_id (a registrable host)"`
	MatchCount int    `json:"match_count,omitempty" jsonschema:"number of results, default 5"`
}

type CodeExamplesInput struct {
	Query      string `json:"query" jsonschema:"what the code should do"`
	SourceID   string `json:"source_id,omitempty" jsonschema:"restrict to one source_id"`
	MatchCount int    `json:"match_count,omitempty" jsonschema:"number of results, default 5"`
}

type SourcesInput struct {
	Query      string `json:"query,omitempty" jsonschema:"optional semantic filter over source summaries; empty lists all sources"`
	MatchCount int    `json:"match_count,omitempty" jsonschema:"maximum sources to return when query is set (default 5)"`
}

type RepositoryInput struct {
	RepoURL string `json:"repo_url" jsonschema:"git clone URL of the repository"`
}

type RepositoryBranchInput struct {
	RepoURL string `json:"repo_url" jsonschema:"git clone URL of the repository"`
	Branch  string `json:"branch" jsonschema:"branch name to parse"`
}

type RepositoryInfoInput struct {
	RepoName string `json:"repo_name" jsonschema:"repository name as stored in the graph"`
}

type GraphQueryInput struct {
	Query string `json:"query" jsonschema:"graph command: repos | explore <repo> | classes [repo] | class <name> | method <name> [class] | function <name> | query <cypher>"`
}

type HallucinationCheckInput struct {
	ScriptPath string `json:"script_path" jsonschema:"absolute path of the Python script to check"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "scrape_urls",
		Description: "Scrape one or more URLs, chunk and index their content for retrieval. Accepts a single url or a urls list.",
	}, s.handleScrapeURLs)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "smart_crawl_url",
		Description: "Crawl a site starting from one URL. Sitemaps expand into their pages, .txt files are indexed as-is, regular pages are followed breadth-first up to max_depth.",
	}, s.handleSmartCrawl)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: "Web-search a query, scrape and index the result pages, then answer with RAG results (or the raw markdown per URL).",
	}, s.handleSearch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "perform_rag_query",
		Description: "Retrieve indexed document chunks relevant to a query, optionally restricted to one source.",
	}, s.handleRAGQuery)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_code_examples",
		Description: "Retrieve indexed code examples with generated summaries, optionally restricted to one source.",
	}, s.handleCodeExamples)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_available_sources",
		Description: "List every indexed source with its summary and total word count.",
	}, s.handleSources)

	count := 6
	if s.cfg.Flags.KnowledgeGraph {
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "parse_github_repository",
			Description: "Clone a repository and build its code knowledge graph (files, classes, methods, functions).",
		}, s.handleParseRepository)

		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "parse_repository_branch",
			Description: "Parse a specific branch of a repository into the knowledge graph.",
		}, s.handleParseBranch)

		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "update_parsed_repository",
			Description: "Re-parse a previously ingested repository, replacing its graph.",
		}, s.handleUpdateRepository)

		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "get_repository_info",
			Description: "Return metadata and entity counts for a parsed repository.",
		}, s.handleRepositoryInfo)

		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "query_knowledge_graph",
			Description: "Explore the code knowledge graph with commands: repos, explore <repo>, classes [repo], class <name>, method <name> [class], function <name>, query <cypher>.",
		}, s.handleGraphQuery)

		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "check_ai_script_hallucinations",
			Description: "Statically analyze a Python script and validate its imports, calls, and attribute accesses against parsed repositories.",
		}, s.handleHallucinationCheck)

		count = 12
	}
	s.logger.Info("MCP tools registered", "count", count)
}

func (s *Server) handleScrapeURLs(ctx context.Context, _ *mcp.CallToolRequest, input ScrapeURLsInput) (*mcp.CallToolResult, Envelope, error) {
	env := s.run(ctx, "scrape_urls", func(ctx context.Context) (any, error) {
		urls := input.URLs
		if input.URL != "" {
			urls = append([]string{input.URL}, urls...)
		}
		if len(urls) == 0 {
			return nil, errors.New(errors.KindInvalidInput, "url or urls is required")
		}
		for _, u := range urls {
			if err := validateScrapeURL(u); err != nil {
				return nil, err
			}
		}
		return s.ingestor.ScrapeURLs(ctx, urls, input.MaxConcurrent)
	})
	return nil, env, nil
}

func (s *Server) handleSmartCrawl(ctx context.Context, _ *mcp.CallToolRequest, input SmartCrawlInput) (*mcp.CallToolResult, Envelope, error) {
	env := s.run(ctx, "smart_crawl_url", func(ctx context.Context) (any, error) {
		if err := validateScrapeURL(input.URL); err != nil {
			return nil, err
		}
		maxDepth := input.MaxDepth
		if maxDepth <= 0 {
			maxDepth = defaultMaxDepth
		}
		maxConcurrent := input.MaxConcurrent
		if maxConcurrent <= 0 {
			maxConcurrent = defaultMaxConcurrent
		}
		return s.ingestor.SmartCrawlURL(ctx, input.URL, maxDepth, maxConcurrent)
	})
	return nil, env, nil
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, Envelope, error) {
	env := s.run(ctx, "search", func(ctx context.Context) (any, error) {
		if err := validateQuery(input.Query); err != nil {
			return nil, err
		}
		numResults := input.NumResults
		if numResults <= 0 {
			numResults = defaultNumResults
		}
		maxConcurrent := input.MaxConcurrent
		if maxConcurrent <= 0 {
			maxConcurrent = defaultMaxConcurrent
		}
		return s.ingestor.Search(ctx, input.Query, numResults, input.ReturnRawMarkdown, maxConcurrent)
	})
	return nil, env, nil
}

func (s *Server) handleRAGQuery(ctx context.Context, _ *mcp.CallToolRequest, input RAGQueryInput) (*mcp.CallToolResult, Envelope, error) {
	env := s.run(ctx, "perform_rag_query", func(ctx context.Context) (any, error) {
		if err := validateQuery(input.Query); err != nil {
			return nil, err
		}
		return s.retriever.RAGQuery(ctx, input.Query, input.Source, matchCountOrDefault(input.MatchCount))
	})
	return nil, env, nil
}

// handleCodeExamples answers with the validated variant when the
// knowledge graph is enabled.
func (s *Server) handleCodeExamples(ctx context.Context, _ *mcp.CallToolRequest, input CodeExamplesInput) (*mcp.CallToolResult, Envelope, error) {
	env := s.run(ctx, "search_code_examples", func(ctx context.Context) (any, error) {
		if err := validateQuery(input.Query); err != nil {
			return nil, err
		}
		count := matchCountOrDefault(input.MatchCount)
		if s.cfg.Flags.KnowledgeGraph {
			return s.retriever.ValidatedCodeSearch(ctx, input.Query, input.SourceID, count)
		}
		return s.retriever.SearchCodeExamples(ctx, input.Query, input.SourceID, count)
	})
	return nil, env, nil
}

func (s *Server) handleSources(ctx context.Context, _ *mcp.CallToolRequest, input SourcesInput) (*mcp.CallToolResult, Envelope, error) {
	env := s.run(ctx, "get_available_sources", func(ctx context.Context) (any, error) {
		if strings.TrimSpace(input.Query) != "" {
			return s.retriever.SearchSources(ctx, input.Query, matchCountOrDefault(input.MatchCount))
		}
		return s.retriever.GetAvailableSources(ctx)
	})
	return nil, env, nil
}

func (s *Server) handleParseRepository(ctx context.Context, _ *mcp.CallToolRequest, input RepositoryInput) (*mcp.CallToolResult, Envelope, error) {
	env := s.run(ctx, "parse_github_repository", func(ctx context.Context) (any, error) {
		if strings.TrimSpace(input.RepoURL) == "" {
			return nil, errors.New(errors.KindInvalidInput, "repo_url is required")
		}
		return s.ingestor.ParseGithubRepository(ctx, input.RepoURL)
	})
	return nil, env, nil
}

func (s *Server) handleParseBranch(ctx context.Context, _ *mcp.CallToolRequest, input RepositoryBranchInput) (*mcp.CallToolResult, Envelope, error) {
	env := s.run(ctx, "parse_repository_branch", func(ctx context.Context) (any, error) {
		if strings.TrimSpace(input.RepoURL) == "" || strings.TrimSpace(input.Branch) == "" {
			return nil, errors.New(errors.KindInvalidInput, "repo_url and branch are required")
		}
		return s.ingestor.ParseRepositoryBranch(ctx, input.RepoURL, input.Branch)
	})
	return nil, env, nil
}

func (s *Server) handleUpdateRepository(ctx context.Context, _ *mcp.CallToolRequest, input RepositoryInput) (*mcp.CallToolResult, Envelope, error) {
	env := s.run(ctx, "update_parsed_repository", func(ctx context.Context) (any, error) {
		if strings.TrimSpace(input.RepoURL) == "" {
			return nil, errors.New(errors.KindInvalidInput, "repo_url is required")
		}
		return s.ingestor.UpdateParsedRepository(ctx, input.RepoURL)
	})
	return nil, env, nil
}

func (s *Server) handleRepositoryInfo(ctx context.Context, _ *mcp.CallToolRequest, input RepositoryInfoInput) (*mcp.CallToolResult, Envelope, error) {
	env := s.run(ctx, "get_repository_info", func(ctx context.Context) (any, error) {
		if strings.TrimSpace(input.RepoName) == "" {
			return nil, errors.New(errors.KindInvalidInput, "repo_name is required")
		}
		return s.reader.GetRepositoryInfo(ctx, input.RepoName)
	})
	return nil, env, nil
}

func (s *Server) handleGraphQuery(ctx context.Context, _ *mcp.CallToolRequest, input GraphQueryInput) (*mcp.CallToolResult, Envelope, error) {
	env := s.run(ctx, "query_knowledge_graph", func(ctx context.Context) (any, error) {
		if strings.TrimSpace(input.Query) == "" {
			return nil, errors.New(errors.KindInvalidInput, "query is required")
		}
		return graph.ExecuteCommand(ctx, s.reader, input.Query)
	})
	return nil, env, nil
}

func (s *Server) handleHallucinationCheck(ctx context.Context, _ *mcp.CallToolRequest, input HallucinationCheckInput) (*mcp.CallToolResult, Envelope, error) {
	env := s.run(ctx, "check_ai_script_hallucinations", func(ctx context.Context) (any, error) {
		if strings.TrimSpace(input.ScriptPath) == "" {
			return nil, errors.New(errors.KindInvalidInput, "script_path is required")
		}
		return s.checker.CheckScript(ctx, input.ScriptPath)
	})
	return nil, env, nil
}

func matchCountOrDefault(n int) int {
	if n <= 0 {
		return defaultMatchCount
	}
	return n
}

func validateQuery(query string) error {
	if strings.TrimSpace(query) == "" {
		return errors.New(errors.KindInvalidInput, "query is required and must be non-empty")
	}
	return nil
}

// validateScrapeURL enforces the scrape input contract before any
// backend is touched.
func validateScrapeURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return errors.New(errors.KindInvalidInput, "url must be a non-empty string")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return errors.New(errors.KindInvalidInput, "url must use the http or https scheme: "+rawURL)
	}
	return nil
}
