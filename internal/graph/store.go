// Package graph maintains the code knowledge graph: repositories are
// cloned, statically analyzed, and mirrored into Neo4j as Repository,
// File, Class, Method, Function, Attribute, Branch and Commit nodes.
package graph

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Aman-CERP/crawlmcp/internal/config"
	"github.com/Aman-CERP/crawlmcp/internal/errors"
)

// Store is the Neo4j-backed graph adapter.
type Store struct {
	driver      neo4j.DriverWithContext
	workspace   *GitWorkspace
	commitLimit int
	logger      *slog.Logger
}

// IngestReport summarizes one repository ingestion.
type IngestReport struct {
	Repository string  `json:"repository"`
	Branch     string  `json:"branch,omitempty"`
	Files      int     `json:"files"`
	Classes    int     `json:"classes"`
	Methods    int     `json:"methods"`
	Functions  int     `json:"functions"`
	Attributes int     `json:"attributes"`
	Branches   int     `json:"branches"`
	Commits    int     `json:"commits"`
	Elapsed    float64 `json:"elapsed_seconds"`
}

// ClassRecord is a class node returned by a read query.
type ClassRecord struct {
	Repository string `json:"repository"`
	File       string `json:"file,omitempty"`
	Name       string `json:"name"`
	FullName   string `json:"full_name"`
}

// MethodRecord is a method node returned by a read query.
type MethodRecord struct {
	Repository    string   `json:"repository"`
	ClassName     string   `json:"class_name"`
	Name          string   `json:"name"`
	ParamsRaw     string   `json:"params_raw"`
	ParamsList    []string `json:"params_list"`
	Returns       string   `json:"return_type,omitempty"`
	IsAsync       bool     `json:"is_async"`
	IsStatic      bool     `json:"is_static"`
	IsClassMethod bool     `json:"is_classmethod"`
}

// FunctionRecord is a module-level function node.
type FunctionRecord struct {
	Repository string   `json:"repository"`
	File       string   `json:"file,omitempty"`
	Name       string   `json:"name"`
	ParamsRaw  string   `json:"params_raw"`
	ParamsList []string `json:"params_list"`
	Returns    string   `json:"return_type,omitempty"`
	IsAsync    bool     `json:"is_async"`
}

// RepositoryRecord is one row of ListRepositories.
type RepositoryRecord struct {
	Name       string `json:"name"`
	CloneURL   string `json:"clone_url,omitempty"`
	IngestedAt string `json:"ingested_at,omitempty"`
}

// RepositoryInfo aggregates counts and a module sample for one repo.
type RepositoryInfo struct {
	Name          string   `json:"name"`
	CloneURL      string   `json:"clone_url,omitempty"`
	FileCount     int      `json:"file_count"`
	ClassCount    int      `json:"class_count"`
	MethodCount   int      `json:"method_count"`
	FunctionCount int      `json:"function_count"`
	BranchCount   int      `json:"branch_count"`
	CommitCount   int      `json:"commit_count"`
	SampleModules []string `json:"sample_modules,omitempty"`
}

// NewStore connects to Neo4j and verifies connectivity.
func NewStore(ctx context.Context, cfg config.GraphConfig, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, errors.Wrap(err, errors.KindGraphUnavailable, "create neo4j driver")
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, errors.Wrap(err, errors.KindGraphUnavailable, "verify neo4j connectivity")
	}

	reposDir := cfg.ReposDir
	if reposDir == "" {
		reposDir = filepath.Join(os.TempDir(), "crawlmcp-repos")
	}
	commitLimit := cfg.CommitLimit
	if commitLimit < 1 {
		commitLimit = 50
	}

	return &Store{
		driver:      driver,
		workspace:   NewGitWorkspace(reposDir, logger),
		commitLimit: commitLimit,
		logger:      logger,
	}, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// Healthy reports whether the backend currently answers.
func (s *Store) Healthy(ctx context.Context) bool {
	return s.driver.VerifyConnectivity(ctx) == nil
}

// IngestRepository clones the default branch and mirrors it into the
// graph, replacing any previous ingest of the same repository.
func (s *Store) IngestRepository(ctx context.Context, cloneURL string) (*IngestReport, error) {
	return s.ingest(ctx, cloneURL, "")
}

// IngestRepositoryBranch ingests a specific branch.
func (s *Store) IngestRepositoryBranch(ctx context.Context, cloneURL, branch string) (*IngestReport, error) {
	return s.ingest(ctx, cloneURL, branch)
}

// UpdateRepository re-parses a previously ingested repository.
func (s *Store) UpdateRepository(ctx context.Context, cloneURL string) (*IngestReport, error) {
	return s.ingest(ctx, cloneURL, "")
}

func (s *Store) ingest(ctx context.Context, cloneURL, branch string) (*IngestReport, error) {
	start := time.Now()
	repoName := RepoNameFromURL(cloneURL)

	dir, err := s.workspace.CloneOrUpdate(ctx, cloneURL, branch)
	if err != nil {
		return nil, err
	}

	paths, err := s.workspace.PythonFiles(dir)
	if err != nil {
		return nil, err
	}

	report := &IngestReport{Repository: repoName, Branch: branch}
	var analyses []*FileAnalysis
	for _, rel := range paths {
		source, err := os.ReadFile(filepath.Join(dir, rel))
		if err != nil {
			s.logger.Warn("skipping unreadable file",
				slog.String("path", rel), slog.String("error", err.Error()))
			continue
		}
		fa, err := AnalyzePythonFile(ctx, rel, source)
		if err != nil {
			s.logger.Warn("skipping unparsable file",
				slog.String("path", rel), slog.String("error", err.Error()))
			continue
		}
		analyses = append(analyses, fa)
		report.Files++
		report.Classes += len(fa.Classes)
		report.Functions += len(fa.Functions)
		for _, cls := range fa.Classes {
			report.Methods += len(cls.Methods)
			report.Attributes += len(cls.Attributes)
		}
	}

	branches, err := s.workspace.Branches(ctx, dir)
	if err != nil {
		s.logger.Warn("branch discovery failed", slog.String("error", err.Error()))
	}
	commits, err := s.workspace.RecentCommits(ctx, dir, s.commitLimit)
	if err != nil {
		s.logger.Warn("commit discovery failed", slog.String("error", err.Error()))
	}
	report.Branches = len(branches)
	report.Commits = len(commits)

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	// Clear and re-create run in one transaction so a failure leaves
	// either the old graph or the new one, never a mix.
	clearFailed := false
	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, st := range clearStatements(repoName) {
			if err := runStatement(ctx, tx, st); err != nil {
				clearFailed = true
				return nil, err
			}
		}

		stmts := []statement{repositoryStatement(repoName, cloneURL)}
		for _, fa := range analyses {
			stmts = append(stmts, fileStatements(repoName, fa)...)
		}
		if len(branches) > 0 {
			stmts = append(stmts, branchStatement(repoName, branches))
		}
		if len(commits) > 0 {
			stmts = append(stmts, commitStatement(repoName, commits))
		}
		for _, st := range stmts {
			if err := runStatement(ctx, tx, st); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		if clearFailed {
			return nil, errors.Wrap(err, errors.KindGraphCleanupFailed, "clear repository "+repoName)
		}
		return nil, errors.Wrap(err, errors.KindGraphUnavailable, "ingest repository "+repoName)
	}

	report.Elapsed = time.Since(start).Seconds()
	s.logger.Info("repository ingested",
		slog.String("repo", repoName),
		slog.Int("files", report.Files),
		slog.Int("classes", report.Classes),
		slog.Int("methods", report.Methods))
	return report, nil
}

// ClearRepository removes a repository and all of its descendants in
// one transaction.
func (s *Store) ClearRepository(ctx context.Context, repoName string) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, st := range clearStatements(repoName) {
			if err := runStatement(ctx, tx, st); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return errors.Wrap(err, errors.KindGraphCleanupFailed, "clear repository "+repoName)
	}
	return nil
}

func runStatement(ctx context.Context, tx neo4j.ManagedTransaction, st statement) error {
	res, err := tx.Run(ctx, st.cypher, st.params)
	if err != nil {
		return err
	}
	_, err = res.Consume(ctx)
	return err
}

// FindClass returns class nodes matching name, optionally scoped to a
// repository.
func (s *Store) FindClass(ctx context.Context, name, repo string) ([]ClassRecord, error) {
	rows, err := s.readRows(ctx, `
		MATCH (r:Repository)-[:CONTAINS]->(f:File)-[:DEFINES]->(c:Class)
		WHERE c.name = $name AND ($repo = '' OR r.name = $repo)
		RETURN r.name AS repository, f.path AS file, c.name AS name, c.full_name AS full_name
		LIMIT 50`,
		map[string]any{"name": name, "repo": repo})
	if err != nil {
		return nil, err
	}
	out := make([]ClassRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, ClassRecord{
			Repository: asString(row["repository"]),
			File:       asString(row["file"]),
			Name:       asString(row["name"]),
			FullName:   asString(row["full_name"]),
		})
	}
	return out, nil
}

// FindMethod returns method nodes matching name, optionally scoped to
// a class and a repository.
func (s *Store) FindMethod(ctx context.Context, name, class, repo string) ([]MethodRecord, error) {
	rows, err := s.readRows(ctx, `
		MATCH (r:Repository)-[:CONTAINS]->(:File)-[:DEFINES]->(c:Class)-[:HAS_METHOD]->(m:Method)
		WHERE m.name = $name AND ($class = '' OR c.name = $class) AND ($repo = '' OR r.name = $repo)
		RETURN r.name AS repository, c.name AS class_name, m.name AS name,
		       m.params_raw AS params_raw, m.params_list AS params_list,
		       m.return_type AS return_type, m.is_async AS is_async,
		       m.is_static AS is_static, m.is_classmethod AS is_classmethod
		LIMIT 50`,
		map[string]any{"name": name, "class": class, "repo": repo})
	if err != nil {
		return nil, err
	}
	out := make([]MethodRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, MethodRecord{
			Repository:    asString(row["repository"]),
			ClassName:     asString(row["class_name"]),
			Name:          asString(row["name"]),
			ParamsRaw:     asString(row["params_raw"]),
			ParamsList:    asStrings(row["params_list"]),
			Returns:       asString(row["return_type"]),
			IsAsync:       asBool(row["is_async"]),
			IsStatic:      asBool(row["is_static"]),
			IsClassMethod: asBool(row["is_classmethod"]),
		})
	}
	return out, nil
}

// FindFunction returns module-level function nodes matching name.
func (s *Store) FindFunction(ctx context.Context, name, repo string) ([]FunctionRecord, error) {
	rows, err := s.readRows(ctx, `
		MATCH (r:Repository)-[:CONTAINS]->(f:File)-[:DEFINES]->(fn:Function)
		WHERE fn.name = $name AND ($repo = '' OR r.name = $repo)
		RETURN r.name AS repository, f.path AS file, fn.name AS name,
		       fn.params_raw AS params_raw, fn.params_list AS params_list,
		       fn.return_type AS return_type, fn.is_async AS is_async
		LIMIT 50`,
		map[string]any{"name": name, "repo": repo})
	if err != nil {
		return nil, err
	}
	out := make([]FunctionRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, FunctionRecord{
			Repository: asString(row["repository"]),
			File:       asString(row["file"]),
			Name:       asString(row["name"]),
			ParamsRaw:  asString(row["params_raw"]),
			ParamsList: asStrings(row["params_list"]),
			Returns:    asString(row["return_type"]),
			IsAsync:    asBool(row["is_async"]),
		})
	}
	return out, nil
}

// ListRepositories returns all ingested repositories.
func (s *Store) ListRepositories(ctx context.Context) ([]RepositoryRecord, error) {
	rows, err := s.readRows(ctx, `
		MATCH (r:Repository)
		RETURN r.name AS name, r.clone_url AS clone_url, r.ingested_at AS ingested_at
		ORDER BY name`, nil)
	if err != nil {
		return nil, err
	}
	out := make([]RepositoryRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, RepositoryRecord{
			Name:       asString(row["name"]),
			CloneURL:   asString(row["clone_url"]),
			IngestedAt: asString(row["ingested_at"]),
		})
	}
	return out, nil
}

// GetRepositoryInfo aggregates counts and a sample of module names.
func (s *Store) GetRepositoryInfo(ctx context.Context, repoName string) (*RepositoryInfo, error) {
	rows, err := s.readRows(ctx, `
		MATCH (r:Repository {name: $repo})
		OPTIONAL MATCH (r)-[:CONTAINS]->(f:File)
		OPTIONAL MATCH (f)-[:DEFINES]->(c:Class)
		OPTIONAL MATCH (c)-[:HAS_METHOD]->(m:Method)
		OPTIONAL MATCH (f)-[:DEFINES]->(fn:Function)
		OPTIONAL MATCH (r)-[:HAS_BRANCH]->(b:Branch)
		OPTIONAL MATCH (r)-[:HAS_COMMIT]->(cm:Commit)
		RETURN r.name AS name, r.clone_url AS clone_url,
		       count(DISTINCT f) AS files, count(DISTINCT c) AS classes,
		       count(DISTINCT m) AS methods, count(DISTINCT fn) AS functions,
		       count(DISTINCT b) AS branches, count(DISTINCT cm) AS commits`,
		map[string]any{"repo": repoName})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.New(errors.KindInvalidInput, "repository not found: "+repoName)
	}
	row := rows[0]
	info := &RepositoryInfo{
		Name:          asString(row["name"]),
		CloneURL:      asString(row["clone_url"]),
		FileCount:     asInt(row["files"]),
		ClassCount:    asInt(row["classes"]),
		MethodCount:   asInt(row["methods"]),
		FunctionCount: asInt(row["functions"]),
		BranchCount:   asInt(row["branches"]),
		CommitCount:   asInt(row["commits"]),
	}

	modules, err := s.readRows(ctx, `
		MATCH (:Repository {name: $repo})-[:CONTAINS]->(f:File)
		RETURN DISTINCT f.module_name AS module
		ORDER BY module LIMIT 10`,
		map[string]any{"repo": repoName})
	if err == nil {
		for _, m := range modules {
			info.SampleModules = append(info.SampleModules, asString(m["module"]))
		}
	}
	return info, nil
}

// Query runs a caller-supplied read-only cypher statement.
func (s *Store) Query(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	return s.readRows(ctx, cypher, params)
}

func (s *Store) readRows(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		rows := make([]map[string]any, 0, len(records))
		for _, rec := range records {
			rows = append(rows, rec.AsMap())
		}
		return rows, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.KindGraphUnavailable, "graph query failed")
	}
	return result.([]map[string]any), nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asStrings(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
