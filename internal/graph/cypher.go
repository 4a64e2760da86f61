package graph

import (
	"fmt"
	"time"
)

// statement pairs a cypher string with its parameters. Builders below
// are pure so ordering and shape are unit-testable without a server.
type statement struct {
	cypher string
	params map[string]any
}

// clearStatements deletes a repository and everything it contains.
// The order respects edge dependencies: leaves first, repository
// last. All eight run inside one transaction; any leftover edge
// pollutes later queries, so partial deletes must roll back.
func clearStatements(repoName string) []statement {
	steps := []string{
		`MATCH (r:Repository {name: $repo})
		 OPTIONAL MATCH (r)-[:CONTAINS]->(:File)-[:DEFINES]->(:Class)-[:HAS_METHOD]->(m:Method)
		 DETACH DELETE m`,
		`MATCH (r:Repository {name: $repo})
		 OPTIONAL MATCH (r)-[:CONTAINS]->(:File)-[:DEFINES]->(:Class)-[:HAS_ATTRIBUTE]->(a:Attribute)
		 DETACH DELETE a`,
		`MATCH (r:Repository {name: $repo})
		 OPTIONAL MATCH (r)-[:CONTAINS]->(:File)-[:DEFINES]->(fn:Function)
		 DETACH DELETE fn`,
		`MATCH (r:Repository {name: $repo})
		 OPTIONAL MATCH (r)-[:CONTAINS]->(:File)-[:DEFINES]->(c:Class)
		 DETACH DELETE c`,
		`MATCH (r:Repository {name: $repo})
		 OPTIONAL MATCH (r)-[:CONTAINS]->(f:File)
		 DETACH DELETE f`,
		`MATCH (r:Repository {name: $repo})
		 OPTIONAL MATCH (r)-[:HAS_BRANCH]->(b:Branch)
		 DETACH DELETE b`,
		`MATCH (r:Repository {name: $repo})
		 OPTIONAL MATCH (r)-[:HAS_COMMIT]->(c:Commit)
		 DETACH DELETE c`,
		`MATCH (r:Repository {name: $repo})
		 DETACH DELETE r`,
	}

	out := make([]statement, len(steps))
	for i, cypher := range steps {
		out[i] = statement{cypher: cypher, params: map[string]any{"repo": repoName}}
	}
	return out
}

func repositoryStatement(repoName, cloneURL string) statement {
	return statement{
		cypher: `MERGE (r:Repository {name: $repo})
		 SET r.clone_url = $clone_url, r.ingested_at = $ingested_at`,
		params: map[string]any{
			"repo":        repoName,
			"clone_url":   cloneURL,
			"ingested_at": time.Now().UTC().Format(time.RFC3339),
		},
	}
}

// fileStatements creates the File node and its classes, methods,
// attributes and functions from one analysis result.
func fileStatements(repoName string, fa *FileAnalysis) []statement {
	out := []statement{{
		cypher: `MATCH (r:Repository {name: $repo})
		 MERGE (f:File {path: $path, repo_name: $repo})
		 SET f.module_name = $module, f.line_count = $line_count
		 MERGE (r)-[:CONTAINS]->(f)`,
		params: map[string]any{
			"repo":       repoName,
			"path":       fa.Path,
			"module":     fa.Module,
			"line_count": fa.LineCount,
		},
	}}

	if len(fa.Classes) > 0 {
		classes := make([]map[string]any, 0, len(fa.Classes))
		var methods, attributes []map[string]any
		for _, cls := range fa.Classes {
			classes = append(classes, map[string]any{
				"name":      cls.Name,
				"full_name": cls.FullName,
				"docstring": cls.Docstring,
				"line":      cls.Line,
			})
			for _, m := range cls.Methods {
				methods = append(methods, map[string]any{
					"class_full_name": cls.FullName,
					"name":            m.Name,
					"full_name":       cls.FullName + "." + m.Name,
					"params_raw":      m.ParamsRaw,
					"params_list":     paramStrings(m.Params),
					"return_type":     m.Returns,
					"docstring":       m.Docstring,
					"is_async":        m.IsAsync,
					"is_static":       m.IsStatic,
					"is_classmethod":  m.IsClassMethod,
					"line":            m.Line,
				})
			}
			for _, a := range cls.Attributes {
				attributes = append(attributes, map[string]any{
					"class_full_name": cls.FullName,
					"name":            a.Name,
					"type":            a.Type,
					"line":            a.Line,
				})
			}
		}

		out = append(out, statement{
			cypher: `MATCH (f:File {path: $path, repo_name: $repo})
			 UNWIND $classes AS cls
			 MERGE (c:Class {full_name: cls.full_name})
			 SET c.name = cls.name, c.docstring = cls.docstring, c.line = cls.line, c.repo_name = $repo
			 MERGE (f)-[:DEFINES]->(c)`,
			params: map[string]any{"repo": repoName, "path": fa.Path, "classes": classes},
		})
		if len(methods) > 0 {
			out = append(out, statement{
				cypher: `UNWIND $methods AS meth
				 MATCH (c:Class {full_name: meth.class_full_name})
				 CREATE (m:Method {name: meth.name, full_name: meth.full_name,
				   params_raw: meth.params_raw, params_list: meth.params_list,
				   return_type: meth.return_type, docstring: meth.docstring,
				   is_async: meth.is_async, is_static: meth.is_static,
				   is_classmethod: meth.is_classmethod, line: meth.line})
				 MERGE (c)-[:HAS_METHOD]->(m)`,
				params: map[string]any{"methods": methods},
			})
		}
		if len(attributes) > 0 {
			out = append(out, statement{
				cypher: `UNWIND $attributes AS attr
				 MATCH (c:Class {full_name: attr.class_full_name})
				 CREATE (a:Attribute {name: attr.name, type: attr.type, line: attr.line})
				 MERGE (c)-[:HAS_ATTRIBUTE]->(a)`,
				params: map[string]any{"attributes": attributes},
			})
		}
	}

	if len(fa.Functions) > 0 {
		functions := make([]map[string]any, 0, len(fa.Functions))
		for _, fn := range fa.Functions {
			functions = append(functions, map[string]any{
				"name":        fn.Name,
				"full_name":   fa.Module + "." + fn.Name,
				"params_raw":  fn.ParamsRaw,
				"params_list": paramStrings(fn.Params),
				"return_type": fn.Returns,
				"docstring":   fn.Docstring,
				"is_async":    fn.IsAsync,
				"line":        fn.Line,
			})
		}
		out = append(out, statement{
			cypher: `MATCH (f:File {path: $path, repo_name: $repo})
			 UNWIND $functions AS fn
			 CREATE (func:Function {name: fn.name, full_name: fn.full_name,
			   params_raw: fn.params_raw, params_list: fn.params_list,
			   return_type: fn.return_type, docstring: fn.docstring,
			   is_async: fn.is_async, line: fn.line})
			 MERGE (f)-[:DEFINES]->(func)`,
			params: map[string]any{"repo": repoName, "path": fa.Path, "functions": functions},
		})
	}
	return out
}

func branchStatement(repoName string, branches []BranchInfo) statement {
	rows := make([]map[string]any, 0, len(branches))
	for _, b := range branches {
		rows = append(rows, map[string]any{"name": b.Name, "is_default": b.IsDefault})
	}
	return statement{
		cypher: `MATCH (r:Repository {name: $repo})
		 UNWIND $branches AS b
		 MERGE (br:Branch {name: b.name, repo_name: $repo})
		 SET br.is_default = b.is_default
		 MERGE (r)-[:HAS_BRANCH]->(br)`,
		params: map[string]any{"repo": repoName, "branches": rows},
	}
}

func commitStatement(repoName string, commits []CommitInfo) statement {
	rows := make([]map[string]any, 0, len(commits))
	for _, c := range commits {
		rows = append(rows, map[string]any{
			"hash":      c.Hash,
			"author":    c.Author,
			"message":   c.Message,
			"timestamp": c.Timestamp.Format(time.RFC3339),
		})
	}
	return statement{
		cypher: `MATCH (r:Repository {name: $repo})
		 UNWIND $commits AS c
		 MERGE (cm:Commit {hash: c.hash, repo_name: $repo})
		 SET cm.author = c.author, cm.message = c.message, cm.timestamp = c.timestamp
		 MERGE (r)-[:HAS_COMMIT]->(cm)`,
		params: map[string]any{"repo": repoName, "commits": rows},
	}
}

func paramStrings(params []Param) []string {
	out := make([]string, 0, len(params))
	for _, p := range params {
		s := p.Name
		if p.Type != "" {
			s = fmt.Sprintf("%s:%s", p.Name, p.Type)
		}
		if p.Default != "" {
			s += "=" + p.Default
		}
		out = append(out, s)
	}
	return out
}
