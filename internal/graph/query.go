package graph

import (
	"context"
	"strings"

	"github.com/Aman-CERP/crawlmcp/internal/errors"
)

// Reader is the read-only surface of the graph store used by the
// command language and by script validation.
type Reader interface {
	ListRepositories(ctx context.Context) ([]RepositoryRecord, error)
	GetRepositoryInfo(ctx context.Context, repoName string) (*RepositoryInfo, error)
	FindClass(ctx context.Context, name, repo string) ([]ClassRecord, error)
	FindMethod(ctx context.Context, name, class, repo string) ([]MethodRecord, error)
	FindFunction(ctx context.Context, name, repo string) ([]FunctionRecord, error)
	Query(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
}

var _ Reader = (*Store)(nil)

// CommandResult is the reply to one knowledge graph command.
type CommandResult struct {
	Command string `json:"command"`
	Count   int    `json:"count"`
	Data    any    `json:"data"`
}

const commandHelp = "supported commands: repos | explore <repo> | classes [repo] | class <name> | method <name> [class] | function <name> | query <cypher>"

// ExecuteCommand runs one command of the graph query mini-language.
func ExecuteCommand(ctx context.Context, r Reader, command string) (*CommandResult, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, errors.New(errors.KindInvalidInput, "empty command; "+commandHelp)
	}

	fields := strings.Fields(command)
	verb := strings.ToLower(fields[0])
	args := fields[1:]

	switch verb {
	case "repos":
		repos, err := r.ListRepositories(ctx)
		if err != nil {
			return nil, err
		}
		return &CommandResult{Command: command, Count: len(repos), Data: repos}, nil

	case "explore":
		if len(args) != 1 {
			return nil, errors.New(errors.KindInvalidInput, "usage: explore <repo>")
		}
		info, err := r.GetRepositoryInfo(ctx, args[0])
		if err != nil {
			return nil, err
		}
		return &CommandResult{Command: command, Count: 1, Data: info}, nil

	case "classes":
		repo := ""
		if len(args) > 0 {
			repo = args[0]
		}
		rows, err := r.Query(ctx, `
			MATCH (r:Repository)-[:CONTAINS]->(:File)-[:DEFINES]->(c:Class)
			WHERE $repo = '' OR r.name = $repo
			RETURN r.name AS repository, c.name AS name, c.full_name AS full_name
			ORDER BY full_name LIMIT 100`,
			map[string]any{"repo": repo})
		if err != nil {
			return nil, err
		}
		return &CommandResult{Command: command, Count: len(rows), Data: rows}, nil

	case "class":
		if len(args) != 1 {
			return nil, errors.New(errors.KindInvalidInput, "usage: class <name>")
		}
		classes, err := r.FindClass(ctx, args[0], "")
		if err != nil {
			return nil, err
		}
		return &CommandResult{Command: command, Count: len(classes), Data: classes}, nil

	case "method":
		if len(args) < 1 || len(args) > 2 {
			return nil, errors.New(errors.KindInvalidInput, "usage: method <name> [class]")
		}
		class := ""
		if len(args) == 2 {
			class = args[1]
		}
		methods, err := r.FindMethod(ctx, args[0], class, "")
		if err != nil {
			return nil, err
		}
		return &CommandResult{Command: command, Count: len(methods), Data: methods}, nil

	case "function":
		if len(args) != 1 {
			return nil, errors.New(errors.KindInvalidInput, "usage: function <name>")
		}
		functions, err := r.FindFunction(ctx, args[0], "")
		if err != nil {
			return nil, err
		}
		return &CommandResult{Command: command, Count: len(functions), Data: functions}, nil

	case "query":
		cypher := strings.TrimSpace(strings.TrimPrefix(command, fields[0]))
		if cypher == "" {
			return nil, errors.New(errors.KindInvalidInput, "usage: query <cypher>")
		}
		rows, err := r.Query(ctx, cypher, nil)
		if err != nil {
			return nil, err
		}
		return &CommandResult{Command: command, Count: len(rows), Data: rows}, nil

	default:
		return nil, errors.New(errors.KindInvalidInput, "unknown command "+verb+"; "+commandHelp)
	}
}
