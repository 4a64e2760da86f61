package graph

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Aman-CERP/crawlmcp/internal/errors"
)

// BranchInfo is one discovered branch of a repository.
type BranchInfo struct {
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
}

// CommitInfo is one entry of the recent commit history.
type CommitInfo struct {
	Hash      string    `json:"hash"`
	Author    string    `json:"author"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// GitWorkspace manages local clones under a root directory.
type GitWorkspace struct {
	root   string
	logger *slog.Logger
}

func NewGitWorkspace(root string, logger *slog.Logger) *GitWorkspace {
	if logger == nil {
		logger = slog.Default()
	}
	return &GitWorkspace{root: root, logger: logger}
}

// RepoNameFromURL derives the repository name from a clone URL.
func RepoNameFromURL(cloneURL string) string {
	name := strings.TrimSuffix(strings.TrimRight(cloneURL, "/"), ".git")
	if i := strings.LastIndexAny(name, "/:"); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// CloneOrUpdate ensures a local clone of cloneURL exists and is
// current, returning its directory. branch may be empty for the
// default branch.
func (g *GitWorkspace) CloneOrUpdate(ctx context.Context, cloneURL, branch string) (string, error) {
	name := RepoNameFromURL(cloneURL)
	if name == "" {
		return "", errors.New(errors.KindInvalidInput, "cannot derive repository name from "+cloneURL)
	}
	dir := filepath.Join(g.root, name)

	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		g.logger.Info("updating existing clone", slog.String("repo", name))
		if _, err := g.git(ctx, dir, "fetch", "--all", "--prune"); err != nil {
			return "", err
		}
		if branch != "" {
			if _, err := g.git(ctx, dir, "checkout", branch); err != nil {
				return "", err
			}
		}
		if _, err := g.git(ctx, dir, "pull", "--ff-only"); err != nil {
			g.logger.Warn("pull failed, keeping existing checkout",
				slog.String("repo", name), slog.String("error", err.Error()))
		}
		return dir, nil
	}

	if err := os.MkdirAll(g.root, 0o755); err != nil {
		return "", errors.Wrap(err, errors.KindInternal, "create repos directory")
	}
	args := []string{"clone"}
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	args = append(args, cloneURL, dir)
	g.logger.Info("cloning repository", slog.String("repo", name), slog.String("branch", branch))
	if _, err := g.git(ctx, "", args...); err != nil {
		return "", err
	}
	return dir, nil
}

// Branches lists remote branches, marking the default one.
func (g *GitWorkspace) Branches(ctx context.Context, dir string) ([]BranchInfo, error) {
	defaultRef := ""
	if out, err := g.git(ctx, dir, "symbolic-ref", "refs/remotes/origin/HEAD"); err == nil {
		defaultRef = strings.TrimPrefix(strings.TrimSpace(out), "refs/remotes/")
	}

	out, err := g.git(ctx, dir, "branch", "-r", "--format", "%(refname:short)")
	if err != nil {
		return nil, err
	}

	var branches []BranchInfo
	for _, line := range strings.Split(out, "\n") {
		ref := strings.TrimSpace(line)
		if ref == "" || strings.Contains(ref, "HEAD") {
			continue
		}
		name := strings.TrimPrefix(ref, "origin/")
		branches = append(branches, BranchInfo{
			Name:      name,
			IsDefault: ref == defaultRef,
		})
	}
	return branches, nil
}

// RecentCommits returns up to limit commits, newest first.
func (g *GitWorkspace) RecentCommits(ctx context.Context, dir string, limit int) ([]CommitInfo, error) {
	if limit < 1 {
		limit = 1
	}
	out, err := g.git(ctx, dir, "log", "-n", strconv.Itoa(limit), "--pretty=format:%H%x1f%an%x1f%at%x1f%s")
	if err != nil {
		return nil, err
	}

	var commits []CommitInfo
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.SplitN(line, "\x1f", 4)
		if len(parts) != 4 {
			continue
		}
		c := CommitInfo{Hash: parts[0], Author: parts[1], Message: parts[3]}
		if epoch, err := strconv.ParseInt(parts[2], 10, 64); err == nil {
			c.Timestamp = time.Unix(epoch, 0).UTC()
		}
		commits = append(commits, c)
	}
	return commits, nil
}

// PythonFiles lists repository-relative paths of Python sources,
// skipping vendored and hidden directories.
func (g *GitWorkspace) PythonFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if strings.HasPrefix(name, ".") || name == "venv" || name == "node_modules" || name == "__pycache__" {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(d.Name(), ".py") {
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "walk repository files")
	}
	return files, nil
}

func (g *GitWorkspace) git(ctx context.Context, dir string, args ...string) (string, error) {
	if dir != "" {
		args = append([]string{"-C", dir}, args...)
	}
	cmd := exec.CommandContext(ctx, "git", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", errors.Wrap(
			fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out))),
			errors.KindFetchFailed, "git command failed")
	}
	return string(out), nil
}
