package project

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	forgeerrors "github.com/fwforge/fwforge/internal/errors"
	"github.com/fwforge/fwforge/internal/logfields"
)

// ImportGit clones a firmware project from a git URL into the projects root
// and registers it. When name is empty the repository's base name is used.
// A clone that does not contain a top-level CMakeLists.txt is removed again
// and rejected.
func (s *Store) ImportGit(ctx context.Context, url, name, branch string) (*Project, error) {
	if name == "" {
		name = repoBaseName(url)
	}
	id := Slug(name)
	if id == "" {
		return nil, fmt.Errorf("cannot derive a project name from %q", url)
	}

	s.mu.RLock()
	_, exists := s.projects[id]
	s.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("project %q already exists", id)
	}

	dir := filepath.Join(s.root, id)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("directory %s already exists", dir)
	}

	slog.Info("importing project from git", logfields.URL(url), logfields.Project(id))

	opts := &git.CloneOptions{URL: url, Depth: 1}
	if branch != "" {
		opts.ReferenceName = plumbing.ReferenceName("refs/heads/" + branch)
		opts.SingleBranch = true
	}

	if _, err := git.PlainCloneContext(ctx, dir, false, opts); err != nil {
		_ = os.RemoveAll(dir)
		return nil, classifyCloneError(url, err)
	}

	if _, err := os.Stat(filepath.Join(dir, "CMakeLists.txt")); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("repository %s is not a firmware project (no CMakeLists.txt)", url)
	}

	p := s.loadProject(dir, id)
	s.mu.Lock()
	s.projects[p.ID] = p
	s.mu.Unlock()

	clone := *p
	return &clone, nil
}

// classifyCloneError maps go-git failures onto typed categories so callers
// can distinguish auth and not-found from transient network trouble without
// string parsing.
func classifyCloneError(url string, err error) error {
	l := strings.ToLower(err.Error())
	switch {
	case strings.Contains(l, "authentication") || strings.Contains(l, "authorization"):
		return forgeerrors.GitAuthError(url, err)
	case strings.Contains(l, "repository not found") || strings.Contains(l, "does not exist"):
		return forgeerrors.GitCloneError(url, err)
	case strings.Contains(l, "timeout") || strings.Contains(l, "connection refused") || strings.Contains(l, "no such host"):
		return forgeerrors.GitNetworkError(url, err)
	}
	return forgeerrors.GitCloneError(url, err)
}

func repoBaseName(url string) string {
	base := path.Base(strings.TrimSuffix(strings.TrimSuffix(url, "/"), ".git"))
	if base == "." || base == "/" {
		return ""
	}
	return base
}
