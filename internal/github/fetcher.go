// Package github mirrors a repository subtree to local disk so it can be
// registered as a project source directory.
package github

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/go-github/v81/github"
	"go.uber.org/zap"
)

// ErrInvalidRepo is returned for malformed repository references.
var ErrInvalidRepo = errors.New("invalid repository reference")

// Repo identifies a repository subtree.
type Repo struct {
	Owner string
	Name  string
	// Path is the subtree to mirror; empty means the whole repository.
	Path string
	// Ref is a branch, tag or commit; empty means the default branch.
	Ref string
}

// ParseRepo parses "owner/name[/path]".
func ParseRepo(s string) (Repo, error) {
	parts := strings.SplitN(strings.Trim(s, "/"), "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Repo{}, fmt.Errorf("%w: %q, want owner/name[/path]", ErrInvalidRepo, s)
	}
	r := Repo{Owner: parts[0], Name: parts[1]}
	if len(parts) == 3 {
		r.Path = parts[2]
	}
	return r, nil
}

func (r Repo) String() string {
	s := r.Owner + "/" + r.Name
	if r.Path != "" {
		s += "/" + r.Path
	}
	return s
}

// Filter selects mirrored files the same way the indexer selects files.
type Filter struct {
	Extensions []string
	IgnoreDirs []string
}

func (f Filter) keepFile(name string) bool {
	if len(f.Extensions) == 0 {
		return true
	}
	for _, ext := range f.Extensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

func (f Filter) keepDir(name string) bool {
	return !slices.Contains(f.IgnoreDirs, name)
}

// MirrorResult summarizes a mirror run.
type MirrorResult struct {
	Files   int
	Skipped int
	// CommitSHA is the latest commit touching the subtree.
	CommitSHA string
}

// Fetcher handles fetching source files from a GitHub repository
type Fetcher struct {
	client *Client
	repo   Repo
	logger *zap.Logger
}

// NewFetcher creates a new fetcher for repo
func NewFetcher(client *Client, repo Repo, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{client: client, repo: repo, logger: logger}
}

// Mirror writes every file of the subtree accepted by filter below dest,
// keeping relative paths. Files the contents API cannot inline are skipped.
func (f *Fetcher) Mirror(ctx context.Context, dest string, filter Filter) (*MirrorResult, error) {
	sha, err := f.LatestCommitSHA(ctx)
	if err != nil {
		return nil, err
	}

	files, err := f.ListFiles(ctx, filter)
	if err != nil {
		return nil, err
	}

	root, err := filepath.Abs(dest)
	if err != nil {
		return nil, fmt.Errorf("resolve destination: %w", err)
	}

	result := &MirrorResult{CommitSHA: sha}
	for _, rel := range files {
		content, err := f.FetchFile(ctx, rel)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			f.logger.Warn("Skipping file", zap.String("path", rel), zap.Error(err))
			result.Skipped++
			continue
		}

		target := filepath.Join(root, filepath.FromSlash(rel))
		if !strings.HasPrefix(target, root+string(filepath.Separator)) {
			result.Skipped++
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, fmt.Errorf("create directory for %s: %w", rel, err)
		}
		if err := os.WriteFile(target, content, 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", rel, err)
		}
		result.Files++
	}

	f.logger.Info("Mirrored repository",
		zap.String("repo", f.repo.String()),
		zap.String("dest", root),
		zap.Int("files", result.Files),
		zap.Int("skipped", result.Skipped),
		zap.String("commit", sha))
	return result, nil
}

// ListFiles recursively lists the subtree files accepted by filter, relative
// to the subtree root.
func (f *Fetcher) ListFiles(ctx context.Context, filter Filter) ([]string, error) {
	return f.listRecursive(ctx, f.repo.Path, "", filter)
}

func (f *Fetcher) contentOptions() *github.RepositoryContentGetOptions {
	if f.repo.Ref == "" {
		return nil
	}
	return &github.RepositoryContentGetOptions{Ref: f.repo.Ref}
}

func (f *Fetcher) listRecursive(ctx context.Context, fullPath, relativePath string, filter Filter) ([]string, error) {
	var files []string

	_, dirContents, _, err := f.client.Repositories.GetContents(ctx, f.repo.Owner, f.repo.Name, fullPath, f.contentOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to get contents of %s: %w", fullPath, err)
	}

	for _, item := range dirContents {
		name := item.GetName()
		if name == "" {
			continue
		}
		itemRelPath := path.Join(relativePath, name)

		switch item.GetType() {
		case "file":
			if filter.keepFile(name) {
				files = append(files, itemRelPath)
			}
		case "dir":
			if !filter.keepDir(name) {
				continue
			}
			sub, err := f.listRecursive(ctx, path.Join(fullPath, name), itemRelPath, filter)
			if err != nil {
				return nil, err
			}
			files = append(files, sub...)
		}
	}
	return files, nil
}

// FetchFile returns the decoded content of a file of the subtree.
func (f *Fetcher) FetchFile(ctx context.Context, relativePath string) ([]byte, error) {
	fullPath := path.Join(f.repo.Path, relativePath)

	fileContent, _, _, err := f.client.Repositories.GetContents(ctx, f.repo.Owner, f.repo.Name, fullPath, f.contentOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to get content of %s: %w", fullPath, err)
	}
	if fileContent == nil {
		return nil, fmt.Errorf("no file content returned for %s", fullPath)
	}
	if fileContent.GetEncoding() == "none" {
		return nil, fmt.Errorf("%s is too large for the contents API", fullPath)
	}

	content, err := fileContent.GetContent()
	if err != nil {
		return nil, fmt.Errorf("failed to decode content of %s: %w", fullPath, err)
	}
	return []byte(content), nil
}

// LatestCommitSHA retrieves the SHA of the most recent commit affecting the subtree
func (f *Fetcher) LatestCommitSHA(ctx context.Context) (string, error) {
	commits, _, err := f.client.Repositories.ListCommits(ctx, f.repo.Owner, f.repo.Name, &github.CommitsListOptions{
		SHA:         f.repo.Ref,
		Path:        f.repo.Path,
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err != nil {
		return "", fmt.Errorf("failed to get latest commit: %w", err)
	}
	if len(commits) == 0 {
		return "", fmt.Errorf("no commits found for %s", f.repo)
	}
	if commits[0].SHA == nil {
		return "", fmt.Errorf("commit SHA is nil")
	}
	return *commits[0].SHA, nil
}
