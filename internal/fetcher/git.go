package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"

	"go.uber.org/zap"
)

// Fetcher retrieves a repository into an ephemeral local workspace.
type Fetcher interface {
	// Fetch clones sourceURL and returns the workspace path. The caller owns
	// the returned directory and must remove it when done.
	Fetch(ctx context.Context, sourceURL string) (string, error)
}

// GitFetcher shells out to the git binary for a shallow clone.
type GitFetcher struct {
	logger *zap.Logger
}

// NewGitFetcher creates a git-based fetcher.
func NewGitFetcher(logger *zap.Logger) *GitFetcher {
	return &GitFetcher{logger: logger}
}

func (f *GitFetcher) Fetch(ctx context.Context, sourceURL string) (string, error) {
	dir, err := os.MkdirTemp("", "repolish-checkout-*")
	if err != nil {
		return "", fmt.Errorf("git: create workspace: %w", err)
	}

	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", sourceURL, dir)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	f.logger.Debug("Cloning repository", zap.String("url", sourceURL), zap.String("dir", dir))

	if err := cmd.Run(); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("git clone failed: %s: %w", bytes.TrimSpace(stderr.Bytes()), err)
	}
	return dir, nil
}
