// Package worktree gives pipeline stages isolated checkouts of the same
// commit through git worktrees.
package worktree

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager creates and removes detached worktrees.
type Manager struct {
	config Config
	logger *zap.Logger
	mu     sync.Mutex // Serializes git operations touching the repository's worktree metadata

	runGit func(ctx context.Context, dir string, args ...string) (string, error)
}

// NewManager creates a worktree manager.
func NewManager(cfg Config) (*Manager, error) {
	repo, err := filepath.Abs(cfg.RepoPath)
	if err != nil {
		return nil, fmt.Errorf("resolving repository path: %w", err)
	}
	cfg.RepoPath = repo
	if cfg.Dir == "" {
		cfg.Dir = DefaultDir
	}
	if !filepath.IsAbs(cfg.Dir) {
		cfg.Dir = filepath.Join(repo, cfg.Dir)
	}
	if cfg.Ref == "" {
		cfg.Ref = "HEAD"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{config: cfg, logger: logger, runGit: execGit}, nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Create adds a detached worktree for name at the configured ref.
func (m *Manager) Create(ctx context.Context, name string) (*Info, error) {
	wtPath := filepath.Join(m.config.Dir, unsafeName.ReplaceAllString(name, "_"))

	m.mu.Lock()
	defer m.mu.Unlock()

	if out, err := m.git(ctx, m.config.RepoPath, "worktree", "add", "--detach", wtPath, m.config.Ref); err != nil {
		return nil, fmt.Errorf("failed to create worktree: %w (output: %s)", err, out)
	}

	head, err := m.git(ctx, wtPath, "rev-parse", "HEAD")
	if err != nil {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if rmErr := m.remove(cctx, wtPath); rmErr != nil {
			m.logger.Warn("failed to remove worktree", zap.String("path", wtPath), zap.Error(rmErr))
		}
		return nil, fmt.Errorf("failed to get HEAD commit: %w (output: %s)", err, head)
	}

	info := &Info{Path: wtPath, Name: name, Head: strings.TrimSpace(head)}
	m.logger.Debug("worktree created", zap.String("name", name), zap.String("path", wtPath), zap.String("head", info.Head))
	return info, nil
}

// Remove deletes the worktree, forcing removal when it has local changes.
func (m *Manager) Remove(ctx context.Context, info *Info) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remove(ctx, info.Path)
}

// remove requires m.mu.
func (m *Manager) remove(ctx context.Context, path string) error {
	out, err := m.git(ctx, m.config.RepoPath, "worktree", "remove", path)
	if err == nil {
		return nil
	}
	forceOut, forceErr := m.git(ctx, m.config.RepoPath, "worktree", "remove", "--force", path)
	if forceErr != nil {
		return fmt.Errorf("worktree remove failed: %v (output: %s, force output: %s)", err, out, forceOut)
	}
	return nil
}

// Acquire creates a worktree for name and returns its path with a release
// function that removes it. Release outlives cancellation of ctx.
func (m *Manager) Acquire(ctx context.Context, name string) (string, func(), error) {
	info, err := m.Create(ctx, name)
	if err != nil {
		return "", nil, err
	}
	release := func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := m.Remove(rctx, info); err != nil {
			m.logger.Warn("failed to remove worktree", zap.String("path", info.Path), zap.Error(err))
		}
	}
	return info.Path, release, nil
}

// List returns the worktrees under the manager's directory.
func (m *Manager) List(ctx context.Context) ([]Info, error) {
	output, err := m.git(ctx, m.config.RepoPath, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("failed to list worktrees: %w (output: %s)", err, output)
	}

	var all []Info
	var current Info
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if current.Path != "" {
				all = append(all, current)
			}
			current = Info{}
		case strings.HasPrefix(line, "worktree "):
			current.Path = strings.TrimPrefix(line, "worktree ")
			current.Name = filepath.Base(current.Path)
		case strings.HasPrefix(line, "HEAD "):
			current.Head = strings.TrimPrefix(line, "HEAD ")
		}
	}
	if current.Path != "" {
		all = append(all, current)
	}

	// The porcelain output resolves symlinks, so compare resolved paths.
	dir := resolve(m.config.Dir)
	var ours []Info
	for _, wt := range all {
		if filepath.Dir(resolve(wt.Path)) == dir {
			ours = append(ours, wt)
		}
	}
	return ours, nil
}

// Prune removes metadata of worktrees whose directories are gone, such as
// those left by a killed run.
func (m *Manager) Prune(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if out, err := m.git(ctx, m.config.RepoPath, "worktree", "prune"); err != nil {
		return fmt.Errorf("failed to prune worktrees: %w (output: %s)", err, out)
	}
	return nil
}

func (m *Manager) git(ctx context.Context, dir string, args ...string) (string, error) {
	return m.runGit(ctx, dir, args...)
}

func execGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return string(out), err
}

func resolve(path string) string {
	if p, err := filepath.EvalSymlinks(path); err == nil {
		return p
	}
	return filepath.Clean(path)
}
