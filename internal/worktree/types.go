package worktree

import "go.uber.org/zap"

// DefaultDir is where worktrees are created, relative to the repository.
const DefaultDir = ".distrogate/worktrees"

// Info describes a worktree created by the manager.
type Info struct {
	Path string // Absolute path to the worktree directory
	Name string // Stage the worktree was created for
	Head string // Commit checked out (detached)
}

// Config configures the worktree manager.
type Config struct {
	RepoPath string // Path to the git repository the stages run in
	Dir      string // Worktree directory; relative paths are under RepoPath (default DefaultDir)
	Ref      string // Commit-ish checked out in every worktree (default HEAD)
	Logger   *zap.Logger
}
