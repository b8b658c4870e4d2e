package config

import "time"

// Action kinds understood by the dispatch table.
const (
	ActionKindCommand = "command"
	ActionKindDocker  = "docker"
)

// StageConfig defines a precheck or static-check stage backed by a shell command.
type StageConfig struct {
	Name string `json:"name"`
	Run  string `json:"run"` // Executed with sh -c in the workspace
}

// ActionConfig defines the external test action behind one matrix option key.
// Placeholders {repo}, {distro}, {option} and {value} are expanded before invocation.
type ActionConfig struct {
	Kind    string            `json:"kind"`              // "command" or "docker"
	Run     string            `json:"run,omitempty"`     // Shell command for command actions
	Image   string            `json:"image,omitempty"`   // Image for docker actions
	Command []string          `json:"command,omitempty"` // Container command for docker actions
	Workdir string            `json:"workdir,omitempty"` // Overrides the run workdir
	Env     map[string]string `json:"env,omitempty"`
	Locks   []string          `json:"locks,omitempty"` // Resource keys serialized across parallel stages
}

// GateConfig tells the label gate where its inputs come from.
type GateConfig struct {
	BaseURL  string `json:"base_url,omitempty"`  // Label source API root
	TokenEnv string `json:"token_env,omitempty"` // Env var holding the API credential
	PullEnv  string `json:"pull_env,omitempty"`  // Env var holding the pull-request number
	RepoEnv  string `json:"repo_env,omitempty"`  // Env var holding owner/name when repository is unset
}

// BreakerConfig tunes the per-action circuit breakers.
type BreakerConfig struct {
	MaxFailures uint32   `json:"max_failures,omitempty"`
	OpenTimeout Duration `json:"open_timeout,omitempty"`
}

// LogConfig mirrors logging.Config in file form.
type LogConfig struct {
	Level      string `json:"level,omitempty"`
	Format     string `json:"format,omitempty"`
	Output     string `json:"output,omitempty"`
	File       string `json:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
}

// IsolationConfig gives each distro stage its own git worktree of the
// workdir, so parallel stages do not share build artifacts.
type IsolationConfig struct {
	Worktrees bool   `json:"worktrees,omitempty"`
	Dir       string `json:"dir,omitempty"` // Relative to the workdir; default .distrogate/worktrees
	Ref       string `json:"ref,omitempty"` // Commit checked out in each worktree; default HEAD
}

// Config is the top-level run configuration.
type Config struct {
	Repository      string                  `json:"repository,omitempty"`
	MatrixFile      string                  `json:"matrix_file,omitempty"`
	Workdir         string                  `json:"workdir,omitempty"`
	Concurrency     int                     `json:"concurrency,omitempty"`
	Gate            GateConfig              `json:"gate"`
	Prechecks       []StageConfig           `json:"prechecks,omitempty"`
	StaticCheck     StageConfig             `json:"static_check"`
	PrimaryDistro   string                  `json:"primary_distro"`
	ParallelDistros []string                `json:"parallel_distros,omitempty"`
	Actions         map[string]ActionConfig `json:"actions"`
	Isolation       IsolationConfig         `json:"isolation"`
	Breaker         BreakerConfig           `json:"breaker"`
	Log             LogConfig               `json:"log"`
}

// Duration is a time.Duration that reads and writes as a Go duration string ("30s").
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}
