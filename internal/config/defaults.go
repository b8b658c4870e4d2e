package config

import "time"

// DefaultConfig returns the built-in pipeline: a lint precheck, the static check,
// fedora as the primary distro and centos/ubuntu in the parallel group.
func DefaultConfig() *Config {
	return &Config{
		MatrixFile:  "tests_matrix.yaml",
		Concurrency: 4,
		Gate: GateConfig{
			BaseURL:  "https://api.github.com",
			TokenEnv: "GITHUB_TOKEN",
			PullEnv:  "CHANGE_ID",
			RepoEnv:  "GITHUB_REPOSITORY",
		},
		Prechecks: []StageConfig{
			{Name: "commit-lint", Run: "make commit-lint"},
		},
		StaticCheck: StageConfig{
			Name: "static-check",
			Run:  "make check",
		},
		PrimaryDistro:   "fedora",
		ParallelDistros: []string{"centos", "ubuntu"},
		Actions: map[string]ActionConfig{
			"docker": {
				Kind:    ActionKindDocker,
				Image:   "{distro}:latest",
				Command: []string{"make", "-f", "Makefile.docker", "test"},
			},
		},
		Breaker: BreakerConfig{
			MaxFailures: 5,
			OpenTimeout: Duration(30 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
	}
}
