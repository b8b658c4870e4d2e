package action

import (
	"context"
	"os"
	"sort"

	"github.com/aristath/distrogate/internal/config"
)

// CommandAction runs a shell command on the host.
type CommandAction struct {
	Run     string
	Workdir string // Overrides Invocation.Workdir when set
	Env     map[string]string
	procs   *ProcessManager
}

// NewCommandAction builds a command action from its config. procs may be nil.
func NewCommandAction(cfg config.ActionConfig, procs *ProcessManager) *CommandAction {
	return &CommandAction{
		Run:     cfg.Run,
		Workdir: cfg.Workdir,
		Env:     cfg.Env,
		procs:   procs,
	}
}

// Invoke runs `sh -c <run>` with placeholders expanded.
func (a *CommandAction) Invoke(ctx context.Context, inv Invocation) error {
	cmd := newCommand(ctx, "sh", "-c", inv.Expand(a.Run))

	cmd.Dir = inv.Workdir
	if a.Workdir != "" {
		cmd.Dir = inv.Expand(a.Workdir)
	}

	cmd.Env = append(os.Environ(), inv.Env()...)
	cmd.Env = append(cmd.Env, expandEnv(a.Env, inv)...)

	return executeCommand(ctx, cmd, a.procs, inv.Output)
}

// expandEnv renders env as sorted KEY=value pairs with placeholders expanded.
func expandEnv(env map[string]string, inv Invocation) []string {
	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, key+"="+inv.Expand(env[key]))
	}
	return out
}
