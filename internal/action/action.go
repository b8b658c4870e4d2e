// Package action invokes the external test actions behind matrix options:
// shell commands and containerized make targets.
package action

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aristath/distrogate/internal/matrix"
)

// ErrUnknownAction is returned when no action is registered under a name.
var ErrUnknownAction = errors.New("unknown action")

// Invocation is the context an action runs with.
type Invocation struct {
	Repo    string
	Distro  string
	Option  string       // Matrix option (or stage) that triggered the action
	Value   matrix.Value // Option value, available as {value}
	Workdir string       // Workspace on the host

	// Output receives each line the action prints. May be nil.
	Output func(line string)
}

// Expand substitutes {repo}, {distro}, {option} and {value} in s.
func (inv Invocation) Expand(s string) string {
	return strings.NewReplacer(
		"{repo}", inv.Repo,
		"{distro}", inv.Distro,
		"{option}", inv.Option,
		"{value}", inv.Value.String(),
	).Replace(s)
}

// Env returns the variables every action receives describing its invocation.
func (inv Invocation) Env() []string {
	return []string{
		"DISTROGATE_REPO=" + inv.Repo,
		"DISTROGATE_DISTRO=" + inv.Distro,
		"DISTROGATE_OPTION=" + inv.Option,
		"DISTROGATE_VALUE=" + inv.Value.String(),
	}
}

func (inv Invocation) emit(line string) {
	if inv.Output != nil {
		inv.Output(line)
	}
}

// Action is one external test action.
type Action interface {
	Invoke(ctx context.Context, inv Invocation) error
}

// Func adapts a function to Action.
type Func func(ctx context.Context, inv Invocation) error

func (f Func) Invoke(ctx context.Context, inv Invocation) error { return f(ctx, inv) }

// ExitError means the action ran and reported failure through its exit
// status. It marks a failing test, not broken infrastructure.
type ExitError struct {
	Code   int
	Output string // Tail of the combined output
}

func (e *ExitError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return fmt.Sprintf("exit status %d: %s", e.Code, e.Output)
}

// InvocationError wraps any failure of a dispatched action. The owning
// stage reports it as its failure reason.
type InvocationError struct {
	Action string
	Repo   string
	Distro string
	Err    error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("action %q for %s on %s: %v", e.Action, e.Repo, e.Distro, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }
