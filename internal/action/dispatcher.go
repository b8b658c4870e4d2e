package action

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aristath/distrogate/internal/config"
)

type registered struct {
	action Action
	locks  []string
}

// Dispatcher maps action names (matrix option keys and stage runs) to
// actions. Every invocation goes through the action's locks and its
// circuit breaker.
type Dispatcher struct {
	mu       sync.RWMutex
	actions  map[string]registered
	locks    *LockManager
	breakers *BreakerRegistry
	logger   *zap.Logger
}

// NewDispatcher creates an empty dispatcher. logger may be nil.
func NewDispatcher(breakers BreakerSettings, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		actions:  make(map[string]registered),
		locks:    NewLockManager(),
		breakers: NewBreakerRegistry(breakers, logger),
		logger:   logger,
	}
}

// Deps are the shared resources actions built from config need.
type Deps struct {
	Procs  *ProcessManager
	Logger *zap.Logger

	// Docker connects docker actions to the daemon. When nil and a docker
	// action is configured, a client is built from the environment.
	Docker DockerAPI
}

// FromConfig builds a dispatcher holding one action per configured entry.
func FromConfig(cfg *config.Config, deps Deps) (*Dispatcher, error) {
	d := NewDispatcher(BreakerSettings{
		MaxFailures: cfg.Breaker.MaxFailures,
		OpenTimeout: time.Duration(cfg.Breaker.OpenTimeout),
	}, deps.Logger)

	for name, ac := range cfg.Actions {
		switch ac.Kind {
		case config.ActionKindCommand:
			d.Register(name, NewCommandAction(ac, deps.Procs), ac.Locks...)
		case config.ActionKindDocker:
			if deps.Docker == nil {
				cli, err := NewDockerClient()
				if err != nil {
					return nil, err
				}
				deps.Docker = cli
			}
			d.Register(name, NewDockerAction(ac, deps.Docker, deps.Logger), ac.Locks...)
		default:
			return nil, fmt.Errorf("action %q: unknown kind %q", name, ac.Kind)
		}
	}
	return d, nil
}

// Register adds or replaces the action for name. Locks are held for the
// duration of every invocation.
func (d *Dispatcher) Register(name string, a Action, locks ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actions[name] = registered{action: a, locks: locks}
}

// Known reports whether an action is registered under name.
func (d *Dispatcher) Known(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.actions[name]
	return ok
}

// Names returns the registered action names in sorted order.
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.actions))
	for name := range d.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke runs the named action. Every failure, including an unknown name
// or an open breaker, is returned as *InvocationError.
func (d *Dispatcher) Invoke(ctx context.Context, name string, inv Invocation) error {
	d.mu.RLock()
	reg, ok := d.actions[name]
	d.mu.RUnlock()

	wrap := func(err error) error {
		return &InvocationError{Action: name, Repo: inv.Repo, Distro: inv.Distro, Err: err}
	}

	if !ok {
		return wrap(ErrUnknownAction)
	}
	if err := ctx.Err(); err != nil {
		return wrap(err)
	}

	d.locks.LockAll(reg.locks)
	defer d.locks.UnlockAll(reg.locks)

	start := time.Now()
	err := d.breakers.execute(name, func() error {
		return reg.action.Invoke(ctx, inv)
	})

	fields := []zap.Field{
		zap.String("action", name),
		zap.String("repo", inv.Repo),
		zap.String("distro", inv.Distro),
		zap.String("option", inv.Option),
		zap.Duration("duration", time.Since(start)),
	}
	if err != nil {
		d.logger.Debug("action failed", append(fields, zap.Error(err))...)
		return wrap(err)
	}
	d.logger.Debug("action succeeded", fields...)
	return nil
}
