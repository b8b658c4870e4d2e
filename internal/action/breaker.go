package action

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerSettings configures the per-action circuit breakers.
type BreakerSettings struct {
	MaxFailures uint32        // Consecutive infrastructure failures before opening (default 5)
	OpenTimeout time.Duration // How long the breaker stays open (default 30s)
}

// BreakerRegistry manages one circuit breaker per action name. Only
// infrastructure failures count: a test that exits non-zero, or a
// cancelled run, leaves the breaker closed.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	settings BreakerSettings
	logger   *zap.Logger
}

// NewBreakerRegistry creates a registry. logger may be nil.
func NewBreakerRegistry(settings BreakerSettings, logger *zap.Logger) *BreakerRegistry {
	if settings.MaxFailures == 0 {
		settings.MaxFailures = 5
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BreakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		settings: settings,
		logger:   logger,
	}
}

// Get returns the circuit breaker for action, creating it on first use.
func (r *BreakerRegistry) Get(action string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[action]; ok {
		return cb
	}

	maxFailures := r.settings.MaxFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        action,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     r.settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.logger.Warn("action circuit breaker changed state",
				zap.String("action", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
		IsSuccessful: isInfrastructureSuccess,
	})

	r.breakers[action] = cb
	return cb
}

// execute runs fn through the breaker for action.
func (r *BreakerRegistry) execute(action string, fn func() error) error {
	_, err := r.Get(action).Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

func isInfrastructureSuccess(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var exitErr *ExitError
	return errors.As(err, &exitErr)
}

// IsBreakerOpen reports whether err came from an open circuit breaker.
func IsBreakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
