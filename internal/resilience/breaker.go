package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/registry-crawler/internal/config"
	"github.com/sells-group/registry-crawler/internal/model"
)

// CircuitState is the state of a circuit breaker.
type CircuitState int

// Circuit states.
const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected without being attempted.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// BreakerSettings controls when a breaker opens and how long it stays open.
type BreakerSettings struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	// ShouldTrip decides which errors count as failures. Nil counts all.
	ShouldTrip func(err error) bool
}

// SettingsFromConfig converts configured breaker values.
func SettingsFromConfig(cfg config.BreakerConfig) BreakerSettings {
	s := BreakerSettings{FailureThreshold: 5, ResetTimeout: 5 * time.Minute}
	if cfg.FailureThreshold > 0 {
		s.FailureThreshold = cfg.FailureThreshold
	}
	if cfg.ResetTimeoutSecs > 0 {
		s.ResetTimeout = time.Duration(cfg.ResetTimeoutSecs) * time.Second
	}
	return s
}

// CircuitBreaker stops calling a source after repeated failures and lets a
// single probe through once ResetTimeout has elapsed.
type CircuitBreaker struct {
	name     string
	settings BreakerSettings

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	probing  bool
	now      func() time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(name string, s BreakerSettings) *CircuitBreaker {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 5
	}
	if s.ResetTimeout <= 0 {
		s.ResetTimeout = 5 * time.Minute
	}
	return &CircuitBreaker{name: name, settings: s, now: time.Now}
}

// Execute runs fn unless the circuit is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(ctx, err)
	return err
}

// ExecuteVal is Execute for functions returning a value.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.allow(); err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	cb.record(ctx, err)
	return val, err
}

// State returns the current state, reporting half-open once an open
// circuit's reset timeout has elapsed.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.now().Sub(cb.openedAt) >= cb.settings.ResetTimeout {
		return CircuitHalfOpen
	}
	return cb.state
}

// Failures returns the consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) < cb.settings.ResetTimeout {
			return eris.Wrapf(ErrCircuitOpen, "source %s", cb.name)
		}
		cb.transition(CircuitHalfOpen)
		cb.probing = true
		return nil
	case CircuitHalfOpen:
		if cb.probing {
			return eris.Wrapf(ErrCircuitOpen, "source %s: probe in flight", cb.name)
		}
		cb.probing = true
		return nil
	default:
		return nil
	}
}

// record counts the outcome of one call. A call whose context was cancelled
// by the caller says nothing about the source and leaves the state as is.
func (cb *CircuitBreaker) record(ctx context.Context, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.probing = false
	if err != nil && errors.Is(ctx.Err(), context.Canceled) {
		return
	}
	trip := err != nil
	if trip && cb.settings.ShouldTrip != nil {
		trip = cb.settings.ShouldTrip(err)
	}

	if !trip {
		cb.failures = 0
		if cb.state != CircuitClosed {
			cb.transition(CircuitClosed)
		}
		return
	}

	cb.failures++
	if cb.state == CircuitHalfOpen || cb.failures >= cb.settings.FailureThreshold {
		cb.openedAt = cb.now()
		if cb.state != CircuitOpen {
			cb.transition(CircuitOpen)
		}
	}
}

func (cb *CircuitBreaker) transition(to CircuitState) {
	zap.L().Info("circuit breaker state change",
		zap.String("source", cb.name),
		zap.Stringer("from", cb.state),
		zap.Stringer("to", to),
	)
	cb.state = to
}

// SourceBreakers holds one breaker per source.
type SourceBreakers struct {
	mu       sync.Mutex
	settings BreakerSettings
	breakers map[model.Source]*CircuitBreaker
}

// NewSourceBreakers creates an empty registry sharing one set of settings.
func NewSourceBreakers(s BreakerSettings) *SourceBreakers {
	return &SourceBreakers{settings: s, breakers: make(map[model.Source]*CircuitBreaker)}
}

// For returns the breaker for src, creating it on first use.
func (sb *SourceBreakers) For(src model.Source) *CircuitBreaker {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	cb, ok := sb.breakers[src]
	if !ok {
		cb = NewCircuitBreaker(string(src), sb.settings)
		sb.breakers[src] = cb
	}
	return cb
}

// States snapshots every breaker's state for the health endpoint.
func (sb *SourceBreakers) States() map[model.Source]string {
	sb.mu.Lock()
	breakers := make(map[model.Source]*CircuitBreaker, len(sb.breakers))
	for k, v := range sb.breakers {
		breakers[k] = v
	}
	sb.mu.Unlock()

	out := make(map[model.Source]string, len(breakers))
	for src, cb := range breakers {
		out[src] = cb.State().String()
	}
	return out
}
