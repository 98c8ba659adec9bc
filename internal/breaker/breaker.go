// Package breaker provides a per-dependency circuit breaker for AutOSINT's
// hard dependencies (graph, store, queue, chat API) and its one soft
// dependency (the fetcher), per spec.md §4.9's Closed/Open/HalfOpen state
// machine.
package breaker

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"autosint/internal/config"
)

const (
	Graph   = "graph"
	Store   = "store"
	Queue   = "queue"
	ChatAPI = "llm_api"
	Fetcher = "fetcher"
)

// hardDependencies is the set any_hard_open() inspects. Fetcher is
// deliberately excluded — it is a soft dependency and its outage never
// blocks the orchestrator.
var hardDependencies = []string{Graph, Store, Queue, ChatAPI}

// Breaker wraps a single named dependency's circuit breaker.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker[any]
}

// Execute runs fn, gated by the breaker's current state: it short-circuits
// with gobreaker.ErrOpenState while Open and before cooldown elapses, allows
// exactly one probe once HalfOpen, and otherwise runs fn and records the
// outcome.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	return b.cb.Execute(fn)
}

// State reports the breaker's current state without attempting a call.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Open reports whether the breaker is fully open (not counting HalfOpen,
// which still allows a probe through).
func (b *Breaker) Open() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// Registry holds one Breaker per named dependency.
type Registry struct {
	breakers map[string]*Breaker
}

// New constructs breakers for every named dependency using the shared
// failure_threshold/cooldown tunables from config.BreakerConfig.
func New(cfg config.BreakerConfig) *Registry {
	threshold := uint32(cfg.FailureThreshold)
	if threshold == 0 {
		threshold = 5
	}
	cooldown := time.Duration(cfg.CooldownSeconds) * time.Second
	if cooldown == 0 {
		cooldown = 30 * time.Second
	}

	r := &Registry{breakers: make(map[string]*Breaker, 5)}
	for _, name := range append(append([]string{}, hardDependencies...), Fetcher) {
		name := name
		settings := gobreaker.Settings{
			Name:    name,
			Timeout: cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
		}
		r.breakers[name] = &Breaker{name: name, cb: gobreaker.NewCircuitBreaker[any](settings)}
	}
	return r
}

// Get returns the named dependency's breaker. Panics on an unknown name —
// every caller should be referencing one of the package-level name
// constants, so an unknown name is a programmer error, not a runtime one.
func (r *Registry) Get(name string) *Breaker {
	b, ok := r.breakers[name]
	if !ok {
		panic("breaker: unknown dependency " + name)
	}
	return b
}

// AnyHardOpen returns the name of the first hard dependency whose breaker is
// fully open, for the orchestrator's pre-flight gate check. The fetcher is
// never consulted here.
func (r *Registry) AnyHardOpen() (string, bool) {
	for _, name := range hardDependencies {
		if r.breakers[name].Open() {
			return name, true
		}
	}
	return "", false
}

// Do is a generic convenience wrapping Execute for typed results.
func Do[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	result, err := b.Execute(func() (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	return result.(T), nil
}
