package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when no entry of a [FallbackGroup] succeeded.
var ErrAllFailed = errors.New("resilience: all providers failed")

// FallbackConfig configures the breaker created for each group entry.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type entry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary backend and ordered fallbacks of the same
// type, each behind its own [CircuitBreaker]. Entries must be added before
// the group is shared between goroutines.
type FallbackGroup[T any] struct {
	entries []entry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a group whose first entry is primary.
func NewFallbackGroup[T any](primary T, name string, cfg FallbackConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{cfg: cfg}
	g.AddFallback(name, primary)
	return g
}

// AddFallback appends an entry tried after all earlier ones.
func (g *FallbackGroup[T]) AddFallback(name string, value T) {
	bc := g.cfg.CircuitBreaker
	bc.Name = name
	g.entries = append(g.entries, entry[T]{name: name, value: value, breaker: NewCircuitBreaker(bc)})
}

// Primary returns the first entry.
func (g *FallbackGroup[T]) Primary() T { return g.entries[0].value }

// Names lists the entries in the order they are tried.
func (g *FallbackGroup[T]) Names() []string {
	names := make([]string, len(g.entries))
	for i, e := range g.entries {
		names[i] = e.name
	}
	return names
}

// Execute runs fn against each entry until one succeeds.
func (g *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := Call(g, func(v T) (struct{}, error) { return struct{}{}, fn(v) })
	return err
}

// Call runs fn against each entry of g in order and returns the first
// successful result. Entries with an open breaker are skipped. Once the
// caller's context is cancelled the remaining entries are not tried.
func Call[T, R any](g *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var errs []error
	for i := range g.entries {
		e := &g.entries[i]
		var out R
		err := e.breaker.Execute(func() error {
			var err error
			out, err = fn(e.value)
			return err
		})
		if err == nil {
			if i > 0 {
				slog.Info("resilience: served by fallback", "provider", e.name)
			}
			return out, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
		if isCanceled(err) {
			var zero R
			return zero, err
		}
		if !errors.Is(err, ErrCircuitOpen) {
			slog.Warn("resilience: provider failed", "provider", e.name, "err", err)
		}
	}
	var zero R
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
