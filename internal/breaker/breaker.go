// Package breaker wraps calls into dependencies that can wedge or time
// out — the Call service's method-functor invocation (C4) and the
// Historian adapter (A8) — so a stuck backend degrades to fast failures
// (reported by the server as Bad_InternalError for Call and
// Bad_HistoryOperationUnsupported for HistoryRead) instead of stalling the single-logical-thread
// event loop that every other client is also waiting on.
//
// Grounded on the teacher's worker_pool.go worker(): same
// panic-recovery-and-continue posture (a wedged dependency must not
// take the dispatch loop down with it), reimplemented with a real
// circuit breaker instead of bare recover() since these calls fail
// repeatedly rather than panic.
package breaker

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// ErrOutOfService is returned in place of the wrapped call's own error
// once the breaker has opened; the server package reports it as
// Bad_InternalError (Call) or Bad_HistoryOperationUnsupported
// (HistoryRead).
var ErrOutOfService = errors.New("breaker: dependency unavailable")

// Breaker wraps one dependency (a Call target, the Historian adapter)
// behind a gobreaker circuit.
type Breaker[T any] struct {
	cb     *gobreaker.CircuitBreaker[T]
	logger zerolog.Logger
}

// Config tunes trip/reset behavior. Zero value is usable: see New.
type Config struct {
	Name                string
	MaxHalfOpenRequests uint32
	OpenTimeout         time.Duration
	// FailureRatio trips the breaker once this fraction of the counted
	// requests have failed and at least MinRequests have been counted.
	// Counts are not reset on a timer while the breaker is closed, only
	// when it changes state.
	FailureRatio float64
	MinRequests  uint32
}

func New[T any](cfg Config, logger zerolog.Logger) *Breaker[T] {
	if cfg.MaxHalfOpenRequests == 0 {
		cfg.MaxHalfOpenRequests = 1
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.FailureRatio == 0 {
		cfg.FailureRatio = 0.5
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = 10
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxHalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	}
	return &Breaker[T]{cb: gobreaker.NewCircuitBreaker[T](settings), logger: logger}
}

// Call runs fn through the circuit breaker, recovering any panic and
// counting it as a failure rather than crashing the event loop.
func (b *Breaker[T]) Call(ctx context.Context, fn func(context.Context) (T, error)) (result T, err error) {
	result, err = b.cb.Execute(func() (res T, callErr error) {
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error().
					Interface("panic_value", r).
					Str("stack_trace", string(debug.Stack())).
					Msg("breaker-wrapped call panicked, recovered")
				callErr = errors.New("breaker: recovered panic in wrapped call")
			}
		}()
		return fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = ErrOutOfService
	}
	return result, err
}

// State reports the breaker's current gobreaker state name, for
// diagnostics/health surfaces.
func (b *Breaker[T]) State() string { return b.cb.State().String() }
