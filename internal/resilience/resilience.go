// Package resilience guards calls to an unreliable dependency with bounded
// retries, a per-attempt timeout and a circuit breaker.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned without calling the dependency while the breaker
// rejects traffic. It is never retried.
var ErrCircuitOpen = errors.New("circuit breaker open")

// Policy configures an Executor.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts    int
	InitialBackoff time.Duration
	AttemptTimeout time.Duration

	// FailureRatio and MinRequests decide when the breaker trips within one
	// SamplingWindow.
	FailureRatio   float64
	MinRequests    uint32
	SamplingWindow time.Duration
	// OpenDuration is how long the breaker fails fast before a trial call.
	OpenDuration     time.Duration
	HalfOpenRequests uint32
}

// DefaultPolicy returns the production policy for the movie provider.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:      4,
		InitialBackoff:   2 * time.Second,
		AttemptTimeout:   5 * time.Second,
		FailureRatio:     0.5,
		MinRequests:      7,
		SamplingWindow:   60 * time.Second,
		OpenDuration:     30 * time.Second,
		HalfOpenRequests: 1,
	}
}

// StateObserver is notified after every breaker state transition.
type StateObserver func(name string, to gobreaker.State)

// Option customises an Executor.
type Option func(*Executor)

// WithLogger sets the logger used for retries and state transitions.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithStateObserver registers fn for breaker state transitions.
func WithStateObserver(fn StateObserver) Option {
	return func(e *Executor) {
		e.observer = fn
	}
}

// WithAdmission registers fn to run on the caller's context before every
// attempt, outside the breaker. An admission error ends the call without
// counting against the dependency; local rate limits belong here.
func WithAdmission(fn func(ctx context.Context) error) Option {
	return func(e *Executor) {
		e.admit = fn
	}
}

// Executor runs calls under a Policy. It is safe for concurrent use; all
// calls share one breaker.
type Executor struct {
	name     string
	policy   Policy
	breaker  *gobreaker.CircuitBreaker[any]
	logger   *slog.Logger
	observer StateObserver
	admit    func(ctx context.Context) error
}

// New builds an Executor. Zero fields in p fall back to DefaultPolicy.
func New(name string, p Policy, opts ...Option) *Executor {
	e := &Executor{
		name:   name,
		policy: withDefaults(p),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: e.policy.HalfOpenRequests,
		Interval:    e.policy.SamplingWindow,
		Timeout:     e.policy.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < e.policy.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= e.policy.FailureRatio
		},
		IsSuccessful: isSuccessful,
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.logger.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			if e.observer != nil {
				e.observer(name, to)
			}
		},
	})
	return e
}

func withDefaults(p Policy) Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = d.InitialBackoff
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = d.AttemptTimeout
	}
	if p.FailureRatio <= 0 {
		p.FailureRatio = d.FailureRatio
	}
	if p.MinRequests == 0 {
		p.MinRequests = d.MinRequests
	}
	if p.SamplingWindow <= 0 {
		p.SamplingWindow = d.SamplingWindow
	}
	if p.OpenDuration <= 0 {
		p.OpenDuration = d.OpenDuration
	}
	if p.HalfOpenRequests == 0 {
		p.HalfOpenRequests = d.HalfOpenRequests
	}
	return p
}

// Name returns the breaker name.
func (e *Executor) Name() string { return e.name }

// Policy returns the effective policy.
func (e *Executor) Policy() Policy { return e.policy }

// State returns the current breaker state.
func (e *Executor) State() gobreaker.State { return e.breaker.State() }

// Counts returns the breaker counters for the current window.
func (e *Executor) Counts() gobreaker.Counts { return e.breaker.Counts() }

// Do runs fn under e's policy. Each attempt gets its own timeout derived from
// ctx. Errors marked Permanent, admission failures, breaker rejections and
// cancellation of ctx end the loop immediately; everything else is retried
// with exponential backoff until the attempt budget is spent, and the last
// error is returned.
func Do[T any](ctx context.Context, e *Executor, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	op := func() (T, error) {
		if err := ctx.Err(); err != nil {
			return zero, backoff.Permanent(err)
		}
		if e.admit != nil {
			if err := e.admit(ctx); err != nil {
				return zero, backoff.Permanent(err)
			}
		}
		res, err := e.breaker.Execute(func() (any, error) {
			attemptCtx, cancel := context.WithTimeout(ctx, e.policy.AttemptTimeout)
			defer cancel()
			return fn(attemptCtx)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return zero, backoff.Permanent(ErrCircuitOpen)
			}
			if IsPermanent(err) || ctx.Err() != nil {
				return zero, backoff.Permanent(err)
			}
			return zero, err
		}
		v, _ := res.(T)
		return v, nil
	}

	notify := func(err error, wait time.Duration) {
		e.logger.Warn("retrying call",
			slog.String("breaker", e.name),
			slog.Duration("backoff", wait),
			slog.Any("error", err))
	}

	return backoff.RetryNotifyWithData(op, e.newBackOff(ctx), notify)
}

func (e *Executor) newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = e.policy.InitialBackoff
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = e.policy.InitialBackoff << uint(e.policy.MaxAttempts)
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(e.policy.MaxAttempts-1)), ctx)
}

// isSuccessful decides what the breaker counts as a failure: permanent errors
// and callers giving up are not the dependency's fault.
func isSuccessful(err error) bool {
	return err == nil || IsPermanent(err) || errors.Is(err, context.Canceled)
}
