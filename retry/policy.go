package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hupe1980/taskgraph/core"
)

// Strategy selects how the delay between attempts evolves.
type Strategy string

const (
	// StrategyFixed waits the same delay before every retry.
	StrategyFixed Strategy = "fixed"
	// StrategyExponential multiplies the delay after every retry, up to MaxDelay.
	StrategyExponential Strategy = "exponential"
)

// Classifier reports whether an attempt error may be retried.
type Classifier func(err error) bool

// Policy configures a resilient invocation.
//
// MaxAttempts counts the first call: a policy with MaxAttempts 3 calls the
// operation at most three times. Values <= 0 are treated as 1.
type Policy struct {
	MaxAttempts  int
	Strategy     Strategy
	InitialDelay time.Duration
	Multiplier   float64
	// MaxDelay caps exponential delays; <= 0 uses backoff.DefaultMaxInterval.
	MaxDelay   time.Duration
	Classifier Classifier
}

// DefaultPolicy makes up to three attempts one second apart.
var DefaultPolicy = Policy{
	MaxAttempts:  3,
	Strategy:     StrategyFixed,
	InitialDelay: time.Second,
}

// Fixed returns a policy with a constant delay between attempts.
func Fixed(attempts int, delay time.Duration) Policy {
	return Policy{MaxAttempts: attempts, Strategy: StrategyFixed, InitialDelay: delay}
}

// Exponential returns a policy whose delay grows by multiplier after each
// retry. A multiplier <= 1 defaults to 2.
func Exponential(attempts int, initial time.Duration, multiplier float64, max time.Duration) Policy {
	if multiplier <= 1 {
		multiplier = 2
	}

	return Policy{
		MaxAttempts:  attempts,
		Strategy:     StrategyExponential,
		InitialDelay: initial,
		Multiplier:   multiplier,
		MaxDelay:     max,
	}
}

// Immediate returns a policy that retries without waiting.
func Immediate(attempts int) Policy {
	return Fixed(attempts, 0)
}

func (p Policy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}

	return p.MaxAttempts
}

func (p Policy) retryable(err error) bool {
	if p.Classifier != nil {
		return p.Classifier(err)
	}

	return DefaultClassifier(err)
}

// newBackOff builds the delay schedule. Jitter is disabled so schedules are
// reproducible.
func (p Policy) newBackOff() backoff.BackOff {
	if p.Strategy != StrategyExponential {
		return backoff.NewConstantBackOff(p.InitialDelay)
	}

	multiplier := p.Multiplier
	if multiplier <= 1 {
		multiplier = backoff.DefaultMultiplier
	}

	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = backoff.DefaultMaxInterval
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialDelay,
		RandomizationFactor: 0,
		Multiplier:          multiplier,
		MaxInterval:         maxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	return b
}

// Delays returns the waits that precede attempts 2..MaxAttempts.
func (p Policy) Delays() []time.Duration {
	b := p.newBackOff()

	out := make([]time.Duration, 0, p.attempts()-1)
	for i := 1; i < p.attempts(); i++ {
		out = append(out, b.NextBackOff())
	}

	return out
}

// DefaultClassifier retries everything except context errors, errors marked
// with core.Fatal and the engine's own error taxonomy.
func DefaultClassifier(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case core.IsFatal(err), core.IsEngineError(err):
		return false
	default:
		return true
	}
}

// TransientOnly retries only errors explicitly marked with core.Transient.
func TransientOnly(err error) bool {
	return core.IsTransient(err) && DefaultClassifier(err)
}
