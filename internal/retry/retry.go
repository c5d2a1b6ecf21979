// Package retry wraps remote calls (sheet API, browser navigation) with
// bounded retry, exponential backoff and error classification. Only errors
// classified Transient are retried; everything else propagates immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Class buckets a raw failure for routing decisions.
type Class string

const (
	// ClassTransient covers network hiccups, rate limits and
	// not-yet-rendered content. Retried up to the attempt bound.
	ClassTransient Class = "transient"
	// ClassStructural covers expected page elements or forms that are
	// absent. Retrying an unchanged page cannot succeed.
	ClassStructural Class = "structural"
	// ClassValidation covers malformed or missing required input.
	ClassValidation Class = "validation"
	// ClassBusiness covers duplicate actions and missing targets. Not an
	// error from the caller's point of view.
	ClassBusiness Class = "business"
	// ClassFatal covers authentication and permission failures that make
	// the whole session unusable.
	ClassFatal Class = "fatal"
)

// classifiedError tags an error with an explicit class so producers can
// override the message-based heuristics.
type classifiedError struct {
	class Class
	err   error
}

func (e *classifiedError) Error() string { return e.err.Error() }
func (e *classifiedError) Unwrap() error { return e.err }

// Transient marks err as retryable.
func Transient(err error) error { return &classifiedError{class: ClassTransient, err: err} }

// Structural marks err as a page-structure failure.
func Structural(err error) error { return &classifiedError{class: ClassStructural, err: err} }

// Validation marks err as a bad-input failure.
func Validation(err error) error { return &classifiedError{class: ClassValidation, err: err} }

// Business marks err as a business-rule outcome rather than a fault.
func Business(err error) error { return &classifiedError{class: ClassBusiness, err: err} }

// Fatal marks err as session-ending.
func Fatal(err error) error { return &classifiedError{class: ClassFatal, err: err} }

// Classify returns the class of err. Explicit tags win; untagged errors are
// bucketed by message heuristics, with Structural as the safe default (no
// blind retries of unknown failures).
func Classify(err error) Class {
	if err == nil {
		return ClassBusiness
	}
	var ce *classifiedError
	if errors.As(err, &ce) {
		return ce.class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	return classifyMessage(err.Error())
}

var transientHints = []string{
	"timeout",
	"context deadline",
	"rate limit",
	"too many requests",
	"temporar",
	"connection",
	"unavailable",
	"network",
	"i/o",
	"quota",
	"429",
	"500",
	"502",
	"503",
}

var fatalHints = []string{
	"unauthorized",
	"unauthenticated",
	"permission denied",
	"forbidden",
	"invalid credentials",
	"401",
	"403",
}

func classifyMessage(msg string) Class {
	lower := strings.ToLower(msg)
	for _, h := range fatalHints {
		if strings.Contains(lower, h) {
			return ClassFatal
		}
	}
	for _, h := range transientHints {
		if strings.Contains(lower, h) {
			return ClassTransient
		}
	}
	return ClassStructural
}

// Clock abstracts time for deterministic retry tests.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Policy bounds the retry loop.
type Policy struct {
	MaxAttempts int           // total attempts, including the first
	BaseDelay   time.Duration // delay before the second attempt
	MaxDelay    time.Duration // ceiling for the grown delay
	Jitter      float64       // fraction of the delay randomized, 0..1
}

// DefaultPolicy mirrors the sheet/browser retry discipline: three attempts,
// 2s base doubling to a 30s ceiling, 20% jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      0.2,
	}
}

// Controller executes operations under a Policy.
type Controller struct {
	policy Policy
	clock  Clock
	rng    func() float64
	log    *zap.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock injects a time source, used by tests to avoid real waiting.
func WithClock(c Clock) Option { return func(ctrl *Controller) { ctrl.clock = c } }

// WithRand injects the jitter source, a func returning [0,1).
func WithRand(fn func() float64) Option { return func(ctrl *Controller) { ctrl.rng = fn } }

// New builds a Controller. A nil logger is replaced with a no-op one.
func New(policy Policy, log *zap.Logger, opts ...Option) *Controller {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultPolicy().MaxAttempts
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = DefaultPolicy().BaseDelay
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = DefaultPolicy().MaxDelay
	}
	if log == nil {
		log = zap.NewNop()
	}
	c := &Controller{
		policy: policy,
		clock:  realClock{},
		rng:    rand.Float64,
		log:    log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do runs fn until it succeeds, fails non-transiently, or exhausts the
// attempt bound. The error returned after exhaustion wraps the last failure
// and records the attempt count.
func (c *Controller) Do(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn()
		if err == nil {
			if attempt > 1 {
				c.log.Info("operation recovered",
					zap.String("op", op), zap.Int("attempts", attempt))
			}
			return nil
		}
		lastErr = err

		class := Classify(err)
		if class != ClassTransient {
			c.log.Debug("operation failed, not retryable",
				zap.String("op", op),
				zap.String("class", string(class)),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return err
		}
		if attempt == c.policy.MaxAttempts {
			break
		}

		delay := c.backoff(attempt)
		c.log.Warn("transient failure, backing off",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		if err := c.clock.Sleep(ctx, delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("%s: %d attempts exhausted: %w", op, c.policy.MaxAttempts, lastErr)
}

// backoff grows the delay exponentially with the attempt number and spreads
// it by the jitter fraction so parallel runs do not retry in lockstep.
func (c *Controller) backoff(attempt int) time.Duration {
	shift := attempt - 1
	if shift > 10 {
		shift = 10
	}
	delay := c.policy.BaseDelay * time.Duration(1<<shift)
	if delay > c.policy.MaxDelay {
		delay = c.policy.MaxDelay
	}
	if c.policy.Jitter > 0 {
		spread := float64(delay) * c.policy.Jitter
		delay = time.Duration(float64(delay) - spread/2 + c.rng()*spread)
	}
	return delay
}
