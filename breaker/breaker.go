// Package breaker implements a per-component CLOSED/OPEN/HALF_OPEN circuit
// breaker guarding LLM endpoints and tool categories. Its mutex-guarded
// counter state mirrors the AIMD bookkeeping in model/middleware's
// AdaptiveRateLimiter, and its failure-threshold/cap semantics are grounded
// on the policy engine's CapsState.MaxConsecutiveFailedToolCalls tracking.
package breaker

import (
	"container/ring"
	"context"
	"errors"
	"sync"
	"time"
)

// State is one of the three circuit breaker states.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// ErrCircuitOpen is returned by Call/CallAsync when the breaker rejects the
// call outright because the circuit is OPEN and the recovery timeout has not
// yet elapsed.
var ErrCircuitOpen = errors.New("breaker: circuit is open")

// Options configures a single component's breaker.
type Options struct {
	// FailureThreshold is the number of failures within Window that trips
	// CLOSED -> OPEN. Default 3.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive HALF_OPEN successes that
	// closes the circuit. Default 2.
	SuccessThreshold int
	// Window bounds how far back failures are counted towards
	// FailureThreshold. Default 300s.
	Window time.Duration
	// RecoveryTimeout is how long the breaker stays OPEN before allowing a
	// single HALF_OPEN probe. Default 60s.
	RecoveryTimeout time.Duration
	// RingSize bounds the recent-calls ring used for success-rate reporting.
	// Default 50.
	RingSize int
}

func (o Options) withDefaults() Options {
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 3
	}
	if o.SuccessThreshold <= 0 {
		o.SuccessThreshold = 2
	}
	if o.Window <= 0 {
		o.Window = 300 * time.Second
	}
	if o.RecoveryTimeout <= 0 {
		o.RecoveryTimeout = 60 * time.Second
	}
	if o.RingSize <= 0 {
		o.RingSize = 50
	}
	return o
}

// call is a single recorded outcome used for success-rate reporting.
type call struct {
	at      time.Time
	success bool
}

// Breaker guards a single component (an LLM endpoint or a tool category).
// State transitions follow:
//
//	CLOSED --(failures >= FailureThreshold in Window)--> OPEN
//	OPEN --(RecoveryTimeout elapsed)--> HALF_OPEN
//	HALF_OPEN --(successes >= SuccessThreshold)--> CLOSED
//	HALF_OPEN --(any failure)--> OPEN
type Breaker struct {
	mu sync.Mutex

	opts Options

	state State

	failures        []time.Time // failure timestamps within the current CLOSED window
	halfOpenSuccess int
	openedAt        time.Time
	halfOpenProbing bool

	lastErr error
	recent  *ring.Ring
}

// New constructs a Breaker for one component, starting CLOSED.
func New(opts Options) *Breaker {
	opts = opts.withDefaults()
	return &Breaker{
		opts:   opts,
		state:  StateClosed,
		recent: ring.New(opts.RingSize),
	}
}

// Status summarizes a breaker's current condition for a status API.
type Status struct {
	State       State
	Failures    int
	LastErr     error
	SuccessRate float64
}

// Status reports the breaker's current state, counters, last error, and
// recent success rate.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		State:       b.state,
		Failures:    len(b.failures),
		LastErr:     b.lastErr,
		SuccessRate: b.successRateLocked(),
	}
}

func (b *Breaker) successRateLocked() float64 {
	total, success := 0, 0
	b.recent.Do(func(v any) {
		if v == nil {
			return
		}
		c := v.(call)
		total++
		if c.success {
			success++
		}
	})
	if total == 0 {
		return 1
	}
	return float64(success) / float64(total)
}

// Call executes fn if the circuit permits it, recording the outcome.
// Returns ErrCircuitOpen without invoking fn when the circuit is OPEN and the
// recovery timeout has not elapsed. Any error returned by fn propagates
// unchanged.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn(ctx)
	b.after(err)
	return err
}

// CallAsync runs fn in a goroutine honoring ctx cancellation, applying the
// same gating and bookkeeping as Call. Useful for wrapping calls the caller
// wants to bound by ctx without fn itself being context-aware.
func (b *Breaker) CallAsync(ctx context.Context, fn func() error) error {
	if err := b.before(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		b.after(err)
		return err
	case <-ctx.Done():
		b.after(ctx.Err())
		return ctx.Err()
	}
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.pruneWindowLocked(now)

	switch b.state {
	case StateOpen:
		if now.Sub(b.openedAt) < b.opts.RecoveryTimeout {
			return ErrCircuitOpen
		}
		// Recovery timeout elapsed: allow exactly one probe through.
		if b.halfOpenProbing {
			return ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.halfOpenProbing = true
		b.halfOpenSuccess = 0
	case StateHalfOpen:
		if b.halfOpenProbing {
			return ErrCircuitOpen
		}
		b.halfOpenProbing = true
	}
	return nil
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.recent.Value = call{at: now, success: err == nil}
	b.recent = b.recent.Next()
	b.halfOpenProbing = false

	if err == nil {
		b.onSuccessLocked(now)
		return
	}
	b.lastErr = err
	b.onFailureLocked(now)
}

func (b *Breaker) onSuccessLocked(now time.Time) {
	switch b.state {
	case StateHalfOpen:
		b.halfOpenSuccess++
		if b.halfOpenSuccess >= b.opts.SuccessThreshold {
			b.state = StateClosed
			b.failures = nil
			b.halfOpenSuccess = 0
		}
	case StateClosed:
		// Successes don't clear the failure window; only its age does.
	}
}

func (b *Breaker) onFailureLocked(now time.Time) {
	switch b.state {
	case StateHalfOpen:
		b.tripLocked(now)
	case StateClosed:
		b.failures = append(b.failures, now)
		b.pruneWindowLocked(now)
		if len(b.failures) >= b.opts.FailureThreshold {
			b.tripLocked(now)
		}
	}
}

func (b *Breaker) tripLocked(now time.Time) {
	b.state = StateOpen
	b.openedAt = now
	b.halfOpenSuccess = 0
}

func (b *Breaker) pruneWindowLocked(now time.Time) {
	if len(b.failures) == 0 {
		return
	}
	cutoff := now.Add(-b.opts.Window)
	i := 0
	for ; i < len(b.failures); i++ {
		if b.failures[i].After(cutoff) {
			break
		}
	}
	if i > 0 {
		b.failures = b.failures[i:]
	}
}

// Registry owns one Breaker per component name. Per spec, two registries
// typically exist in the process: one for LLM endpoints (Planner/Coordinator/
// Verifier) and one for tool categories.
type Registry struct {
	mu       sync.Mutex
	opts     Options
	breakers map[string]*Breaker
}

// NewRegistry constructs a Registry that lazily creates a Breaker per
// component name, all sharing opts.
func NewRegistry(opts Options) *Registry {
	return &Registry{opts: opts, breakers: make(map[string]*Breaker)}
}

// Get returns the Breaker for component, creating it on first use.
func (r *Registry) Get(component string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[component]
	if !ok {
		b = New(r.opts)
		r.breakers[component] = b
	}
	return b
}

// Statuses reports every known component's current Status.
func (r *Registry) Statuses() map[string]Status {
	r.mu.Lock()
	names := make([]string, 0, len(r.breakers))
	breakers := make([]*Breaker, 0, len(r.breakers))
	for name, b := range r.breakers {
		names = append(names, name)
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	out := make(map[string]Status, len(names))
	for i, name := range names {
		out[name] = breakers[i].Status()
	}
	return out
}
