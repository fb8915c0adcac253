package cache

import (
	"context"
	"sync"
	"time"
)

// Sweeper walks every registered Layer on a configurable interval, applying
// quality-pruning before size-eviction (quality-pruning runs first so
// high-traffic low-quality entries can't survive purely on recency). A
// single sweeper for every layer is simpler than per-layer timers, and
// registration is explicit so new layers integrate automatically.
type Sweeper struct {
	mu     sync.Mutex
	layers []Layer
}

// NewSweeper returns an empty Sweeper; register layers with Register.
func NewSweeper() *Sweeper {
	return &Sweeper{}
}

// Register adds a layer to be swept. Safe to call concurrently with Run: a
// layer registered while a Run is in progress is swept from the next Run on.
func (s *Sweeper) Register(layer Layer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layers = append(s.layers, layer)
}

// Run sweeps every registered layer once and returns per-layer results.
// Idempotent: a second call with no intervening writes reports zero counts.
func (s *Sweeper) Run(ctx context.Context) ([]SweepResult, error) {
	s.mu.Lock()
	layers := append([]Layer{}, s.layers...)
	s.mu.Unlock()

	results := make([]SweepResult, 0, len(layers))
	for _, l := range layers {
		r, err := l.Sweep(ctx, time.Now())
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}

// RunEvery runs Run on interval until ctx is done, ignoring individual sweep
// errors (the next tick retries). Intended to be launched as a background
// goroutine from the composition root.
func (s *Sweeper) RunEvery(ctx context.Context, interval time.Duration, onResult func([]SweepResult)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			results, err := s.Run(ctx)
			if err == nil && onResult != nil {
				onResult(results)
			}
		}
	}
}
