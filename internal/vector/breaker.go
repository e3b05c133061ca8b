package vector

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// ErrDegraded is returned while the index breaker is open. Callers fall
// back to keyword scans instead of surfacing the failure.
var ErrDegraded = errors.New("vector index degraded")

// BreakerIndex wraps an Index with a circuit breaker. Repeated failures
// open the circuit and every call fails fast with ErrDegraded until the
// backend recovers; the engine exposes the open state as degraded mode.
type BreakerIndex struct {
	inner   Index
	breaker *gobreaker.CircuitBreaker
}

var _ Index = (*BreakerIndex)(nil)

// WithBreaker wraps the index in a circuit breaker: three consecutive
// failures open it for 30 seconds, then two half-open probes close it.
func WithBreaker(inner Index) *BreakerIndex {
	settings := gobreaker.Settings{
		Name:        "vector-index",
		MaxRequests: 2,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &BreakerIndex{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Degraded reports whether the circuit is currently open.
func (b *BreakerIndex) Degraded() bool {
	return b.breaker.State() == gobreaker.StateOpen
}

func (b *BreakerIndex) execute(fn func() (interface{}, error)) (interface{}, error) {
	result, err := b.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrDegraded
	}
	return result, err
}

// Add stores an embedding through the breaker.
func (b *BreakerIndex) Add(ctx context.Context, userID, memoryID string, embedding []float32) error {
	_, err := b.execute(func() (interface{}, error) {
		return nil, b.inner.Add(ctx, userID, memoryID, embedding)
	})
	return err
}

// Search queries the index through the breaker.
func (b *BreakerIndex) Search(ctx context.Context, userID string, embedding []float32, limit int) ([]Hit, error) {
	result, err := b.execute(func() (interface{}, error) {
		return b.inner.Search(ctx, userID, embedding, limit)
	})
	if err != nil {
		return nil, err
	}
	return result.([]Hit), nil
}

// Remove deletes an embedding through the breaker.
func (b *BreakerIndex) Remove(ctx context.Context, userID, memoryID string) error {
	_, err := b.execute(func() (interface{}, error) {
		return nil, b.inner.Remove(ctx, userID, memoryID)
	})
	return err
}

// Count reports the collection size through the breaker.
func (b *BreakerIndex) Count(ctx context.Context, userID string) (int, error) {
	result, err := b.execute(func() (interface{}, error) {
		return b.inner.Count(ctx, userID)
	})
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}
