package search

import (
	"context"

	"golang.org/x/time/rate"
)

// Limited throttles a Provider shared by parallel search tasks.
type Limited struct {
	Provider
	limiter *rate.Limiter
}

// Limit wraps p so that at most rps searches start per second. A
// non-positive rps returns p unchanged.
func Limit(p Provider, rps float64) Provider {
	if rps <= 0 {
		return p
	}
	return &Limited{Provider: p, limiter: rate.NewLimiter(rate.Limit(rps), 1)}
}

func (l *Limited) Search(ctx context.Context, query string) (Result, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return Result{}, &ProviderError{Provider: l.Name(), Err: err}
	}
	return l.Provider.Search(ctx, query)
}
