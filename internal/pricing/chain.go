package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Chain asks resolvers in order and returns the first quote. Providers are
// not reconciled; whichever answers first in the list wins.
type Chain struct {
	resolvers []Resolver
}

var _ Resolver = (*Chain)(nil)

// NewChain creates a Chain over resolvers.
func NewChain(resolvers ...Resolver) *Chain {
	return &Chain{resolvers: resolvers}
}

// Resolve returns the first quote. When nobody answers it returns the last
// provider failure, or ErrNotFound if every provider simply lacked the card.
func (c *Chain) Resolve(ctx context.Context, q Query) (*Quote, error) {
	var lastErr error
	for i, resolver := range c.resolvers {
		quote, err := resolver.Resolve(ctx, q)
		if err == nil && quote != nil {
			return quote, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrLookupFailed, ctx.Err())
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			slog.Warn("Pricing provider failed", "position", i, "card", q.CardName, "error", err)
			lastErr = err
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrNotFound
}
