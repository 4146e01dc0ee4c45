package scanning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Chain tries identifiers in order. It moves to the next one only when the
// current one fails with a retryable error, so a vision model can back up a
// dedicated card recognition service and vice versa.
type Chain struct {
	identifiers []Identifier
}

// NewChain creates a Chain over identifiers
func NewChain(identifiers ...Identifier) *Chain {
	return &Chain{identifiers: identifiers}
}

// Identify returns the first successful identification
func (c *Chain) Identify(ctx context.Context, imageData []byte, contentType string, gameHint Game) (*Identification, error) {
	if len(c.identifiers) == 0 {
		return nil, fmt.Errorf("%w: no identifiers configured", ErrIdentificationFailed)
	}

	var lastErr error
	for i, identifier := range c.identifiers {
		result, err := identifier.Identify(ctx, imageData, contentType, gameHint)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !IsRetryable(err) || ctx.Err() != nil {
			break
		}
		if i < len(c.identifiers)-1 {
			slog.Warn("Identifier failed, trying next", "position", i, "error", err)
		}
	}
	return nil, lastErr
}

// Close closes every identifier in the chain
func (c *Chain) Close() error {
	var errs []error
	for _, identifier := range c.identifiers {
		if err := identifier.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
