// Package pricing looks up market prices and catalog identity for a card.
package pricing

import (
	"context"
	"errors"

	"github.com/zombor/card-scanner/internal/cardkey"
)

var (
	// ErrNotFound means no provider knows the card.
	ErrNotFound = errors.New("card not found by pricing provider")
	// ErrProviderRateLimited means the provider throttled us (HTTP 429).
	ErrProviderRateLimited = errors.New("pricing provider rate limited")
	// ErrProviderExhausted means the provider account is out of quota or credit.
	ErrProviderExhausted = errors.New("pricing provider capacity exhausted")
	// ErrLookupFailed covers transport errors and any other non-2xx answer.
	ErrLookupFailed = errors.New("pricing lookup failed")
)

// Query carries the attributes of one candidate card.
type Query struct {
	Game       string
	CardName   string
	SetName    string
	CardNumber string
}

// Key returns the attribute form of the card key for the query.
func (q Query) Key() cardkey.Key {
	return cardkey.Build(q.Game, q.CardName, q.SetName, q.CardNumber, "")
}

// Quote is what a provider knows about a card. Each price may be missing.
type Quote struct {
	Low       *float64 `json:"low"`
	Market    *float64 `json:"market"`
	High      *float64 `json:"high"`
	ImageURL  string   `json:"imageUrl,omitempty"`
	ProductID string   `json:"productId,omitempty"`
	Source    string   `json:"source,omitempty"`
}

// Resolver prices a card. Implementations must be safe for concurrent use.
type Resolver interface {
	Resolve(ctx context.Context, q Query) (*Quote, error)
}
