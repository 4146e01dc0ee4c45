package scanning

import (
	"context"
	"errors"
)

var (
	// ErrProviderRateLimited means the vision provider throttled us (HTTP 429).
	// Retry later with backoff.
	ErrProviderRateLimited = errors.New("vision provider rate limited")
	// ErrProviderExhausted means the provider's billing or capacity is used up
	// (HTTP 402). Retrying the same request will not help.
	ErrProviderExhausted = errors.New("vision provider capacity exhausted")
	// ErrIdentificationFailed covers every other provider failure, timeouts
	// included. It is retryable.
	ErrIdentificationFailed = errors.New("card identification failed")
)

// ParseFailure is reported in Identification.Error when the model answered
// with something that is not the requested JSON.
const ParseFailure = "parse failure"

// Game is the card game family a candidate belongs to
type Game string

const (
	GamePokemon  Game = "pokemon"
	GameMagic    Game = "magic"
	GameYugioh   Game = "yugioh"
	GameLorcana  Game = "lorcana"
	GameOnePiece Game = "onepiece"
	GameSports   Game = "sports"
	GameOther    Game = "other"
)

// RawCandidate is one identification hypothesis as returned by the model
type RawCandidate struct {
	CardName   string  `json:"card_name"`
	Game       Game    `json:"game"`
	Set        string  `json:"set"`
	Number     string  `json:"number"`
	Rarity     string  `json:"rarity"`
	Variant    string  `json:"variant"`
	Confidence float64 `json:"confidence"`
}

// Identification holds the candidates for one photo. Zero candidates with an
// empty Error means no card was recognized.
type Identification struct {
	Candidates []RawCandidate
	Error      string
}

// Identifier defines the interface for card identification
type Identifier interface {
	// Identify analyzes a card photo. gameHint may be empty.
	Identify(ctx context.Context, imageData []byte, contentType string, gameHint Game) (*Identification, error)
	// Close closes the identifier and releases resources
	Close() error
}

// IsRetryable reports whether err is worth retrying with another provider
// or a later request.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrProviderExhausted)
}
