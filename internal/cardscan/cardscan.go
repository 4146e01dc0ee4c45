// Package cardscan coordinates a card scan from photo to priced result and
// handles the explicit commit of a card image to the shared image cache.
package cardscan

import (
	"errors"
	"fmt"
	"time"

	"github.com/zombor/card-scanner/internal/cardkey"
	"github.com/zombor/card-scanner/internal/ratelimit"
	"github.com/zombor/card-scanner/internal/resolution"
	"github.com/zombor/card-scanner/internal/scanning"
)

var (
	// ErrInvalidRequest means the caller sent something we cannot act on.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidImage means the photo could not be decoded.
	ErrInvalidImage = errors.New("invalid image")
)

// Result sources
const (
	SourceLive  = "live"
	SourceCache = "cache"
)

// Error codes reported on soft scan failures
const (
	CodeNoMatch              = "no_match"
	CodeParseFailure         = "parse_failure"
	CodeProviderRateLimited  = "provider_rate_limited"
	CodeProviderExhausted    = "provider_exhausted"
	CodeIdentificationFailed = "identification_failed"
)

// Soft failure messages
const (
	MessageNoMatch              = "no card detected"
	MessageProviderRateLimited  = "card recognition is busy, try again shortly"
	MessageProviderExhausted    = "card recognition is unavailable right now"
	MessageIdentificationFailed = "could not identify the card, please try again"
)

// QuotaError is returned when the caller used up its scan quota.
type QuotaError struct {
	RetryAfter time.Duration
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%s: retry in %s", ratelimit.ErrQuotaExceeded, e.RetryAfter.Round(time.Millisecond))
}

func (e *QuotaError) Unwrap() error {
	return ratelimit.ErrQuotaExceeded
}

// ScanRequest is a single photo to identify.
type ScanRequest struct {
	ImageData   []byte
	ContentType string
	GameHint    scanning.Game
}

// ScanResult is what a scan returns to the caller. For a single match the
// card fields are filled in and Candidates is nil. For several matches only
// Candidates is filled in. For no match Candidates is empty and Error is set.
type ScanResult struct {
	Game       string                 `json:"game"`
	CardName   string                 `json:"cardName"`
	Set        string                 `json:"set"`
	Number     string                 `json:"number"`
	Rarity     string                 `json:"rarity"`
	ImageURL   string                 `json:"imageUrl"`
	Prices     *resolution.Prices     `json:"prices"`
	Confidence float64                `json:"confidence"`
	ProductID  string                 `json:"productId"`
	CardKey    cardkey.Key            `json:"cardKey"`
	Source     string                 `json:"source"`
	State      resolution.State       `json:"state"`
	Error      string                 `json:"error"`
	ErrorCode  string                 `json:"errorCode"`
	Candidates []resolution.Candidate `json:"candidates"`
}

// CommitRequest asks to store the photo of a card the user kept.
type CommitRequest struct {
	ImageData   []byte
	ContentType string
	Game        string
	CardName    string
	SetName     string
	CardNumber  string
	ProductID   string
}

// Key returns the card key for the committed attributes.
func (r CommitRequest) Key() cardkey.Key {
	return cardkey.Build(r.Game, r.CardName, r.SetName, r.CardNumber, r.ProductID)
}

// CommitResult reports where the card image lives. Cached is true when an
// existing image was reused.
type CommitResult struct {
	ImageURL string      `json:"imageUrl"`
	Title    string      `json:"title"`
	Cached   bool        `json:"cached"`
	CardKey  cardkey.Key `json:"cardKey"`
}

// LookupResult reports whether an image is cached for a key.
type LookupResult struct {
	ImageURL string `json:"imageUrl"`
	Exists   bool   `json:"exists"`
}
