package cardscan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zombor/card-scanner/internal/cardkey"
	"github.com/zombor/card-scanner/internal/imagecache"
	"github.com/zombor/card-scanner/internal/ratelimit"
	"github.com/zombor/card-scanner/internal/resolution"
	"github.com/zombor/card-scanner/internal/scanning"
)

// ImageCache is the part of imagecache.Store the service needs.
type ImageCache interface {
	Lookup(ctx context.Context, key cardkey.Key) (*imagecache.CachedImage, bool, error)
	Put(ctx context.Context, key cardkey.Key, data []byte, mimeHint string) (*imagecache.CachedImage, bool, error)
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Deps are the collaborators of a Service. Results and Publisher are
// optional.
type Deps struct {
	Limiter    ratelimit.Limiter
	Identifier scanning.Identifier
	Engine     *resolution.Engine
	Images     ImageCache
	Results    ResultCache
	Publisher  Publisher
	TimeSource TimeSource
}

// Service handles scans, commits and image lookups
type Service struct {
	limiter    ratelimit.Limiter
	identifier scanning.Identifier
	engine     *resolution.Engine
	images     ImageCache
	results    ResultCache
	publisher  Publisher
	timeSource TimeSource
}

// NewService creates a new Service
func NewService(deps Deps) *Service {
	s := &Service{
		limiter:    deps.Limiter,
		identifier: deps.Identifier,
		engine:     deps.Engine,
		images:     deps.Images,
		results:    deps.Results,
		publisher:  deps.Publisher,
		timeSource: deps.TimeSource,
	}
	if s.engine == nil {
		s.engine = resolution.NewEngine(nil)
	}
	if s.publisher == nil {
		s.publisher = NopPublisher{}
	}
	if s.timeSource == nil {
		s.timeSource = &defaultTimeSource{}
	}
	return s
}

// Scan identifies and prices the card in req.ImageData for userID. It
// returns an error only when the user is over quota (*QuotaError), the
// request is unusable, or infrastructure failed. Provider trouble and
// empty results come back as a ScanResult with Error set.
func (s *Service) Scan(ctx context.Context, userID string, req ScanRequest) (*ScanResult, error) {
	if len(req.ImageData) == 0 {
		return nil, fmt.Errorf("%w: image data required", ErrInvalidRequest)
	}
	if req.GameHint != "" && !req.GameHint.Valid() {
		req.GameHint = scanning.ParseGame(string(req.GameHint))
	}

	machine := resolution.NewMachine()

	decision, err := s.limiter.Admit(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("checking scan quota: %w", err)
	}
	if !decision.Allowed {
		slog.Info("Scan rejected by quota", "user", userID, "retry_after", decision.RetryAfter)
		return nil, &QuotaError{RetryAfter: decision.RetryAfter}
	}
	if err := machine.Advance(resolution.StateRateChecked); err != nil {
		return nil, err
	}

	cacheKey := ResultKey(req.ImageData, req.GameHint)
	if cached := s.cachedResult(ctx, cacheKey); cached != nil {
		s.publishScan(ctx, userID, cached)
		return cached, nil
	}

	if err := machine.Advance(resolution.StateIdentifying); err != nil {
		return nil, err
	}

	identification, err := s.identifier.Identify(ctx, req.ImageData, req.ContentType, req.GameHint)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Error("Failed to identify card",
			"user", userID,
			"content_type", req.ContentType,
			"image_size", len(req.ImageData),
			"error", err,
		)
		result := providerFailure(err, machine.State())
		s.publishScan(ctx, userID, result)
		return result, nil
	}

	outcome, err := s.engine.Resolve(ctx, machine, identification.Candidates)
	if err != nil {
		return nil, fmt.Errorf("resolving candidates: %w", err)
	}

	result := buildScanResult(outcome, identification.Error)
	if len(outcome.Candidates) > 0 && s.results != nil {
		if err := s.results.Set(ctx, cacheKey, result); err != nil {
			slog.Warn("Failed to cache scan result", "error", err)
		}
	}

	s.publishScan(ctx, userID, result)
	return result, nil
}

func (s *Service) cachedResult(ctx context.Context, key string) *ScanResult {
	if s.results == nil {
		return nil
	}
	result, found, err := s.results.Get(ctx, key)
	if err != nil {
		slog.Warn("Failed to read cached scan result", "error", err)
		return nil
	}
	if !found {
		return nil
	}
	result.Source = SourceCache
	return result
}

func buildScanResult(outcome *resolution.Outcome, identificationError string) *ScanResult {
	result := &ScanResult{
		Source: SourceLive,
		State:  outcome.State(),
	}

	switch len(outcome.Candidates) {
	case 0:
		result.Candidates = []resolution.Candidate{}
		if identificationError == scanning.ParseFailure {
			result.Error = scanning.ParseFailure
			result.ErrorCode = CodeParseFailure
		} else {
			result.Error = MessageNoMatch
			result.ErrorCode = CodeNoMatch
		}
	case 1:
		selected, _ := outcome.Selected()
		prices := selected.Prices
		result.Game = selected.Game
		result.CardName = selected.CardName
		result.Set = selected.Set
		result.Number = selected.Number
		result.Rarity = selected.Rarity
		result.ImageURL = selected.ImageURL
		result.Prices = &prices
		result.Confidence = selected.Confidence
		result.ProductID = selected.ProductID
		result.CardKey = selected.CardKey
	default:
		result.Candidates = outcome.Candidates
	}
	return result
}

func providerFailure(err error, state resolution.State) *ScanResult {
	result := &ScanResult{
		Source:     SourceLive,
		State:      state,
		Candidates: []resolution.Candidate{},
	}
	switch {
	case errors.Is(err, scanning.ErrProviderExhausted):
		result.Error = MessageProviderExhausted
		result.ErrorCode = CodeProviderExhausted
	case errors.Is(err, scanning.ErrProviderRateLimited):
		result.Error = MessageProviderRateLimited
		result.ErrorCode = CodeProviderRateLimited
	default:
		result.Error = MessageIdentificationFailed
		result.ErrorCode = CodeIdentificationFailed
	}
	return result
}

func (s *Service) publishScan(ctx context.Context, userID string, result *ScanResult) {
	event := ScanEvent{
		UserID:         userID,
		CardKey:        result.CardKey,
		CardName:       result.CardName,
		State:          result.State,
		Source:         result.Source,
		CandidateCount: len(result.Candidates),
		ErrorCode:      result.ErrorCode,
		At:             s.timeSource.Now(),
	}
	if result.CardName != "" {
		event.CandidateCount = 1
	}
	if err := s.publisher.Publish(ctx, SubjectScanCompleted, event); err != nil {
		slog.Warn("Failed to publish scan event", "error", err)
	}
}

// Commit stores the photo for a card the user kept, reusing the image
// already cached for the card's key when there is one. It always tries to
// store, whatever the scan's confidence was.
func (s *Service) Commit(ctx context.Context, req CommitRequest) (*CommitResult, error) {
	if strings.TrimSpace(req.Game) == "" || strings.TrimSpace(req.CardName) == "" {
		return nil, fmt.Errorf("%w: game and card name required", ErrInvalidRequest)
	}
	if len(req.ImageData) == 0 {
		return nil, fmt.Errorf("%w: image data required", ErrInvalidRequest)
	}

	key := req.Key()
	title := Title(req.CardName, req.SetName, req.CardNumber)

	existing, found, err := s.images.Lookup(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("looking up card image: %w", err)
	}
	if found {
		result := &CommitResult{ImageURL: existing.URL, Title: title, Cached: true, CardKey: key}
		s.publishCommit(ctx, result)
		return result, nil
	}

	data, contentType := req.ImageData, req.ContentType
	if scanning.IsHEIC(data, contentType) {
		data, contentType, err = scanning.PrepareImage(data, contentType)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidImage, err)
		}
	}

	image, created, err := s.images.Put(ctx, key, data, contentType)
	if err != nil {
		return nil, fmt.Errorf("storing card image: %w", err)
	}
	if created {
		slog.Info("Stored card image", "card_key", key, "url", image.URL)
	}

	result := &CommitResult{ImageURL: image.URL, Title: title, Cached: !created, CardKey: key}
	s.publishCommit(ctx, result)
	return result, nil
}

func (s *Service) publishCommit(ctx context.Context, result *CommitResult) {
	event := CommitEvent{
		CardKey:    result.CardKey,
		ImageURL:   result.ImageURL,
		Title:      result.Title,
		Cached:     result.Cached,
		ProductKey: result.CardKey.IsProductID(),
		At:         s.timeSource.Now(),
	}
	if err := s.publisher.Publish(ctx, SubjectCommitCompleted, event); err != nil {
		slog.Warn("Failed to publish commit event", "error", err)
	}
}

// LookupImage reports whether an image is already cached for rawKey.
func (s *Service) LookupImage(ctx context.Context, rawKey string) (*LookupResult, error) {
	rawKey = strings.TrimSpace(rawKey)
	if rawKey == "" {
		return nil, fmt.Errorf("%w: card key required", ErrInvalidRequest)
	}

	image, found, err := s.images.Lookup(ctx, cardkey.Key(rawKey))
	if err != nil {
		return nil, fmt.Errorf("looking up card image: %w", err)
	}
	if !found {
		return &LookupResult{}, nil
	}
	return &LookupResult{ImageURL: image.URL, Exists: true}, nil
}

// Title formats a card for display, e.g. "Charizard ex - Obsidian Flames #125/197".
func Title(cardName, setName, cardNumber string) string {
	title := strings.TrimSpace(cardName)
	if set := strings.TrimSpace(setName); set != "" {
		title += " - " + set
	}
	if number := strings.TrimSpace(cardNumber); number != "" {
		title += " #" + number
	}
	return title
}
