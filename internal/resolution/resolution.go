// Package resolution turns raw identification candidates into priced,
// keyed candidates and decides whether the user has to pick one.
package resolution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zombor/card-scanner/internal/cardkey"
	"github.com/zombor/card-scanner/internal/pricing"
	"github.com/zombor/card-scanner/internal/scanning"
)

const (
	defaultParallelism  = 4
	defaultPriceTimeout = 10 * time.Second
)

// Prices holds the low/market/high values for a card. Any of them may be nil.
type Prices struct {
	Low    *float64 `json:"low"`
	Market *float64 `json:"market"`
	High   *float64 `json:"high"`
}

// Candidate is an identification hypothesis enriched with pricing.
type Candidate struct {
	CardName    string      `json:"cardName"`
	Game        string      `json:"game"`
	Set         string      `json:"set"`
	Number      string      `json:"number"`
	Rarity      string      `json:"rarity,omitempty"`
	Variant     string      `json:"variant,omitempty"`
	ImageURL    string      `json:"imageUrl,omitempty"`
	Prices      Prices      `json:"prices"`
	ProductID   string      `json:"productId,omitempty"`
	Confidence  float64     `json:"confidence"`
	CardKey     cardkey.Key `json:"cardKey"`
	PriceSource string      `json:"priceSource,omitempty"`
}

// Priced reports whether any pricing data was attached.
func (c Candidate) Priced() bool {
	return c.Prices.Low != nil || c.Prices.Market != nil || c.Prices.High != nil || c.ProductID != ""
}

// Outcome is the result of resolving one scan.
type Outcome struct {
	Candidates []Candidate
	selected   int
	machine    *Machine
}

// State returns the scan's current state.
func (o *Outcome) State() State {
	return o.machine.State()
}

// CanCommit reports whether a candidate has been settled on.
func (o *Outcome) CanCommit() bool {
	return o.machine.CanCommit()
}

// Selected returns the settled candidate once the outcome is resolved.
func (o *Outcome) Selected() (Candidate, bool) {
	if !o.machine.CanCommit() || o.selected < 0 || o.selected >= len(o.Candidates) {
		return Candidate{}, false
	}
	return o.Candidates[o.selected], true
}

// Select records the user's choice among multiple candidates and resolves
// the outcome.
func (o *Outcome) Select(i int) error {
	if i < 0 || i >= len(o.Candidates) {
		return fmt.Errorf("candidate %d out of range [0,%d)", i, len(o.Candidates))
	}
	if err := o.machine.Advance(StateSelected); err != nil {
		return err
	}
	o.selected = i
	return o.machine.Advance(StateResolved)
}

// Engine prices candidates and classifies the result.
type Engine struct {
	pricer       pricing.Resolver
	parallelism  int
	priceTimeout time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithParallelism bounds how many candidates are priced at once.
func WithParallelism(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.parallelism = n
		}
	}
}

// WithPriceTimeout bounds each pricing call.
func WithPriceTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.priceTimeout = d
		}
	}
}

// NewEngine creates an Engine. A nil pricer leaves every candidate unpriced.
func NewEngine(pricer pricing.Resolver, opts ...Option) *Engine {
	e := &Engine{
		pricer:       pricer,
		parallelism:  defaultParallelism,
		priceTimeout: defaultPriceTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resolve prices raws and advances m, which must be in StateIdentifying.
// Candidate order is the provider's order. Pricing failures leave a
// candidate unpriced and never fail the scan.
func (e *Engine) Resolve(ctx context.Context, m *Machine, raws []scanning.RawCandidate) (*Outcome, error) {
	if m.State() != StateIdentifying {
		return nil, fmt.Errorf("%w: resolving from %s", ErrInvalidTransition, m.State())
	}

	candidates := make([]Candidate, len(raws))
	for i, raw := range raws {
		candidates[i] = fromRaw(raw)
	}

	if e.pricer != nil && len(candidates) > 0 {
		g := new(errgroup.Group)
		g.SetLimit(e.parallelism)
		for i := range candidates {
			g.Go(func() error {
				e.price(ctx, &candidates[i])
				return nil
			})
		}
		_ = g.Wait()
	}

	outcome := &Outcome{Candidates: candidates, selected: -1, machine: m}
	switch len(candidates) {
	case 0:
		return outcome, m.Advance(StateNoMatch)
	case 1:
		if err := m.Advance(StateSinglePriced); err != nil {
			return nil, err
		}
		outcome.selected = 0
		return outcome, m.Advance(StateResolved)
	default:
		if err := m.Advance(StateMultiCandidate); err != nil {
			return nil, err
		}
		return outcome, m.Advance(StateAwaitingSelection)
	}
}

func (e *Engine) price(ctx context.Context, c *Candidate) {
	ctx, cancel := context.WithTimeout(ctx, e.priceTimeout)
	defer cancel()

	quote, err := e.pricer.Resolve(ctx, pricing.Query{
		Game:       c.Game,
		CardName:   c.CardName,
		SetName:    c.Set,
		CardNumber: c.Number,
	})
	if err == nil && quote == nil {
		err = pricing.ErrNotFound
	}
	if err != nil {
		if !errors.Is(err, pricing.ErrNotFound) {
			slog.Warn("Pricing candidate failed", "card", c.CardName, "error", err)
		}
		return
	}

	c.Prices = Prices{Low: quote.Low, Market: quote.Market, High: quote.High}
	c.PriceSource = quote.Source
	if quote.ImageURL != "" {
		c.ImageURL = quote.ImageURL
	}
	if quote.ProductID != "" {
		c.ProductID = quote.ProductID
		c.CardKey = cardkey.Build(c.Game, c.CardName, c.Set, c.Number, c.ProductID)
	}
}

func fromRaw(raw scanning.RawCandidate) Candidate {
	game := string(raw.Game)
	return Candidate{
		CardName:   raw.CardName,
		Game:       game,
		Set:        raw.Set,
		Number:     raw.Number,
		Rarity:     raw.Rarity,
		Variant:    raw.Variant,
		Confidence: raw.Confidence,
		CardKey:    cardkey.Build(game, raw.CardName, raw.Set, raw.Number, ""),
	}
}
