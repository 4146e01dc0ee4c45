package resolution

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/card-scanner/internal/cardkey"
	"github.com/zombor/card-scanner/internal/pricing"
	"github.com/zombor/card-scanner/internal/scanning"
)

type mockPricer struct {
	mu      sync.Mutex
	quotes  map[string]*pricing.Quote
	errs    map[string]error
	delays  map[string]time.Duration
	queries []pricing.Query
}

func newMockPricer() *mockPricer {
	return &mockPricer{
		quotes: map[string]*pricing.Quote{},
		errs:   map[string]error{},
		delays: map[string]time.Duration{},
	}
}

func (m *mockPricer) Resolve(ctx context.Context, q pricing.Query) (*pricing.Quote, error) {
	m.mu.Lock()
	m.queries = append(m.queries, q)
	quote, err, delay := m.quotes[q.CardName], m.errs[q.CardName], m.delays[q.CardName]
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if quote == nil {
		return nil, pricing.ErrNotFound
	}
	return quote, nil
}

// emptyPricer answers without a quote or an error.
type emptyPricer struct{}

func (emptyPricer) Resolve(context.Context, pricing.Query) (*pricing.Quote, error) {
	return nil, nil
}

func price(v float64) *float64 {
	return &v
}

func identifyingMachine() *Machine {
	m := NewMachine()
	Expect(m.Advance(StateRateChecked)).To(Succeed())
	Expect(m.Advance(StateIdentifying)).To(Succeed())
	return m
}

var _ = Describe("Engine", func() {
	var (
		pricer  *mockPricer
		engine  *Engine
		raws    []scanning.RawCandidate
		outcome *Outcome
		err     error
	)

	BeforeEach(func() {
		pricer = newMockPricer()
		engine = NewEngine(pricer, WithPriceTimeout(50*time.Millisecond))
		raws = nil
	})

	JustBeforeEach(func() {
		outcome, err = engine.Resolve(context.Background(), identifyingMachine(), raws)
	})

	When("there are no candidates", func() {
		It("ends in no match with an empty list", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.State()).To(Equal(StateNoMatch))
			Expect(outcome.Candidates).NotTo(BeNil())
			Expect(outcome.Candidates).To(BeEmpty())
			Expect(outcome.CanCommit()).To(BeFalse())
		})
	})

	When("there is one candidate", func() {
		BeforeEach(func() {
			raws = []scanning.RawCandidate{{
				CardName: "Charizard ex", Game: scanning.GamePokemon,
				Set: "Obsidian Flames", Number: "125/197", Confidence: 0.9,
			}}
		})

		Context("and pricing knows its product id", func() {
			BeforeEach(func() {
				pricer.quotes["Charizard ex"] = &pricing.Quote{
					Low: price(10), Market: price(15), ImageURL: "https://img.example/c.jpg",
					ProductID: "509852", Source: "catalog",
				}
			})

			It("auto-resolves to the priced candidate", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(outcome.State()).To(Equal(StateResolved))
				Expect(outcome.CanCommit()).To(BeTrue())

				selected, ok := outcome.Selected()
				Expect(ok).To(BeTrue())
				Expect(*selected.Prices.Market).To(Equal(15.0))
				Expect(selected.Prices.High).To(BeNil())
				Expect(selected.ImageURL).To(Equal("https://img.example/c.jpg"))
				Expect(selected.PriceSource).To(Equal("catalog"))
			})

			It("upgrades the card key to the product id form", func() {
				Expect(outcome.Candidates[0].CardKey).To(Equal(cardkey.Key("pokemon:pid:509852")))
			})
		})

		Context("and the pricer returns neither a quote nor an error", func() {
			BeforeEach(func() {
				engine = NewEngine(emptyPricer{})
			})

			It("treats the candidate as unpriced", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(outcome.State()).To(Equal(StateResolved))
				Expect(outcome.Candidates[0].Priced()).To(BeFalse())
				Expect(outcome.Candidates[0].CardKey).To(Equal(cardkey.Key("pokemon:charizard_ex:obsidian_flames:125_197")))
			})
		})

		Context("and pricing has no product id", func() {
			BeforeEach(func() {
				pricer.quotes["Charizard ex"] = &pricing.Quote{Market: price(15)}
			})

			It("keeps the attribute key", func() {
				Expect(outcome.Candidates[0].CardKey).To(Equal(cardkey.Key("pokemon:charizard_ex:obsidian_flames:125_197")))
			})
		})

		Context("and pricing fails", func() {
			BeforeEach(func() {
				pricer.errs["Charizard ex"] = pricing.ErrProviderRateLimited
			})

			It("still resolves, unpriced", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(outcome.State()).To(Equal(StateResolved))
				Expect(outcome.Candidates[0].Priced()).To(BeFalse())
			})
		})

		Context("and pricing times out", func() {
			BeforeEach(func() {
				pricer.delays["Charizard ex"] = time.Second
				pricer.quotes["Charizard ex"] = &pricing.Quote{Market: price(1)}
			})

			It("leaves the candidate unpriced", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(outcome.Candidates[0].Priced()).To(BeFalse())
			})
		})
	})

	When("there are several candidates", func() {
		BeforeEach(func() {
			raws = []scanning.RawCandidate{
				{CardName: "Slow", Game: scanning.GameMagic, Confidence: 0.6},
				{CardName: "Fast", Game: scanning.GameMagic, Confidence: 0.3},
				{CardName: "Unknown", Game: scanning.GameMagic, Confidence: 0.9},
			}
			pricer.delays["Slow"] = 20 * time.Millisecond
			pricer.quotes["Slow"] = &pricing.Quote{Market: price(3), ProductID: "11"}
			pricer.quotes["Fast"] = &pricing.Quote{Market: price(300), ProductID: "22"}
		})

		It("awaits a selection", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.State()).To(Equal(StateAwaitingSelection))
			Expect(outcome.CanCommit()).To(BeFalse())
			_, ok := outcome.Selected()
			Expect(ok).To(BeFalse())
		})

		It("prices every candidate", func() {
			Expect(pricer.queries).To(HaveLen(3))
		})

		It("preserves the provider's order", func() {
			names := []string{}
			for _, c := range outcome.Candidates {
				names = append(names, c.CardName)
			}
			Expect(names).To(Equal([]string{"Slow", "Fast", "Unknown"}))
			Expect(outcome.Candidates[0].CardKey).To(Equal(cardkey.Key("magic:pid:11")))
			Expect(outcome.Candidates[1].CardKey).To(Equal(cardkey.Key("magic:pid:22")))
			Expect(outcome.Candidates[2].Priced()).To(BeFalse())
		})

		It("resolves after a selection", func() {
			Expect(outcome.Select(1)).To(Succeed())
			Expect(outcome.State()).To(Equal(StateResolved))
			selected, ok := outcome.Selected()
			Expect(ok).To(BeTrue())
			Expect(selected.CardName).To(Equal("Fast"))
		})

		It("rejects an out of range selection", func() {
			Expect(outcome.Select(3)).NotTo(Succeed())
			Expect(outcome.State()).To(Equal(StateAwaitingSelection))
		})

		It("rejects a second selection", func() {
			Expect(outcome.Select(0)).To(Succeed())
			Expect(outcome.Select(1)).To(MatchError(ErrInvalidTransition))
		})
	})

	When("the machine is not identifying", func() {
		It("refuses to resolve", func() {
			_, err := engine.Resolve(context.Background(), NewMachine(), nil)
			Expect(err).To(MatchError(ErrInvalidTransition))
		})
	})

	When("there is no pricer", func() {
		BeforeEach(func() {
			engine = NewEngine(nil)
			raws = []scanning.RawCandidate{{CardName: "Pikachu", Game: scanning.GamePokemon}}
		})

		It("returns unpriced candidates", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Candidates[0].Priced()).To(BeFalse())
			Expect(outcome.Candidates[0].CardKey).To(Equal(cardkey.Key("pokemon:pikachu::")))
		})
	})
})
