package pricing

import (
	"context"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type stubResolver struct {
	quote *Quote
	err   error
	calls atomic.Int32
}

func (s *stubResolver) Resolve(context.Context, Query) (*Quote, error) {
	s.calls.Add(1)
	return s.quote, s.err
}

func price(v float64) *float64 {
	return &v
}

var _ = Describe("Chain", func() {
	var (
		first, second *stubResolver
		chain         *Chain
		quote         *Quote
		err           error
	)

	BeforeEach(func() {
		first = &stubResolver{quote: &Quote{Market: price(1), Source: "first"}}
		second = &stubResolver{quote: &Quote{Market: price(2), Source: "second"}}
		chain = NewChain(first, second)
	})

	JustBeforeEach(func() {
		quote, err = chain.Resolve(context.Background(), Query{CardName: "Pikachu"})
	})

	When("both providers know the card", func() {
		It("returns the first provider's quote", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(quote.Source).To(Equal("first"))
			Expect(second.calls.Load()).To(BeZero())
		})
	})

	When("the first provider lacks the card", func() {
		BeforeEach(func() {
			first.quote, first.err = nil, ErrNotFound
		})

		It("returns the second provider's quote", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(quote.Source).To(Equal("second"))
		})
	})

	When("the first provider is throttled", func() {
		BeforeEach(func() {
			first.quote, first.err = nil, ErrProviderRateLimited
		})

		It("falls back to the second", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(quote.Source).To(Equal("second"))
		})
	})

	When("no provider knows the card", func() {
		BeforeEach(func() {
			first.quote, first.err = nil, ErrNotFound
			second.quote, second.err = nil, ErrNotFound
		})

		It("returns ErrNotFound", func() {
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	When("a provider failed and the other lacks the card", func() {
		BeforeEach(func() {
			first.quote, first.err = nil, ErrProviderExhausted
			second.quote, second.err = nil, ErrNotFound
		})

		It("returns the provider failure", func() {
			Expect(err).To(MatchError(ErrProviderExhausted))
		})
	})
})
