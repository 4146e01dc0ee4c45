package scanning

import (
	"errors"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/api/googleapi"
)

var _ = Describe("classifyStatus", func() {
	DescribeTable("mapping provider status codes",
		func(status int, body string, expected error) {
			Expect(classifyStatus("test", status, body)).To(MatchError(expected))
		},
		Entry("429 is rate limited", http.StatusTooManyRequests, "slow down", ErrProviderRateLimited),
		Entry("429 about billing is exhausted", http.StatusTooManyRequests, "check your plan and billing details", ErrProviderExhausted),
		Entry("402 is exhausted", http.StatusPaymentRequired, "", ErrProviderExhausted),
		Entry("500 is a generic failure", http.StatusInternalServerError, "boom", ErrIdentificationFailed),
		Entry("400 is a generic failure", http.StatusBadRequest, "bad", ErrIdentificationFailed),
	)

	It("keeps the status code available", func() {
		var se *statusError
		Expect(errors.As(classifyStatus("test", 503, "down"), &se)).To(BeTrue())
		Expect(se.StatusCode).To(Equal(503))
	})
})

var _ = Describe("classifyGeminiError", func() {
	It("maps googleapi 429 errors", func() {
		err := classifyGeminiError(&googleapi.Error{Code: 429, Message: "Resource has been exhausted"})
		Expect(err).To(MatchError(ErrProviderRateLimited))
	})

	It("maps googleapi 402 errors", func() {
		err := classifyGeminiError(&googleapi.Error{Code: 402})
		Expect(err).To(MatchError(ErrProviderExhausted))
	})

	It("maps unknown errors to identification failures", func() {
		setupErr := errors.New("connection reset")
		err := classifyGeminiError(setupErr)
		Expect(err).To(MatchError(ErrIdentificationFailed))
		Expect(err).To(MatchError(setupErr))
	})

	It("passes nil through", func() {
		Expect(classifyGeminiError(nil)).To(BeNil())
	})
})

var _ = Describe("IsRetryable", func() {
	It("retries rate limits", func() {
		Expect(IsRetryable(ErrProviderRateLimited)).To(BeTrue())
	})

	It("does not retry exhausted providers", func() {
		Expect(IsRetryable(classifyStatus("x", 402, ""))).To(BeFalse())
	})

	It("does not retry success", func() {
		Expect(IsRetryable(nil)).To(BeFalse())
	})
})
