package scanning

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
)

// statusError is returned for a non-2xx provider response
type statusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s: http %d: %s", e.Provider, e.StatusCode, strings.TrimSpace(e.Body))
}

// classifyStatus tags an HTTP status with the matching sentinel error
func classifyStatus(provider string, statusCode int, body string) error {
	se := &statusError{Provider: provider, StatusCode: statusCode, Body: body}
	switch {
	case statusCode == http.StatusTooManyRequests:
		if mentionsBilling(body) {
			return fmt.Errorf("%w: %w", ErrProviderExhausted, se)
		}
		return fmt.Errorf("%w: %w", ErrProviderRateLimited, se)
	case statusCode == http.StatusPaymentRequired:
		return fmt.Errorf("%w: %w", ErrProviderExhausted, se)
	default:
		return fmt.Errorf("%w: %w", ErrIdentificationFailed, se)
	}
}

// mentionsBilling spots quota responses that will not clear on their own
func mentionsBilling(body string) bool {
	body = strings.ToLower(body)
	return strings.Contains(body, "billing") || strings.Contains(body, "insufficient credits") ||
		strings.Contains(body, "insufficient_quota")
}

// classifyGeminiError maps a Gemini client error onto the provider taxonomy
func classifyGeminiError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) {
		if code := apiErr.HTTPCode(); code > 0 {
			return classifyStatus("gemini", code, apiErr.Error())
		}
		if st := apiErr.GRPCStatus(); st != nil && st.Code() == codes.ResourceExhausted {
			return classifyStatus("gemini", http.StatusTooManyRequests, st.Message())
		}
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return classifyStatus("gemini", gErr.Code, gErr.Message)
	}

	return fmt.Errorf("%w: gemini: %w", ErrIdentificationFailed, err)
}
