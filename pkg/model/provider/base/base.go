// Package base holds the pieces shared by every model provider client:
// the model configuration and the transport error classification the
// retry layer dispatches on.
package base

import (
	"fmt"
	"net/http"
)

// Config selects and parameterizes a model.
type Config struct {
	// Provider names the backend: "anthropic" or "openai".
	Provider string `json:"provider"`
	// Model is the provider-specific model identifier.
	Model string `json:"model"`
	// BaseURL overrides the provider's default endpoint.
	BaseURL string `json:"base_url,omitempty"`
	// MaxTokens caps the output tokens per turn; 0 uses the provider
	// default.
	MaxTokens int64 `json:"max_tokens,omitempty"`
}

// TransportError is a model API failure annotated with whether retrying
// can help. Rate limits, timeouts, and server errors are temporary;
// authentication and request errors are not.
type TransportError struct {
	Status    int
	Temporary bool
	Err       error
}

var _ error = (*TransportError)(nil)

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("model transport error (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("model transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// WrapTransport classifies an API error by HTTP status. Status 0 means
// the request never got a response (connection failure), which is always
// worth retrying.
func WrapTransport(status int, err error) *TransportError {
	return &TransportError{
		Status:    status,
		Temporary: temporaryStatus(status),
		Err:       err,
	}
}

func temporaryStatus(status int) bool {
	switch {
	case status == 0:
		return true
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return true
	case status >= 500:
		return true
	default:
		return false
	}
}
