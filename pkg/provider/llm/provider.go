// Package llm defines the Provider interface for chat-completion backends.
//
// A provider wraps a remote or local model API (OpenAI, Anthropic, a local
// Ollama instance, ...) and exposes the single request/response exchange the
// conversation loop needs: send the full ordered history, receive one reply.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"
	"errors"
)

// ErrMissingCredential is returned by [Unavailable] providers that were
// installed because no credential was configured. Callers can match it with
// errors.Is to tell configuration problems apart from transport failures.
var ErrMissingCredential = errors.New("llm: missing credential")

// Provider is the abstraction over any chat-completion backend.
type Provider interface {
	// Complete sends req to the model and waits for the full reply.
	// It returns an error if the request fails or ctx is cancelled before the
	// reply arrives.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates how many context-window tokens messages would
	// consume. The result may be approximate but should not undercount.
	CountTokens(messages []Message) (int, error)

	// Capabilities returns static metadata about the configured model.
	Capabilities() ModelCapabilities
}

// Unavailable is a Provider that fails every request with Err. It stands in
// for a backend that could not be configured so the loop can keep running and
// surface a response failure on every turn instead of refusing to start.
type Unavailable struct {
	// Err is returned from every Complete call. Defaults to ErrMissingCredential.
	Err error
}

var _ Provider = Unavailable{}

// Complete implements Provider. It always fails.
func (u Unavailable) Complete(context.Context, CompletionRequest) (*CompletionResponse, error) {
	if u.Err == nil {
		return nil, ErrMissingCredential
	}
	return nil, u.Err
}

// CountTokens implements Provider.
func (Unavailable) CountTokens(messages []Message) (int, error) {
	return EstimateTokens(messages), nil
}

// Capabilities implements Provider.
func (Unavailable) Capabilities() ModelCapabilities {
	return ModelCapabilities{}
}
