package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/voxloop/pkg/provider/llm"
)

// errEmptyReply makes a backend that answered with nothing count as failed,
// so the next one gets a chance.
var errEmptyReply = errors.New("empty reply")

// LLMFallback is an [llm.Provider] that fails over between generation
// backends. Token counting and capabilities come from the primary.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates a chain whose preferred backend is primary.
func NewLLMFallback(primary llm.Provider, name string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, name, cfg)}
}

// AddFallback appends a backend to the chain.
func (f *LLMFallback) AddFallback(name string, p llm.Provider) { f.group.AddFallback(name, p) }

// Names lists the chain in try order.
func (f *LLMFallback) Names() []string { return f.group.Names() }

// Complete implements [llm.Provider].
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Call(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		resp, err := p.Complete(ctx, req)
		if err == nil && resp == nil {
			err = errEmptyReply
		}
		return resp, err
	})
}

// CountTokens implements [llm.Provider].
func (f *LLMFallback) CountTokens(msgs []llm.Message) (int, error) {
	return f.group.Primary().CountTokens(msgs)
}

// Capabilities implements [llm.Provider].
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	return f.group.Primary().Capabilities()
}
